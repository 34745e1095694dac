// Package store persists bills, sections, and their similarity edges with
// idempotent upserts keyed on their natural unique columns, and sweeps rows
// stamped with a stale currency epoch.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/usbillsim/billsim/internal/billerrs"
)

// Store is the persistence boundary for the similarity pipeline. All
// methods are safe for concurrent use provided the underlying *gorm.DB is
// (the default for GORM's connection-pooled driver).
type Store struct {
	db *gorm.DB
}

// New wraps an already-connected, already-migrated *gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// CreateEpoch allocates a new currency epoch for a pipeline run and returns
// its id. Every write in the run should be stamped with this id.
func (s *Store) CreateEpoch(ctx context.Context, version string) (uint, error) {
	epoch := CurrencyEpoch{Version: version, Timestamp: time.Now()}
	if err := s.db.WithContext(ctx).Create(&epoch).Error; err != nil {
		return 0, fmt.Errorf("store: %w: create epoch: %v", billerrs.ErrPersistence, err)
	}
	return epoch.ID, nil
}

// UpsertBill upserts a bill on (billnumber, version) and returns its id.
// metadata is optional source-path/layout provenance; pass nil to leave
// whatever is already stored untouched (e.g. for a placeholder row created
// only to satisfy a foreign key ahead of that bill's own processing turn).
// A zero length likewise leaves an already stored length in place.
func (s *Store) UpsertBill(ctx context.Context, billnumber, version string, length int, metadata map[string]interface{}) (uint, error) {
	bill := Bill{Billnumber: billnumber, Version: version, Length: length, Metadata: datatypes.JSONMap(metadata)}
	updateColumns := []string{"updated_at"}
	if length > 0 {
		updateColumns = append(updateColumns, "length")
	}
	if metadata != nil {
		updateColumns = append(updateColumns, "metadata")
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "billnumber"}, {Name: "version"}},
		DoUpdates: clause.AssignmentColumns(updateColumns),
	}).Create(&bill).Error
	if err != nil {
		return 0, fmt.Errorf("store: %w: upsert bill %s%s: %v", billerrs.ErrPersistence, billnumber, version, err)
	}
	if bill.ID == 0 {
		// Some drivers don't populate the struct on the conflict branch.
		var existing Bill
		if err := s.db.WithContext(ctx).
			Where("billnumber = ? AND version = ?", billnumber, version).
			First(&existing).Error; err != nil {
			return 0, fmt.Errorf("store: %w: re-reading bill %s%s: %v", billerrs.ErrPersistence, billnumber, version, err)
		}
		return existing.ID, nil
	}
	return bill.ID, nil
}

// SectionInput is one section to upsert into SectionItem.
type SectionInput struct {
	BillnumberVersion string
	SectionIDAttr     string
	Label             string
	Header            string
	Length            int
}

// UpsertSections inserts every section not already present (matched on
// billnumber_version, section_id_attr), ignoring conflicts, then resolves
// and returns the id of every input section in one follow-up lookup.
// Sections with an empty SectionIDAttr are skipped, per the malformed-input
// exclusion in the data model.
func (s *Store) UpsertSections(ctx context.Context, sections []SectionInput) (map[SectionInput]uint, error) {
	return upsertSectionsTx(s.db.WithContext(ctx), sections)
}

// upsertSectionsTx is the transaction-scoped body of UpsertSections, shared
// with UpsertSimilarityRun so the section-level upsert can share a
// transaction with the bill_to_bill/section_to_section writes it feeds.
func upsertSectionsTx(tx *gorm.DB, sections []SectionInput) (map[SectionInput]uint, error) {
	var toInsert []SectionItem
	for _, sec := range sections {
		if sec.SectionIDAttr == "" {
			continue
		}
		toInsert = append(toInsert, SectionItem{
			BillnumberVersion: sec.BillnumberVersion,
			SectionIDAttr:     sec.SectionIDAttr,
			Label:             sec.Label,
			Header:            sec.Header,
			Length:            sec.Length,
		})
	}

	if len(toInsert) > 0 {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "billnumber_version"}, {Name: "section_id_attr"}},
			DoNothing: true,
		}).Create(&toInsert).Error
		if err != nil {
			return nil, fmt.Errorf("store: %w: batch insert sections: %v", billerrs.ErrPersistence, err)
		}
	}

	billnumberVersions := make(map[string]bool, len(sections))
	for _, sec := range sections {
		billnumberVersions[sec.BillnumberVersion] = true
	}
	distinct := make([]string, 0, len(billnumberVersions))
	for bnv := range billnumberVersions {
		distinct = append(distinct, bnv)
	}

	ids := make(map[SectionInput]uint, len(sections))
	if len(distinct) == 0 {
		return ids, nil
	}

	var rows []SectionItem
	if err := tx.Where("billnumber_version IN ?", distinct).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: %w: reading back section ids: %v", billerrs.ErrPersistence, err)
	}
	byKey := make(map[[2]string]uint, len(rows))
	for _, r := range rows {
		byKey[[2]string{r.BillnumberVersion, r.SectionIDAttr}] = r.ID
	}
	for _, sec := range sections {
		if id, ok := byKey[[2]string{sec.BillnumberVersion, sec.SectionIDAttr}]; ok {
			ids[sec] = id
		}
	}
	return ids, nil
}

// BillIDs resolves the ids of the given billnumber_version identifiers in
// one query, keyed by the identifier string.
func (s *Store) BillIDs(ctx context.Context, billnumberVersions []string, split func(string) (billnumber, version string, err error)) (map[string]uint, error) {
	if len(billnumberVersions) == 0 {
		return map[string]uint{}, nil
	}

	placeholders := make([]string, 0, len(billnumberVersions))
	args := make([]interface{}, 0, len(billnumberVersions)*2)
	keyed := make(map[[2]string]string, len(billnumberVersions))
	for _, bnv := range billnumberVersions {
		billnumber, version, err := split(bnv)
		if err != nil {
			continue
		}
		placeholders = append(placeholders, "(?,?)")
		args = append(args, billnumber, version)
		keyed[[2]string{billnumber, version}] = bnv
	}
	if len(placeholders) == 0 {
		return map[string]uint{}, nil
	}

	query := fmt.Sprintf(
		"SELECT id, billnumber, version FROM bills WHERE (billnumber, version) IN (%s)",
		strings.Join(placeholders, ","))

	var rows []Bill
	if err := s.db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: %w: batch bill id lookup: %v", billerrs.ErrPersistence, err)
	}

	out := make(map[string]uint, len(rows))
	for _, r := range rows {
		if bnv, ok := keyed[[2]string{r.Billnumber, r.Version}]; ok {
			out[bnv] = r.ID
		}
	}
	return out, nil
}

// BillToBillInput is one aggregated or comparator-derived similarity edge
// to upsert.
type BillToBillInput struct {
	BillID        uint
	BillToID      uint
	ScoreES       float64
	Score         float64
	ScoreTo       float64
	Reasons       []string
	IdentifiedBy  string
	SectionsNum   int
	SectionsMatch int
}

// UpsertBillToBill upserts one similarity edge per input, merging the
// reasons string with whatever is already stored: each side is split on
// ",", trimmed, unioned, and rejoined. Every other field is overwritten
// with the incoming value when it is non-zero/non-empty; score_es is
// always overwritten by the incoming fold result regardless.
func (s *Store) UpsertBillToBill(ctx context.Context, currencyID uint, rows []BillToBillInput) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return upsertBillToBillTx(tx, currencyID, rows)
	})
}

// upsertBillToBillTx is the transaction-scoped body of UpsertBillToBill,
// shared with UpsertSimilarityRun so the edge write can share one
// transaction with the section-level writes it's aggregated from.
func upsertBillToBillTx(tx *gorm.DB, currencyID uint, rows []BillToBillInput) error {
	for _, row := range rows {
		var existing BillToBill
		err := tx.Where("bill_id = ? AND bill_to_id = ?", row.BillID, row.BillToID).
			First(&existing).Error

		reasonsString := strings.Join(row.Reasons, ", ")

		if err == gorm.ErrRecordNotFound {
			fresh := BillToBill{
				BillID:        row.BillID,
				BillToID:      row.BillToID,
				ScoreES:       row.ScoreES,
				Score:         row.Score,
				ScoreTo:       row.ScoreTo,
				ReasonsString: reasonsString,
				IdentifiedBy:  row.IdentifiedBy,
				SectionsNum:   row.SectionsNum,
				SectionsMatch: row.SectionsMatch,
				CurrencyID:    currencyID,
			}
			if err := tx.Create(&fresh).Error; err != nil {
				return fmt.Errorf("store: %w: insert bill_to_bill %d->%d: %v", billerrs.ErrPersistence, row.BillID, row.BillToID, err)
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("store: %w: reading bill_to_bill %d->%d: %v", billerrs.ErrPersistence, row.BillID, row.BillToID, err)
		}

		updates := map[string]interface{}{"currency_id": currencyID}
		updates["score_es"] = row.ScoreES
		if row.Score != 0 {
			updates["score"] = row.Score
		}
		if row.ScoreTo != 0 {
			updates["score_to"] = row.ScoreTo
		}
		if reasonsString != "" {
			updates["reasons_string"] = mergeReasons(existing.ReasonsString, reasonsString)
		}
		if row.IdentifiedBy != "" {
			updates["identified_by"] = row.IdentifiedBy
		}
		if row.SectionsNum != 0 {
			updates["sections_num"] = row.SectionsNum
		}
		if row.SectionsMatch != 0 {
			updates["sections_match"] = row.SectionsMatch
		}

		if err := tx.Model(&existing).Updates(updates).Error; err != nil {
			return fmt.Errorf("store: %w: updating bill_to_bill %d->%d: %v", billerrs.ErrPersistence, row.BillID, row.BillToID, err)
		}
	}
	return nil
}

// GetBillToBill fetches one similarity edge by its (bill_id, bill_to_id)
// primary key, or billerrs.ErrNotFound when no edge exists.
func (s *Store) GetBillToBill(ctx context.Context, billID, billToID uint) (*BillToBill, error) {
	var row BillToBill
	err := s.db.WithContext(ctx).
		Where("bill_id = ? AND bill_to_id = ?", billID, billToID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("store: %w: bill_to_bill %d->%d", billerrs.ErrNotFound, billID, billToID)
	}
	if err != nil {
		return nil, fmt.Errorf("store: %w: reading bill_to_bill %d->%d: %v", billerrs.ErrPersistence, billID, billToID, err)
	}
	return &row, nil
}

// mergeReasons splits both reason strings on ",", trims, set-unions, and
// rejoins with ", ".
func mergeReasons(existing, incoming string) string {
	seen := map[string]bool{}
	var merged []string
	for _, part := range append(strings.Split(existing, ","), strings.Split(incoming, ",")...) {
		r := strings.TrimSpace(part)
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		merged = append(merged, r)
	}
	return strings.Join(merged, ", ")
}

// SectionToSectionInput is one section-level similarity edge to upsert.
type SectionToSectionInput struct {
	SectionID   uint
	SectionToID uint
	BillID      uint
	BillToID    uint
	Score       float64
}

// UpsertSectionToSection batch-upserts section-level edges on
// (section_id, section_to_id), updating score and currency_id on conflict.
func (s *Store) UpsertSectionToSection(ctx context.Context, currencyID uint, rows []SectionToSectionInput) error {
	return upsertSectionToSectionTx(s.db.WithContext(ctx), currencyID, rows)
}

// upsertSectionToSectionTx is the transaction-scoped body of
// UpsertSectionToSection, shared with UpsertSimilarityRun.
func upsertSectionToSectionTx(tx *gorm.DB, currencyID uint, rows []SectionToSectionInput) error {
	if len(rows) == 0 {
		return nil
	}
	models := make([]SectionToSection, 0, len(rows))
	for _, r := range rows {
		models = append(models, SectionToSection{
			SectionID:   r.SectionID,
			SectionToID: r.SectionToID,
			BillID:      r.BillID,
			BillToID:    r.BillToID,
			Score:       r.Score,
			CurrencyID:  currencyID,
		})
	}

	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "section_id"}, {Name: "section_to_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"score", "currency_id", "updated_at"}),
	}).Create(&models).Error
	if err != nil {
		return fmt.Errorf("store: %w: batch upsert section_to_section: %v", billerrs.ErrPersistence, err)
	}
	return nil
}

// SectionEdgeInput is one section-level similarity hit to fold into the
// same transaction as its owning BillToBill edge: the query section and
// the matched section it identifies, keyed by (billnumber_version,
// section_id_attr) rather than a resolved id, since both sides are
// lazily upserted in the same transaction that persists the edge.
type SectionEdgeInput struct {
	BillID    uint
	BillToID  uint
	Section   SectionInput
	SectionTo SectionInput
	Score     float64
}

// UpsertSimilarityRun persists one bill's similarity results in a single
// transaction: the aggregated BillToBill edges, the SectionItem rows each
// SectionEdgeInput references (created lazily if absent), and the
// SectionToSection edges those sections resolve to. Edges whose section
// pair can't be resolved (e.g. an empty section_id_attr) are skipped.
func (s *Store) UpsertSimilarityRun(ctx context.Context, currencyID uint, billToBill []BillToBillInput, sectionEdges []SectionEdgeInput) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := upsertBillToBillTx(tx, currencyID, billToBill); err != nil {
			return err
		}
		if len(sectionEdges) == 0 {
			return nil
		}

		sections := make([]SectionInput, 0, len(sectionEdges)*2)
		for _, e := range sectionEdges {
			sections = append(sections, e.Section, e.SectionTo)
		}
		sectionIDs, err := upsertSectionsTx(tx, sections)
		if err != nil {
			return err
		}

		rows := make([]SectionToSectionInput, 0, len(sectionEdges))
		for _, e := range sectionEdges {
			fromID, ok := sectionIDs[e.Section]
			if !ok {
				continue
			}
			toID, ok := sectionIDs[e.SectionTo]
			if !ok {
				continue
			}
			rows = append(rows, SectionToSectionInput{
				SectionID:   fromID,
				SectionToID: toID,
				BillID:      e.BillID,
				BillToID:    e.BillToID,
				Score:       e.Score,
			})
		}
		return upsertSectionToSectionTx(tx, currencyID, rows)
	})
}

// Sweep deletes BillToBill and SectionToSection rows stamped with an epoch
// older than currentEpochID. This is the final step of a full run.
func (s *Store) Sweep(ctx context.Context, currentEpochID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("currency_id < ?", currentEpochID).Delete(&BillToBill{}).Error; err != nil {
			return fmt.Errorf("store: %w: sweeping bill_to_bill: %v", billerrs.ErrPersistence, err)
		}
		if err := tx.Where("currency_id < ?", currentEpochID).Delete(&SectionToSection{}).Error; err != nil {
			return fmt.Errorf("store: %w: sweeping section_to_section: %v", billerrs.ErrPersistence, err)
		}
		return nil
	})
}

// Package similarity runs the per-section and per-bill similarity queries
// against the search index and folds the resulting hits into bill-to-bill
// relations.
package similarity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/usbillsim/billsim/internal/billerrs"
	"github.com/usbillsim/billsim/internal/billxml"
	"github.com/usbillsim/billsim/internal/query"
	"github.com/usbillsim/billsim/internal/searchclient"
)

// SimilarSection is one candidate match for a query section: the target
// bill and section it landed in, plus the engine's relevance score.
type SimilarSection struct {
	BillnumberVersion string
	ScoreES           float64
	SectionID         string
	Label             string
	Header            string
	Length            int
}

// Section is a query bill's own section, paired with whatever
// SimilarSection hits the engine returned for it.
type Section struct {
	BillnumberVersion string
	SectionID         string
	Label             string
	Header            string
	Length            int
	Similar           []SimilarSection
}

// BillSections is the full per-bill result of the similarity query: every
// section of the bill, each with its own similar-section hits.
type BillSections struct {
	BillnumberVersion string
	Length            int
	Sections          []Section
}

// Engine issues nested more-like-this queries and assembles their results.
type Engine struct {
	search    *searchclient.Client
	scoreMode string
	minScore  int
	size      int
}

// Options customizes an Engine's query defaults. A zero value for any field
// falls back to the query package's own default.
type Options struct {
	ScoreMode string
	MinScore  int
	Size      int
}

// New constructs an Engine backed by the given search client, applying
// opts' defaults to every query it issues.
func New(search *searchclient.Client, opts Options) *Engine {
	scoreMode := opts.ScoreMode
	if scoreMode == "" {
		scoreMode = query.ScoreModeMax
	}
	minScore := opts.MinScore
	if minScore == 0 {
		minScore = query.MinScoreDefault
	}
	size := opts.Size
	if size == 0 {
		size = query.MaxBillsSection
	}
	return &Engine{search: search, scoreMode: scoreMode, minScore: minScore, size: size}
}

// SimilarSections runs the more-like-this query for queryText and returns
// one SimilarSection per top-level hit, taking the first inner-hit section
// from each.
func (e *Engine) SimilarSections(ctx context.Context, queryText string) ([]SimilarSection, error) {
	q := query.Build(queryText, query.Options{ScoreMode: e.scoreMode, MinScore: e.minScore, Size: e.size})
	body, err := query.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("similarity: marshal query: %w", err)
	}

	resp, err := e.search.Search(ctx, body)
	if err != nil {
		return nil, fmt.Errorf("similarity: %w: %v", billerrs.ErrQuery, err)
	}

	var out []SimilarSection
	for _, hit := range resp.Hits.Hits {
		inner := decodeInnerHits(hit)
		if len(inner) == 0 {
			continue
		}
		first := inner[0]
		out = append(out, SimilarSection{
			BillnumberVersion: hit.Source.ID,
			ScoreES:           hit.Score,
			SectionID:         first.SectionID,
			Label:             first.Number,
			Header:            first.Header,
			Length:            first.Length,
		})
	}
	return out, nil
}

// innerHitSection is the decoded shape of one inner_hits.sections hit.
type innerHitSection struct {
	SectionID string
	Number    string
	Header    string
	Length    int
}

// decodeInnerHits extracts the nested section hits from a top-level hit's
// inner_hits payload. Every field of the raw hit structure is optional, so
// the payload is decoded as a dynamic value and projected field by field;
// malformed or absent inner_hits yields no results rather than an error,
// matching the source engine's tolerance for hits with no qualifying
// nested match.
func decodeInnerHits(hit searchclient.Hit) []innerHitSection {
	if len(hit.Inner) == 0 {
		return nil
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(hit.Inner, &raw); err != nil {
		return nil
	}

	hits, ok := DeepGet(raw, []interface{}{"sections", "hits", "hits"}, nil).([]interface{})
	if !ok {
		return nil
	}

	out := make([]innerHitSection, 0, len(hits))
	for _, h := range hits {
		out = append(out, innerHitSection{
			SectionID: deepGetString(h, "_source", "section_id"),
			Number:    deepGetString(h, "_source", "section_number"),
			Header:    deepGetString(h, "_source", "section_header"),
			Length:    deepGetInt(h, "_source", "section_length"),
		})
	}
	return out
}

// BillSimilarSections parses the bill at path, then runs SimilarSections
// for each of its top-level sections in document order. A query failure on
// one section is logged and leaves that section with no hits; the bill's
// other sections still proceed.
func (e *Engine) BillSimilarSections(ctx context.Context, path, billnumberVersion string) (BillSections, error) {
	bill, err := billxml.Parse(path)
	if err != nil {
		return BillSections{}, err
	}

	var sections []Section
	for _, s := range bill.Sections {
		similar, err := e.SimilarSections(ctx, s.Text)
		if err != nil {
			if !errors.Is(err, billerrs.ErrQuery) {
				return BillSections{}, err
			}
			log.Printf("similarity: section %s of %s: %v", s.ID, billnumberVersion, err)
			similar = nil
		}
		sections = append(sections, Section{
			BillnumberVersion: billnumberVersion,
			SectionID:         s.ID,
			Label:             s.Number,
			Header:            s.Header,
			Length:            s.Length,
			Similar:           similar,
		})
	}

	return BillSections{
		BillnumberVersion: billnumberVersion,
		Length:            bill.Length,
		Sections:          sections,
	}, nil
}

// BillToBill is one aggregated edge from the query bill to a target bill,
// produced by folding every section hit that landed in that target.
type BillToBill struct {
	BillnumberVersion   string
	BillnumberVersionTo string
	ScoreES             float64
	SectionsNum         int
	SectionsMatch       int
	Sections            []Section
}

// FoldToBillToBill aggregates a BillSections result into one BillToBill
// per distinct target bill referenced by any similar section, excluding
// self-hits and hits with no target identifier.
func FoldToBillToBill(bs BillSections) []BillToBill {
	sectionsNum := len(bs.Sections)

	order := []string{}
	byTarget := map[string]*BillToBill{}
	matchedSections := map[string]map[int]bool{}

	for i, section := range bs.Sections {
		for _, hit := range section.Similar {
			target := hit.BillnumberVersion
			if target == "" || target == bs.BillnumberVersion {
				continue
			}

			b2b, ok := byTarget[target]
			if !ok {
				b2b = &BillToBill{
					BillnumberVersion:   bs.BillnumberVersion,
					BillnumberVersionTo: target,
					SectionsNum:         sectionsNum,
				}
				byTarget[target] = b2b
				order = append(order, target)
				matchedSections[target] = map[int]bool{}
			}

			b2b.ScoreES += hit.ScoreES
			b2b.Sections = append(b2b.Sections, Section{
				BillnumberVersion: section.BillnumberVersion,
				SectionID:         section.SectionID,
				Label:             section.Label,
				Header:            section.Header,
				Length:            section.Length,
				Similar:           []SimilarSection{hit},
			})
			matchedSections[target][i] = true
		}
	}

	out := make([]BillToBill, 0, len(order))
	for _, target := range order {
		b2b := byTarget[target]
		b2b.SectionsMatch = len(matchedSections[target])
		out = append(out, *b2b)
	}
	return out
}

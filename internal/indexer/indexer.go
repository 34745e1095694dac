// Package indexer builds the per-bill nested document the search engine
// indexes and, on a successful push, lazily creates the corresponding
// Bill and SectionItem rows in the relational store.
package indexer

import (
	"context"
	"fmt"

	"github.com/usbillsim/billsim/internal/billxml"
	"github.com/usbillsim/billsim/internal/pathresolver"
	"github.com/usbillsim/billsim/internal/searchclient"
	"github.com/usbillsim/billsim/internal/store"
)

// Indexer pushes bill documents into the search engine and backfills the
// relational store from whatever it successfully indexed.
type Indexer struct {
	search *searchclient.Client
	store  *store.Store
}

// New constructs an Indexer backed by the given search client and store.
func New(search *searchclient.Client, st *store.Store) *Indexer {
	return &Indexer{search: search, store: st}
}

// IndexBill parses the bill XML at path, builds its document, and pushes it
// to the search engine keyed on billnumberVersion. When reindex is false and
// a document with that id already exists, the push is skipped entirely
// (document shape, Bill, and SectionItem rows are left untouched). On a
// successful push it upserts the Bill row and one SectionItem per section
// whose section_id attribute is present.
func (ix *Indexer) IndexBill(ctx context.Context, path, billnumberVersion string, reindex bool) error {
	if !reindex {
		exists, err := ix.search.DocumentExists(ctx, billnumberVersion)
		if err != nil {
			return fmt.Errorf("indexer: checking existing document %s: %w", billnumberVersion, err)
		}
		if exists {
			return nil
		}
	}

	bill, err := billxml.Parse(path)
	if err != nil {
		return fmt.Errorf("indexer: parsing %s: %w", path, err)
	}

	parts, err := pathresolver.SplitIdentifier(billnumberVersion)
	if err != nil {
		return fmt.Errorf("indexer: invalid billnumber_version %q: %w", billnumberVersion, err)
	}

	doc := buildDocument(bill, billnumberVersion, parts)
	if err := ix.search.IndexDocument(ctx, doc); err != nil {
		return fmt.Errorf("indexer: indexing %s: %w", billnumberVersion, err)
	}

	if _, err := ix.store.UpsertBill(ctx, parts.Billnumber, parts.Version, bill.Length, map[string]interface{}{
		"source_path": path,
	}); err != nil {
		return fmt.Errorf("indexer: upserting bill %s: %w", billnumberVersion, err)
	}

	sections := make([]store.SectionInput, 0, len(bill.Sections))
	for _, s := range bill.Sections {
		sections = append(sections, store.SectionInput{
			BillnumberVersion: billnumberVersion,
			SectionIDAttr:     s.ID,
			Label:             s.Number,
			Header:            s.Header,
			Length:            s.Length,
		})
	}
	if len(sections) > 0 {
		if _, err := ix.store.UpsertSections(ctx, sections); err != nil {
			return fmt.Errorf("indexer: upserting sections for %s: %w", billnumberVersion, err)
		}
	}

	return nil
}

// buildDocument assembles the nested search document for a parsed bill,
// deduplicating headers while preserving their first-seen order.
func buildDocument(bill *billxml.Bill, billnumberVersion string, parts pathresolver.IdentifierParts) searchclient.Document {
	seen := make(map[string]bool, len(bill.Headers))
	headers := make([]string, 0, len(bill.Headers))
	for _, h := range bill.Headers {
		if h == "" || seen[h] {
			continue
		}
		seen[h] = true
		headers = append(headers, h)
	}

	sections := make([]searchclient.Section, 0, len(bill.Sections))
	for _, s := range bill.Sections {
		sections = append(sections, searchclient.Section{
			SectionID:     s.ID,
			SectionNumber: s.Number,
			SectionHeader: s.Header,
			SectionText:   s.Text,
			SectionLength: s.Length,
			SectionXML:    s.XML,
		})
	}

	return searchclient.Document{
		ID:          billnumberVersion,
		Billnumber:  parts.Billnumber,
		Billversion: parts.Version,
		Congress:    bill.Congress,
		Session:     bill.Session,
		Date:        bill.Date,
		DCTitle:     bill.DCTitle,
		Legisnum:    bill.Legisnum,
		Length:      bill.Length,
		SectionsNum: len(bill.Sections),
		Headers:     headers,
		Sections:    sections,
	}
}

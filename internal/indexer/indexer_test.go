package indexer_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/usbillsim/billsim/internal/billxml"
	"github.com/usbillsim/billsim/internal/indexer"
	"github.com/usbillsim/billsim/internal/searchclient"
	"github.com/usbillsim/billsim/internal/store"
)

const billXMLFixture = `<?xml version="1.0"?>
<bill>
  <dublinCore>
    <dc:title>A bill to do the thing</dc:title>
    <dc:date>2025-01-02</dc:date>
  </dublinCore>
  <legis-num>H. R. 200</legis-num>
  <section id="s1">
    <header>Short title.</header>
    <text>This Act may be cited as the Test Act of 2025.</text>
  </section>
</bill>`

func writeBillFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "BILLS-117hr200ih.xml")
	if err := os.WriteFile(path, []byte(billXMLFixture), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func connectTestStore(t *testing.T) *store.Store {
	t.Helper()
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}
	cfg := store.DefaultConfig(databaseURL)
	db, err := store.Connect(cfg)
	if err != nil {
		t.Fatalf("failed to connect to database: %v", err)
	}
	t.Cleanup(func() { store.Close(db) })
	if err := store.Migrate(db); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
	return store.New(db)
}

// TestIndexBillPushesDocumentAndBackfillsStore drives IndexBill against a
// fake search engine that always reports the document as absent, and
// asserts the bill and its section both land in the store.
func TestIndexBillPushesDocumentAndBackfillsStore(t *testing.T) {
	st := connectTestStore(t)

	var indexed int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodHead:
			w.WriteHeader(http.StatusNotFound)
		case http.MethodPut:
			atomic.AddInt32(&indexed, 1)
			w.WriteHeader(http.StatusCreated)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer server.Close()

	search, err := searchclient.New(server.URL)
	if err != nil {
		t.Fatal(err)
	}
	ix := indexer.New(search, st)

	path := writeBillFixture(t)
	if err := ix.IndexBill(context.Background(), path, "117hr200ih", false); err != nil {
		t.Fatalf("IndexBill returned an error: %v", err)
	}
	if atomic.LoadInt32(&indexed) != 1 {
		t.Errorf("expected exactly one index push, got %d", indexed)
	}

	billIDs, err := st.BillIDs(context.Background(), []string{"117hr200ih"}, func(bnv string) (string, string, error) {
		return "117hr200", "ih", nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := billIDs["117hr200ih"]; !ok {
		t.Error("expected bill row to be upserted after a successful index push")
	}

	sectionIDs, err := st.UpsertSections(context.Background(), []store.SectionInput{
		{BillnumberVersion: "117hr200ih", SectionIDAttr: "s1"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(sectionIDs) != 1 {
		t.Errorf("expected the section to already exist from IndexBill's backfill, got %d rows", len(sectionIDs))
	}
}

// TestIndexBillShortCircuitsWhenDocumentExists verifies that reindex=false
// skips the index push entirely when the engine already has the document.
func TestIndexBillShortCircuitsWhenDocumentExists(t *testing.T) {
	st := connectTestStore(t)

	var pushed int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodHead:
			w.WriteHeader(http.StatusOK)
		case http.MethodPut:
			atomic.AddInt32(&pushed, 1)
			w.WriteHeader(http.StatusCreated)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer server.Close()

	search, err := searchclient.New(server.URL)
	if err != nil {
		t.Fatal(err)
	}
	ix := indexer.New(search, st)

	path := writeBillFixture(t)
	if err := ix.IndexBill(context.Background(), path, "117hr200ih", false); err != nil {
		t.Fatalf("IndexBill returned an error: %v", err)
	}
	if atomic.LoadInt32(&pushed) != 0 {
		t.Errorf("expected the index push to be skipped, but it ran %d times", pushed)
	}
}

// TestIndexRoundTripPreservesSections pushes a bill into a fake engine that
// stores the document, retrieves it by id, and asserts the ordered section
// ids and the bill length survive the trip.
func TestIndexRoundTripPreservesSections(t *testing.T) {
	st := connectTestStore(t)

	var stored []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodHead:
			w.WriteHeader(http.StatusNotFound)
		case http.MethodPut:
			stored, _ = io.ReadAll(r.Body)
			w.WriteHeader(http.StatusCreated)
		case http.MethodGet:
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"_source": %s}`, stored)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer server.Close()

	search, err := searchclient.New(server.URL)
	if err != nil {
		t.Fatal(err)
	}
	ix := indexer.New(search, st)

	path := writeBillFixture(t)
	if err := ix.IndexBill(context.Background(), path, "117hr200ih", false); err != nil {
		t.Fatalf("IndexBill returned an error: %v", err)
	}

	doc, err := search.GetDocument(context.Background(), "117hr200ih")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}

	bill, err := billxml.Parse(path)
	if err != nil {
		t.Fatal(err)
	}
	if doc.Length != bill.Length {
		t.Errorf("round-tripped length = %d, want %d", doc.Length, bill.Length)
	}
	if len(doc.Sections) != len(bill.Sections) {
		t.Fatalf("round-tripped %d sections, want %d", len(doc.Sections), len(bill.Sections))
	}
	for i := range doc.Sections {
		if doc.Sections[i].SectionID != bill.Sections[i].ID {
			t.Errorf("section %d id = %q, want %q", i, doc.Sections[i].SectionID, bill.Sections[i].ID)
		}
	}
}

func TestIndexBillReindexForcesPush(t *testing.T) {
	st := connectTestStore(t)

	var headCalls, pushed int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodHead:
			atomic.AddInt32(&headCalls, 1)
			w.WriteHeader(http.StatusOK)
		case http.MethodPut:
			atomic.AddInt32(&pushed, 1)
			w.WriteHeader(http.StatusCreated)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer server.Close()

	search, err := searchclient.New(server.URL)
	if err != nil {
		t.Fatal(err)
	}
	ix := indexer.New(search, st)

	path := writeBillFixture(t)
	if err := ix.IndexBill(context.Background(), path, "117hr200ih", true); err != nil {
		t.Fatalf("IndexBill returned an error: %v", err)
	}
	if atomic.LoadInt32(&headCalls) != 0 {
		t.Errorf("reindex=true must not check document existence, got %d HEAD calls", headCalls)
	}
	if atomic.LoadInt32(&pushed) != 1 {
		t.Errorf("expected exactly one index push, got %d", pushed)
	}
}

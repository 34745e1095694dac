package similarity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/usbillsim/billsim/internal/searchclient"
)

const searchResponseFixture = `{
  "hits": {
    "total": {"value": 1},
    "hits": [
      {
        "_index": "bills",
        "_id": "117hr201ih",
        "_score": 55.5,
        "_source": {"id": "117hr201ih"},
        "inner_hits": {
          "sections": {
            "hits": {
              "hits": [
                {"_source": {"section_id": "H2", "section_number": "2", "section_header": "Findings", "section_length": 120}}
              ]
            }
          }
        }
      }
    ]
  }
}`

func newTestEngine(t *testing.T, body string) *Engine {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	c, err := searchclient.New(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	return New(c, Options{})
}

func TestSimilarSectionsParsesInnerHits(t *testing.T) {
	e := newTestEngine(t, searchResponseFixture)

	got, err := e.SimilarSections(context.Background(), "some query text")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d similar sections, want 1", len(got))
	}
	s := got[0]
	if s.BillnumberVersion != "117hr201ih" || s.ScoreES != 55.5 || s.SectionID != "H2" || s.Label != "2" {
		t.Errorf("unexpected similar section: %+v", s)
	}
}

func TestSimilarSectionsSkipsHitsWithNoInnerHits(t *testing.T) {
	e := newTestEngine(t, `{"hits":{"total":{"value":1},"hits":[{"_id":"x","_source":{"id":"x"}}]}}`)

	got, err := e.SimilarSections(context.Background(), "text")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("got %d, want 0", len(got))
	}
}

func TestFoldToBillToBillAggregatesAndExcludesSelf(t *testing.T) {
	bs := BillSections{
		BillnumberVersion: "117hr200ih",
		Length:            1000,
		Sections: []Section{
			{
				SectionID: "s1",
				Similar: []SimilarSection{
					{BillnumberVersion: "117hr200ih", ScoreES: 999}, // self-hit, excluded
					{BillnumberVersion: "117hr201ih", ScoreES: 10, SectionID: "t1"},
					{BillnumberVersion: "117hr201ih", ScoreES: 15, SectionID: "t2"},
				},
			},
			{
				SectionID: "s2",
				Similar: []SimilarSection{
					{BillnumberVersion: "117hr201ih", ScoreES: 20, SectionID: "t3"},
					{BillnumberVersion: "", ScoreES: 5}, // no target, excluded
				},
			},
			{
				SectionID: "s3",
			},
		},
	}

	got := FoldToBillToBill(bs)
	if len(got) != 1 {
		t.Fatalf("got %d bill-to-bill rows, want 1: %+v", len(got), got)
	}
	b2b := got[0]
	if b2b.BillnumberVersionTo != "117hr201ih" {
		t.Fatalf("target = %q", b2b.BillnumberVersionTo)
	}
	if b2b.SectionsNum != 3 {
		t.Errorf("SectionsNum = %d, want 3", b2b.SectionsNum)
	}
	if b2b.SectionsMatch != 2 {
		t.Errorf("SectionsMatch = %d, want 2", b2b.SectionsMatch)
	}
	if b2b.ScoreES != 45 {
		t.Errorf("ScoreES = %v, want 45", b2b.ScoreES)
	}
	if len(b2b.Sections) != 3 {
		t.Errorf("got %d section links, want 3", len(b2b.Sections))
	}
}

func TestFoldToBillToBillCountsUnlabeledSectionsSeparately(t *testing.T) {
	// Two query sections with no id attribute both matching the same target
	// still count as two matched sections.
	bs := BillSections{
		BillnumberVersion: "117hr200ih",
		Sections: []Section{
			{Similar: []SimilarSection{{BillnumberVersion: "117hr201ih", ScoreES: 1}}},
			{Similar: []SimilarSection{{BillnumberVersion: "117hr201ih", ScoreES: 2}}},
		},
	}
	got := FoldToBillToBill(bs)
	if len(got) != 1 || got[0].SectionsMatch != 2 {
		t.Fatalf("unexpected fold result: %+v", got)
	}
}

func TestFoldToBillToBillEmptyWhenNoMatches(t *testing.T) {
	bs := BillSections{BillnumberVersion: "117hr200ih", Sections: []Section{{SectionID: "s1"}}}
	got := FoldToBillToBill(bs)
	if len(got) != 0 {
		t.Fatalf("got %d, want 0", len(got))
	}
}

func TestBillSimilarSectionsSurvivesQueryFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "engine unavailable", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	c, err := searchclient.New(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	e := New(c, Options{})

	dir := t.TempDir()
	path := filepath.Join(dir, "BILLS-117hr200ih.xml")
	contents := `<?xml version="1.0"?>
<bill>
  <section id="s1"><enum>1</enum><header>One</header><text>alpha</text></section>
  <section id="s2"><enum>2</enum><header>Two</header><text>beta</text></section>
</bill>`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}

	bs, err := e.BillSimilarSections(context.Background(), path, "117hr200ih")
	if err != nil {
		t.Fatalf("BillSimilarSections returned an error for per-section query failures: %v", err)
	}
	if len(bs.Sections) != 2 {
		t.Fatalf("got %d sections, want 2", len(bs.Sections))
	}
	for _, s := range bs.Sections {
		if len(s.Similar) != 0 {
			t.Errorf("section %s has %d hits, want 0", s.SectionID, len(s.Similar))
		}
	}
}

func TestDeepGet(t *testing.T) {
	d := map[string]interface{}{
		"meta": map[string]interface{}{
			"status":   "OK",
			"messages": []interface{}{"a", "b"},
		},
	}

	if got := DeepGet(d, []interface{}{"meta", "messages", 1}, nil); got != "b" {
		t.Errorf(`DeepGet(meta.messages[1]) = %v, want "b"`, got)
	}
	if got := DeepGet(d, []interface{}{"meta", "status"}, nil); got != "OK" {
		t.Errorf(`DeepGet(meta.status) = %v, want "OK"`, got)
	}
	if got := DeepGet(d, []interface{}{"x", "y"}, "-"); got != "-" {
		t.Errorf(`DeepGet(x.y, default "-") = %v, want "-"`, got)
	}
	if got := DeepGet(d, []interface{}{"meta", "messages", 5}, "-"); got != "-" {
		t.Errorf("DeepGet out-of-range index = %v, want fallback", got)
	}
	if got := DeepGet(nil, []interface{}{"any"}, 42); got != 42 {
		t.Errorf("DeepGet over nil = %v, want fallback", got)
	}
}

package searchclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestIndexDocument(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := New(srv.URL, WithIndex("bills"))
	if err != nil {
		t.Fatal(err)
	}

	err = c.IndexDocument(context.Background(), Document{ID: "117hr200ih"})
	if err != nil {
		t.Fatal(err)
	}
	if gotPath != "/bills/_doc/117hr200ih" {
		t.Errorf("path = %q, want /bills/_doc/117hr200ih", gotPath)
	}
}

func TestSearchDecodesHits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"hits":{"total":{"value":1},"hits":[{"_index":"bills","_id":"117hr200ih","_score":42.5,"_source":{"id":"117hr200ih"}}]}}`))
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	if err != nil {
		t.Fatal(err)
	}

	resp, err := c.Search(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Hits.Total.Value != 1 || len(resp.Hits.Hits) != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Hits.Hits[0].ID != "117hr200ih" {
		t.Errorf("hit id = %q", resp.Hits.Hits[0].ID)
	}
}

func TestSearchNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := c.Search(context.Background(), json.RawMessage(`{}`)); err == nil {
		t.Fatal("expected error for 404 response")
	}
}

func TestNewRequiresBaseURL(t *testing.T) {
	if _, err := New(""); err != ErrNoBaseURL {
		t.Fatalf("got %v, want ErrNoBaseURL", err)
	}
}

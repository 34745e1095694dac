// Package searchclient wraps the OpenSearch Go client for the full-text
// index that holds bill sections and answers nested more-like-this
// queries. The query bodies themselves are built by the query package;
// this client only executes them and decodes the hits.
package searchclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/opensearch-project/opensearch-go/v3"
	"github.com/opensearch-project/opensearch-go/v3/opensearchapi"

	"github.com/usbillsim/billsim/internal/billerrs"
)

// ConnPoolSize is the per-host connection pool bound of the default
// transport. Callers sizing worker pools against this client should not
// exceed it.
const ConnPoolSize = 10

// Errors returned by the client.
var (
	ErrNoBaseURL     = errors.New("searchclient: base URL is required")
	ErrInvalidStatus = errors.New("searchclient: unexpected status code")
)

// Client executes index and search requests against one index. All methods
// are safe for concurrent use; the client holds no mutable state after New.
type Client struct {
	os    *opensearch.Client
	index string
}

// Option is a functional option for configuring the Client.
type Option func(*settings)

type settings struct {
	apiKey    string
	index     string
	transport http.RoundTripper
}

// WithAPIKey sets the search engine's authentication key, if any.
func WithAPIKey(key string) Option {
	return func(s *settings) {
		s.apiKey = key
	}
}

// WithTransport sets a custom HTTP transport for index and search requests.
func WithTransport(rt http.RoundTripper) Option {
	return func(s *settings) {
		if rt != nil {
			s.transport = rt
		}
	}
}

// WithIndex overrides the default index name.
func WithIndex(index string) Option {
	return func(s *settings) {
		if index != "" {
			s.index = index
		}
	}
}

// New creates a search client for the engine at baseURL with options applied.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, ErrNoBaseURL
	}

	s := settings{index: "bills"}
	for _, opt := range opts {
		opt(&s)
	}

	header := http.Header{}
	if s.apiKey != "" {
		header.Set("Authorization", "ApiKey "+s.apiKey)
	}

	transport := s.transport
	if transport == nil {
		transport = &http.Transport{
			MaxIdleConnsPerHost:   ConnPoolSize,
			MaxConnsPerHost:       ConnPoolSize,
			ResponseHeaderTimeout: 30 * time.Second,
		}
	}

	osc, err := opensearch.NewClient(opensearch.Config{
		Addresses: []string{strings.TrimSuffix(baseURL, "/")},
		Header:    header,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("searchclient: building client: %w", err)
	}
	return &Client{os: osc, index: s.index}, nil
}

// Document is the per-bill document indexed into the search engine: bill
// metadata plus its nested sections. A search hit is one whole document;
// the sections that matched come back in that hit's inner_hits.
type Document struct {
	ID          string    `json:"id"`
	Billnumber  string    `json:"billnumber"`
	Billversion string    `json:"billversion"`
	Congress    string    `json:"congress"`
	Session     string    `json:"session"`
	Date        string    `json:"date,omitempty"`
	DCTitle     string    `json:"dctitle"`
	Legisnum    string    `json:"legisnum"`
	Length      int       `json:"length"`
	SectionsNum int       `json:"sections_num"`
	Headers     []string  `json:"headers"`
	Sections    []Section `json:"sections"`
}

// Section is one nested section document within a Document.
type Section struct {
	SectionID     string `json:"section_id"`
	SectionNumber string `json:"section_number"`
	SectionHeader string `json:"section_header"`
	SectionText   string `json:"section_text"`
	SectionLength int    `json:"section_length"`
	SectionXML    string `json:"section_xml"`
}

// CreateIndex creates the index with the given mapping body, deleting any
// existing index with the same name first when deleteExisting is true. When
// deleteExisting is false and the index already exists, it is left as it is
// and no error is returned.
func (c *Client) CreateIndex(ctx context.Context, mapping json.RawMessage, deleteExisting bool) error {
	if deleteExisting {
		resp, err := c.os.Do(ctx, opensearchapi.IndicesDeleteReq{Indices: []string{c.index}}, nil)
		if err == nil {
			resp.Body.Close()
		}
	} else {
		resp, err := c.os.Do(ctx, opensearchapi.IndicesExistsReq{Indices: []string{c.index}}, nil)
		if err != nil {
			return fmt.Errorf("searchclient: check index exists: %w", err)
		}
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
	}

	resp, err := c.os.Do(ctx, opensearchapi.IndicesCreateReq{
		Index: c.index,
		Body:  bytes.NewReader(mapping),
	}, nil)
	if err != nil {
		return fmt.Errorf("searchclient: create index: %w", err)
	}
	defer resp.Body.Close()
	return c.checkResponse(resp)
}

// IndexDocument upserts one bill document, keyed by doc.ID.
func (c *Client) IndexDocument(ctx context.Context, doc Document) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("searchclient: marshal document: %w", err)
	}

	resp, err := c.os.Do(ctx, opensearchapi.IndexReq{
		Index:      c.index,
		DocumentID: doc.ID,
		Body:       bytes.NewReader(body),
	}, nil)
	if err != nil {
		return fmt.Errorf("searchclient: index document: %w", err)
	}
	defer resp.Body.Close()
	return c.checkResponse(resp)
}

// GetDocument fetches an indexed document by id. A missing document
// returns billerrs.ErrNotFound.
func (c *Client) GetDocument(ctx context.Context, id string) (*Document, error) {
	var envelope struct {
		Source Document `json:"_source"`
	}
	resp, err := c.os.Do(ctx, opensearchapi.DocumentGetReq{
		Index:      c.index,
		DocumentID: id,
	}, &envelope)
	if err != nil {
		return nil, fmt.Errorf("searchclient: get document %s: %w", id, err)
	}
	defer resp.Body.Close()

	if err := c.checkResponse(resp); err != nil {
		return nil, err
	}
	return &envelope.Source, nil
}

// DocumentExists reports whether a document with the given id is already
// indexed, for the reindex=false short-circuit.
func (c *Client) DocumentExists(ctx context.Context, id string) (bool, error) {
	resp, err := c.os.Do(ctx, opensearchapi.DocumentExistsReq{
		Index:      c.index,
		DocumentID: id,
	}, nil)
	if err != nil {
		return false, fmt.Errorf("searchclient: check document exists: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return true, nil
	default:
		return false, fmt.Errorf("%w: %d", ErrInvalidStatus, resp.StatusCode)
	}
}

// SearchResponse is the subset of the engine's search response billsim
// consumes: top-level hits, each possibly carrying nested inner_hits for
// the sections that matched.
type SearchResponse struct {
	Hits struct {
		Total struct {
			Value int `json:"value"`
		} `json:"total"`
		Hits []Hit `json:"hits"`
	} `json:"hits"`
}

// Hit is one top-level bill match.
type Hit struct {
	Index  string          `json:"_index"`
	ID     string          `json:"_id"`
	Score  float64         `json:"_score"`
	Source Document        `json:"_source"`
	Inner  json.RawMessage `json:"inner_hits,omitempty"`
}

// Search executes a raw query body against the index and decodes the
// response. The query itself is built by the query package; this client
// has no opinion about its shape.
func (c *Client) Search(ctx context.Context, query json.RawMessage) (*SearchResponse, error) {
	var out SearchResponse
	resp, err := c.os.Do(ctx, opensearchapi.SearchReq{
		Indices: []string{c.index},
		Body:    bytes.NewReader(query),
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("searchclient: search: %w: %v", billerrs.ErrQuery, err)
	}
	defer resp.Body.Close()

	if err := c.checkResponse(resp); err != nil {
		return nil, fmt.Errorf("%w: %v", billerrs.ErrQuery, err)
	}
	return &out, nil
}

// checkResponse validates the HTTP response status code.
func (c *Client) checkResponse(resp *opensearch.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return billerrs.ErrNotFound
	default:
		return fmt.Errorf("%w: %d", ErrInvalidStatus, resp.StatusCode)
	}
}

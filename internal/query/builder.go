// Package query builds the nested more-like-this queries the similarity
// engine issues against the section index. Every exported function is a
// pure transform from inputs to a query document; none of them perform I/O.
package query

import "encoding/json"

const (
	// MinScoreDefault is the sentinel meaning "compute the length-adaptive
	// floor"; any other value is used as the min_score verbatim.
	MinScoreDefault = -1

	// MaxBillsSection bounds the number of top-level hits returned per
	// section query, absent an explicit override.
	MaxBillsSection = 100

	// ScoreModeMax scores a nested query by its single best-matching
	// inner hit rather than averaging or summing across matches.
	ScoreModeMax = "max"

	minTermFreq   = 2
	maxQueryTerms = 30
	minDocFreq    = 2
)

// AdaptiveMinScore returns the minimum score floor for a query of the given
// text length: below 500 characters the floor is 20, below 1000 it's 40,
// below 1500 it's 50, otherwise 60.
func AdaptiveMinScore(queryTextLength int) int {
	switch {
	case queryTextLength < 500:
		return 20
	case queryTextLength < 1000:
		return 40
	case queryTextLength < 1500:
		return 50
	default:
		return 60
	}
}

// MoreLikeThis is the nested more_like_this query body sent to the section
// index's _search endpoint.
type MoreLikeThis struct {
	Size     int         `json:"size"`
	MinScore int         `json:"min_score"`
	Query    nestedQuery `json:"query"`
}

type nestedQuery struct {
	Nested nestedBody `json:"nested"`
}

type nestedBody struct {
	Path      string    `json:"path"`
	Query     mltQuery  `json:"query"`
	InnerHits innerHits `json:"inner_hits"`
	ScoreMode string    `json:"score_mode,omitempty"`
}

type mltQuery struct {
	MoreLikeThis mltBody `json:"more_like_this"`
}

type mltBody struct {
	Fields        []string `json:"fields"`
	Like          string   `json:"like"`
	MinTermFreq   int      `json:"min_term_freq"`
	MaxQueryTerms int      `json:"max_query_terms"`
	MinDocFreq    int      `json:"min_doc_freq"`
}

// innerHits restricts each nested hit's _source to the section fields the
// similarity engine projects, so responses don't carry full section text.
type innerHits struct {
	Source    sourceFilter `json:"_source"`
	Highlight highlight    `json:"highlight"`
}

type sourceFilter struct {
	Includes []string `json:"includes"`
}

type highlight struct {
	Fields map[string]struct{} `json:"fields"`
}

// Options customizes a Build call. A zero Options uses the package's
// documented defaults: MinScoreDefault (adaptive floor), MaxBillsSection,
// and ScoreModeMax.
type Options struct {
	MinScore  int
	Size      int
	ScoreMode string
}

// Build constructs a nested more-like-this query for queryText. A MinScore
// of MinScoreDefault (the zero value's default, since Go zeros an unset
// int) is resolved to the length-adaptive floor via AdaptiveMinScore.
//
// The returned query owns no substructure shared with any other call: each
// Build call allocates fresh fields and slices.
func Build(queryText string, opts Options) MoreLikeThis {
	minScore := opts.MinScore
	if minScore == 0 {
		minScore = MinScoreDefault
	}
	if minScore == MinScoreDefault {
		minScore = AdaptiveMinScore(len(queryText))
	}

	size := opts.Size
	if size == 0 {
		size = MaxBillsSection
	}

	scoreMode := opts.ScoreMode
	if scoreMode == "" {
		scoreMode = ScoreModeMax
	}

	return MoreLikeThis{
		Size:     size,
		MinScore: minScore,
		Query: nestedQuery{
			Nested: nestedBody{
				Path: "sections",
				Query: mltQuery{
					MoreLikeThis: mltBody{
						Fields:        []string{"sections.section_text"},
						Like:          queryText,
						MinTermFreq:   minTermFreq,
						MaxQueryTerms: maxQueryTerms,
						MinDocFreq:    minDocFreq,
					},
				},
				InnerHits: innerHits{
					Source: sourceFilter{
						Includes: []string{
							"sections.section_id",
							"sections.section_number",
							"sections.section_header",
							"sections.section_length",
						},
					},
					Highlight: highlight{
						Fields: map[string]struct{}{"sections.section_text": {}},
					},
				},
				ScoreMode: scoreMode,
			},
		},
	}
}

// Marshal renders a MoreLikeThis query as the raw JSON body the
// searchclient sends to the engine.
func Marshal(q MoreLikeThis) (json.RawMessage, error) {
	return json.Marshal(q)
}

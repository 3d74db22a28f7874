// Package retrieval merges keyword and semantic schema search into a single
// ranked schema context using Reciprocal Rank Fusion.
package retrieval

import (
	"context"
	"fmt"
	"strings"
)

// SchemaObject is the payload carried by a retrieval candidate: the schema
// description of one table or measurement.
type SchemaObject struct {
	// Name is the table or measurement name; it is also the fusion key.
	Name string `json:"name"`

	// Comment is the human description of the object, if known.
	Comment string `json:"comment,omitempty"`

	// DDL is the full definition statement for the object.
	DDL string `json:"ddl,omitempty"`

	// Description is a structured prose description (columns, relations,
	// join hints). Populated by the semantic index; the keyword index may
	// carry a sparser copy.
	Description string `json:"description,omitempty"`
}

// Candidate is one entry of a ranked list returned by a search source.
// Rank is implied by slice position; Score is the source-native score and
// is not used by fusion.
type Candidate struct {
	Key     string
	Score   float64
	Payload SchemaObject
}

// FusedResult is one entry of the fused ranking.
type FusedResult struct {
	Key     string
	Score   float64
	Payload SchemaObject
}

// KeywordSearcher returns a ranked candidate list from a keyword index.
type KeywordSearcher interface {
	SearchKeyword(ctx context.Context, query string, limit int) ([]Candidate, error)
}

// SemanticSearcher returns a ranked candidate list from a vector index.
type SemanticSearcher interface {
	SearchSemantic(ctx context.Context, query string, limit int) ([]Candidate, error)
}

// SchemaText renders fused results as a DDL listing suitable for a
// generation prompt.
func SchemaText(results []FusedResult) string {
	if len(results) == 0 {
		return "no matching schema objects"
	}

	parts := make([]string, 0, len(results))
	for i, r := range results {
		var b strings.Builder
		fmt.Fprintf(&b, "## %d: %s", i+1, r.Key)
		if r.Payload.Comment != "" {
			fmt.Fprintf(&b, " (%s)", r.Payload.Comment)
		}
		fmt.Fprintf(&b, "\nscore: %.4f\n", r.Score)
		if r.Payload.Description != "" {
			b.WriteString(r.Payload.Description)
			b.WriteString("\n")
		}
		if r.Payload.DDL != "" {
			fmt.Fprintf(&b, "```sql\n%s\n```", r.Payload.DDL)
		}
		parts = append(parts, b.String())
	}
	return strings.Join(parts, "\n\n")
}

package vectorstore

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/queryd/internal/retrieval"
)

// SemanticSearcher adapts a Store to the retrieval layer, scoping it to a
// single schema collection.
type SemanticSearcher struct {
	store      Store
	collection string
}

var _ retrieval.SemanticSearcher = (*SemanticSearcher)(nil)

// NewSemanticSearcher returns a searcher over one schema collection.
func NewSemanticSearcher(store Store, collection string) (*SemanticSearcher, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidConfig)
	}
	if err := ValidateCollectionName(collection); err != nil {
		return nil, err
	}
	return &SemanticSearcher{store: store, collection: collection}, nil
}

// SearchSemantic runs a similarity search and maps hits to schema
// candidates keyed by table name.
func (s *SemanticSearcher) SearchSemantic(ctx context.Context, query string, limit int) ([]retrieval.Candidate, error) {
	results, err := s.store.Search(ctx, s.collection, query, limit, nil)
	if err != nil {
		return nil, fmt.Errorf("semantic search: %w", err)
	}

	candidates := make([]retrieval.Candidate, 0, len(results))
	for _, res := range results {
		obj := retrieval.SchemaObject{
			Name:        metadataString(res.Metadata, "table_name"),
			Comment:     metadataString(res.Metadata, "table_comment"),
			DDL:         metadataString(res.Metadata, "full_ddl"),
			Description: metadataString(res.Metadata, "structured_description"),
		}
		if obj.Description == "" {
			obj.Description = res.Content
		}
		candidates = append(candidates, retrieval.Candidate{
			Key:     obj.Name,
			Score:   float64(res.Score),
			Payload: obj,
		})
	}
	return candidates, nil
}

func metadataString(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

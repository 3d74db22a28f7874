// Package search provides the keyword-search side of hybrid retrieval,
// backed by Elasticsearch.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/elastic/go-elasticsearch/v8"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/queryd/internal/retrieval"
)

// ErrInvalidConfig indicates invalid searcher configuration.
var ErrInvalidConfig = errors.New("invalid elasticsearch configuration")

// Config holds Elasticsearch connection settings for one schema index.
type Config struct {
	Addresses []string
	Username  string
	Password  string

	// Index is the schema index to search, e.g. mysql_table_schema.
	Index string
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if len(c.Addresses) == 0 {
		return fmt.Errorf("%w: at least one address required", ErrInvalidConfig)
	}
	if c.Index == "" {
		return fmt.Errorf("%w: index required", ErrInvalidConfig)
	}
	return nil
}

// Searcher implements retrieval.KeywordSearcher over one Elasticsearch index.
type Searcher struct {
	client *elasticsearch.Client
	index  string
	logger *zap.Logger
}

// NewSearcher creates a keyword searcher for the configured index.
func NewSearcher(cfg Config, logger *zap.Logger) (*Searcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("creating elasticsearch client: %w", err)
	}

	return &Searcher{client: client, index: cfg.Index, logger: logger}, nil
}

// schemaDoc mirrors the indexed schema document layout.
type schemaDoc struct {
	TableName             string `json:"table_name"`
	TableComment          string `json:"table_comment"`
	FullDDL               string `json:"full_ddl"`
	StructuredDescription string `json:"structured_description"`
}

// searchResponse is the subset of the ES response body we read.
type searchResponse struct {
	Hits struct {
		Hits []struct {
			Score  float64   `json:"_score"`
			Source schemaDoc `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// SearchKeyword runs a multi-field match query and returns candidates in
// descending score order.
func (s *Searcher) SearchKeyword(ctx context.Context, query string, limit int) ([]retrieval.Candidate, error) {
	if limit <= 0 {
		limit = 10
	}

	body := map[string]any{
		"query": map[string]any{
			"multi_match": map[string]any{
				"query":  query,
				"fields": []string{"table_name^2", "table_comment^2", "structured_description"},
			},
		},
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, fmt.Errorf("encoding search body: %w", err)
	}

	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(s.index),
		s.client.Search.WithBody(&buf),
		s.client.Search.WithSize(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("searching index %s: %w", s.index, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("searching index %s: %s", s.index, res.Status())
	}

	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}

	candidates := make([]retrieval.Candidate, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		candidates = append(candidates, retrieval.Candidate{
			Key:   hit.Source.TableName,
			Score: hit.Score,
			Payload: retrieval.SchemaObject{
				Name:        hit.Source.TableName,
				Comment:     hit.Source.TableComment,
				DDL:         hit.Source.FullDDL,
				Description: hit.Source.StructuredDescription,
			},
		})
	}

	s.logger.Debug("keyword search complete",
		zap.String("index", s.index),
		zap.Int("hits", len(candidates)),
	)

	return candidates, nil
}

var _ retrieval.KeywordSearcher = (*Searcher)(nil)

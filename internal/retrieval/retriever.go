package retrieval

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Config holds hybrid retriever tunables.
type Config struct {
	// TopK is the number of fused results returned.
	TopK int

	// SearchLimit is the per-source candidate limit.
	SearchLimit int

	// FusionK is the RRF smoothing constant.
	FusionK int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{TopK: 5, SearchLimit: 20, FusionK: DefaultFusionK}
}

// Result carries both the per-source lists and the fused ranking, so
// callers can log source behavior without re-querying.
type Result struct {
	Keyword  []Candidate
	Semantic []Candidate
	Fused    []FusedResult
}

// Retriever performs hybrid schema retrieval over one backend's indexes.
//
// The keyword and semantic searches run concurrently and are joined before
// fusion. A failure in either source degrades to an empty list from that
// source; retrieval only produces an empty fused ranking when both sources
// return nothing.
type Retriever struct {
	keyword  KeywordSearcher
	semantic SemanticSearcher
	config   Config
	logger   *zap.Logger
}

// NewRetriever creates a hybrid retriever. keyword may be nil to run in
// semantic-only mode.
func NewRetriever(keyword KeywordSearcher, semantic SemanticSearcher, cfg Config, logger *zap.Logger) *Retriever {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultConfig().TopK
	}
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = DefaultConfig().SearchLimit
	}
	if cfg.FusionK <= 0 {
		cfg.FusionK = DefaultFusionK
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Retriever{
		keyword:  keyword,
		semantic: semantic,
		config:   cfg,
		logger:   logger,
	}
}

// Retrieve runs both searches concurrently and fuses the rankings.
func (r *Retriever) Retrieve(ctx context.Context, query string) (*Result, error) {
	var (
		wg       sync.WaitGroup
		keyword  []Candidate
		semantic []Candidate
	)

	if r.keyword != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results, err := r.keyword.SearchKeyword(ctx, query, r.config.SearchLimit)
			if err != nil {
				// Degrade to an empty keyword list; fusion proceeds on
				// the semantic ranking alone.
				r.logger.Warn("keyword search failed, continuing without it",
					zap.String("query", query),
					zap.Error(err),
				)
				return
			}
			keyword = results
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		results, err := r.semantic.SearchSemantic(ctx, query, r.config.SearchLimit)
		if err != nil {
			r.logger.Warn("semantic search failed, continuing without it",
				zap.String("query", query),
				zap.Error(err),
			)
			return
		}
		semantic = results
	}()

	wg.Wait()

	fused := Fuse(keyword, semantic, r.config.FusionK, r.config.TopK)

	r.logger.Debug("hybrid retrieval complete",
		zap.Int("keyword_candidates", len(keyword)),
		zap.Int("semantic_candidates", len(semantic)),
		zap.Int("fused", len(fused)),
	)

	return &Result{Keyword: keyword, Semantic: semantic, Fused: fused}, nil
}

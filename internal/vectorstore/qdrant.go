package vectorstore

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// collectionNamePattern restricts collection names to lowercase
// alphanumerics and underscores, max 64 characters.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidateCollectionName checks that a collection name is safe to pass to
// Qdrant. Returns ErrInvalidCollectionName on failure.
func ValidateCollectionName(name string) error {
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: collection name must match pattern ^[a-z0-9_]{1,64}$, got %q", ErrInvalidCollectionName, name)
	}
	return nil
}

// IsTransientError reports whether an error is worth retrying.
// Network timeouts and temporary unavailability are transient; invalid
// arguments, missing collections and auth failures are not.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}

	st, ok := status.FromError(err)
	if !ok {
		return false
	}

	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// QdrantConfig holds connection settings for the Qdrant gRPC client.
type QdrantConfig struct {
	Host         string
	Port         int
	UseTLS       bool
	VectorSize   uint64
	MaxRetries   int
	RetryBackoff time.Duration
}

// ApplyDefaults fills in zero-valued fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.VectorSize == 0 {
		c.VectorSize = 1536
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
}

// Validate checks the configuration for invalid values.
func (c *QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port must be in range 1-65535, got %d", ErrInvalidConfig, c.Port)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("%w: max retries must not be negative", ErrInvalidConfig)
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("%w: retry backoff must not be negative", ErrInvalidConfig)
	}
	return nil
}

// QdrantStore is a Store implementation backed by Qdrant's native gRPC
// client (port 6334). Embeddings are generated through the injected
// Embedder at upsert and search time.
type QdrantStore struct {
	client   *qdrant.Client
	config   QdrantConfig
	embedder Embedder
	logger   *zap.Logger
}

var _ Store = (*QdrantStore)(nil)

// NewQdrantStore connects to Qdrant and verifies the connection with a
// health check.
func NewQdrantStore(cfg QdrantConfig, embedder Embedder, logger *zap.Logger) (*QdrantStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}

	if !cfg.UseTLS {
		logger.Warn("qdrant connection is not using TLS",
			zap.String("host", cfg.Host),
			zap.Int("port", cfg.Port))
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	s := &QdrantStore{
		client:   client,
		config:   cfg,
		embedder: embedder,
		logger:   logger.Named("qdrant"),
	}

	healthCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.HealthCheck(healthCtx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: health check failed: %v", ErrConnectionFailed, err)
	}

	return s, nil
}

// retryOperation retries an operation with exponential backoff. Only
// transient errors are retried.
func (s *QdrantStore) retryOperation(ctx context.Context, operationName string, operation func() error) error {
	backoff := s.config.RetryBackoff

	for attempt := 0; ; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}

		if !IsTransientError(err) {
			return fmt.Errorf("%s failed (permanent): %w", operationName, err)
		}

		if attempt == s.config.MaxRetries {
			return fmt.Errorf("%s failed after %d retries: %w", operationName, s.config.MaxRetries, err)
		}

		s.logger.Warn("retrying qdrant operation",
			zap.String("operation", operationName),
			zap.Int("attempt", attempt+1),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", operationName, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
}

// Upsert embeds and stores documents in the collection. Point ids are
// UUIDs; the original document id is preserved in the payload.
func (s *QdrantStore) Upsert(ctx context.Context, collection string, docs []Document) ([]string, error) {
	if err := ValidateCollectionName(collection); err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrEmptyDocuments
	}

	texts := make([]string, len(docs))
	for i, doc := range docs {
		texts[i] = doc.Content
	}
	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if len(vectors) != len(docs) {
		return nil, fmt.Errorf("%w: got %d vectors for %d documents", ErrEmbeddingFailed, len(vectors), len(docs))
	}

	ids := make([]string, len(docs))
	points := make([]*qdrant.PointStruct, len(docs))
	for i, doc := range docs {
		pointID := doc.ID
		if pointID == "" {
			pointID = uuid.New().String()
		}
		ids[i] = pointID

		payload := make(map[string]*qdrant.Value)
		payload["content"] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: doc.Content}}
		payload["id"] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: pointID}}

		for k, v := range doc.Metadata {
			switch val := v.(type) {
			case string:
				payload[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: val}}
			case int:
				payload[k] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(val)}}
			case int64:
				payload[k] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: val}}
			case float64:
				payload[k] = &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: val}}
			case bool:
				payload[k] = &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: val}}
			}
		}

		// Qdrant point ids must be UUIDs; non-UUID document ids live
		// only in the payload.
		var qdrantPointID *qdrant.PointId
		if _, err := uuid.Parse(pointID); err == nil {
			qdrantPointID = qdrant.NewIDUUID(pointID)
		} else {
			qdrantPointID = qdrant.NewIDUUID(uuid.New().String())
		}

		points[i] = &qdrant.PointStruct{
			Id:      qdrantPointID,
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: payload,
		}
	}

	err = s.retryOperation(ctx, "upsert", func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: collection,
			Points:         points,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("upserting points to collection %s: %w", collection, err)
	}

	s.logger.Debug("upserted points",
		zap.String("collection", collection),
		zap.Int("count", len(ids)))
	return ids, nil
}

// Search embeds the query and returns up to k results ordered by
// similarity. String-valued filters become exact keyword match conditions.
func (s *QdrantStore) Search(ctx context.Context, collection string, query string, k int, filters map[string]any) ([]SearchResult, error) {
	if err := ValidateCollectionName(collection); err != nil {
		return nil, err
	}
	if k <= 0 {
		k = 10
	}

	queryVector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	var filter *qdrant.Filter
	if len(filters) > 0 {
		conditions := make([]*qdrant.Condition, 0, len(filters))
		for key, value := range filters {
			switch v := value.(type) {
			case string:
				conditions = append(conditions, &qdrant.Condition{
					ConditionOneOf: &qdrant.Condition_Field{
						Field: &qdrant.FieldCondition{
							Key: key,
							Match: &qdrant.Match{
								MatchValue: &qdrant.Match_Keyword{Keyword: v},
							},
						},
					},
				})
			}
		}
		if len(conditions) > 0 {
			filter = &qdrant.Filter{Must: conditions}
		}
	}

	var points []*qdrant.ScoredPoint
	err = s.retryOperation(ctx, "search", func() error {
		res, err := s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: collection,
			Query:          qdrant.NewQuery(queryVector...),
			Limit:          qdrant.PtrOf(uint64(k)),
			WithPayload:    qdrant.NewWithPayload(true),
			Filter:         filter,
		})
		if err != nil {
			return err
		}
		points = res
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("searching collection %s: %w", collection, err)
	}

	results := make([]SearchResult, len(points))
	for i, point := range points {
		result := SearchResult{Score: point.Score}
		if point.Payload != nil {
			result.Metadata = make(map[string]any)
			for key, v := range point.Payload {
				switch val := v.Kind.(type) {
				case *qdrant.Value_StringValue:
					result.Metadata[key] = val.StringValue
					if key == "content" {
						result.Content = val.StringValue
					} else if key == "id" {
						result.ID = val.StringValue
					}
				case *qdrant.Value_IntegerValue:
					result.Metadata[key] = val.IntegerValue
				case *qdrant.Value_DoubleValue:
					result.Metadata[key] = val.DoubleValue
				case *qdrant.Value_BoolValue:
					result.Metadata[key] = val.BoolValue
				}
			}
		}
		results[i] = result
	}

	return results, nil
}

// CreateCollection creates a collection with cosine distance vectors.
func (s *QdrantStore) CreateCollection(ctx context.Context, collection string, vectorSize uint64) error {
	if err := ValidateCollectionName(collection); err != nil {
		return err
	}
	if vectorSize == 0 {
		vectorSize = s.config.VectorSize
	}

	err := s.retryOperation(ctx, "create_collection", func() error {
		return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     vectorSize,
				Distance: qdrant.Distance_Cosine,
			}),
		})
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", collection, err)
	}

	s.logger.Info("created collection",
		zap.String("collection", collection),
		zap.Uint64("vector_size", vectorSize))
	return nil
}

// EnsureCollection creates the collection if it does not already exist.
func (s *QdrantStore) EnsureCollection(ctx context.Context, collection string, vectorSize uint64) error {
	exists, err := s.CollectionExists(ctx, collection)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return s.CreateCollection(ctx, collection, vectorSize)
}

// CollectionExists reports whether the collection exists.
func (s *QdrantStore) CollectionExists(ctx context.Context, collection string) (bool, error) {
	if err := ValidateCollectionName(collection); err != nil {
		return false, err
	}

	_, err := s.client.GetCollectionInfo(ctx, collection)
	if err != nil {
		if st, ok := status.FromError(err); ok && st.Code() == grpccodes.NotFound {
			return false, nil
		}
		return false, fmt.Errorf("checking collection %s: %w", collection, err)
	}
	return true, nil
}

// CollectionInfo returns point-count metadata for the collection.
func (s *QdrantStore) CollectionInfo(ctx context.Context, collection string) (*CollectionInfo, error) {
	if err := ValidateCollectionName(collection); err != nil {
		return nil, err
	}

	info, err := s.client.GetCollectionInfo(ctx, collection)
	if err != nil {
		if st, ok := status.FromError(err); ok && st.Code() == grpccodes.NotFound {
			return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
		}
		return nil, fmt.Errorf("getting collection info for %s: %w", collection, err)
	}

	result := &CollectionInfo{Name: collection}
	if info.PointsCount != nil {
		result.PointCount = *info.PointsCount
	}
	return result, nil
}

// Close releases the gRPC connection.
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

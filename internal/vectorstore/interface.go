// Package vectorstore defines the interface for vector storage operations
// and its Qdrant gRPC implementation. queryd uses it for semantic schema
// search and for the long-term conversation archive.
package vectorstore

import (
	"context"
	"errors"
)

// Sentinel errors for vector store operations.
var (
	// ErrCollectionNotFound is returned when a collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmptyDocuments indicates empty or nil documents.
	ErrEmptyDocuments = errors.New("empty or nil documents")

	// ErrConnectionFailed indicates gRPC connection issues.
	ErrConnectionFailed = errors.New("failed to connect to qdrant")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("failed to generate embeddings")

	// ErrInvalidCollectionName indicates collection name validation failure.
	ErrInvalidCollectionName = errors.New("invalid collection name")
)

// Embedder generates vector embeddings from text.
type Embedder interface {
	// EmbedDocuments generates embeddings for multiple texts, one vector
	// per input text.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates an embedding for a single query string.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Store is the interface for vector storage operations. All operations take
// an explicit collection name; queryd maintains one collection per schema
// backend plus one for the conversation archive.
type Store interface {
	// Upsert embeds and stores documents in the collection. Returns the
	// stored point ids.
	Upsert(ctx context.Context, collection string, docs []Document) ([]string, error)

	// Search embeds the query and returns up to k results ordered by
	// similarity score (highest first). Filters match payload fields
	// exactly; all conditions must hold.
	Search(ctx context.Context, collection string, query string, k int, filters map[string]any) ([]SearchResult, error)

	// CreateCollection creates a collection with the given vector size.
	CreateCollection(ctx context.Context, collection string, vectorSize uint64) error

	// CollectionExists reports whether the collection exists.
	CollectionExists(ctx context.Context, collection string) (bool, error)

	// CollectionInfo returns point-count metadata for the collection.
	CollectionInfo(ctx context.Context, collection string) (*CollectionInfo, error)

	// Close releases the underlying connection.
	Close() error
}

package vectorstore

// Document represents a document to be stored in the vector store.
type Document struct {
	// ID is the unique identifier; empty means a new UUID is assigned.
	ID string

	// Content is the text that gets embedded.
	Content string

	// Metadata contains additional payload fields for filtering and
	// retrieval. Values may be string, int, int64, float64 or bool.
	Metadata map[string]any
}

// SearchResult represents one similarity search hit.
type SearchResult struct {
	// ID is the document identifier.
	ID string

	// Content is the stored document text.
	Content string

	// Score is the similarity score (higher is more similar).
	Score float32

	// Metadata contains the stored payload fields.
	Metadata map[string]any
}

// CollectionInfo contains metadata about a vector collection.
type CollectionInfo struct {
	Name       string `json:"name"`
	PointCount uint64 `json:"point_count"`
}

package repository

import "context"

// VectorStore is the domain-level abstraction over the vector index.
// Application and pipeline code depend on this interface only; the Milvus SDK
// stays behind the infrastructure adapter so the index is replaceable.
//
// Each collection holds the vectors of exactly one embedding variant; all
// vectors in a collection share one dimensionality and similarity metric.

// VectorUpsertItem is one chunk plus its embedding, carrying the source
// document fields needed for citation.
type VectorUpsertItem struct {
	ID         string
	Vector     []float32
	DocID      string
	Title      string
	Link       string
	Source     string
	NewsDate   string
	ChunkIndex int64
	Content    string
}

// VectorSearchHit is one similarity-search result.
type VectorSearchHit struct {
	ID         string
	Score      float32
	DocID      string
	Title      string
	Link       string
	Source     string
	NewsDate   string
	ChunkIndex int64
	Content    string
}

type VectorStore interface {
	// Upsert replaces any prior content under each item's ID atomically.
	Upsert(ctx context.Context, collection string, items []VectorUpsertItem) ([]string, error)
	// Search runs a top-k similarity query; it never mutates state and
	// returns hits with non-increasing scores.
	Search(ctx context.Context, collection string, vector []float32, topK int, expr string) ([]VectorSearchHit, error)
	DeleteByIDs(ctx context.Context, collection string, ids []string) error
}

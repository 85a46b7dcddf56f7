package repository

import (
	"context"

	"VnStockRAG/internal/modules/rag/domain/news"
)

// NewsRepository persists raw news documents keyed by id.
type NewsRepository interface {
	// InsertMany writes a batch with upsert-on-id semantics and returns the
	// number of rows affected.
	InsertMany(ctx context.Context, docs []*news.Document) (int64, error)
	// GetByID returns nil, nil when the document does not exist.
	GetByID(ctx context.Context, id string) (*news.Document, error)
}

package persistence

import (
	"context"
	"errors"
	"time"

	"VnStockRAG/internal/modules/rag/domain/news"
	"VnStockRAG/internal/modules/rag/domain/repository"
	"VnStockRAG/pkg/xerr"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type newsRepositoryImpl struct {
	db *gorm.DB
}

func NewNewsRepository(db *gorm.DB) repository.NewsRepository {
	return &newsRepositoryImpl{db: db}
}

func (r *newsRepositoryImpl) InsertMany(ctx context.Context, docs []*news.Document) (int64, error) {
	if len(docs) == 0 {
		return 0, nil
	}
	now := time.Now()
	for _, d := range docs {
		if d.CreatedAt.IsZero() {
			d.CreatedAt = now
		}
	}

	// Re-ingesting an id replaces the stored row (correction semantics).
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "content", "link", "date", "source"}),
	}).Create(docs)
	if tx.Error != nil {
		return 0, xerr.Wrap(xerr.CodeStorageUnavailable, "news insert failed", tx.Error)
	}
	return tx.RowsAffected, nil
}

func (r *newsRepositoryImpl) GetByID(ctx context.Context, id string) (*news.Document, error) {
	var doc news.Document
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&doc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, xerr.Wrap(xerr.CodeStorageUnavailable, "news lookup failed", err)
	}
	return &doc, nil
}

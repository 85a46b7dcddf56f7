package pipeline

import (
	"context"
	"fmt"
	"time"

	"VnStockRAG/internal/modules/rag/domain/news"
	"VnStockRAG/internal/modules/rag/domain/repository"
	"VnStockRAG/internal/modules/rag/infrastructure/chunking"
	"VnStockRAG/internal/modules/rag/infrastructure/embedding"
	"VnStockRAG/pkg/util"
	"VnStockRAG/pkg/xerr"
	"VnStockRAG/pkg/zlog"

	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"
)

// embedBatchSize bounds one embedding provider call.
const embedBatchSize = 16

// IngestResult reports what one batch actually wrote.
type IngestResult struct {
	Inserted int
	Chunks   int
}

// IngestConfig tunes the indexing pipeline.
type IngestConfig struct {
	ChunkSize      int
	ChunkOverlap   int
	RetryAttempts  int
	RetryBaseDelay time.Duration
}

func (c IngestConfig) withDefaults() IngestConfig {
	if c.ChunkSize <= 0 {
		c.ChunkSize = 800
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		c.ChunkOverlap = c.ChunkSize / 8
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 6
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 200 * time.Millisecond
	}
	return c
}

// IngestPipeline indexes validated news documents: persist to MySQL, split
// into chunks, embed once per variant, and upsert into each variant's
// collection. Re-ingesting a document id overwrites both the row and its
// chunks, so corrections converge instead of duplicating.
type IngestPipeline struct {
	repo     repository.NewsRepository
	vs       repository.VectorStore
	variants []*embedding.Variant
	chunker  *chunking.NewsChunker
	cfg      IngestConfig
}

func NewIngestPipeline(
	repo repository.NewsRepository,
	vs repository.VectorStore,
	variants []*embedding.Variant,
	cfg IngestConfig,
) (*IngestPipeline, error) {
	if repo == nil {
		return nil, fmt.Errorf("news repository is nil")
	}
	if vs == nil {
		return nil, fmt.Errorf("vector store is nil")
	}
	if len(variants) == 0 {
		return nil, fmt.Errorf("no embedding variants")
	}

	cfg = cfg.withDefaults()
	return &IngestPipeline{
		repo:     repo,
		vs:       vs,
		variants: variants,
		chunker:  chunking.NewRecursiveChunker(cfg.ChunkSize, cfg.ChunkOverlap),
		cfg:      cfg,
	}, nil
}

// Ingest indexes one validated batch. The batch either lands fully in MySQL
// or not at all; chunk/embed/upsert errors after that surface as
// StorageUnavailable so the caller can retry the same ids safely.
func (p *IngestPipeline) Ingest(ctx context.Context, docs []*news.Document) (*IngestResult, error) {
	if len(docs) == 0 {
		return &IngestResult{}, nil
	}
	start := time.Now()

	affected, err := p.repo.InsertMany(ctx, docs)
	if err != nil {
		return nil, err
	}

	chunks, err := p.chunkDocuments(ctx, docs)
	if err != nil {
		return nil, xerr.Wrap(xerr.CodeStorageUnavailable, "chunking failed", err)
	}

	for _, v := range p.variants {
		if err := p.indexVariant(ctx, v, chunks); err != nil {
			return nil, err
		}
	}

	zlog.Info("ingest batch indexed",
		zap.Int("documents", len(docs)),
		zap.Int64("rows_affected", affected),
		zap.Int("chunks", len(chunks)),
		zap.Int("variants", len(p.variants)),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()))

	return &IngestResult{Inserted: len(docs), Chunks: len(chunks)}, nil
}

func (p *IngestPipeline) chunkDocuments(ctx context.Context, docs []*news.Document) ([]*schema.Document, error) {
	in := make([]*schema.Document, 0, len(docs))
	for _, d := range docs {
		in = append(in, &schema.Document{
			ID:      d.Id,
			Content: d.Content,
			MetaData: map[string]any{
				"doc_id":    d.Id,
				"title":     d.Title,
				"link":      d.Link,
				"source":    d.Source,
				"news_date": d.Date,
			},
		})
	}
	return p.chunker.ChunkDocuments(ctx, in)
}

func (p *IngestPipeline) indexVariant(ctx context.Context, v *embedding.Variant, chunks []*schema.Document) error {
	for batchStart := 0; batchStart < len(chunks); batchStart += embedBatchSize {
		end := batchStart + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[batchStart:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Content
		}

		var vecs [][]float64
		err := util.Retry(ctx, p.cfg.RetryAttempts, p.cfg.RetryBaseDelay, func() error {
			var embErr error
			vecs, embErr = v.Embedder.EmbedStrings(ctx, texts)
			return embErr
		})
		if err != nil {
			return xerr.Wrap(xerr.CodeStorageUnavailable, fmt.Sprintf("embedding failed (variant=%s)", v.Name), err)
		}
		if len(vecs) != len(batch) {
			return xerr.Wrap(xerr.CodeStorageUnavailable,
				fmt.Sprintf("embedding count mismatch (variant=%s, want=%d, got=%d)", v.Name, len(batch), len(vecs)), nil)
		}

		items := make([]repository.VectorUpsertItem, 0, len(batch))
		for i, c := range batch {
			if len(vecs[i]) != v.Dim {
				return xerr.Wrap(xerr.CodeStorageUnavailable,
					fmt.Sprintf("embedding dim mismatch (variant=%s, want=%d, got=%d)", v.Name, v.Dim, len(vecs[i])), nil)
			}
			vec := make([]float32, len(vecs[i]))
			for j, f := range vecs[i] {
				vec[j] = float32(f)
			}
			items = append(items, upsertItemFromChunk(c, vec))
		}

		err = util.Retry(ctx, p.cfg.RetryAttempts, p.cfg.RetryBaseDelay, func() error {
			_, upErr := p.vs.Upsert(ctx, v.Collection, items)
			return upErr
		})
		if err != nil {
			return xerr.Wrap(xerr.CodeStorageUnavailable, fmt.Sprintf("vector upsert failed (collection=%s)", v.Collection), err)
		}
	}
	return nil
}

func upsertItemFromChunk(c *schema.Document, vec []float32) repository.VectorUpsertItem {
	docID := metaString(c.MetaData, "doc_id")
	chunkIdx := metaInt(c.MetaData, "chunk_index")
	return repository.VectorUpsertItem{
		ID:         fmt.Sprintf("%s_%d", docID, chunkIdx),
		Vector:     vec,
		DocID:      docID,
		Title:      metaString(c.MetaData, "title"),
		Link:       metaString(c.MetaData, "link"),
		Source:     metaString(c.MetaData, "source"),
		NewsDate:   metaString(c.MetaData, "news_date"),
		ChunkIndex: chunkIdx,
		Content:    c.Content,
	}
}

func metaString(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

func metaInt(m map[string]any, key string) int64 {
	if m == nil {
		return 0
	}
	switch v := m[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	}
	return 0
}

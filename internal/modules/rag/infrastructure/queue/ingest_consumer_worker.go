package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"VnStockRAG/internal/modules/rag/domain/news"
	"VnStockRAG/internal/modules/rag/infrastructure/mq"
	"VnStockRAG/internal/modules/rag/infrastructure/pipeline"
	"VnStockRAG/pkg/zlog"

	"go.uber.org/zap"
)

// IngestBatchMessage is the wire payload of one async ingest batch.
// Documents are already validated; the consumer only indexes them.
type IngestBatchMessage struct {
	BatchID   string           `json:"batch_id"`
	Documents []*news.Document `json:"documents"`
}

// IngestWorker consumes ingest batches from Kafka and feeds them to the
// indexing pipeline. Handle errors leave the offset unmarked, so a failed
// batch is redelivered; upserts make the replay harmless.
type IngestWorker struct {
	consumer mq.Consumer
	ingest   *pipeline.IngestPipeline
}

func NewIngestWorker(consumer mq.Consumer, ingest *pipeline.IngestPipeline) (*IngestWorker, error) {
	if consumer == nil {
		return nil, fmt.Errorf("consumer is nil")
	}
	if ingest == nil {
		return nil, fmt.Errorf("ingest pipeline is nil")
	}
	return &IngestWorker{consumer: consumer, ingest: ingest}, nil
}

// Run blocks until ctx is cancelled.
func (w *IngestWorker) Run(ctx context.Context) error {
	zlog.Info("ingest worker started")
	return w.consumer.Run(ctx, mq.HandlerFunc(w.handle))
}

func (w *IngestWorker) Close() error {
	return w.consumer.Close()
}

func (w *IngestWorker) handle(ctx context.Context, msg mq.Message) error {
	var batch IngestBatchMessage
	if err := json.Unmarshal(msg.Value, &batch); err != nil {
		// Poison message: mark it consumed, redelivery cannot fix bad JSON.
		zlog.Error("dropping undecodable ingest batch",
			zap.String("topic", msg.Topic),
			zap.Error(err))
		return nil
	}
	if len(batch.Documents) == 0 {
		return nil
	}

	res, err := w.ingest.Ingest(ctx, batch.Documents)
	if err != nil {
		return fmt.Errorf("index batch %s: %w", batch.BatchID, err)
	}

	zlog.Info("async ingest batch done",
		zap.String("batch_id", batch.BatchID),
		zap.Int("inserted", res.Inserted),
		zap.Int("chunks", res.Chunks))
	return nil
}

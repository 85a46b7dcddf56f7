package service

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"strings"
	"time"

	"VnStockRAG/internal/modules/rag/application/dto/respond"
	"VnStockRAG/internal/modules/rag/domain/news"
	"VnStockRAG/internal/modules/rag/infrastructure/mq"
	"VnStockRAG/internal/modules/rag/infrastructure/pipeline"
	"VnStockRAG/internal/modules/rag/infrastructure/queue"
	"VnStockRAG/pkg/util"
	"VnStockRAG/pkg/zlog"

	"go.uber.org/zap"
)

// csvColumns is the required header of an ingest file. An `id` column is
// accepted but optional; rows without one get a derived id.
var csvColumns = []string{"title", "content", "link", "date", "source"}

// IngestService loads news batches from CSV. Malformed rows are skipped and
// reported row by row; they never abort the batch.
type IngestService interface {
	// IngestCSV parses and indexes a CSV stream synchronously.
	IngestCSV(ctx context.Context, r io.Reader) (*respond.IngestRespond, error)

	// IngestCSVAsync parses, validates and publishes the batch to Kafka;
	// indexing happens in the consumer worker.
	IngestCSVAsync(ctx context.Context, r io.Reader) (*respond.IngestRespond, error)
}

type ingestServiceImpl struct {
	pipeline    *pipeline.IngestPipeline
	publisher   mq.Publisher
	ingestTopic string
}

// NewIngestService wires the service; publisher may be nil when the async
// path is disabled.
func NewIngestService(pipe *pipeline.IngestPipeline, publisher mq.Publisher, ingestTopic string) IngestService {
	return &ingestServiceImpl{
		pipeline:    pipe,
		publisher:   publisher,
		ingestTopic: ingestTopic,
	}
}

func (s *ingestServiceImpl) IngestCSV(ctx context.Context, r io.Reader) (*respond.IngestRespond, error) {
	docs, rowErrors, err := parseCSV(r)
	if err != nil {
		return nil, err
	}

	res, err := s.pipeline.Ingest(ctx, docs)
	if err != nil {
		return nil, err
	}

	return &respond.IngestRespond{
		Inserted:  res.Inserted,
		Chunks:    res.Chunks,
		RowErrors: rowErrors,
		Async:     false,
	}, nil
}

func (s *ingestServiceImpl) IngestCSVAsync(ctx context.Context, r io.Reader) (*respond.IngestRespond, error) {
	if s.publisher == nil {
		return nil, fmt.Errorf("async ingest is disabled")
	}

	docs, rowErrors, err := parseCSV(r)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return &respond.IngestRespond{RowErrors: rowErrors, Async: true}, nil
	}

	batch := queue.IngestBatchMessage{
		BatchID:   fmt.Sprintf("b_%s_%d", util.GenerateShortUUID()[:8], time.Now().UnixNano()),
		Documents: docs,
	}
	payload, err := json.Marshal(batch)
	if err != nil {
		return nil, err
	}

	pub, err := s.publisher.Publish(ctx, mq.Message{
		Topic: s.ingestTopic,
		Key:   []byte(batch.BatchID),
		Value: payload,
	})
	if err != nil {
		return nil, fmt.Errorf("publish ingest batch: %w", err)
	}

	zlog.Info("ingest batch published",
		zap.String("batch_id", batch.BatchID),
		zap.Int("documents", len(docs)),
		zap.Int32("partition", pub.Partition),
		zap.Int64("offset", pub.Offset))

	return &respond.IngestRespond{
		Published: len(docs),
		RowErrors: rowErrors,
		Async:     true,
	}, nil
}

// parseCSV reads the whole stream, validating row by row. The returned row
// errors use 1-based data-row numbers (the header is row 0).
func parseCSV(r io.Reader) ([]*news.Document, []respond.IngestRowError, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1 // length checked per row, bad rows must not abort

	header, err := cr.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("read csv header: %w", err)
	}
	colIdx, err := mapHeader(header)
	if err != nil {
		return nil, nil, err
	}

	var (
		docs      []*news.Document
		rowErrors []respond.IngestRowError
		seen      = map[string]bool{}
		row       int
	)
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		row++
		if err != nil {
			rowErrors = append(rowErrors, respond.IngestRowError{Row: row, Reason: err.Error()})
			continue
		}

		doc, reason := buildDocument(record, colIdx)
		if reason != "" {
			rowErrors = append(rowErrors, respond.IngestRowError{Row: row, Reason: reason})
			continue
		}
		if seen[doc.Id] {
			rowErrors = append(rowErrors, respond.IngestRowError{Row: row, Reason: fmt.Sprintf("duplicate id %q in batch", doc.Id)})
			continue
		}
		seen[doc.Id] = true
		docs = append(docs, doc)
	}

	return docs, rowErrors, nil
}

func mapHeader(header []string) (map[string]int, error) {
	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, col := range csvColumns {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("csv header missing column %q", col)
		}
	}
	return idx, nil
}

func buildDocument(record []string, colIdx map[string]int) (*news.Document, string) {
	field := func(col string) string {
		i, ok := colIdx[col]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	doc := &news.Document{
		Id:      field("id"),
		Title:   field("title"),
		Content: field("content"),
		Link:    field("link"),
		Date:    field("date"),
		Source:  field("source"),
	}
	switch {
	case doc.Title == "":
		return nil, "missing title"
	case doc.Content == "":
		return nil, "missing content"
	}
	if doc.Id == "" {
		doc.Id = deriveDocID(doc.Link)
	}
	return doc, ""
}

// deriveDocID gives a row without an id a stable identity: the link hash when
// a link is present, so re-ingesting the same article converges on the same
// row and chunks, otherwise a fresh UUID.
func deriveDocID(link string) string {
	if link != "" {
		h := fnv.New64a()
		h.Write([]byte(link))
		return fmt.Sprintf("lnk_%x", h.Sum64())
	}
	return "gen_" + util.GenerateShortUUID()[:16]
}

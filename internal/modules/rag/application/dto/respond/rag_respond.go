package respond

import "VnStockRAG/internal/modules/rag/domain/chat"

// SourceEntry attributes part of an answer to a retrieved chunk.
type SourceEntry struct {
	ChunkID  string  `json:"chunk_id"`
	DocID    string  `json:"doc_id"`
	Title    string  `json:"title"`
	Link     string  `json:"link"`
	Source   string  `json:"source"`
	NewsDate string  `json:"news_date"`
	Score    float32 `json:"score"`
	Content  string  `json:"content"`
}

// TimingInfo carries per-stage latencies for observability.
type TimingInfo struct {
	ReformulateMs int64 `json:"reformulate_ms"`
	EmbeddingMs   int64 `json:"embedding_ms"`
	SearchMs      int64 `json:"search_ms"`
	LLMMs         int64 `json:"llm_ms"`
	TotalMs       int64 `json:"total_ms"`
}

// AskRespond is the non-streaming answer payload.
type AskRespond struct {
	SessionID      string        `json:"session_id"`
	Answer         string        `json:"answer"`
	RewrittenQuery string        `json:"rewritten_query"`
	Sources        []SourceEntry `json:"sources"`
	QueryID        string        `json:"query_id"`
	Timing         TimingInfo    `json:"timing"`
}

// StreamDoneEvent is the terminal SSE event after a successful stream.
type StreamDoneEvent struct {
	SessionID      string        `json:"session_id"`
	Answer         string        `json:"answer"`
	RewrittenQuery string        `json:"rewritten_query"`
	Sources        []SourceEntry `json:"sources"`
	QueryID        string        `json:"query_id"`
	Timing         TimingInfo    `json:"timing"`
}

// HistoryRespond is the full ordered session log for audit/display.
type HistoryRespond struct {
	SessionID string         `json:"session_id"`
	Messages  []chat.Message `json:"messages"`
	Total     int            `json:"total"`
}

// SessionItem summarizes one session for the inventory endpoint.
type SessionItem struct {
	SessionID   string `json:"session_id"`
	LastMessage string `json:"last_message"`
	Length      int64  `json:"length"`
}

type SessionListRespond struct {
	Sessions []SessionItem `json:"sessions"`
	Total    int           `json:"total"`
}

// IngestRowError reports one skipped row of a batch.
type IngestRowError struct {
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}

// IngestRespond is the outcome of a CSV ingest call.
type IngestRespond struct {
	Inserted  int              `json:"inserted"`
	Chunks    int              `json:"chunks"`
	Published int              `json:"published,omitempty"`
	RowErrors []IngestRowError `json:"row_errors,omitempty"`
	Async     bool             `json:"async"`
}

package repository

import (
	"context"

	"VnStockRAG/internal/modules/rag/domain/chat"
)

// SessionInfo is a summary row for the session inventory endpoint.
type SessionInfo struct {
	SessionID   string `json:"session_id"`
	LastMessage string `json:"last_message"`
	Length      int64  `json:"length"`
}

// HistoryStore is the per-(user, session) append-only conversation log.
//
// Contract:
//   - Append persists immediately; an unreachable backend surfaces as a
//     StorageUnavailable error, never a silent drop.
//   - Read returns the most recent window messages in chronological order;
//     window <= 0 means the configured maximum. Unknown sessions yield an
//     empty slice, not an error.
//   - AppendExchange writes the user question and the assistant answer as one
//     atomic pair, so a session log always holds complete exchanges.
//   - Clear is idempotent.
type HistoryStore interface {
	Append(ctx context.Context, userID, sessionID, role, content string) error
	AppendExchange(ctx context.Context, userID, sessionID, question, answer string) error
	Read(ctx context.Context, userID, sessionID string, window int) ([]chat.Message, error)
	Clear(ctx context.Context, userID, sessionID string) error
	ListSessions(ctx context.Context, userID string) ([]SessionInfo, error)
}

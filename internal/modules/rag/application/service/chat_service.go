package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"VnStockRAG/internal/modules/rag/application/dto/request"
	"VnStockRAG/internal/modules/rag/application/dto/respond"
	"VnStockRAG/internal/modules/rag/domain/repository"
	"VnStockRAG/internal/modules/rag/infrastructure/pipeline"
	"VnStockRAG/pkg/xerr"
)

// ChatService is the conversational surface: grounded question answering plus
// session-log management.
type ChatService interface {
	// Ask answers one question without streaming.
	Ask(ctx context.Context, req request.AskRequest, userID string) (*respond.AskRespond, error)

	// AskStream answers one question as a token stream (channel feeds SSE).
	AskStream(ctx context.Context, req request.AskRequest, userID string) (<-chan StreamEvent, error)

	// GetHistory returns the full ordered log of a session.
	GetHistory(ctx context.Context, userID, sessionID string) (*respond.HistoryRespond, error)

	// ClearHistory wipes a session; clearing an unknown session is a no-op.
	ClearHistory(ctx context.Context, userID, sessionID string) error

	// ListSessions inventories the caller's sessions.
	ListSessions(ctx context.Context, userID string) (*respond.SessionListRespond, error)
}

// StreamEvent is one SSE frame.
type StreamEvent struct {
	Event string      // "delta", "done" or "error"
	Data  interface{} // delta: {token}, done: StreamDoneEvent, error: {error}
}

type chatServiceImpl struct {
	history  repository.HistoryStore
	pipeline *pipeline.AnswerPipeline
}

func NewChatService(history repository.HistoryStore, pipe *pipeline.AnswerPipeline) ChatService {
	return &chatServiceImpl{history: history, pipeline: pipe}
}

func (s *chatServiceImpl) Ask(ctx context.Context, req request.AskRequest, userID string) (*respond.AskRespond, error) {
	pipeReq, err := buildPipelineRequest(req, userID)
	if err != nil {
		return nil, err
	}

	result, err := s.pipeline.Ask(ctx, pipeReq)
	if err != nil {
		return nil, err
	}
	if result.Err != nil {
		return nil, result.Err
	}

	return &respond.AskRespond{
		SessionID:      result.SessionID,
		Answer:         result.Answer,
		RewrittenQuery: result.RewrittenQuery,
		Sources:        result.Sources,
		QueryID:        result.QueryID,
		Timing:         result.Timing,
	}, nil
}

func (s *chatServiceImpl) AskStream(ctx context.Context, req request.AskRequest, userID string) (<-chan StreamEvent, error) {
	pipeReq, err := buildPipelineRequest(req, userID)
	if err != nil {
		return nil, err
	}

	eventChan := make(chan StreamEvent, 100)

	go func() {
		defer close(eventChan)

		streamReader, st, err := s.pipeline.ExecuteStream(ctx, pipeReq)
		if err != nil {
			eventChan <- StreamEvent{Event: "error", Data: map[string]string{"error": err.Error()}}
			return
		}
		defer streamReader.Close()

		llmStart := time.Now()
		var sb strings.Builder
		var streamErr error
		for {
			chunk, recvErr := streamReader.Recv()
			if recvErr != nil {
				if !errors.Is(recvErr, io.EOF) {
					streamErr = recvErr
				}
				break
			}
			sb.WriteString(chunk.Content)
			eventChan <- StreamEvent{Event: "delta", Data: map[string]string{"token": chunk.Content}}
		}
		llmMs := time.Since(llmStart).Milliseconds()

		// A stream that did not reach EOF is a failed exchange: only complete
		// exchanges enter the session log.
		if streamErr != nil {
			wrapped := xerr.Wrap(xerr.CodeGenerationFailed, "answer stream interrupted", streamErr)
			eventChan <- StreamEvent{Event: "error", Data: map[string]string{"error": wrapped.Error()}}
			return
		}
		if err := ctx.Err(); err != nil {
			eventChan <- StreamEvent{Event: "error", Data: map[string]string{"error": err.Error()}}
			return
		}

		result, err := s.pipeline.PersistStreamResult(ctx, st, sb.String(), llmMs)
		if err != nil {
			eventChan <- StreamEvent{Event: "error", Data: map[string]string{"error": err.Error()}}
			return
		}

		eventChan <- StreamEvent{Event: "done", Data: respond.StreamDoneEvent{
			SessionID:      result.SessionID,
			Answer:         result.Answer,
			RewrittenQuery: result.RewrittenQuery,
			Sources:        result.Sources,
			QueryID:        result.QueryID,
			Timing:         result.Timing,
		}}
	}()

	return eventChan, nil
}

func (s *chatServiceImpl) GetHistory(ctx context.Context, userID, sessionID string) (*respond.HistoryRespond, error) {
	userID = strings.TrimSpace(userID)
	sessionID = strings.TrimSpace(sessionID)
	if userID == "" || sessionID == "" {
		return nil, fmt.Errorf("user_id and session_id are required")
	}

	// window <= 0 reads up to the configured maximum.
	messages, err := s.history.Read(ctx, userID, sessionID, 0)
	if err != nil {
		return nil, err
	}

	return &respond.HistoryRespond{
		SessionID: sessionID,
		Messages:  messages,
		Total:     len(messages),
	}, nil
}

func (s *chatServiceImpl) ClearHistory(ctx context.Context, userID, sessionID string) error {
	userID = strings.TrimSpace(userID)
	sessionID = strings.TrimSpace(sessionID)
	if userID == "" || sessionID == "" {
		return fmt.Errorf("user_id and session_id are required")
	}
	return s.history.Clear(ctx, userID, sessionID)
}

func (s *chatServiceImpl) ListSessions(ctx context.Context, userID string) (*respond.SessionListRespond, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("user_id is required")
	}

	sessions, err := s.history.ListSessions(ctx, userID)
	if err != nil {
		return nil, err
	}

	items := make([]respond.SessionItem, 0, len(sessions))
	for _, sess := range sessions {
		items = append(items, respond.SessionItem{
			SessionID:   sess.SessionID,
			LastMessage: truncateSummary(sess.LastMessage, 80),
			Length:      sess.Length,
		})
	}

	return &respond.SessionListRespond{Sessions: items, Total: len(items)}, nil
}

func buildPipelineRequest(req request.AskRequest, userID string) (*pipeline.AskRequest, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("user_id is required")
	}
	if strings.TrimSpace(req.Question) == "" {
		return nil, fmt.Errorf("question is required")
	}
	if strings.TrimSpace(req.SessionID) == "" {
		return nil, fmt.Errorf("session_id is required")
	}
	return &pipeline.AskRequest{
		UserID:    userID,
		SessionID: strings.TrimSpace(req.SessionID),
		Question:  strings.TrimSpace(req.Question),
		TopK:      req.TopK,
	}, nil
}

func truncateSummary(s string, max int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= max {
		return string(r)
	}
	return string(r[:max]) + "…"
}

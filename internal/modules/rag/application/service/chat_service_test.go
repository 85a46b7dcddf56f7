package service

import (
	"context"
	"errors"
	"testing"

	"VnStockRAG/internal/modules/rag/domain/chat"
	"VnStockRAG/internal/modules/rag/domain/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubHistoryStore is enough for the history management paths; the ask paths
// are covered by the pipeline tests.
type stubHistoryStore struct {
	logs    map[string][]chat.Message
	readErr error
}

func newStubHistoryStore() *stubHistoryStore {
	return &stubHistoryStore{logs: map[string][]chat.Message{}}
}

func (s *stubHistoryStore) key(userID, sessionID string) string { return userID + "/" + sessionID }

func (s *stubHistoryStore) Append(ctx context.Context, userID, sessionID, role, content string) error {
	k := s.key(userID, sessionID)
	s.logs[k] = append(s.logs[k], chat.Message{Role: role, Content: content})
	return nil
}

func (s *stubHistoryStore) AppendExchange(ctx context.Context, userID, sessionID, question, answer string) error {
	if err := s.Append(ctx, userID, sessionID, chat.RoleUser, question); err != nil {
		return err
	}
	return s.Append(ctx, userID, sessionID, chat.RoleAssistant, answer)
}

func (s *stubHistoryStore) Read(ctx context.Context, userID, sessionID string, window int) ([]chat.Message, error) {
	if s.readErr != nil {
		return nil, s.readErr
	}
	msgs := s.logs[s.key(userID, sessionID)]
	if window > 0 && len(msgs) > window {
		msgs = msgs[len(msgs)-window:]
	}
	return append([]chat.Message(nil), msgs...), nil
}

func (s *stubHistoryStore) Clear(ctx context.Context, userID, sessionID string) error {
	delete(s.logs, s.key(userID, sessionID))
	return nil
}

func (s *stubHistoryStore) ListSessions(ctx context.Context, userID string) ([]repository.SessionInfo, error) {
	var out []repository.SessionInfo
	for k, msgs := range s.logs {
		info := repository.SessionInfo{SessionID: k[len(userID)+1:], Length: int64(len(msgs))}
		if len(msgs) > 0 {
			info.LastMessage = msgs[len(msgs)-1].Content
		}
		out = append(out, info)
	}
	return out, nil
}

func TestGetHistory_ReturnsOrderedLog(t *testing.T) {
	hs := newStubHistoryStore()
	svc := NewChatService(hs, nil)
	ctx := context.Background()

	require.NoError(t, hs.AppendExchange(ctx, "u1", "s1", "câu hỏi một", "trả lời một"))
	require.NoError(t, hs.AppendExchange(ctx, "u1", "s1", "câu hỏi hai", "trả lời hai"))

	got, err := svc.GetHistory(ctx, "u1", "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", got.SessionID)
	require.Equal(t, 4, got.Total)
	assert.Equal(t, chat.RoleUser, got.Messages[0].Role)
	assert.Equal(t, "câu hỏi một", got.Messages[0].Content)
	assert.Equal(t, "trả lời hai", got.Messages[3].Content)
}

func TestGetHistory_UnknownSessionIsEmpty(t *testing.T) {
	svc := NewChatService(newStubHistoryStore(), nil)

	got, err := svc.GetHistory(context.Background(), "u1", "never-used")
	require.NoError(t, err)
	assert.Zero(t, got.Total)
	assert.Empty(t, got.Messages)
}

func TestClearHistory_ThenReadIsEmpty(t *testing.T) {
	hs := newStubHistoryStore()
	svc := NewChatService(hs, nil)
	ctx := context.Background()

	require.NoError(t, hs.AppendExchange(ctx, "u1", "s1", "câu hỏi", "trả lời"))
	require.NoError(t, svc.ClearHistory(ctx, "u1", "s1"))

	got, err := svc.GetHistory(ctx, "u1", "s1")
	require.NoError(t, err)
	assert.Zero(t, got.Total)

	// clearing again is still fine
	require.NoError(t, svc.ClearHistory(ctx, "u1", "s1"))
}

func TestGetHistory_ValidatesInput(t *testing.T) {
	svc := NewChatService(newStubHistoryStore(), nil)

	_, err := svc.GetHistory(context.Background(), "", "s1")
	require.Error(t, err)
	_, err = svc.GetHistory(context.Background(), "u1", "  ")
	require.Error(t, err)
	require.Error(t, svc.ClearHistory(context.Background(), "", "s1"))
}

func TestGetHistory_StorePropagatesError(t *testing.T) {
	hs := newStubHistoryStore()
	hs.readErr = errors.New("redis down")
	svc := NewChatService(hs, nil)

	_, err := svc.GetHistory(context.Background(), "u1", "s1")
	require.ErrorContains(t, err, "redis down")
}

func TestListSessions_SummarizesEachSession(t *testing.T) {
	hs := newStubHistoryStore()
	svc := NewChatService(hs, nil)
	ctx := context.Background()

	require.NoError(t, hs.AppendExchange(ctx, "u1", "s1", "hỏi", "đáp"))

	got, err := svc.ListSessions(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 1, got.Total)
	assert.Equal(t, "s1", got.Sessions[0].SessionID)
	assert.Equal(t, int64(2), got.Sessions[0].Length)
	assert.Equal(t, "đáp", got.Sessions[0].LastMessage)
}

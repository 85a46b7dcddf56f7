package history

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"VnStockRAG/internal/modules/rag/domain/chat"
	"VnStockRAG/internal/modules/rag/domain/repository"
	"VnStockRAG/pkg/xerr"

	goredis "github.com/redis/go-redis/v9"
)

const keyPrefix = "rag:history:"

// RedisHistoryStore keeps each session's log as a Redis list of JSON-encoded
// messages. Every write hits Redis directly; there is no in-process buffer
// that could lose an append on crash.
type RedisHistoryStore struct {
	client     *goredis.Client
	maxHistory int
}

var _ repository.HistoryStore = (*RedisHistoryStore)(nil)

func NewRedisHistoryStore(client *goredis.Client, maxHistory int) *RedisHistoryStore {
	if maxHistory <= 0 {
		maxHistory = 50
	}
	return &RedisHistoryStore{client: client, maxHistory: maxHistory}
}

func sessionKey(userID, sessionID string) string {
	return keyPrefix + userID + ":" + sessionID
}

func encodeMessage(role, content string) (string, error) {
	b, err := json.Marshal(chat.Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (s *RedisHistoryStore) Append(ctx context.Context, userID, sessionID, role, content string) error {
	payload, err := encodeMessage(role, content)
	if err != nil {
		return err
	}
	if err := s.client.RPush(ctx, sessionKey(userID, sessionID), payload).Err(); err != nil {
		return xerr.Wrap(xerr.CodeStorageUnavailable, "history append failed", err)
	}
	return nil
}

// AppendExchange pushes the question and the answer in a single transaction
// so the log gains exactly two messages or none.
func (s *RedisHistoryStore) AppendExchange(ctx context.Context, userID, sessionID, question, answer string) error {
	qPayload, err := encodeMessage(chat.RoleUser, question)
	if err != nil {
		return err
	}
	aPayload, err := encodeMessage(chat.RoleAssistant, answer)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, sessionKey(userID, sessionID), qPayload, aPayload)
	if _, err := pipe.Exec(ctx); err != nil {
		return xerr.Wrap(xerr.CodeStorageUnavailable, "history exchange append failed", err)
	}
	return nil
}

// clampWindow maps 0 / negative / oversized windows to the configured cap.
func clampWindow(window, max int) int {
	if window <= 0 || window > max {
		return max
	}
	return window
}

func (s *RedisHistoryStore) Read(ctx context.Context, userID, sessionID string, window int) ([]chat.Message, error) {
	window = clampWindow(window, s.maxHistory)

	raw, err := s.client.LRange(ctx, sessionKey(userID, sessionID), int64(-window), -1).Result()
	if err != nil {
		return nil, xerr.Wrap(xerr.CodeStorageUnavailable, "history read failed", err)
	}

	messages := make([]chat.Message, 0, len(raw))
	for _, entry := range raw {
		var msg chat.Message
		if err := json.Unmarshal([]byte(entry), &msg); err != nil {
			// A corrupted entry should not take the whole session down.
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func (s *RedisHistoryStore) Clear(ctx context.Context, userID, sessionID string) error {
	if err := s.client.Del(ctx, sessionKey(userID, sessionID)).Err(); err != nil {
		return xerr.Wrap(xerr.CodeStorageUnavailable, "history clear failed", err)
	}
	return nil
}

// ListSessions scans the user's history keys and returns a preview per session.
func (s *RedisHistoryStore) ListSessions(ctx context.Context, userID string) ([]repository.SessionInfo, error) {
	pattern := keyPrefix + userID + ":*"
	prefix := keyPrefix + userID + ":"

	sessions := make([]repository.SessionInfo, 0, 8)
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		sessionID := strings.TrimPrefix(key, prefix)

		length, err := s.client.LLen(ctx, key).Result()
		if err != nil {
			return nil, xerr.Wrap(xerr.CodeStorageUnavailable, "history session scan failed", err)
		}
		last := ""
		if tail, err := s.client.LRange(ctx, key, -1, -1).Result(); err == nil && len(tail) > 0 {
			var msg chat.Message
			if json.Unmarshal([]byte(tail[0]), &msg) == nil {
				last = msg.Content
			}
		}
		sessions = append(sessions, repository.SessionInfo{
			SessionID:   sessionID,
			LastMessage: last,
			Length:      length,
		})
	}
	if err := iter.Err(); err != nil {
		return nil, xerr.Wrap(xerr.CodeStorageUnavailable, fmt.Sprintf("history scan failed for user %s", userID), err)
	}
	return sessions, nil
}

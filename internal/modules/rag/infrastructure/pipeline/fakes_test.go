package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"VnStockRAG/internal/modules/rag/domain/chat"
	"VnStockRAG/internal/modules/rag/domain/news"
	"VnStockRAG/internal/modules/rag/domain/repository"
	"VnStockRAG/internal/modules/rag/infrastructure/embedding"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// fakeChatModel scripts Generate/Stream responses and records every call.
type fakeChatModel struct {
	mu        sync.Mutex
	replies   []string
	callCount int
	lastMsgs  []*schema.Message
	genErr    error
	streamErr error
}

func (f *fakeChatModel) Generate(ctx context.Context, msgs []*schema.Message, _ ...einomodel.Option) (*schema.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastMsgs = msgs
	if f.genErr != nil {
		return nil, f.genErr
	}
	reply := "ok"
	if f.callCount < len(f.replies) {
		reply = f.replies[f.callCount]
	}
	f.callCount++
	return &schema.Message{Role: schema.Assistant, Content: reply}, nil
}

func (f *fakeChatModel) Stream(ctx context.Context, msgs []*schema.Message, _ ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastMsgs = msgs
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	reply := "ok"
	if f.callCount < len(f.replies) {
		reply = f.replies[f.callCount]
	}
	f.callCount++

	sr, sw := schema.Pipe[*schema.Message](8)
	go func() {
		defer sw.Close()
		for _, token := range strings.SplitAfter(reply, " ") {
			if token == "" {
				continue
			}
			sw.Send(&schema.Message{Role: schema.Assistant, Content: token}, nil)
		}
	}()
	return sr, nil
}

func (f *fakeChatModel) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.callCount
}

// memoryHistoryStore keeps logs in a map and counts appends.
type memoryHistoryStore struct {
	mu      sync.Mutex
	logs    map[string][]chat.Message
	readErr error
	appErr  error
}

func newMemoryHistoryStore() *memoryHistoryStore {
	return &memoryHistoryStore{logs: map[string][]chat.Message{}}
}

func histKey(userID, sessionID string) string {
	return userID + "/" + sessionID
}

func (s *memoryHistoryStore) Append(ctx context.Context, userID, sessionID, role, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appErr != nil {
		return s.appErr
	}
	k := histKey(userID, sessionID)
	s.logs[k] = append(s.logs[k], chat.Message{Role: role, Content: content})
	return nil
}

func (s *memoryHistoryStore) AppendExchange(ctx context.Context, userID, sessionID, question, answer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appErr != nil {
		return s.appErr
	}
	k := histKey(userID, sessionID)
	s.logs[k] = append(s.logs[k],
		chat.Message{Role: chat.RoleUser, Content: question},
		chat.Message{Role: chat.RoleAssistant, Content: answer})
	return nil
}

func (s *memoryHistoryStore) Read(ctx context.Context, userID, sessionID string, window int) ([]chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return nil, s.readErr
	}
	msgs := s.logs[histKey(userID, sessionID)]
	if window > 0 && len(msgs) > window {
		msgs = msgs[len(msgs)-window:]
	}
	out := make([]chat.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *memoryHistoryStore) Clear(ctx context.Context, userID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.logs, histKey(userID, sessionID))
	return nil
}

func (s *memoryHistoryStore) ListSessions(ctx context.Context, userID string) ([]repository.SessionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []repository.SessionInfo
	for k, msgs := range s.logs {
		if !strings.HasPrefix(k, userID+"/") {
			continue
		}
		info := repository.SessionInfo{
			SessionID: strings.TrimPrefix(k, userID+"/"),
			Length:    int64(len(msgs)),
		}
		if len(msgs) > 0 {
			info.LastMessage = msgs[len(msgs)-1].Content
		}
		out = append(out, info)
	}
	return out, nil
}

func (s *memoryHistoryStore) messages(userID, sessionID string) []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]chat.Message(nil), s.logs[histKey(userID, sessionID)]...)
}

// fakeVectorStore serves canned hits per collection.
type fakeVectorStore struct {
	mu        sync.Mutex
	hits      map[string][]repository.VectorSearchHit
	upserted  map[string][]repository.VectorUpsertItem
	searchErr error
	upsertErr error
	searches  int
}

func newFakeVectorStore() *fakeVectorStore {
	return &fakeVectorStore{
		hits:     map[string][]repository.VectorSearchHit{},
		upserted: map[string][]repository.VectorUpsertItem{},
	}
}

func (f *fakeVectorStore) Upsert(ctx context.Context, collection string, items []repository.VectorUpsertItem) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return nil, f.upsertErr
	}
	f.upserted[collection] = append(f.upserted[collection], items...)
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	return ids, nil
}

func (f *fakeVectorStore) Search(ctx context.Context, collection string, vector []float32, topK int, expr string) ([]repository.VectorSearchHit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches++
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	hits := f.hits[collection]
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return append([]repository.VectorSearchHit(nil), hits...), nil
}

func (f *fakeVectorStore) DeleteByIDs(ctx context.Context, collection string, ids []string) error {
	return nil
}

// fakeNewsRepo records inserted documents.
type fakeNewsRepo struct {
	mu        sync.Mutex
	docs      map[string]*news.Document
	insertErr error
}

func newFakeNewsRepo() *fakeNewsRepo {
	return &fakeNewsRepo{docs: map[string]*news.Document{}}
}

func (f *fakeNewsRepo) InsertMany(ctx context.Context, docs []*news.Document) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return 0, f.insertErr
	}
	for _, d := range docs {
		f.docs[d.Id] = d
	}
	return int64(len(docs)), nil
}

func (f *fakeNewsRepo) GetByID(ctx context.Context, id string) (*news.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.docs[id], nil
}

func testVariants(dim int) []*embedding.Variant {
	return []*embedding.Variant{
		{
			Name:       "mock-primary",
			Provider:   "mock",
			Model:      "mock",
			Dim:        dim,
			Collection: "news_mock_primary",
			Primary:    true,
			Embedder:   embedding.NewMockEmbedder(dim),
		},
	}
}

func hit(id, docID string, score float32) repository.VectorSearchHit {
	return repository.VectorSearchHit{
		ID:      id,
		DocID:   docID,
		Score:   score,
		Title:   "title " + docID,
		Source:  "cafef",
		Content: fmt.Sprintf("content of %s", id),
	}
}

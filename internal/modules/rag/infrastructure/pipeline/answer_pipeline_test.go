package pipeline

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"VnStockRAG/internal/modules/rag/domain/chat"
	"VnStockRAG/internal/modules/rag/domain/repository"
	"VnStockRAG/pkg/xerr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGenerationConfig() GenerationConfig {
	return GenerationConfig{
		HistoryWindow:  10,
		RetryAttempts:  2,
		RetryBaseDelay: time.Millisecond,
	}
}

func newTestAnswerPipeline(t *testing.T, vs *fakeVectorStore, hs *memoryHistoryStore, cm *fakeChatModel, cfg GenerationConfig) *AnswerPipeline {
	t.Helper()
	retr, err := NewRetrievePipeline(hs, vs, testVariants(8), cm, testRetrievalConfig())
	require.NoError(t, err)
	p, err := NewAnswerPipeline(hs, retr, cm, cfg)
	require.NoError(t, err)
	return p
}

func TestAsk_AppendsExactlyOneExchange(t *testing.T) {
	vs := newFakeVectorStore()
	vs.hits["news_mock_primary"] = []repository.VectorSearchHit{hit("d1_0", "d1", 0.9)}
	hs := newMemoryHistoryStore()
	cm := &fakeChatModel{replies: []string{"VNM đóng cửa ở mức 65.000 đồng."}}
	p := newTestAnswerPipeline(t, vs, hs, cm, testGenerationConfig())

	res, err := p.Ask(context.Background(), &AskRequest{
		UserID: "u1", SessionID: "s1", Question: "Giá VNM hôm nay?",
	})
	require.NoError(t, err)
	assert.Equal(t, "VNM đóng cửa ở mức 65.000 đồng.", res.Answer)
	require.Len(t, res.Sources, 1)
	assert.Equal(t, "d1", res.Sources[0].DocID)

	msgs := hs.messages("u1", "s1")
	require.Len(t, msgs, 2, "a successful turn writes exactly the question and the answer")
	assert.Equal(t, chat.RoleUser, msgs[0].Role)
	assert.Equal(t, "Giá VNM hôm nay?", msgs[0].Content)
	assert.Equal(t, chat.RoleAssistant, msgs[1].Role)
}

func TestAsk_GenerationFailureWritesNothing(t *testing.T) {
	vs := newFakeVectorStore()
	vs.hits["news_mock_primary"] = []repository.VectorSearchHit{hit("d1_0", "d1", 0.9)}
	hs := newMemoryHistoryStore()
	cm := &fakeChatModel{genErr: errors.New("provider down")}
	p := newTestAnswerPipeline(t, vs, hs, cm, testGenerationConfig())

	_, err := p.Ask(context.Background(), &AskRequest{
		UserID: "u1", SessionID: "s1", Question: "Giá VNM hôm nay?",
	})
	require.Error(t, err)
	assert.Equal(t, xerr.CodeGenerationFailed, xerr.CodeOf(err))

	assert.Empty(t, hs.messages("u1", "s1"), "a failed turn must leave the log untouched")
}

func TestAsk_RetrievalFailurePropagatesByDefault(t *testing.T) {
	vs := newFakeVectorStore()
	vs.searchErr = errors.New("milvus down")
	hs := newMemoryHistoryStore()
	p := newTestAnswerPipeline(t, vs, hs, &fakeChatModel{}, testGenerationConfig())

	_, err := p.Ask(context.Background(), &AskRequest{
		UserID: "u1", SessionID: "s1", Question: "Giá VNM hôm nay?",
	})
	require.Error(t, err)
	assert.Equal(t, xerr.CodeRetrievalFailed, xerr.CodeOf(err))
	assert.Empty(t, hs.messages("u1", "s1"))
}

func TestAsk_AllowUngroundedAnswersWithoutContext(t *testing.T) {
	vs := newFakeVectorStore()
	vs.searchErr = errors.New("milvus down")
	hs := newMemoryHistoryStore()
	cm := &fakeChatModel{replies: []string{"Tôi không có dữ liệu tin tức liên quan."}}

	cfg := testGenerationConfig()
	cfg.AllowUngrounded = true
	p := newTestAnswerPipeline(t, vs, hs, cm, cfg)

	res, err := p.Ask(context.Background(), &AskRequest{
		UserID: "u1", SessionID: "s1", Question: "Giá VNM hôm nay?",
	})
	require.NoError(t, err)
	assert.Empty(t, res.Sources)
	assert.Len(t, hs.messages("u1", "s1"), 2)
}

func TestAsk_FollowUpUsesSessionContext(t *testing.T) {
	vs := newFakeVectorStore()
	vs.hits["news_mock_primary"] = []repository.VectorSearchHit{hit("d2_0", "d2", 0.9)}
	hs := newMemoryHistoryStore()
	require.NoError(t, hs.AppendExchange(context.Background(), "u1", "s1",
		"Giá cổ phiếu VNM hôm nay thế nào?", "VNM đóng cửa ở mức 65.000 đồng."))

	// first reply rewrites the follow-up, second answers it
	cm := &fakeChatModel{replies: []string{
		"Cổ tức của VNM năm nay là bao nhiêu?",
		"VNM chia cổ tức 38,5% bằng tiền mặt.",
	}}
	p := newTestAnswerPipeline(t, vs, hs, cm, testGenerationConfig())

	res, err := p.Ask(context.Background(), &AskRequest{
		UserID: "u1", SessionID: "s1", Question: "Thế còn cổ tức thì sao?",
	})
	require.NoError(t, err)
	assert.Equal(t, "Cổ tức của VNM năm nay là bao nhiêu?", res.RewrittenQuery)
	assert.Equal(t, "VNM chia cổ tức 38,5% bằng tiền mặt.", res.Answer)

	// The generation prompt ends on the rewrite the context was retrieved
	// for, not the bare follow-up.
	prompt := cm.lastMsgs
	require.NotEmpty(t, prompt)
	assert.Equal(t, "Cổ tức của VNM năm nay là bao nhiêu?", prompt[len(prompt)-1].Content)

	msgs := hs.messages("u1", "s1")
	require.Len(t, msgs, 4, "the follow-up appends one more complete exchange")
	assert.Equal(t, "Thế còn cổ tức thì sao?", msgs[2].Content,
		"the log keeps the user's original wording, not the rewrite")
}

func TestExecuteStream_PersistAfterDrain(t *testing.T) {
	vs := newFakeVectorStore()
	vs.hits["news_mock_primary"] = []repository.VectorSearchHit{hit("d1_0", "d1", 0.9)}
	hs := newMemoryHistoryStore()
	cm := &fakeChatModel{replies: []string{"VNM đóng cửa ở mức 65.000 đồng."}}
	p := newTestAnswerPipeline(t, vs, hs, cm, testGenerationConfig())

	sr, st, err := p.ExecuteStream(context.Background(), &AskRequest{
		UserID: "u1", SessionID: "s1", Question: "Giá VNM hôm nay?",
	})
	require.NoError(t, err)
	defer sr.Close()

	assert.Empty(t, hs.messages("u1", "s1"), "nothing is written while the stream is open")

	full := ""
	for {
		chunk, recvErr := sr.Recv()
		if recvErr == io.EOF {
			break
		}
		require.NoError(t, recvErr)
		full += chunk.Content
	}
	assert.Equal(t, "VNM đóng cửa ở mức 65.000 đồng.", full)

	res, err := p.PersistStreamResult(context.Background(), st, full, 5)
	require.NoError(t, err)
	assert.Equal(t, full, res.Answer)
	assert.Equal(t, int64(5), res.Timing.LLMMs)

	msgs := hs.messages("u1", "s1")
	require.Len(t, msgs, 2)
	assert.Equal(t, full, msgs[1].Content)
}

func TestExecuteStream_OpenFailureWritesNothing(t *testing.T) {
	vs := newFakeVectorStore()
	vs.hits["news_mock_primary"] = []repository.VectorSearchHit{hit("d1_0", "d1", 0.9)}
	hs := newMemoryHistoryStore()
	cm := &fakeChatModel{streamErr: errors.New("provider down")}
	p := newTestAnswerPipeline(t, vs, hs, cm, testGenerationConfig())

	_, _, err := p.ExecuteStream(context.Background(), &AskRequest{
		UserID: "u1", SessionID: "s1", Question: "Giá VNM hôm nay?",
	})
	require.Error(t, err)
	assert.Equal(t, xerr.CodeGenerationFailed, xerr.CodeOf(err))
	assert.Empty(t, hs.messages("u1", "s1"))
}

func TestAsk_HistoryReadFailure(t *testing.T) {
	hs := newMemoryHistoryStore()
	hs.readErr = errors.New("redis down")
	p := newTestAnswerPipeline(t, newFakeVectorStore(), hs, &fakeChatModel{}, testGenerationConfig())

	_, err := p.Ask(context.Background(), &AskRequest{
		UserID: "u1", SessionID: "s1", Question: "Giá VNM hôm nay?",
	})
	require.Error(t, err)
	assert.Equal(t, xerr.CodeStorageUnavailable, xerr.CodeOf(err))
}

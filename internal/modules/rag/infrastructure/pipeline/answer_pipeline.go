package pipeline

import (
	"context"
	"fmt"
	"time"

	"VnStockRAG/internal/modules/rag/application/dto/respond"
	"VnStockRAG/internal/modules/rag/domain/repository"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
)

// AskRequest is one conversational question for a session.
type AskRequest struct {
	UserID    string
	SessionID string
	Question  string
	TopK      int
}

// AskResult is the grounded answer plus citations and timings.
type AskResult struct {
	SessionID      string
	Answer         string
	RewrittenQuery string
	Sources        []respond.SourceEntry
	QueryID        string
	Timing         respond.TimingInfo
	Err            error
}

// GenerationConfig tunes the answer pipeline.
type GenerationConfig struct {
	HistoryWindow   int
	RetryAttempts   int
	RetryBaseDelay  time.Duration
	MaxContentChars int
	AllowUngrounded bool
}

func (c GenerationConfig) withDefaults() GenerationConfig {
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = 10
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 6
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 200 * time.Millisecond
	}
	if c.MaxContentChars <= 0 {
		c.MaxContentChars = 6000
	}
	return c
}

// AnswerPipeline produces the final grounded answer: it runs the
// history-aware retriever, re-reads the history window for conversational
// continuity, assembles the prompt and calls the chat model, then records the
// exchange — atomically, only after generation fully completed.
//
// Node order: LoadHistory → Retrieve → BuildPrompt → ChatModel → Persist.
// The streaming path drives the first three nodes by hand, relays the model
// stream to the caller, and persists through PersistStreamResult.
type AnswerPipeline struct {
	history      repository.HistoryStore
	retrievePipe *RetrievePipeline
	chatModel    model.BaseChatModel
	cfg          GenerationConfig
	r            compose.Runnable[*AskRequest, *AskResult]
}

func NewAnswerPipeline(
	history repository.HistoryStore,
	retrievePipe *RetrievePipeline,
	chatModel model.BaseChatModel,
	cfg GenerationConfig,
) (*AnswerPipeline, error) {
	if history == nil || retrievePipe == nil || chatModel == nil {
		return nil, fmt.Errorf("required dependencies are nil")
	}

	p := &AnswerPipeline{
		history:      history,
		retrievePipe: retrievePipe,
		chatModel:    chatModel,
		cfg:          cfg.withDefaults(),
	}

	r, err := p.buildGraph(context.Background())
	if err != nil {
		return nil, err
	}
	p.r = r
	return p, nil
}

// Ask runs the full graph without streaming.
func (p *AnswerPipeline) Ask(ctx context.Context, req *AskRequest) (*AskResult, error) {
	if req == nil {
		return nil, fmt.Errorf("ask request is nil")
	}
	if p.r == nil {
		return nil, fmt.Errorf("pipeline runnable is nil")
	}
	return p.r.Invoke(ctx, req)
}

// ExecuteStream drives the pre-generation nodes, then opens the model stream.
// The caller owns the reader; once it has drained cleanly it must call
// PersistStreamResult to record the exchange. Aborted streams record nothing.
func (p *AnswerPipeline) ExecuteStream(ctx context.Context, req *AskRequest) (*schema.StreamReader[*schema.Message], *answerState, error) {
	if req == nil {
		return nil, nil, fmt.Errorf("ask request is nil")
	}

	st, err := p.loadHistoryNode(ctx, req)
	if err != nil || st.Err != nil {
		return nil, nil, firstError(err, st.Err)
	}

	st, err = p.retrieveNode(ctx, st)
	if err != nil || st.Err != nil {
		return nil, nil, firstError(err, st.Err)
	}

	st, err = p.buildPromptNode(ctx, st)
	if err != nil || st.Err != nil {
		return nil, nil, firstError(err, st.Err)
	}

	streamReader, err := p.openModelStream(ctx, st)
	if err != nil {
		return nil, nil, err
	}
	st.LLMStart = time.Now()
	return streamReader, st, nil
}

// PersistStreamResult records a fully-flushed streamed exchange.
func (p *AnswerPipeline) PersistStreamResult(ctx context.Context, st *answerState, fullAnswer string, llmMs int64) (*AskResult, error) {
	st.Answer = fullAnswer
	st.LLMMs = llmMs

	result, err := p.persistNode(ctx, st)
	if err != nil || (result != nil && result.Err != nil) {
		return nil, firstError(err, result.Err)
	}
	return result, nil
}

func (p *AnswerPipeline) buildGraph(ctx context.Context) (compose.Runnable[*AskRequest, *AskResult], error) {
	const (
		LoadHistory = "LoadHistory"
		Retrieve    = "Retrieve"
		BuildPrompt = "BuildPrompt"
		ChatModel   = "ChatModel"
		Persist     = "Persist"
	)

	g := compose.NewGraph[*AskRequest, *AskResult]()

	_ = g.AddLambdaNode(LoadHistory, compose.InvokableLambdaWithOption(p.loadHistoryNode), compose.WithNodeName(LoadHistory))
	_ = g.AddLambdaNode(Retrieve, compose.InvokableLambdaWithOption(p.retrieveNode), compose.WithNodeName(Retrieve))
	_ = g.AddLambdaNode(BuildPrompt, compose.InvokableLambdaWithOption(p.buildPromptNode), compose.WithNodeName(BuildPrompt))
	_ = g.AddLambdaNode(ChatModel, compose.InvokableLambdaWithOption(p.chatModelNode), compose.WithNodeName(ChatModel))
	_ = g.AddLambdaNode(Persist, compose.InvokableLambdaWithOption(p.persistNode), compose.WithNodeName(Persist))

	_ = g.AddEdge(compose.START, LoadHistory)
	_ = g.AddEdge(LoadHistory, Retrieve)
	_ = g.AddEdge(Retrieve, BuildPrompt)
	_ = g.AddEdge(BuildPrompt, ChatModel)
	_ = g.AddEdge(ChatModel, Persist)
	_ = g.AddEdge(Persist, compose.END)

	return g.Compile(ctx, compose.WithGraphName("GenerationChain"), compose.WithNodeTriggerMode(compose.AllPredecessor))
}

func (p *AnswerPipeline) buildFinalResult(st *answerState) *AskResult {
	return &AskResult{
		SessionID:      st.Req.SessionID,
		Answer:         st.Answer,
		RewrittenQuery: st.RewrittenQuery(),
		Sources:        st.Sources,
		QueryID:        st.QueryID,
		Timing: respond.TimingInfo{
			ReformulateMs: st.reformulateMs(),
			EmbeddingMs:   st.embeddingMs(),
			SearchMs:      st.searchMs(),
			LLMMs:         st.LLMMs,
			TotalMs:       time.Since(st.Start).Milliseconds(),
		},
		Err: st.Err,
	}
}

func firstError(err1, err2 error) error {
	if err1 != nil {
		return err1
	}
	if err2 != nil {
		return err2
	}
	return fmt.Errorf("unknown error")
}

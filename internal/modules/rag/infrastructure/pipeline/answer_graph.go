package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"VnStockRAG/internal/modules/rag/application/dto/respond"
	"VnStockRAG/internal/modules/rag/domain/chat"
	"VnStockRAG/pkg/util"
	"VnStockRAG/pkg/xerr"
	"VnStockRAG/pkg/zlog"

	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"
)

// answerState is passed between graph nodes.
type answerState struct {
	Req        *AskRequest
	QueryID    string
	History    []chat.Message
	Retrieval  *RetrieveResult
	Ungrounded bool // retrieval failed but generation continues without context
	Messages   []*schema.Message
	Sources    []respond.SourceEntry
	Answer     string
	Start      time.Time
	LLMStart   time.Time
	LLMMs      int64
	Err        error
}

func (st *answerState) RewrittenQuery() string {
	if st.Retrieval != nil {
		return st.Retrieval.RewrittenQuery
	}
	return ""
}

func (st *answerState) reformulateMs() int64 {
	if st.Retrieval != nil {
		return st.Retrieval.ReformulateMs
	}
	return 0
}

func (st *answerState) embeddingMs() int64 {
	if st.Retrieval != nil {
		return st.Retrieval.EmbeddingMs
	}
	return 0
}

func (st *answerState) searchMs() int64 {
	if st.Retrieval != nil {
		return st.Retrieval.SearchMs
	}
	return 0
}

const answerSystemPrompt = "Bạn là trợ lý phân tích tin tức thị trường chứng khoán Việt Nam. " +
	"Hãy trả lời câu hỏi của người dùng CHỈ dựa trên các bài báo được cung cấp bên dưới. " +
	"Khi trích dẫn thông tin, nêu rõ nguồn và ngày đăng của bài báo. " +
	"Nếu các bài báo không chứa thông tin cần thiết, hãy nói thẳng là bạn không tìm thấy " +
	"thông tin liên quan, đừng suy đoán. Trả lời bằng tiếng Việt, ngắn gọn và có cấu trúc."

const answerNoContextNote = "(Không truy xuất được bài báo nào cho câu hỏi này. " +
	"Hãy cho người dùng biết bạn không có dữ liệu tin tức liên quan và chỉ trả lời " +
	"những gì chắc chắn đúng về mặt kiến thức chung.)"

// Node 1: validate the request and load the history window for the prompt.
func (p *AnswerPipeline) loadHistoryNode(ctx context.Context, req *AskRequest, _ ...any) (*answerState, error) {
	st := &answerState{
		Req:   req,
		Start: time.Now(),
	}
	if req == nil {
		st.Err = fmt.Errorf("ask request is nil")
		return st, nil
	}

	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		st.Err = xerr.New(xerr.BadRequest, "missing question")
		return st, nil
	}
	if strings.TrimSpace(req.UserID) == "" {
		st.Err = xerr.New(xerr.BadRequest, "missing user_id")
		return st, nil
	}
	if strings.TrimSpace(req.SessionID) == "" {
		st.Err = xerr.New(xerr.BadRequest, "missing session_id")
		return st, nil
	}

	history, err := p.history.Read(ctx, req.UserID, req.SessionID, p.cfg.HistoryWindow)
	if err != nil {
		st.Err = xerr.Wrap(xerr.CodeStorageUnavailable, "history read failed", err)
		return st, nil
	}
	st.History = history
	return st, nil
}

// Node 2: run the history-aware retriever.
func (p *AnswerPipeline) retrieveNode(ctx context.Context, st *answerState, _ ...any) (*answerState, error) {
	if st.Err != nil {
		return st, nil
	}

	res, err := p.retrievePipe.Retrieve(ctx, &RetrieveRequest{
		UserID:    st.Req.UserID,
		SessionID: st.Req.SessionID,
		Question:  st.Req.Question,
		TopK:      st.Req.TopK,
	})
	if err != nil {
		if !p.cfg.AllowUngrounded {
			st.Err = err
			return st, nil
		}
		zlog.Warn("retrieval failed, answering ungrounded",
			zap.String("session_id", st.Req.SessionID),
			zap.Error(err))
		st.Ungrounded = true
		return st, nil
	}

	st.Retrieval = res
	st.QueryID = res.QueryID
	return st, nil
}

// Node 3: assemble system prompt + context block + history + question.
func (p *AnswerPipeline) buildPromptNode(ctx context.Context, st *answerState, _ ...any) (*answerState, error) {
	if st.Err != nil {
		return st, nil
	}

	var sb strings.Builder
	sb.WriteString(answerSystemPrompt)

	if st.Retrieval != nil && len(st.Retrieval.Hits) > 0 {
		sb.WriteString("\n\nCác bài báo liên quan:\n")
		budget := p.cfg.MaxContentChars
		for i, hit := range st.Retrieval.Hits {
			content := hit.Content
			if r := []rune(content); len(r) > budget {
				content = string(r[:budget])
			}
			budget -= len([]rune(content))

			sb.WriteString(fmt.Sprintf("\n[Bài %d] %s\nNguồn: %s | Ngày: %s | Link: %s\n%s\n",
				i+1, hit.Title, hit.Source, hit.NewsDate, hit.Link, content))

			st.Sources = append(st.Sources, respond.SourceEntry{
				ChunkID:  hit.ID,
				DocID:    hit.DocID,
				Title:    hit.Title,
				Link:     hit.Link,
				Source:   hit.Source,
				NewsDate: hit.NewsDate,
				Score:    hit.Score,
				Content:  content,
			})
			if budget <= 0 {
				break
			}
		}
	} else {
		sb.WriteString("\n\n" + answerNoContextNote)
	}

	msgs := []*schema.Message{{Role: schema.System, Content: sb.String()}}
	for _, m := range st.History {
		role := schema.User
		if m.Role == chat.RoleAssistant {
			role = schema.Assistant
		}
		msgs = append(msgs, &schema.Message{Role: role, Content: m.Content})
	}
	// The context block was retrieved for the rewritten query, so the model
	// answers that phrasing; a bare follow-up ("thế còn cổ tức?") may not
	// stand on its own against it.
	question := st.RewrittenQuery()
	if question == "" {
		question = st.Req.Question
	}
	msgs = append(msgs, &schema.Message{Role: schema.User, Content: question})

	st.Messages = msgs
	return st, nil
}

// Node 4: call the chat model (non-streaming path).
func (p *AnswerPipeline) chatModelNode(ctx context.Context, st *answerState, _ ...any) (*answerState, error) {
	if st.Err != nil {
		return st, nil
	}

	start := time.Now()
	var out *schema.Message
	err := util.Retry(ctx, p.cfg.RetryAttempts, p.cfg.RetryBaseDelay, func() error {
		var genErr error
		out, genErr = p.chatModel.Generate(ctx, st.Messages)
		return genErr
	})
	st.LLMMs = time.Since(start).Milliseconds()
	if err != nil {
		st.Err = xerr.Wrap(xerr.CodeGenerationFailed, fmt.Sprintf("answer generation failed (query=%q)", st.RewrittenQuery()), err)
		return st, nil
	}

	st.Answer = out.Content
	return st, nil
}

// openModelStream is the streaming counterpart of chatModelNode; retry only
// covers opening the stream, mid-stream failures belong to the caller.
func (p *AnswerPipeline) openModelStream(ctx context.Context, st *answerState) (*schema.StreamReader[*schema.Message], error) {
	var sr *schema.StreamReader[*schema.Message]
	err := util.Retry(ctx, p.cfg.RetryAttempts, p.cfg.RetryBaseDelay, func() error {
		var streamErr error
		sr, streamErr = p.chatModel.Stream(ctx, st.Messages)
		return streamErr
	})
	if err != nil {
		return nil, xerr.Wrap(xerr.CodeGenerationFailed, fmt.Sprintf("answer stream failed (query=%q)", st.RewrittenQuery()), err)
	}
	return sr, nil
}

// Node 5: record the exchange as one atomic pair, then emit the result.
// A failed turn writes nothing, so the session log never holds a question
// without its answer.
func (p *AnswerPipeline) persistNode(ctx context.Context, st *answerState, _ ...any) (*AskResult, error) {
	if st.Err != nil {
		return p.buildFinalResult(st), st.Err
	}

	if err := p.history.AppendExchange(ctx, st.Req.UserID, st.Req.SessionID, st.Req.Question, st.Answer); err != nil {
		st.Err = xerr.Wrap(xerr.CodeStorageUnavailable, "history append failed", err)
		return p.buildFinalResult(st), st.Err
	}

	res := p.buildFinalResult(st)
	zlog.Info("answer pipeline finished",
		zap.String("query_id", st.QueryID),
		zap.String("session_id", st.Req.SessionID),
		zap.Int("sources", len(res.Sources)),
		zap.Bool("ungrounded", st.Ungrounded),
		zap.Int64("llm_ms", res.Timing.LLMMs),
		zap.Int64("total_ms", res.Timing.TotalMs))
	return res, nil
}

package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"VnStockRAG/internal/modules/rag/domain/chat"
	"VnStockRAG/internal/modules/rag/domain/repository"
	"VnStockRAG/pkg/util"
	"VnStockRAG/pkg/xerr"
	"VnStockRAG/pkg/zlog"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"
)

// retrieveState is passed between graph nodes.
type retrieveState struct {
	Req           *RetrieveRequest
	QueryID       string
	TopK          int
	History       []chat.Message
	Rewritten     string
	QueryVecs     map[string][]float32                    // variant name -> query vector
	RawHits       map[string][]repository.VectorSearchHit // collection -> raw hits
	Merged        []repository.VectorSearchHit
	Start         time.Time
	ReformulateMs int64
	EmbeddingMs   int64
	SearchMs      int64
	Err           error
}

const reformulateSystemPrompt = "Bạn là trợ lý viết lại câu hỏi. Dựa vào lịch sử hội thoại bên dưới, " +
	"hãy viết lại câu hỏi mới nhất của người dùng thành MỘT câu hỏi độc lập, tự chứa đầy đủ ngữ cảnh " +
	"(mã cổ phiếu, tên công ty, mốc thời gian được nhắc trước đó). " +
	"Chỉ trả về câu hỏi đã viết lại, tuyệt đối không trả lời câu hỏi."

func (p *RetrievePipeline) buildGraph(ctx context.Context) (compose.Runnable[*RetrieveRequest, *RetrieveResult], error) {
	const (
		LoadHistory  = "LoadHistory"
		Reformulate  = "Reformulate"
		EmbedQuery   = "EmbedQuery"
		SearchVector = "SearchVector"
		MergeRank    = "MergeRank"
		BuildResult  = "BuildResult"
	)

	g := compose.NewGraph[*RetrieveRequest, *RetrieveResult]()

	_ = g.AddLambdaNode(LoadHistory, compose.InvokableLambdaWithOption(p.loadHistoryNode), compose.WithNodeName(LoadHistory))
	_ = g.AddLambdaNode(Reformulate, compose.InvokableLambdaWithOption(p.reformulateNode), compose.WithNodeName(Reformulate))
	_ = g.AddLambdaNode(EmbedQuery, compose.InvokableLambdaWithOption(p.embedQueryNode), compose.WithNodeName(EmbedQuery))
	_ = g.AddLambdaNode(SearchVector, compose.InvokableLambdaWithOption(p.searchVectorNode), compose.WithNodeName(SearchVector))
	_ = g.AddLambdaNode(MergeRank, compose.InvokableLambdaWithOption(p.mergeRankNode), compose.WithNodeName(MergeRank))
	_ = g.AddLambdaNode(BuildResult, compose.InvokableLambdaWithOption(p.buildResultNode), compose.WithNodeName(BuildResult))

	_ = g.AddEdge(compose.START, LoadHistory)
	_ = g.AddEdge(LoadHistory, Reformulate)
	_ = g.AddEdge(Reformulate, EmbedQuery)
	_ = g.AddEdge(EmbedQuery, SearchVector)
	_ = g.AddEdge(SearchVector, MergeRank)
	_ = g.AddEdge(MergeRank, BuildResult)
	_ = g.AddEdge(BuildResult, compose.END)

	return g.Compile(ctx, compose.WithGraphName("HistoryAwareRetriever"), compose.WithNodeTriggerMode(compose.AllPredecessor))
}

// activeVariantNames returns the variants this request will search: just the
// primary one under the default policy, all of them under merge.
func (p *RetrievePipeline) activeVariantIdx() []int {
	if p.cfg.MergePolicy == MergePolicyMerge {
		idx := make([]int, len(p.variants))
		for i := range p.variants {
			idx[i] = i
		}
		return idx
	}
	for i, v := range p.variants {
		if v.Primary {
			return []int{i}
		}
	}
	return []int{0}
}

// Node 1: load the recent history window used for reformulation.
func (p *RetrievePipeline) loadHistoryNode(ctx context.Context, req *RetrieveRequest, _ ...any) (*retrieveState, error) {
	st := &retrieveState{
		Req:     req,
		Start:   time.Now(),
		QueryID: fmt.Sprintf("q_%s_%d", util.GenerateShortUUID()[:8], time.Now().UnixNano()),
	}
	if req == nil {
		st.Err = fmt.Errorf("retrieve request is nil")
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
	st.TopK = p.normalizeTopK(req.TopK)

	messages, err := p.history.Read(ctx, req.UserID, req.SessionID, p.cfg.HistoryWindow)
	if err != nil {
		st.Err = err
		return st, nil
	}
	st.History = messages
	return st, nil
}

// Node 2: rewrite the question into a standalone query. With no prior turns
// this is a no-op and no model call is made.
func (p *RetrievePipeline) reformulateNode(ctx context.Context, st *retrieveState, _ ...any) (*retrieveState, error) {
	if st == nil || st.Err != nil {
		return st, nil
	}

	if len(st.History) == 0 {
		st.Rewritten = st.Req.Question
		return st, nil
	}

	start := time.Now()

	msgs := make([]*schema.Message, 0, len(st.History)+2)
	msgs = append(msgs, &schema.Message{Role: schema.System, Content: reformulateSystemPrompt})
	for _, m := range st.History {
		role := schema.User
		if m.Role == chat.RoleAssistant {
			role = schema.Assistant
		}
		msgs = append(msgs, &schema.Message{Role: role, Content: m.Content})
	}
	msgs = append(msgs, &schema.Message{Role: schema.User, Content: st.Req.Question})

	var resp *schema.Message
	err := util.Retry(ctx, p.cfg.RetryAttempts, p.cfg.RetryBaseDelay, func() error {
		var genErr error
		// Internal step: non-streaming, low temperature for stable rewrites.
		resp, genErr = p.chatModel.Generate(ctx, msgs, model.WithTemperature(0.1))
		return genErr
	})
	st.ReformulateMs = time.Since(start).Milliseconds()
	if err != nil {
		st.Err = xerr.Wrap(xerr.CodeRetrievalFailed, fmt.Sprintf("query reformulation failed (question=%q)", st.Req.Question), err)
		return st, nil
	}

	rewritten := strings.TrimSpace(resp.Content)
	if rewritten == "" {
		rewritten = st.Req.Question
	}
	st.Rewritten = rewritten

	zlog.Info("retriever reformulate done",
		zap.String("query_id", st.QueryID),
		zap.Int("history_count", len(st.History)),
		zap.Int64("reformulate_ms", st.ReformulateMs))
	return st, nil
}

// Node 3: embed the standalone query with each variant this request searches.
func (p *RetrievePipeline) embedQueryNode(ctx context.Context, st *retrieveState, _ ...any) (*retrieveState, error) {
	if st == nil || st.Err != nil {
		return st, nil
	}

	start := time.Now()
	st.QueryVecs = make(map[string][]float32, len(p.variants))

	for _, i := range p.activeVariantIdx() {
		v := p.variants[i]

		var vecs [][]float64
		err := util.Retry(ctx, p.cfg.RetryAttempts, p.cfg.RetryBaseDelay, func() error {
			var embErr error
			vecs, embErr = v.Embedder.EmbedStrings(ctx, []string{st.Rewritten})
			return embErr
		})
		if err != nil {
			st.Err = xerr.Wrap(xerr.CodeRetrievalFailed, fmt.Sprintf("embedding failed (variant=%s, query=%q)", v.Name, st.Rewritten), err)
			return st, nil
		}
		if len(vecs) == 0 {
			st.Err = xerr.Wrap(xerr.CodeRetrievalFailed, fmt.Sprintf("empty embedding (variant=%s, query=%q)", v.Name, st.Rewritten), nil)
			return st, nil
		}
		vec64 := vecs[0]
		if len(vec64) != v.Dim {
			st.Err = xerr.Wrap(xerr.CodeRetrievalFailed,
				fmt.Sprintf("embedding dim mismatch (variant=%s): got=%d want=%d", v.Name, len(vec64), v.Dim), nil)
			return st, nil
		}

		vec32 := make([]float32, len(vec64))
		for j := range vec64 {
			vec32[j] = float32(vec64[j])
		}
		st.QueryVecs[v.Name] = vec32
	}

	st.EmbeddingMs = time.Since(start).Milliseconds()
	return st, nil
}

// Node 4: top-k similarity search in each variant's collection.
func (p *RetrievePipeline) searchVectorNode(ctx context.Context, st *retrieveState, _ ...any) (*retrieveState, error) {
	if st == nil || st.Err != nil {
		return st, nil
	}

	start := time.Now()
	st.RawHits = make(map[string][]repository.VectorSearchHit, len(st.QueryVecs))

	for _, i := range p.activeVariantIdx() {
		v := p.variants[i]
		vec, ok := st.QueryVecs[v.Name]
		if !ok {
			continue
		}

		var hits []repository.VectorSearchHit
		err := util.Retry(ctx, p.cfg.RetryAttempts, p.cfg.RetryBaseDelay, func() error {
			var searchErr error
			hits, searchErr = p.vs.Search(ctx, v.Collection, vec, st.TopK, "")
			return searchErr
		})
		if err != nil {
			st.Err = xerr.Wrap(xerr.CodeRetrievalFailed, fmt.Sprintf("vector search failed (collection=%s, query=%q)", v.Collection, st.Rewritten), err)
			return st, nil
		}
		st.RawHits[v.Collection] = hits
	}

	st.SearchMs = time.Since(start).Milliseconds()
	return st, nil
}

// Node 5: fuse per-collection hits into one ranking.
func (p *RetrievePipeline) mergeRankNode(ctx context.Context, st *retrieveState, _ ...any) (*retrieveState, error) {
	_ = ctx
	if st == nil || st.Err != nil {
		return st, nil
	}

	if p.cfg.MergePolicy == MergePolicyMerge {
		st.Merged = rankAndTrim(mergeRanked(st.RawHits, st.TopK), p.cfg.ScoreThreshold, st.TopK)
		return st, nil
	}

	var primary []repository.VectorSearchHit
	for _, i := range p.activeVariantIdx() {
		primary = st.RawHits[p.variants[i].Collection]
		break
	}
	st.Merged = rankAndTrim(primary, p.cfg.ScoreThreshold, st.TopK)
	return st, nil
}

// Node 6: assemble the result and log the observability line.
func (p *RetrievePipeline) buildResultNode(ctx context.Context, st *retrieveState, _ ...any) (*RetrieveResult, error) {
	_ = ctx
	if st == nil {
		return nil, fmt.Errorf("nil state")
	}

	res := &RetrieveResult{
		QueryID:        st.QueryID,
		RewrittenQuery: st.Rewritten,
		Hits:           st.Merged,
		ReturnedCount:  len(st.Merged),
		ReformulateMs:  st.ReformulateMs,
		EmbeddingMs:    st.EmbeddingMs,
		SearchMs:       st.SearchMs,
		DurationMs:     time.Since(st.Start).Milliseconds(),
		IsEmpty:        len(st.Merged) == 0,
	}
	if st.Req != nil {
		res.Question = st.Req.Question
	}
	for _, hits := range st.RawHits {
		res.TotalHits += len(hits)
	}

	zlog.Info("retriever done",
		zap.String("query_id", st.QueryID),
		zap.String("rewritten_query", st.Rewritten),
		zap.Int("total_hits", res.TotalHits),
		zap.Int("returned_count", res.ReturnedCount),
		zap.Int64("reformulate_ms", res.ReformulateMs),
		zap.Int64("embedding_ms", res.EmbeddingMs),
		zap.Int64("search_ms", res.SearchMs),
		zap.Int64("duration_ms", res.DurationMs),
		zap.Bool("is_empty", res.IsEmpty))

	return res, st.Err
}

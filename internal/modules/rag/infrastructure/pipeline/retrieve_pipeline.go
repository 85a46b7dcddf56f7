package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"VnStockRAG/internal/modules/rag/domain/repository"
	"VnStockRAG/internal/modules/rag/infrastructure/embedding"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
)

// Merge policies across embedding collections.
const (
	MergePolicyPrimary = "primary"
	MergePolicyMerge   = "merge"
)

// RetrieveRequest asks for the documents relevant to one conversational turn.
type RetrieveRequest struct {
	UserID    string
	SessionID string
	Question  string
	TopK      int
}

// RetrieveResult is the ranked document set plus the reformulated query that
// produced it (needed downstream for prompt assembly and diagnostics).
type RetrieveResult struct {
	QueryID        string
	Question       string
	RewrittenQuery string
	Hits           []repository.VectorSearchHit
	TotalHits      int
	ReturnedCount  int
	ReformulateMs  int64
	EmbeddingMs    int64
	SearchMs       int64
	DurationMs     int64
	IsEmpty        bool
}

// RetrievalConfig tunes the retriever; zero values fall back to defaults.
type RetrievalConfig struct {
	TopK           int
	HistoryWindow  int
	MergePolicy    string
	ScoreThreshold float32
	RetryAttempts  int
	RetryBaseDelay time.Duration
}

func (c RetrievalConfig) withDefaults() RetrievalConfig {
	if c.TopK <= 0 {
		c.TopK = 5
	}
	if c.TopK > 50 {
		c.TopK = 50
	}
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = 10
	}
	if c.MergePolicy != MergePolicyMerge {
		c.MergePolicy = MergePolicyPrimary
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 6
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 200 * time.Millisecond
	}
	return c
}

// RetrievePipeline is the history-aware retriever: it rewrites the question
// into a standalone query using the session's recent turns, then searches the
// vector collections of the active embedding variants.
//
// Node order: LoadHistory → Reformulate → EmbedQuery → SearchVector →
// MergeRank → BuildResult.
type RetrievePipeline struct {
	history   repository.HistoryStore
	vs        repository.VectorStore
	variants  []*embedding.Variant
	chatModel model.BaseChatModel
	cfg       RetrievalConfig
	r         compose.Runnable[*RetrieveRequest, *RetrieveResult]
}

func NewRetrievePipeline(
	history repository.HistoryStore,
	vs repository.VectorStore,
	variants []*embedding.Variant,
	chatModel model.BaseChatModel,
	cfg RetrievalConfig,
) (*RetrievePipeline, error) {
	if history == nil {
		return nil, fmt.Errorf("history store is nil")
	}
	if vs == nil {
		return nil, fmt.Errorf("vector store is nil")
	}
	if len(variants) == 0 {
		return nil, fmt.Errorf("no embedding variants")
	}
	if chatModel == nil {
		return nil, fmt.Errorf("chat model is nil")
	}

	p := &RetrievePipeline{
		history:   history,
		vs:        vs,
		variants:  variants,
		chatModel: chatModel,
		cfg:       cfg.withDefaults(),
	}

	r, err := p.buildGraph(context.Background())
	if err != nil {
		return nil, err
	}
	p.r = r
	return p, nil
}

// Retrieve runs the compiled graph.
func (p *RetrievePipeline) Retrieve(ctx context.Context, req *RetrieveRequest) (*RetrieveResult, error) {
	if req == nil {
		return nil, fmt.Errorf("retrieve request is nil")
	}
	if p.r == nil {
		return nil, fmt.Errorf("pipeline runnable is nil")
	}
	return p.r.Invoke(ctx, req)
}

func (p *RetrievePipeline) normalizeTopK(topK int) int {
	if topK <= 0 {
		return p.cfg.TopK
	}
	if topK > 50 {
		return 50
	}
	return topK
}

// mergeRanked fuses hits from several collections: scores are normalized per
// collection by its best hit (raw cosine scores of different embedding models
// are not comparable), duplicates by source document keep the best-scoring
// chunk, and the result is ranked and truncated to topK.
func mergeRanked(byCollection map[string][]repository.VectorSearchHit, topK int) []repository.VectorSearchHit {
	best := make(map[string]repository.VectorSearchHit)
	order := make([]string, 0)

	for _, hits := range byCollection {
		if len(hits) == 0 {
			continue
		}
		max := hits[0].Score
		for _, h := range hits {
			if h.Score > max {
				max = h.Score
			}
		}
		if max <= 0 {
			max = 1
		}
		for _, h := range hits {
			h.Score = h.Score / max
			key := h.DocID
			if key == "" {
				key = h.ID
			}
			existing, ok := best[key]
			if !ok {
				best[key] = h
				order = append(order, key)
			} else if h.Score > existing.Score {
				best[key] = h
			}
		}
	}

	merged := make([]repository.VectorSearchHit, 0, len(best))
	for _, key := range order {
		merged = append(merged, best[key])
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})
	if topK > 0 && len(merged) > topK {
		merged = merged[:topK]
	}
	return merged
}

// rankAndTrim applies the score threshold, sorts descending and truncates.
func rankAndTrim(hits []repository.VectorSearchHit, threshold float32, topK int) []repository.VectorSearchHit {
	if threshold > 0 {
		filtered := make([]repository.VectorSearchHit, 0, len(hits))
		for _, h := range hits {
			if h.Score >= threshold {
				filtered = append(filtered, h)
			}
		}
		hits = filtered
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}

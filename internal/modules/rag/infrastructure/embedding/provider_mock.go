package embedding

import (
	"context"
	"hash/fnv"

	"github.com/cloudwego/eino/components/embedding"
)

// MockEmbedder produces deterministic pseudo-vectors for local bring-up and
// tests. Identical texts map to identical vectors, which is enough for the
// pipelines to behave consistently without a real provider.
type MockEmbedder struct {
	Dim int
}

func NewMockEmbedder(dim int) *MockEmbedder {
	return &MockEmbedder{Dim: dim}
}

func (m *MockEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	result := make([][]float64, len(texts))
	for i, text := range texts {
		h := fnv.New64a()
		_, _ = h.Write([]byte(text))
		seed := h.Sum64()

		vec := make([]float64, m.Dim)
		for j := 0; j < m.Dim; j++ {
			seed = seed*6364136223846793005 + 1442695040888963407
			vec[j] = float64(int64(seed>>32))/float64(1<<31) * 0.5
		}
		result[i] = vec
	}
	return result, nil
}

var _ embedding.Embedder = (*MockEmbedder)(nil)

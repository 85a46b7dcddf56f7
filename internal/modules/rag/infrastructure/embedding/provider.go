package embedding

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"VnStockRAG/internal/config"

	arkEmbed "github.com/cloudwego/eino-ext/components/embedding/ark"
	dashscopeEmbed "github.com/cloudwego/eino-ext/components/embedding/dashscope"
	openaiEmbed "github.com/cloudwego/eino-ext/components/embedding/openai"
	"github.com/cloudwego/eino/components/embedding"
)

// Variant binds one embedding model to the Milvus collection holding its
// vectors. Collection choice is configuration, not inheritance: retrieval
// iterates over active variants and talks to each one's collection.
type Variant struct {
	Name       string
	Provider   string
	Model      string
	Dim        int
	Collection string
	Primary    bool
	Embedder   embedding.Embedder
}

// NewVariantsFromConfig builds all configured embedding variants.
// Exactly one variant ends up primary: the flagged one, or the first.
func NewVariantsFromConfig(ctx context.Context, conf *config.Config) ([]*Variant, error) {
	if conf == nil {
		return nil, fmt.Errorf("nil config")
	}
	if len(conf.AIConfig.Embedding) == 0 {
		return nil, fmt.Errorf("no embedding variants configured")
	}

	variants := make([]*Variant, 0, len(conf.AIConfig.Embedding))
	primarySeen := false
	for i := range conf.AIConfig.Embedding {
		vc := &conf.AIConfig.Embedding[i]
		v, err := newVariant(ctx, vc)
		if err != nil {
			return nil, fmt.Errorf("embedding variant %q: %w", vc.Name, err)
		}
		if v.Primary {
			if primarySeen {
				return nil, fmt.Errorf("multiple primary embedding variants")
			}
			primarySeen = true
		}
		variants = append(variants, v)
	}
	if !primarySeen {
		variants[0].Primary = true
	}
	return variants, nil
}

func newVariant(ctx context.Context, vc *config.EmbeddingVariantConfig) (*Variant, error) {
	name := strings.TrimSpace(vc.Name)
	if name == "" {
		return nil, fmt.Errorf("missing name")
	}
	collection := strings.TrimSpace(vc.CollectionName)
	if collection == "" {
		return nil, fmt.Errorf("missing collectionName")
	}
	dim := vc.Dimensions
	if dim <= 0 {
		dim = 768
	}

	provider := strings.ToLower(strings.TrimSpace(vc.Provider))
	model := strings.TrimSpace(vc.Model)

	v := &Variant{
		Name:       name,
		Provider:   provider,
		Model:      model,
		Dim:        dim,
		Collection: collection,
		Primary:    vc.Primary,
	}

	switch provider {
	case "", "mock":
		if model == "" {
			v.Model = "mock"
		}
		v.Provider = "mock"
		v.Embedder = NewMockEmbedder(dim)
		return v, nil

	case "openai":
		apiKey := strings.TrimSpace(vc.APIKey)
		if apiKey == "" {
			apiKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
		}
		baseURL := strings.TrimSpace(vc.BaseURL)
		if baseURL == "" {
			baseURL = strings.TrimSpace(os.Getenv("OPENAI_BASE_URL"))
		}
		if apiKey == "" || model == "" {
			return nil, fmt.Errorf("openai embedding missing apiKey/model")
		}

		timeout := 30 * time.Second
		if vc.TimeoutSeconds > 0 {
			timeout = time.Duration(vc.TimeoutSeconds) * time.Second
		}

		localDim := dim
		em, err := openaiEmbed.NewEmbedder(ctx, &openaiEmbed.EmbeddingConfig{
			APIKey:     apiKey,
			Model:      model,
			BaseURL:    baseURL,
			Timeout:    timeout,
			Dimensions: &localDim,
		})
		if err != nil {
			return nil, err
		}
		v.Embedder = em
		return v, nil

	case "ark":
		apiKey := strings.TrimSpace(vc.APIKey)
		if apiKey == "" {
			apiKey = strings.TrimSpace(os.Getenv("ARK_API_KEY"))
		}
		baseURL := strings.TrimSpace(vc.BaseURL)
		if baseURL == "" {
			baseURL = strings.TrimSpace(os.Getenv("ARK_BASE_URL"))
		}
		if apiKey == "" || model == "" {
			return nil, fmt.Errorf("ark embedding missing apiKey/model")
		}

		em, err := arkEmbed.NewEmbedder(ctx, &arkEmbed.EmbeddingConfig{
			APIKey:  apiKey,
			Model:   model,
			BaseURL: baseURL,
		})
		if err != nil {
			return nil, err
		}
		v.Embedder = em
		return v, nil

	case "dashscope":
		apiKey := strings.TrimSpace(vc.APIKey)
		if apiKey == "" {
			apiKey = strings.TrimSpace(os.Getenv("DASHSCOPE_API_KEY"))
		}
		if apiKey == "" || model == "" {
			return nil, fmt.Errorf("dashscope embedding missing apiKey/model")
		}

		localDim := dim
		em, err := dashscopeEmbed.NewEmbedder(ctx, &dashscopeEmbed.EmbeddingConfig{
			Model:      model,
			APIKey:     apiKey,
			Dimensions: &localDim,
		})
		if err != nil {
			return nil, err
		}
		v.Embedder = em
		return v, nil

	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", provider)
	}
}

// PrimaryVariant returns the variant flagged primary.
func PrimaryVariant(variants []*Variant) *Variant {
	for _, v := range variants {
		if v.Primary {
			return v
		}
	}
	if len(variants) > 0 {
		return variants[0]
	}
	return nil
}

package chunking

import (
	"context"
	"fmt"
	"sync"

	"github.com/cloudwego/eino-ext/components/document/transformer/splitter/recursive"
	"github.com/cloudwego/eino/components/document"
	"github.com/cloudwego/eino/schema"
)

// NewsChunker splits article content into overlapping retrieval units.
// Rune-based length keeps multi-byte Vietnamese text intact.
type NewsChunker struct {
	chunkSize    int
	chunkOverlap int
	useRecursive bool

	initOnce      sync.Once
	initErr       error
	recursiveImpl document.Transformer
}

func NewNewsChunker(size, overlap int) *NewsChunker {
	if size <= 0 {
		size = 500
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 2
	}
	return &NewsChunker{chunkSize: size, chunkOverlap: overlap}
}

// NewRecursiveChunker prefers splitting at sentence and clause boundaries.
func NewRecursiveChunker(size, overlap int) *NewsChunker {
	c := NewNewsChunker(size, overlap)
	c.useRecursive = true
	return c
}

// Chunk splits on rune count with a sliding overlap.
func (c *NewsChunker) Chunk(text string) []string {
	if text == "" {
		return []string{}
	}

	runes := []rune(text)
	totalLen := len(runes)

	if totalLen <= c.chunkSize {
		return []string{text}
	}

	var chunks []string
	step := c.chunkSize - c.chunkOverlap
	if step <= 0 {
		step = 1
	}

	for i := 0; i < totalLen; i += step {
		end := i + c.chunkSize
		if end > totalLen {
			end = totalLen
		}
		chunks = append(chunks, string(runes[i:end]))
		if end == totalLen {
			break
		}
	}

	return chunks
}

// ChunkDocuments splits each document, copying metadata into every fragment
// and stamping chunk_index.
func (c *NewsChunker) ChunkDocuments(ctx context.Context, docs []*schema.Document) ([]*schema.Document, error) {
	if len(docs) == 0 {
		return []*schema.Document{}, nil
	}

	if !c.useRecursive {
		out := make([]*schema.Document, 0, len(docs))
		for _, d := range docs {
			if d == nil {
				continue
			}
			parts := c.Chunk(d.Content)
			for i, p := range parts {
				n := &schema.Document{Content: p, MetaData: map[string]any{}}
				for k, v := range d.MetaData {
					n.MetaData[k] = v
				}
				n.MetaData["chunk_index"] = i
				out = append(out, n)
			}
		}
		return out, nil
	}

	c.initOnce.Do(func() {
		impl, err := recursive.NewSplitter(ctx, &recursive.Config{
			ChunkSize:   c.chunkSize,
			OverlapSize: c.chunkOverlap,
			Separators:  []string{"\n\n", "\n", ". ", "! ", "? ", "; ", ", ", " "},
			LenFunc: func(s string) int {
				return len([]rune(s))
			},
			KeepType: recursive.KeepTypeEnd,
		})
		if err != nil {
			c.initErr = err
			return
		}
		c.recursiveImpl = impl
	})
	if c.initErr != nil {
		return nil, c.initErr
	}
	if c.recursiveImpl == nil {
		return nil, fmt.Errorf("recursive splitter not initialized")
	}

	out := make([]*schema.Document, 0, len(docs))
	for _, d := range docs {
		if d == nil {
			continue
		}
		frags, err := c.recursiveImpl.Transform(ctx, []*schema.Document{{Content: d.Content}})
		if err != nil {
			return nil, err
		}
		for i, f := range frags {
			if f == nil {
				continue
			}
			n := &schema.Document{Content: f.Content, MetaData: map[string]any{}}
			for k, v := range d.MetaData {
				n.MetaData[k] = v
			}
			n.MetaData["chunk_index"] = i
			out = append(out, n)
		}
	}
	return out, nil
}

package embedding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockEmbedder_Deterministic(t *testing.T) {
	m := NewMockEmbedder(16)
	ctx := context.Background()

	a, err := m.EmbedStrings(ctx, []string{"giá cổ phiếu VNM"})
	require.NoError(t, err)
	b, err := m.EmbedStrings(ctx, []string{"giá cổ phiếu VNM"})
	require.NoError(t, err)

	require.Len(t, a, 1)
	require.Len(t, a[0], 16)
	assert.Equal(t, a, b, "identical text must map to identical vectors")
}

func TestMockEmbedder_DistinctTexts(t *testing.T) {
	m := NewMockEmbedder(8)
	vecs, err := m.EmbedStrings(context.Background(), []string{"VNM", "HPG"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.NotEqual(t, vecs[0], vecs[1])
}

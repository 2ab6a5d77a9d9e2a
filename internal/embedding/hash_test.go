package embedding

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cosine(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

func TestHashEmbedder_DeterministicAndNormalized(t *testing.T) {
	e := NewHashEmbedder(0)
	ctx := context.Background()

	a, err := e.GenerateEmbedding(ctx, "We use Postgres 14")
	require.NoError(t, err)
	b, err := e.GenerateEmbedding(ctx, "we use postgres 14!")
	require.NoError(t, err)

	assert.Len(t, a, DefaultDimensions)
	assert.Equal(t, a, b)
	assert.InDelta(t, 1.0, math.Sqrt(cosine(a, a)), 1e-5)
}

func TestHashEmbedder_SharedWordsAreCloser(t *testing.T) {
	e := NewHashEmbedder(256)
	ctx := context.Background()

	q, _ := e.GenerateEmbedding(ctx, "postgres database version")
	near, _ := e.GenerateEmbedding(ctx, "the database version is postgres 16")
	far, _ := e.GenerateEmbedding(ctx, "lunch menu for friday")

	assert.Greater(t, cosine(q, near), cosine(q, far))
}

func TestHashEmbedder_EmptyText(t *testing.T) {
	_, err := NewHashEmbedder(8).GenerateEmbedding(context.Background(), " ,. ")
	assert.ErrorIs(t, err, ErrEmptyText)
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"db", "v16", "is", "live"}, Tokenize("DB v16 -- is live."))
}

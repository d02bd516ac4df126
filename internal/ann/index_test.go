package ann

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brittybidari/FashionRecSys/internal/core"
	"github.com/brittybidari/FashionRecSys/internal/corpus"
)

func clusteredCorpus(t *testing.T, n, dim int) *corpus.Corpus {
	t.Helper()
	rng := rand.New(rand.NewSource(11))
	vectors := make([]core.Embedding, n)
	names := make([]string, n)
	for i := range vectors {
		v := make(core.Embedding, dim)
		for j := range v {
			v[j] = rng.Float32()
		}
		vectors[i] = v
		names[i] = fmt.Sprintf("%04d.jpg", i)
	}
	c, err := corpus.New(vectors, names)
	require.NoError(t, err)
	return c
}

func TestCandidatesFindExactMatch(t *testing.T) {
	c := clusteredCorpus(t, 300, 8)
	idx, err := Build(context.Background(), c, Options{})
	require.NoError(t, err)
	assert.Equal(t, 300, idx.Len())

	for _, target := range []int{0, 17, 299} {
		got := idx.Candidates(c.Vector(target), 10)
		assert.LessOrEqual(t, len(got), 10)
		assert.Contains(t, got, target)
		assert.IsIncreasing(t, got)
	}
}

func TestCandidatesEdgeCases(t *testing.T) {
	empty, err := corpus.New(nil, nil)
	require.NoError(t, err)
	idx, err := Build(context.Background(), empty, Options{})
	require.NoError(t, err)
	assert.Empty(t, idx.Candidates(core.Embedding{1, 2}, 5))

	c := clusteredCorpus(t, 3, 4)
	idx, err = Build(context.Background(), c, Options{})
	require.NoError(t, err)
	assert.Nil(t, idx.Candidates(c.Vector(0), 0))

	require.NotPanics(t, func() {
		assert.Nil(t, idx.Candidates(core.Embedding{1, 0}, 2))
	})
}

func TestCosineDistance(t *testing.T) {
	assert.InDelta(t, 0, cosineDistance([]float32{1, 0}, []float32{2, 0}), 1e-6)
	assert.InDelta(t, 1, cosineDistance([]float32{1, 0}, []float32{0, 1}), 1e-6)
	assert.InDelta(t, 1, cosineDistance([]float32{0, 0}, []float32{0, 1}), 1e-6)
	assert.InDelta(t, 2, cosineDistance([]float32{1}, []float32{0, 1}), 1e-6)
}

func TestBuildCancelled(t *testing.T) {
	c := clusteredCorpus(t, 2048, 4)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Build(ctx, c, Options{})
	assert.Error(t, err)
}

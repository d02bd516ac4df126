// Package ann builds an HNSW graph over the corpus to propose candidate
// matches. Candidates are always rescored exactly before ranking.
package ann

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/coder/hnsw"

	"github.com/brittybidari/FashionRecSys/internal/core"
	"github.com/brittybidari/FashionRecSys/internal/corpus"
	fserrors "github.com/brittybidari/FashionRecSys/internal/errors"
	"github.com/brittybidari/FashionRecSys/internal/metrics"
	"github.com/brittybidari/FashionRecSys/internal/vecmath"
)

// Options configures graph construction.
type Options struct {
	M        int
	EfSearch int
	Seed     int64
}

// DefaultOptions returns the graph parameters used when none are configured.
func DefaultOptions() Options {
	return Options{M: 16, EfSearch: 64, Seed: 1}
}

// Index is an HNSW graph keyed by corpus index.
type Index struct {
	mu    sync.RWMutex
	graph *hnsw.Graph[int]
	dim   int
}

// cosineDistance is 1 - cosine, with zero-norm vectors at distance 1.
func cosineDistance(a, b []float32) float32 {
	s, err := vecmath.Cosine(a, b)
	if err != nil {
		return 2
	}
	return float32(1 - s)
}

// Build inserts every corpus entry into a new graph.
func Build(ctx context.Context, c *corpus.Corpus, opts Options) (*Index, error) {
	start := time.Now()
	def := DefaultOptions()
	if opts.M <= 0 {
		opts.M = def.M
	}
	if opts.EfSearch <= 0 {
		opts.EfSearch = def.EfSearch
	}

	g := hnsw.NewGraph[int]()
	g.M = opts.M
	g.EfSearch = opts.EfSearch
	g.Distance = cosineDistance
	g.Rng = rand.New(rand.NewSource(opts.Seed))

	x := &Index{graph: g, dim: c.Dim()}
	x.mu.Lock()
	defer x.mu.Unlock()

	const batch = 1024
	nodes := make([]hnsw.Node[int], 0, batch)
	for i := 0; i < c.Len(); i++ {
		nodes = append(nodes, hnsw.MakeNode(i, []float32(c.Vector(i))))
		if len(nodes) == batch {
			if err := ctx.Err(); err != nil {
				return nil, fserrors.WrapTimeoutError(err, "ann.Build", "index build cancelled")
			}
			g.Add(nodes...)
			nodes = nodes[:0]
		}
	}
	if len(nodes) > 0 {
		g.Add(nodes...)
	}

	metrics.CandidateIndexBuildSeconds.Observe(time.Since(start).Seconds())
	return x, nil
}

// Len returns the number of indexed entries.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.graph.Len()
}

// Candidates returns up to k corpus indices near query, in ascending index
// order. A query of the wrong dimension has no candidates.
func (x *Index) Candidates(query core.Embedding, k int) []int {
	if k <= 0 || len(query) != x.dim {
		return nil
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.graph.Len() == 0 {
		return nil
	}

	nodes := x.graph.Search([]float32(query), k)
	out := make([]int, len(nodes))
	for i, n := range nodes {
		out[i] = n.Key
	}
	sort.Ints(out)
	return out
}

// Package similarity scores a query embedding against the reference corpus
// with cosine similarity.
package similarity

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/brittybidari/FashionRecSys/internal/core"
	"github.com/brittybidari/FashionRecSys/internal/corpus"
	fserrors "github.com/brittybidari/FashionRecSys/internal/errors"
	"github.com/brittybidari/FashionRecSys/internal/vecmath"
)

// DefaultChunkSize is the number of corpus rows scored per goroutine.
const DefaultChunkSize = 2048

// Options tunes parallel scoring.
type Options struct {
	ChunkSize   int
	Parallelism int
}

// Row holds the similarities of a query against every corpus entry plus
// itself. Entry i < M is corpus entry i; entry M is the query.
type Row struct {
	scores []float64
}

// Len returns M+1.
func (r Row) Len() int { return len(r.scores) }

// SelfIndex is the position of the query's own score.
func (r Row) SelfIndex() int { return len(r.scores) - 1 }

// Score returns entry i.
func (r Row) Score(i int) float64 { return r.scores[i] }

// Scores exposes the row. Callers must not modify it.
func (r Row) Scores() []float64 { return r.scores }

// Engine computes similarity rows over one immutable corpus.
type Engine struct {
	corpus      *corpus.Corpus
	chunkSize   int
	parallelism int
}

// NewEngine creates an Engine over c.
func NewEngine(c *corpus.Corpus, opts Options) *Engine {
	chunk := opts.ChunkSize
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	par := opts.Parallelism
	if par <= 0 {
		par = runtime.GOMAXPROCS(0)
	}
	return &Engine{corpus: c, chunkSize: chunk, parallelism: par}
}

// Corpus returns the corpus the engine scores against.
func (e *Engine) Corpus() *corpus.Corpus { return e.corpus }

// Check reports whether query can be scored against the corpus: it must have
// the corpus dimension and only finite values.
func (e *Engine) Check(query core.Embedding) error {
	if e.corpus.Len() > 0 && len(query) != e.corpus.Dim() {
		return fserrors.NewComputationError("similarity.Compute",
			fmt.Sprintf("query has dimension %d, corpus has %d", len(query), e.corpus.Dim())).
			WithContext("query_dim", len(query)).
			WithContext("corpus_dim", e.corpus.Dim())
	}
	if !vecmath.AllFinite(query) {
		return fserrors.NewComputationError("similarity.Compute", "query contains non-finite values")
	}
	return nil
}

func (e *Engine) score(query core.Embedding, qnorm float64, i int) (float64, error) {
	s, err := vecmath.CosineWithNorms(query, e.corpus.Vector(i), qnorm, e.corpus.Norm(i))
	if err != nil {
		return 0, fserrors.WrapComputationError(err, "similarity.Compute", "cosine").WithContext("index", i)
	}
	if !vecmath.IsFinite(s) {
		return 0, fserrors.NewComputationError("similarity.Compute",
			fmt.Sprintf("non-finite similarity at index %d", i)).WithContext("index", i)
	}
	return s, nil
}

// Compute returns the query's row of the corpus-plus-query similarity
// matrix without building the matrix. The result is identical whether
// chunks run in parallel or not.
func (e *Engine) Compute(ctx context.Context, query core.Embedding) (Row, error) {
	if err := e.Check(query); err != nil {
		return Row{}, err
	}

	m := e.corpus.Len()
	qnorm := vecmath.Norm(query)
	scores := make([]float64, m+1)

	scoreRange := func(lo, hi int) error {
		for i := lo; i < hi; i++ {
			s, err := e.score(query, qnorm, i)
			if err != nil {
				return err
			}
			scores[i] = s
		}
		return nil
	}

	if m <= e.chunkSize || e.parallelism == 1 {
		if err := ctx.Err(); err != nil {
			return Row{}, fserrors.WrapTimeoutError(err, "similarity.Compute", "request cancelled")
		}
		if err := scoreRange(0, m); err != nil {
			return Row{}, err
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.parallelism)
		for lo := 0; lo < m; lo += e.chunkSize {
			lo, hi := lo, min(lo+e.chunkSize, m)
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return fserrors.WrapTimeoutError(err, "similarity.Compute", "request cancelled")
				}
				return scoreRange(lo, hi)
			})
		}
		if err := g.Wait(); err != nil {
			return Row{}, err
		}
	}

	self, err := vecmath.CosineWithNorms(query, query, qnorm, qnorm)
	if err != nil {
		return Row{}, fserrors.WrapComputationError(err, "similarity.Compute", "self similarity")
	}
	scores[m] = self
	return Row{scores: scores}, nil
}

// Scores returns the similarity of query to each listed corpus index.
func (e *Engine) Scores(ctx context.Context, query core.Embedding, indices []int) ([]float64, error) {
	if err := e.Check(query); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fserrors.WrapTimeoutError(err, "similarity.Scores", "request cancelled")
	}
	qnorm := vecmath.Norm(query)
	out := make([]float64, len(indices))
	for k, i := range indices {
		if i < 0 || i >= e.corpus.Len() {
			return nil, fserrors.NewComputationError("similarity.Scores",
				fmt.Sprintf("candidate index %d out of range", i))
		}
		s, err := e.score(query, qnorm, i)
		if err != nil {
			return nil, err
		}
		out[k] = s
	}
	return out, nil
}

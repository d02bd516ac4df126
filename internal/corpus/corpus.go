// Package corpus holds the immutable reference corpus: catalog embeddings
// index-aligned with the filenames they were extracted from.
package corpus

import (
	"fmt"

	"github.com/brittybidari/FashionRecSys/internal/core"
	fserrors "github.com/brittybidari/FashionRecSys/internal/errors"
	"github.com/brittybidari/FashionRecSys/internal/vecmath"
)

// Corpus is the ordered set of reference embeddings. Index i of the vectors
// is index i of the filenames. A Corpus never changes after New returns and
// is safe for concurrent readers.
type Corpus struct {
	vectors   []core.Embedding
	filenames []string
	norms     []float64
	dim       int
	zeroNorms int
}

// New validates and copies vectors and filenames into a Corpus.
func New(vectors []core.Embedding, filenames []string) (*Corpus, error) {
	if len(vectors) != len(filenames) {
		return nil, fserrors.NewCorpusIntegrityError("corpus.New",
			fmt.Sprintf("%d embeddings but %d filenames", len(vectors), len(filenames))).
			WithContext("vectors", len(vectors)).
			WithContext("filenames", len(filenames))
	}

	c := &Corpus{
		vectors:   make([]core.Embedding, len(vectors)),
		filenames: make([]string, len(filenames)),
		norms:     make([]float64, len(vectors)),
	}
	if len(vectors) > 0 {
		c.dim = len(vectors[0])
		if c.dim == 0 {
			return nil, fserrors.NewCorpusIntegrityError("corpus.New", "embeddings have zero dimension")
		}
	}

	for i, v := range vectors {
		if len(v) != c.dim {
			return nil, fserrors.NewCorpusIntegrityError("corpus.New",
				fmt.Sprintf("embedding %d has dimension %d, want %d", i, len(v), c.dim)).
				WithContext("index", i)
		}
		if !vecmath.AllFinite(v) {
			return nil, fserrors.NewCorpusIntegrityError("corpus.New",
				fmt.Sprintf("embedding %d contains non-finite values", i)).
				WithContext("index", i)
		}
		if filenames[i] == "" {
			return nil, fserrors.NewCorpusIntegrityError("corpus.New",
				fmt.Sprintf("filename %d is empty", i)).
				WithContext("index", i)
		}
		c.vectors[i] = v.Clone()
		c.filenames[i] = filenames[i]
		c.norms[i] = vecmath.Norm(v)
		if c.norms[i] == 0 {
			c.zeroNorms++
		}
	}
	return c, nil
}

// Len returns the number of entries.
func (c *Corpus) Len() int { return len(c.vectors) }

// Dim returns the embedding dimension, 0 for an empty corpus.
func (c *Corpus) Dim() int { return c.dim }

// Vector returns embedding i. Callers must not modify it.
func (c *Corpus) Vector(i int) core.Embedding { return c.vectors[i] }

// Filename returns the catalog filename for entry i.
func (c *Corpus) Filename(i int) string { return c.filenames[i] }

// Norm returns the precomputed L2 norm of embedding i.
func (c *Corpus) Norm(i int) float64 { return c.norms[i] }

// ZeroNorms counts embeddings whose norm is zero.
func (c *Corpus) ZeroNorms() int { return c.zeroNorms }

// Filenames returns a copy of the filename sequence.
func (c *Corpus) Filenames() []string {
	out := make([]string, len(c.filenames))
	copy(out, c.filenames)
	return out
}

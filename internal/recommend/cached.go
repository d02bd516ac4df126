package recommend

import (
	"bytes"
	"context"
	"io"

	"github.com/brittybidari/FashionRecSys/internal/cache"
	"github.com/brittybidari/FashionRecSys/internal/core"
	fserrors "github.com/brittybidari/FashionRecSys/internal/errors"
)

// CachedEmbedder memoizes an Embedder by upload content. Failed extractions
// are not cached.
type CachedEmbedder struct {
	Embedder Embedder
	Cache    *cache.EmbeddingCache
}

func (c CachedEmbedder) Extract(ctx context.Context, r io.Reader) (core.Embedding, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fserrors.WrapImageDecodeError(err, "recommend.read", "failed to read upload")
	}
	key := cache.KeyOf(data)
	if v, ok := c.Cache.Get(key); ok {
		return v, nil
	}
	v, err := c.Embedder.Extract(ctx, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	c.Cache.Put(key, v)
	return v, nil
}

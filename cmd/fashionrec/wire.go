package main

import (
	"context"
	"fmt"
	"time"

	"github.com/brittybidari/FashionRecSys/internal/ann"
	"github.com/brittybidari/FashionRecSys/internal/breaker"
	"github.com/brittybidari/FashionRecSys/internal/cache"
	"github.com/brittybidari/FashionRecSys/internal/core"
	"github.com/brittybidari/FashionRecSys/internal/corpus"
	"github.com/brittybidari/FashionRecSys/internal/extractor"
	"github.com/brittybidari/FashionRecSys/internal/recommend"
	"github.com/brittybidari/FashionRecSys/internal/similarity"
	"github.com/brittybidari/FashionRecSys/internal/storage"
)

// openDir opens a URI naming a directory or key prefix.
func (a *cli) openDir(ctx context.Context, uri string) (storage.BlobStore, error) {
	loc, err := storage.ParseLocation(uri)
	if err != nil {
		return nil, err
	}
	return storage.Open(ctx, loc, a.cfg.S3)
}

// openObject opens the store holding the object named by uri and returns
// the object's key within it.
func (a *cli) openObject(ctx context.Context, uri string) (storage.BlobStore, string, error) {
	loc, err := storage.ParseLocation(uri)
	if err != nil {
		return nil, "", err
	}
	parent, key := loc.Split()
	if key == "" {
		return nil, "", fmt.Errorf("%q does not name an object", uri)
	}
	store, err := storage.Open(ctx, parent, a.cfg.S3)
	if err != nil {
		return nil, "", err
	}
	return store, key, nil
}

// loadCorpus reads the feature matrix and returns it with the catalog store
// that serves its images.
func (a *cli) loadCorpus(ctx context.Context) (*corpus.Corpus, storage.BlobStore, error) {
	catalog, err := a.openDir(ctx, a.cfg.CatalogURI)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	store, key, err := a.openObject(ctx, a.cfg.CorpusURI)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open corpus: %w", err)
	}
	format, _ := corpus.ParseFormat(a.cfg.CorpusFormat)

	start := time.Now()
	c, err := corpus.Load(ctx, store, corpus.LoadOptions{
		Key:            key,
		Format:         format,
		Manifest:       a.cfg.CorpusManifest,
		Catalog:        catalog,
		CatalogPattern: a.cfg.CatalogPattern,
		AllowEmpty:     a.cfg.AllowEmptyCorpus,
	})
	if err != nil {
		return nil, nil, err
	}
	a.logger.Info().
		Str("corpus", a.cfg.CorpusURI).
		Str("catalog", catalog.String()).
		Int("size", c.Len()).
		Int("dimension", c.Dim()).
		Int("zero_norm_vectors", c.ZeroNorms()).
		Dur("elapsed", time.Since(start)).
		Msg("Loaded reference corpus")
	if c.ZeroNorms() > 0 {
		a.logger.Warn().Int("count", c.ZeroNorms()).Msg("Corpus has zero-norm vectors; they score 0 against every query")
	}
	return c, catalog, nil
}

// buildModel returns the configured backend. Remote backends are wrapped in
// a circuit breaker unless MODEL_BREAKER_FAILURES is 0.
func (a *cli) buildModel(ctx context.Context) (extractor.Model, error) {
	backend, err := extractor.ParseBackend(a.cfg.ModelBackend)
	if err != nil {
		return nil, err
	}
	var model extractor.Model
	switch backend {
	case extractor.BackendHTTP:
		model = extractor.NewHTTPModel(a.cfg.ModelEndpoint, a.cfg.ModelTimeout, a.cfg.ModelInstances)
	case extractor.BackendSageMaker:
		if model, err = extractor.NewSageMakerModel(ctx, a.cfg.SageMakerEndpoint, a.cfg.AWSRegion); err != nil {
			return nil, err
		}
	default:
		return extractor.IdentityModel{}, nil
	}
	if a.cfg.ModelBreakerFailures == 0 {
		return model, nil
	}
	logger := a.logger
	return extractor.Guard(model, breaker.Settings{
		FailureThreshold: a.cfg.ModelBreakerFailures,
		Cooldown:         a.cfg.ModelBreakerCooldown,
		OnStateChange: func(name string, from, to breaker.State) {
			logger.Warn().Str("backend", name).Stringer("from", from).Stringer("to", to).Msg("Model circuit breaker changed state")
		},
	}), nil
}

// buildExtractor wires preprocessing and the model. A positive dim rejects
// embeddings of any other size.
func (a *cli) buildExtractor(ctx context.Context, dim int) (*extractor.Extractor, error) {
	model, err := a.buildModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build model: %w", err)
	}
	return extractor.New(a.cfg.Preprocessor(), model, extractor.Options{
		Timeout:     a.cfg.ExtractTimeout,
		ExpectedDim: dim,
		MaxPixels:   a.cfg.MaxImagePixels,
		Logger:      a.logger.With().Str("component", "extractor").Logger(),
	})
}

// buildService wires the full recommendation pipeline over c.
func (a *cli) buildService(ctx context.Context, c *corpus.Corpus) (*recommend.Service, *extractor.Extractor, error) {
	ex, err := a.buildExtractor(ctx, c.Dim())
	if err != nil {
		return nil, nil, err
	}

	rcfg := a.cfg.RecommendConfig()
	var emb recommend.Embedder = ex
	if a.cfg.EmbeddingCacheSize > 0 {
		emb = recommend.CachedEmbedder{
			Embedder: ex,
			Cache:    cache.NewEmbeddingCache(a.cfg.EmbeddingCacheSize, a.cfg.EmbeddingCacheTTL),
		}
	}
	deps := recommend.Deps{
		Embedder: emb,
		Engine: similarity.NewEngine(c, similarity.Options{
			ChunkSize:   a.cfg.SimilarityChunk,
			Parallelism: a.cfg.SimilarityWorkers,
		}),
		Logger: a.logger.With().Str("component", "recommend").Logger(),
	}
	if rcfg.Mode == core.RankingHNSW {
		idx, err := ann.Build(ctx, c, a.cfg.IndexOptions())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to build candidate index: %w", err)
		}
		a.logger.Info().Int("nodes", idx.Len()).Int("candidate_pool", rcfg.CandidatePool).Msg("Built candidate index")
		deps.Index = idx
	}

	svc, err := recommend.New(deps, rcfg)
	if err != nil {
		return nil, nil, err
	}
	return svc, ex, nil
}

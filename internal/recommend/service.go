// Package recommend runs one recommendation end to end: embed the upload,
// score it against the corpus and map the top matches to filenames.
package recommend

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/brittybidari/FashionRecSys/internal/ann"
	"github.com/brittybidari/FashionRecSys/internal/core"
	"github.com/brittybidari/FashionRecSys/internal/corpus"
	fserrors "github.com/brittybidari/FashionRecSys/internal/errors"
	"github.com/brittybidari/FashionRecSys/internal/metrics"
	"github.com/brittybidari/FashionRecSys/internal/ranking"
	"github.com/brittybidari/FashionRecSys/internal/similarity"
	"github.com/brittybidari/FashionRecSys/internal/telemetry"
)

const (
	DefaultTopN          = 5
	DefaultMaxTopN       = 100
	DefaultCandidatePool = 100
)

// Embedder turns an encoded image into an embedding.
type Embedder interface {
	Extract(ctx context.Context, r io.Reader) (core.Embedding, error)
}

// Config holds per-request policy.
type Config struct {
	DefaultTopN   int
	MaxTopN       int
	Ranking       ranking.Options
	Mode          core.RankingMode
	CandidatePool int
}

// DefaultConfig returns exact ranking of the top 5.
func DefaultConfig() Config {
	return Config{
		DefaultTopN:   DefaultTopN,
		MaxTopN:       DefaultMaxTopN,
		Mode:          core.RankingExact,
		CandidatePool: DefaultCandidatePool,
	}
}

// Deps are the long-lived collaborators built once at startup.
type Deps struct {
	Embedder Embedder
	Engine   *similarity.Engine
	Index    *ann.Index // required for core.RankingHNSW
	Logger   zerolog.Logger
}

// Result is an ordered recommendation list.
type Result struct {
	Filenames []string
	Matches   []core.Recommendation
}

// Service holds the extractor, corpus and ranking policy for all requests.
// It has no mutable state and is safe for concurrent use.
type Service struct {
	embedder Embedder
	engine   *similarity.Engine
	corpus   *corpus.Corpus
	index    *ann.Index
	cfg      Config
	logger   zerolog.Logger
	tracer   trace.Tracer
}

// New validates cfg and wires the service.
func New(deps Deps, cfg Config) (*Service, error) {
	if deps.Embedder == nil || deps.Engine == nil {
		return nil, fserrors.NewConfigurationError("recommend.New", "embedder and engine are required")
	}
	if cfg.DefaultTopN <= 0 {
		cfg.DefaultTopN = DefaultTopN
	}
	if cfg.MaxTopN <= 0 {
		cfg.MaxTopN = DefaultMaxTopN
	}
	if cfg.DefaultTopN > cfg.MaxTopN {
		return nil, fserrors.NewConfigurationError("recommend.New",
			fmt.Sprintf("default top_n %d exceeds max %d", cfg.DefaultTopN, cfg.MaxTopN))
	}
	if cfg.Mode == "" {
		cfg.Mode = core.RankingExact
	}
	if cfg.CandidatePool <= 0 {
		cfg.CandidatePool = DefaultCandidatePool
	}
	if cfg.Mode == core.RankingHNSW && deps.Index == nil {
		return nil, fserrors.NewConfigurationError("recommend.New", "hnsw ranking needs a candidate index")
	}

	return &Service{
		embedder: deps.Embedder,
		engine:   deps.Engine,
		corpus:   deps.Engine.Corpus(),
		index:    deps.Index,
		cfg:      cfg,
		logger:   deps.Logger,
		tracer:   telemetry.Tracer("fashionrec/recommend"),
	}, nil
}

// Corpus returns the reference corpus.
func (s *Service) Corpus() *corpus.Corpus { return s.corpus }

// Config returns the effective configuration.
func (s *Service) Config() Config { return s.cfg }

// ResolveTopN applies the default and the cap to a requested count.
func (s *Service) ResolveTopN(n int) int {
	if n <= 0 {
		return s.cfg.DefaultTopN
	}
	if n > s.cfg.MaxTopN {
		return s.cfg.MaxTopN
	}
	return n
}

// Recommend embeds the image in r and returns up to n similar catalog
// entries; n <= 0 means the configured default. Failures are image decode
// errors for anything the extractor rejects and computation errors
// otherwise. A failed request never returns partial results.
func (s *Service) Recommend(ctx context.Context, r io.Reader, n int) (*Result, error) {
	start := time.Now()
	n = s.ResolveTopN(n)

	ctx, span := s.tracer.Start(ctx, "recommend",
		trace.WithAttributes(
			attribute.Int("top_n", n),
			attribute.Int("corpus.size", s.corpus.Len()),
			attribute.String("ranking.mode", string(s.cfg.Mode)),
		))
	defer span.End()

	res, err := s.recommend(ctx, r, n)
	metrics.RecommendDurationSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "recommendation failed")
		if fserrors.IsImageDecode(err) {
			metrics.RecommendRequestsTotal.WithLabelValues("image_error").Inc()
		} else {
			metrics.RecommendRequestsTotal.WithLabelValues("error").Inc()
		}
		return nil, err
	}
	metrics.RecommendRequestsTotal.WithLabelValues("ok").Inc()
	span.SetAttributes(attribute.Int("results", len(res.Filenames)))
	return res, nil
}

func (s *Service) recommend(ctx context.Context, r io.Reader, n int) (*Result, error) {
	query, err := s.extract(ctx, r)
	if err != nil {
		return nil, err
	}
	return s.Rank(ctx, query, n)
}

func (s *Service) extract(ctx context.Context, r io.Reader) (core.Embedding, error) {
	ctx, span := s.tracer.Start(ctx, "extract")
	defer span.End()

	start := time.Now()
	query, err := s.embedder.Extract(ctx, r)
	metrics.StageDurationSeconds.WithLabelValues("extract").Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		switch {
		case fserrors.IsImageDecode(err):
			return nil, err
		case fserrors.IsComputation(err):
			metrics.ComputationErrorsTotal.WithLabelValues("extract").Inc()
			return nil, err
		default:
			return nil, fserrors.WrapImageDecodeError(err, "recommend.extract", "feature extraction failed")
		}
	}
	span.SetAttributes(attribute.Int("embedding.dim", len(query)))
	return query, nil
}

// Rank scores an embedding against the corpus and returns up to n matches.
func (s *Service) Rank(ctx context.Context, query core.Embedding, n int) (*Result, error) {
	n = s.ResolveTopN(n)

	var (
		matches []core.Match
		err     error
	)
	if s.cfg.Mode == core.RankingHNSW {
		matches, err = s.rankCandidates(ctx, query, n)
	} else {
		matches, err = s.rankExact(ctx, query, n)
	}
	if err != nil {
		return nil, err
	}

	res := &Result{
		Filenames: make([]string, len(matches)),
		Matches:   make([]core.Recommendation, len(matches)),
	}
	for i, m := range matches {
		name := s.corpus.Filename(m.Index)
		res.Filenames[i] = name
		res.Matches[i] = core.Recommendation{Filename: name, Index: m.Index, Score: m.Score}
	}

	ev := s.logger.Debug().Int("top_n", n).Strs("recommended", res.Filenames)
	if len(matches) > 0 {
		ev = ev.Float64("best_score", matches[0].Score).Float64("worst_score", matches[len(matches)-1].Score)
	}
	ev.Msg("Ranked recommendations")
	return res, nil
}

func (s *Service) rankExact(ctx context.Context, query core.Embedding, n int) ([]core.Match, error) {
	simCtx, span := s.tracer.Start(ctx, "similarity")
	start := time.Now()
	row, err := s.engine.Compute(simCtx, query)
	metrics.StageDurationSeconds.WithLabelValues("similarity").Observe(time.Since(start).Seconds())
	span.End()
	if err != nil {
		return nil, s.computationFailure("similarity", err)
	}

	_, span = s.tracer.Start(ctx, "rank")
	start = time.Now()
	matches := ranking.TopN(row.Scores(), n, row.SelfIndex(), s.cfg.Ranking)
	metrics.StageDurationSeconds.WithLabelValues("rank").Observe(time.Since(start).Seconds())
	span.SetAttributes(attribute.Int("row.len", row.Len()), attribute.Float64("self.score", row.Score(row.SelfIndex())))
	span.End()
	return matches, nil
}

func (s *Service) rankCandidates(ctx context.Context, query core.Embedding, n int) ([]core.Match, error) {
	simCtx, span := s.tracer.Start(ctx, "similarity")
	start := time.Now()
	// the graph search does not tolerate a query of the wrong dimension
	if err := s.engine.Check(query); err != nil {
		span.End()
		return nil, s.computationFailure("similarity", err)
	}
	pool := max(s.cfg.CandidatePool, n)
	candidates := s.index.Candidates(query, pool)
	scores, err := s.engine.Scores(simCtx, query, candidates)
	metrics.StageDurationSeconds.WithLabelValues("similarity").Observe(time.Since(start).Seconds())
	span.SetAttributes(attribute.Int("candidates", len(candidates)))
	span.End()
	if err != nil {
		return nil, s.computationFailure("similarity", err)
	}

	_, span = s.tracer.Start(ctx, "rank")
	start = time.Now()
	matches := ranking.TopNSubset(candidates, scores, n, s.cfg.Ranking)
	metrics.StageDurationSeconds.WithLabelValues("rank").Observe(time.Since(start).Seconds())
	span.End()
	return matches, nil
}

func (s *Service) computationFailure(stage string, err error) error {
	metrics.ComputationErrorsTotal.WithLabelValues(stage).Inc()
	if fserrors.IsComputation(err) {
		return err
	}
	return fserrors.WrapComputationError(err, "recommend."+stage, "scoring failed")
}

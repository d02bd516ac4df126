// Package extractor turns uploaded images into embeddings: decode, resize
// and normalise, then run the feature model.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/brittybidari/FashionRecSys/internal/core"
	fserrors "github.com/brittybidari/FashionRecSys/internal/errors"
	"github.com/brittybidari/FashionRecSys/internal/metrics"
	"github.com/brittybidari/FashionRecSys/internal/vecmath"
)

// DefaultTimeout bounds a single model call.
const DefaultTimeout = 10 * time.Second

// Options tunes an Extractor.
type Options struct {
	Timeout time.Duration
	// ExpectedDim rejects model outputs of any other length. 0 disables.
	ExpectedDim int
	// MaxPixels rejects uploads whose declared size exceeds it. 0 means
	// DefaultMaxPixels.
	MaxPixels int
	Logger    zerolog.Logger
}

// Extractor runs the decode, preprocess and predict pipeline.
type Extractor struct {
	pre         Preprocessor
	model       Model
	timeout     time.Duration
	expectedDim int
	maxPixels   int
	logger      zerolog.Logger
}

// New creates an Extractor.
func New(pre Preprocessor, model Model, opts Options) (*Extractor, error) {
	if err := pre.Validate(); err != nil {
		return nil, fserrors.WrapConfigurationError(err, "extractor.New", "invalid preprocessing")
	}
	if model == nil {
		return nil, fserrors.NewConfigurationError("extractor.New", "model is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Extractor{
		pre:         pre,
		model:       model,
		timeout:     timeout,
		expectedDim: opts.ExpectedDim,
		maxPixels:   opts.MaxPixels,
		logger:      opts.Logger,
	}, nil
}

// Preprocessor returns the preprocessing configuration.
func (e *Extractor) Preprocessor() Preprocessor { return e.pre }

// Model returns the model the extractor calls.
func (e *Extractor) Model() Model { return e.model }

// ModelName returns the model backend name.
func (e *Extractor) ModelName() string { return e.model.Name() }

// WithExpectedDim returns a copy that enforces dim on model output.
func (e *Extractor) WithExpectedDim(dim int) *Extractor {
	cp := *e
	cp.expectedDim = dim
	return &cp
}

// Extract decodes r and returns its embedding. It reads r and nothing else.
// The extractor timeout bounds the whole call; stages are not started once
// it has passed.
func (e *Extractor) Extract(ctx context.Context, r io.Reader) (core.Embedding, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	if err := e.checkDeadline(ctx, "decode"); err != nil {
		return nil, err
	}

	start := time.Now()
	img, format, err := Decode(r, e.maxPixels)
	metrics.StageDurationSeconds.WithLabelValues("decode").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ImageDecodeFailuresTotal.Inc()
		return nil, err
	}
	e.logger.Debug().
		Str("format", format).
		Int("width", img.Bounds().Dx()).
		Int("height", img.Bounds().Dy()).
		Msg("Decoded image")
	return e.ExtractImage(ctx, img)
}

// checkDeadline fails with a timeout error once ctx is done.
func (e *Extractor) checkDeadline(ctx context.Context, stage string) error {
	if err := ctx.Err(); err != nil {
		return fserrors.WrapTimeoutError(err, "extractor."+stage, "extraction deadline passed").
			WithContext("timeout", e.timeout.String())
	}
	return nil
}

// ExtractImage embeds an already decoded image.
func (e *Extractor) ExtractImage(ctx context.Context, img image.Image) (core.Embedding, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	if err := e.checkDeadline(ctx, "preprocess"); err != nil {
		return nil, err
	}

	start := time.Now()
	tensor := e.pre.Process(img)
	metrics.StageDurationSeconds.WithLabelValues("preprocess").Observe(time.Since(start).Seconds())
	if err := e.checkDeadline(ctx, "predict"); err != nil {
		return nil, err
	}

	start = time.Now()
	out, err := e.model.Predict(ctx, tensor)
	metrics.StageDurationSeconds.WithLabelValues("predict").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ModelPredictionsTotal.WithLabelValues(e.model.Name(), "error").Inc()
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fserrors.WrapTimeoutError(err, "extractor.Predict", "model call timed out").
				WithContext("timeout", e.timeout.String())
		}
		return nil, fserrors.WrapNetworkError(err, "extractor.Predict", "model call failed").
			WithContext("backend", e.model.Name())
	}
	metrics.ModelPredictionsTotal.WithLabelValues(e.model.Name(), "ok").Inc()

	if e.expectedDim > 0 && len(out) != e.expectedDim {
		return nil, fserrors.NewComputationError("extractor.Predict",
			fmt.Sprintf("model returned %d dimensions, corpus has %d", len(out), e.expectedDim))
	}
	if !vecmath.AllFinite(out) {
		return nil, fserrors.NewComputationError("extractor.Predict", "model returned non-finite values")
	}
	return core.Embedding(out), nil
}

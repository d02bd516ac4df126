package health

import (
	"context"
	"time"

	"github.com/brittybidari/FashionRecSys/internal/breaker"
	"github.com/brittybidari/FashionRecSys/internal/corpus"
	"github.com/brittybidari/FashionRecSys/internal/storage"
)

// CorpusChecker reports on the loaded reference corpus.
type CorpusChecker struct {
	corpus *corpus.Corpus
}

func NewCorpusChecker(c *corpus.Corpus) *CorpusChecker {
	return &CorpusChecker{corpus: c}
}

func (cc *CorpusChecker) Name() string { return "corpus" }

func (cc *CorpusChecker) Check(_ context.Context) *ComponentHealth {
	h := &ComponentHealth{Name: cc.Name(), LastChecked: time.Now()}
	switch {
	case cc.corpus == nil:
		h.Status = StatusUnhealthy
		h.Message = "corpus not loaded"
	case cc.corpus.Len() == 0:
		h.Status = StatusDegraded
		h.Message = "corpus is empty; recommendations will be empty"
	default:
		h.Status = StatusHealthy
		h.Message = "corpus loaded"
	}
	if cc.corpus != nil {
		h.Metadata = map[string]interface{}{
			"size":              cc.corpus.Len(),
			"dimension":         cc.corpus.Dim(),
			"zero_norm_vectors": cc.corpus.ZeroNorms(),
		}
	}
	return h
}

// CatalogChecker verifies the image store serves the first corpus entry.
type CatalogChecker struct {
	store  storage.BlobStore
	corpus *corpus.Corpus
}

func NewCatalogChecker(store storage.BlobStore, c *corpus.Corpus) *CatalogChecker {
	return &CatalogChecker{store: store, corpus: c}
}

func (cc *CatalogChecker) Name() string { return "catalog" }

func (cc *CatalogChecker) Check(ctx context.Context) *ComponentHealth {
	h := &ComponentHealth{
		Name:        cc.Name(),
		Status:      StatusHealthy,
		Message:     "catalog reachable",
		LastChecked: time.Now(),
		Metadata:    map[string]interface{}{"location": cc.store.String()},
	}
	if cc.corpus == nil || cc.corpus.Len() == 0 {
		return h
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	start := time.Now()
	sample := cc.corpus.Filename(0)
	_, err := cc.store.Stat(ctx, sample)
	h.Metadata["response_time_ms"] = time.Since(start).Milliseconds()
	switch {
	case err == nil:
	case storage.IsNotFoundError(err):
		h.Status = StatusDegraded
		h.Message = "catalog is missing " + sample
	default:
		h.Status = StatusUnhealthy
		h.Message = err.Error()
	}
	return h
}

// ModelChecker reports the configured feature model backend and, for remote
// backends, its circuit breaker.
type ModelChecker struct {
	backend string
	breaker *breaker.CircuitBreaker
}

func NewModelChecker(backend string) *ModelChecker {
	return &ModelChecker{backend: backend}
}

// WithBreaker reports the model degraded while b is not closed.
func (mc *ModelChecker) WithBreaker(b *breaker.CircuitBreaker) *ModelChecker {
	mc.breaker = b
	return mc
}

func (mc *ModelChecker) Name() string { return "model" }

func (mc *ModelChecker) Check(_ context.Context) *ComponentHealth {
	h := &ComponentHealth{
		Name:        mc.Name(),
		Status:      StatusHealthy,
		Message:     "model configured",
		LastChecked: time.Now(),
		Metadata:    map[string]interface{}{"backend": mc.backend},
	}
	if mc.breaker != nil {
		state := mc.breaker.State()
		h.Metadata["breaker"] = state.String()
		if state != breaker.StateClosed {
			h.Status = StatusDegraded
			h.Message = "model backend failing; circuit breaker " + state.String()
		}
	}
	return h
}

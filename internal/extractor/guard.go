package extractor

import (
	"context"

	"github.com/brittybidari/FashionRecSys/internal/breaker"
)

// GuardedModel routes Predict through a circuit breaker so a failing remote
// backend is failed fast instead of holding every upload for the full
// model timeout.
type GuardedModel struct {
	Model   Model
	Breaker *breaker.CircuitBreaker
}

// Guard wraps m with a breaker named after its backend.
func Guard(m Model, st breaker.Settings) *GuardedModel {
	if st.Name == "" {
		st.Name = m.Name()
	}
	return &GuardedModel{Model: m, Breaker: breaker.New(st)}
}

func (g *GuardedModel) Name() string { return g.Model.Name() }

func (g *GuardedModel) Predict(ctx context.Context, t Tensor) ([]float32, error) {
	var out []float32
	err := g.Breaker.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = g.Model.Predict(ctx, t)
		return err
	})
	return out, err
}

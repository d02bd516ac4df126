package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/brittybidari/FashionRecSys/internal/metrics"
)

// State is the position of a CircuitBreaker in its closed/open/half-open cycle.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned without calling through while the breaker is open.
var ErrOpen = errors.New("circuit breaker is open")

// Settings configures a CircuitBreaker.
type Settings struct {
	Name string
	// FailureThreshold consecutive failures trip the breaker.
	FailureThreshold int
	// Cooldown is how long the breaker stays open before admitting a probe.
	Cooldown time.Duration
	// HalfOpenProbes is the number of concurrent calls admitted while half-open.
	HalfOpenProbes int
	OnStateChange  func(name string, from, to State)
}

// CircuitBreaker fails calls fast after a run of consecutive failures and
// lets a limited number of probes through once the cooldown has elapsed.
type CircuitBreaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	probes    int
	onChange  func(name string, from, to State)
	now       func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	inFlight int
	openedAt time.Time
}

// New builds a closed breaker. Zero settings fall back to five failures,
// a 30s cooldown and one probe.
func New(st Settings) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:      st.Name,
		threshold: st.FailureThreshold,
		cooldown:  st.Cooldown,
		probes:    st.HalfOpenProbes,
		onChange:  st.OnStateChange,
		now:       time.Now,
	}
	if cb.threshold <= 0 {
		cb.threshold = 5
	}
	if cb.cooldown <= 0 {
		cb.cooldown = 30 * time.Second
	}
	if cb.probes <= 0 {
		cb.probes = 1
	}
	metrics.ModelBreakerState.WithLabelValues(cb.name).Set(float64(StateClosed))
	return cb
}

func (cb *CircuitBreaker) Name() string { return cb.name }

// State reports the current state, moving an expired open breaker to half-open.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	st, notify := cb.current()
	cb.mu.Unlock()
	notify()
	return st
}

func (cb *CircuitBreaker) current() (State, func()) {
	notify := noop
	if cb.state == StateOpen && !cb.now().Before(cb.openedAt.Add(cb.cooldown)) {
		notify = cb.transition(StateHalfOpen)
	}
	return cb.state, notify
}

func noop() {}

// transition must be called with cb.mu held. The returned func runs the
// OnStateChange callback and must be called after cb.mu is released.
func (cb *CircuitBreaker) transition(to State) func() {
	if cb.state == to {
		return noop
	}
	from := cb.state
	cb.state = to
	cb.failures = 0
	if to == StateOpen {
		cb.openedAt = cb.now()
	}
	metrics.ModelBreakerState.WithLabelValues(cb.name).Set(float64(to))
	metrics.ModelBreakerTransitionsTotal.WithLabelValues(cb.name, to.String()).Inc()
	if cb.onChange == nil {
		return noop
	}
	return func() { cb.onChange(cb.name, from, to) }
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	st, notify := cb.current()
	err := cb.admitLocked(st)
	cb.mu.Unlock()
	notify()
	return err
}

func (cb *CircuitBreaker) admitLocked(st State) error {
	switch st {
	case StateOpen:
		metrics.ModelBreakerRejectionsTotal.WithLabelValues(cb.name).Inc()
		return ErrOpen
	case StateHalfOpen:
		if cb.inFlight >= cb.probes {
			metrics.ModelBreakerRejectionsTotal.WithLabelValues(cb.name).Inc()
			return ErrOpen
		}
	}
	cb.inFlight++
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	notify := cb.recordLocked(err)
	cb.mu.Unlock()
	notify()
}

func (cb *CircuitBreaker) recordLocked(err error) func() {
	cb.inFlight--

	// a caller giving up says nothing about the backend
	if errors.Is(err, context.Canceled) {
		return noop
	}
	if err == nil {
		notify := noop
		if cb.state == StateHalfOpen {
			notify = cb.transition(StateClosed)
		}
		cb.failures = 0
		return notify
	}
	switch cb.state {
	case StateHalfOpen:
		return cb.transition(StateOpen)
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.threshold {
			return cb.transition(StateOpen)
		}
	}
	return noop
}

// Do runs fn if the breaker admits it and records the outcome.
func (cb *CircuitBreaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.record(err)
	return err
}

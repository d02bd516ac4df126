package health

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/brittybidari/FashionRecSys/internal/metrics"
)

// HealthStatus represents the health status of a component
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusDegraded  HealthStatus = "degraded"
	StatusUnhealthy HealthStatus = "unhealthy"
)

// ServiceName is the gRPC health service name reported alongside "".
const ServiceName = "fashionrec.Recommender"

// ComponentHealth represents the health of a single component
type ComponentHealth struct {
	Name        string                 `json:"name"`
	Status      HealthStatus           `json:"status"`
	Message     string                 `json:"message,omitempty"`
	LastChecked time.Time              `json:"last_checked"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// SystemHealth represents the overall system health
type SystemHealth struct {
	Status     HealthStatus                `json:"status"`
	Ready      bool                        `json:"ready"`
	Timestamp  time.Time                   `json:"timestamp"`
	Uptime     string                      `json:"uptime"`
	Version    string                      `json:"version"`
	Components map[string]*ComponentHealth `json:"components"`
	System     *SystemInfo                 `json:"system"`
	CheckCount int64                       `json:"check_count"`
}

// SystemInfo provides process-level information
type SystemInfo struct {
	GoVersion     string `json:"go_version"`
	NumGoroutines int    `json:"num_goroutines"`
	HeapAlloc     uint64 `json:"heap_alloc_bytes"`
	Sys           uint64 `json:"sys_bytes"`
	NumGC         uint32 `json:"num_gc"`
}

// HealthChecker defines the interface for component health checks
type HealthChecker interface {
	Name() string
	Check(ctx context.Context) *ComponentHealth
}

// Manager aggregates component checks and tracks readiness. Readiness is
// false until the corpus is loaded and the service is wired.
type Manager struct {
	startTime    time.Time
	version      string
	logger       zerolog.Logger
	tracer       trace.Tracer
	checkCounter int64
	ready        atomic.Bool

	mu       sync.RWMutex
	checkers map[string]HealthChecker

	grpc *grpchealth.Server
}

// NewManager creates a health manager. The gRPC health server starts in
// NOT_SERVING.
func NewManager(version string, logger zerolog.Logger, tracer trace.Tracer) *Manager {
	m := &Manager{
		startTime: time.Now(),
		version:   version,
		logger:    logger,
		tracer:    tracer,
		checkers:  make(map[string]HealthChecker),
		grpc:      grpchealth.NewServer(),
	}
	m.setGRPCStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	return m
}

// RegisterChecker registers a health checker
func (m *Manager) RegisterChecker(checker HealthChecker) {
	m.mu.Lock()
	m.checkers[checker.Name()] = checker
	m.mu.Unlock()
	m.logger.Debug().Str("component", checker.Name()).Msg("Registered health checker")
}

// SetReady flips readiness and mirrors it to the gRPC health service.
func (m *Manager) SetReady(ready bool) {
	m.ready.Store(ready)
	if ready {
		m.setGRPCStatus(healthpb.HealthCheckResponse_SERVING)
	} else {
		m.setGRPCStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	}
}

// Ready reports whether the service accepts traffic.
func (m *Manager) Ready() bool { return m.ready.Load() }

// GRPCServer returns the grpc.health.v1 implementation.
func (m *Manager) GRPCServer() *grpchealth.Server { return m.grpc }

// Shutdown marks every gRPC health service NOT_SERVING permanently.
func (m *Manager) Shutdown() {
	m.ready.Store(false)
	m.grpc.Shutdown()
}

func (m *Manager) setGRPCStatus(s healthpb.HealthCheckResponse_ServingStatus) {
	m.grpc.SetServingStatus("", s)
	m.grpc.SetServingStatus(ServiceName, s)
}

func statusValue(s HealthStatus) float64 {
	switch s {
	case StatusHealthy:
		return 1.0
	case StatusDegraded:
		return 0.5
	default:
		return 0
	}
}

// CheckHealth performs health checks on all registered components
func (m *Manager) CheckHealth(ctx context.Context) *SystemHealth {
	ctx, span := m.tracer.Start(ctx, "health.CheckHealth")
	defer span.End()

	count := atomic.AddInt64(&m.checkCounter, 1)
	checkStart := time.Now()

	m.mu.RLock()
	names := make([]string, 0, len(m.checkers))
	for name := range m.checkers {
		names = append(names, name)
	}
	checkers := make([]HealthChecker, 0, len(names))
	sort.Strings(names)
	for _, name := range names {
		checkers = append(checkers, m.checkers[name])
	}
	m.mu.RUnlock()

	health := &SystemHealth{
		Status:     StatusHealthy,
		Ready:      m.Ready(),
		Timestamp:  time.Now(),
		Uptime:     time.Since(m.startTime).Round(time.Second).String(),
		Version:    m.version,
		Components: make(map[string]*ComponentHealth, len(checkers)),
		System:     systemInfo(),
		CheckCount: count,
	}
	if !health.Ready {
		health.Status = StatusUnhealthy
	}

	for _, checker := range checkers {
		start := time.Now()
		ch := checker.Check(ctx)
		duration := time.Since(start)

		metrics.HealthCheckDurationSeconds.WithLabelValues(checker.Name()).Observe(duration.Seconds())
		metrics.ComponentHealthStatus.WithLabelValues(checker.Name()).Set(statusValue(ch.Status))

		health.Components[checker.Name()] = ch
		if ch.Status == StatusUnhealthy {
			health.Status = StatusUnhealthy
		} else if ch.Status == StatusDegraded && health.Status == StatusHealthy {
			health.Status = StatusDegraded
		}

		span.SetAttributes(attribute.String("health.component."+checker.Name(), string(ch.Status)))
	}

	span.SetAttributes(
		attribute.String("health.overall_status", string(health.Status)),
		attribute.Int("health.components_checked", len(checkers)),
	)

	m.logger.Debug().
		Str("overall_status", string(health.Status)).
		Int("components_checked", len(checkers)).
		Int64("duration_ms", time.Since(checkStart).Milliseconds()).
		Msg("Health check completed")

	return health
}

func systemInfo() *SystemInfo {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return &SystemInfo{
		GoVersion:     runtime.Version(),
		NumGoroutines: runtime.NumGoroutine(),
		HeapAlloc:     ms.HeapAlloc,
		Sys:           ms.Sys,
		NumGC:         ms.NumGC,
	}
}

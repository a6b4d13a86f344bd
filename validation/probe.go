package validation

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nairamint/nexus-core/errors"
	"github.com/nairamint/nexus-core/metric"
)

// Snapshot is an immutable view of the primary tier's availability.
// Readers always get a consistent pair; a stale snapshot is acceptable.
type Snapshot struct {
	IsAvailable bool
	CheckedAt   time.Time
}

// Known reports whether the probe has completed at least one check
func (s Snapshot) Known() bool {
	return !s.CheckedAt.IsZero()
}

// HealthChecker is the probe's view of a tier
type HealthChecker interface {
	Health(ctx context.Context) error
}

// AvailabilityProbe polls a tier's health endpoint on a fixed interval and
// publishes the latest result as an atomically swapped snapshot.
type AvailabilityProbe struct {
	target   HealthChecker
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	snapshot atomic.Pointer[Snapshot]

	gauge    prometheus.Gauge
	registry *metric.MetricsRegistry

	mu       sync.Mutex
	started  bool
	shutdown chan struct{}
	wg       sync.WaitGroup
}

// ProbeOption configures an AvailabilityProbe
type ProbeOption func(*AvailabilityProbe) error

// WithProbeInterval sets the polling interval
func WithProbeInterval(d time.Duration) ProbeOption {
	return func(p *AvailabilityProbe) error {
		if d <= 0 {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "AvailabilityProbe", "WithProbeInterval", "interval must be positive")
		}
		p.interval = d
		return nil
	}
}

// WithProbeTimeout sets the per-check timeout
func WithProbeTimeout(d time.Duration) ProbeOption {
	return func(p *AvailabilityProbe) error {
		if d <= 0 {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "AvailabilityProbe", "WithProbeTimeout", "timeout must be positive")
		}
		p.timeout = d
		return nil
	}
}

// WithProbeLogger sets the structured logger
func WithProbeLogger(logger *slog.Logger) ProbeOption {
	return func(p *AvailabilityProbe) error {
		if logger != nil {
			p.logger = logger
		}
		return nil
	}
}

// WithProbeMetrics registers the availability gauge. A nil registry leaves
// metrics disabled.
func WithProbeMetrics(registry *metric.MetricsRegistry) ProbeOption {
	return func(p *AvailabilityProbe) error {
		p.registry = registry
		return nil
	}
}

// NewProbe creates a probe for the given tier. The snapshot starts unknown;
// callers should treat an unknown snapshot as available.
func NewProbe(target HealthChecker, opts ...ProbeOption) (*AvailabilityProbe, error) {
	if target == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "AvailabilityProbe", "NewProbe", "target required")
	}

	p := &AvailabilityProbe{
		target:   target,
		interval: time.Minute,
		timeout:  5 * time.Second,
		logger:   slog.Default(),
		shutdown: make(chan struct{}),
	}
	p.snapshot.Store(&Snapshot{})

	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, errors.WrapInvalid(err, "AvailabilityProbe", "NewProbe", "apply option")
		}
	}

	if p.registry != nil {
		p.gauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "validation_primary_available",
			Help: "Whether the primary validation tier answered its last health check (1 = available)",
		})
		if err := p.registry.RegisterGauge("probe", "primary_available", p.gauge); err != nil {
			return nil, errors.WrapFatal(err, "AvailabilityProbe", "NewProbe", "register gauge")
		}
	}

	return p, nil
}

// Snapshot returns the latest availability view
func (p *AvailabilityProbe) Snapshot() Snapshot {
	return *p.snapshot.Load()
}

// CheckNow performs a single health check and updates the snapshot
func (p *AvailabilityProbe) CheckNow(ctx context.Context) Snapshot {
	checkCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.target.Health(checkCtx)
	snap := Snapshot{
		IsAvailable: err == nil,
		CheckedAt:   time.Now().UTC(),
	}
	p.snapshot.Store(&snap)

	if p.gauge != nil {
		if snap.IsAvailable {
			p.gauge.Set(1)
		} else {
			p.gauge.Set(0)
		}
	}

	if err != nil {
		p.logger.Warn("primary tier health check failed", "error", err)
	}
	return snap
}

// Start begins background polling. The first check runs immediately.
func (p *AvailabilityProbe) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "AvailabilityProbe", "Start", "start probe")
	}
	p.started = true

	p.CheckNow(ctx)

	p.wg.Add(1)
	go p.loop(ctx)

	p.logger.Debug("availability probe started", "interval", p.interval)
	return nil
}

func (p *AvailabilityProbe) loop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.shutdown:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.CheckNow(ctx)
		}
	}
}

// Stop halts background polling and waits for the poll loop to exit
func (p *AvailabilityProbe) Stop(_ context.Context) {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	close(p.shutdown)
	p.mu.Unlock()

	p.wg.Wait()

	if p.registry != nil {
		p.registry.Unregister("probe", "primary_available")
	}
	p.logger.Debug("availability probe stopped")
}

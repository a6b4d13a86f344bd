package validation

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nairamint/nexus-core/envelope"
	"github.com/nairamint/nexus-core/errors"
	"github.com/nairamint/nexus-core/health"
	"github.com/nairamint/nexus-core/metric"
	"github.com/nairamint/nexus-core/sfdr"
)

// Per-tier validation outcomes recorded on metrics
const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
	outcomeSkipped = "skipped"
)

// CapabilitiesProvider fetches the upstream capability set
type CapabilitiesProvider interface {
	Capabilities(ctx context.Context) (sfdr.Capabilities, error)
}

// Orchestrator walks the validation tier chain. Tiers run in order; the
// first successful result wins. The terminal tier is expected to be
// infallible (see MockTier), so a fully exhausted chain indicates a
// misconfigured orchestrator rather than a transient condition.
type Orchestrator struct {
	tiers       []Tier
	probe       *AvailabilityProbe
	publisher   EventPublisher
	caps        CapabilitiesProvider
	logger      *slog.Logger
	tierTimeout time.Duration

	validations *prometheus.CounterVec
	registry    *metric.MetricsRegistry

	monitor   *health.Monitor
	startTime time.Time
	processed atomic.Int64
}

// OrchestratorOption configures an Orchestrator
type OrchestratorOption func(*Orchestrator) error

// WithProbe attaches the primary tier availability probe. When the probe
// reports the primary tier down, the orchestrator skips it.
func WithProbe(probe *AvailabilityProbe) OrchestratorOption {
	return func(o *Orchestrator) error {
		o.probe = probe
		return nil
	}
}

// WithPublisher attaches an event publisher for compliance_validated events
func WithPublisher(publisher EventPublisher) OrchestratorOption {
	return func(o *Orchestrator) error {
		o.publisher = publisher
		return nil
	}
}

// WithCapabilitiesProvider attaches the upstream capabilities source
func WithCapabilitiesProvider(caps CapabilitiesProvider) OrchestratorOption {
	return func(o *Orchestrator) error {
		o.caps = caps
		return nil
	}
}

// WithOrchestratorLogger sets the structured logger
func WithOrchestratorLogger(logger *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) error {
		if logger != nil {
			o.logger = logger
		}
		return nil
	}
}

// WithTierTimeout sets the per-tier call timeout
func WithTierTimeout(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) error {
		if d <= 0 {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Orchestrator", "WithTierTimeout", "timeout must be positive")
		}
		o.tierTimeout = d
		return nil
	}
}

// WithOrchestratorMetrics registers the validation counters. A nil registry
// leaves metrics disabled.
func WithOrchestratorMetrics(registry *metric.MetricsRegistry) OrchestratorOption {
	return func(o *Orchestrator) error {
		o.registry = registry
		return nil
	}
}

// WithHealthMonitor attaches a health monitor the orchestrator reports into
func WithHealthMonitor(monitor *health.Monitor) OrchestratorOption {
	return func(o *Orchestrator) error {
		o.monitor = monitor
		return nil
	}
}

// NewOrchestrator creates an orchestrator over an ordered tier chain
func NewOrchestrator(tiers []Tier, opts ...OrchestratorOption) (*Orchestrator, error) {
	if len(tiers) == 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Orchestrator", "NewOrchestrator", "at least one tier required")
	}

	o := &Orchestrator{
		tiers:       tiers,
		logger:      slog.Default(),
		tierTimeout: 15 * time.Second,
		startTime:   time.Now(),
	}

	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, errors.WrapInvalid(err, "Orchestrator", "NewOrchestrator", "apply option")
		}
	}

	if o.registry != nil {
		o.validations = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "validation_requests_total",
			Help: "Validation attempts by tier and outcome",
		}, []string{"tier", "outcome"})
		if err := o.registry.RegisterCounterVec("orchestrator", "requests_total", o.validations); err != nil {
			return nil, errors.WrapFatal(err, "Orchestrator", "NewOrchestrator", "register counters")
		}
	}

	return o, nil
}

// Validate runs the request through the tier chain. Input validation happens
// before any network call; an invalid request never reaches a tier.
func (o *Orchestrator) Validate(ctx context.Context, req sfdr.ClassificationRequest) (sfdr.ValidationResult, error) {
	if err := req.Validate(); err != nil {
		return sfdr.ValidationResult{}, err
	}

	for _, tier := range o.tiers {
		if o.skipTier(tier) {
			o.count(tier.Name(), outcomeSkipped)
			o.logger.Debug("skipping unavailable tier", "tier", tier.Name())
			continue
		}

		tierCtx, cancel := context.WithTimeout(ctx, o.tierTimeout)
		result, err := tier.Validate(tierCtx, req)
		cancel()

		if err != nil {
			o.count(tier.Name(), outcomeFailure)
			o.logger.Warn("validation tier failed, falling back",
				"tier", tier.Name(),
				"entityId", req.Metadata.EntityID,
				"error", err)
			continue
		}

		o.count(tier.Name(), outcomeSuccess)
		o.processed.Add(1)
		o.reportHealth()
		o.publish(ctx, result, req)

		o.logger.Info("validation completed",
			"tier", tier.Name(),
			"requestId", result.RequestID,
			"article", result.Classification.RecommendedArticle,
			"score", result.ComplianceScore)
		return result, nil
	}

	o.reportHealth()
	return sfdr.ValidationResult{}, errors.WrapTransient(errors.ErrTierUnavailable, "Orchestrator", "Validate", "all validation tiers")
}

// skipTier reports whether the tier should be bypassed. Only the primary
// tier is probed; an unknown snapshot never causes a skip.
func (o *Orchestrator) skipTier(tier Tier) bool {
	if o.probe == nil || tier.Name() != SourcePrimary {
		return false
	}
	snap := o.probe.Snapshot()
	return snap.Known() && !snap.IsAvailable
}

// Capabilities returns the upstream capability set when the primary tier is
// reachable, falling back to the static local set otherwise.
func (o *Orchestrator) Capabilities(ctx context.Context) sfdr.Capabilities {
	if o.caps == nil {
		return sfdr.DefaultCapabilities()
	}
	if o.probe != nil {
		if snap := o.probe.Snapshot(); snap.Known() && !snap.IsAvailable {
			return sfdr.DefaultCapabilities()
		}
	}

	caps, err := o.caps.Capabilities(ctx)
	if err != nil {
		o.logger.Warn("capabilities fetch failed, using local set", "error", err)
		return sfdr.DefaultCapabilities()
	}
	return caps
}

// ComplianceEvent is the payload of compliance_validated events
type ComplianceEvent struct {
	RequestID          string       `json:"requestId"`
	FundName           string       `json:"fundName"`
	RecommendedArticle sfdr.Article `json:"recommendedArticle"`
	ComplianceScore    int          `json:"complianceScore"`
	IsValid            bool         `json:"isValid"`
	Source             string       `json:"source"`
	Status             string       `json:"status"`
}

func (o *Orchestrator) publish(ctx context.Context, result sfdr.ValidationResult, req sfdr.ClassificationRequest) {
	if o.publisher == nil {
		return
	}

	env, err := envelope.New(envelope.TypeComplianceValidated, ComplianceEvent{
		RequestID:          result.RequestID,
		FundName:           req.FundProfile.FundName,
		RecommendedArticle: result.Classification.RecommendedArticle,
		ComplianceScore:    result.ComplianceScore,
		IsValid:            result.IsValid,
		Source:             result.Source,
		Status:             "completed",
	})
	if err != nil {
		o.logger.Warn("failed to build compliance event", "error", err)
		return
	}

	if err := o.publisher.PublishEvent(ctx, env); err != nil {
		o.logger.Warn("failed to publish compliance event",
			"requestId", result.RequestID, "error", err)
	}
}

func (o *Orchestrator) count(tier, outcome string) {
	if o.validations != nil {
		o.validations.WithLabelValues(tier, outcome).Inc()
	}
}

func (o *Orchestrator) reportHealth() {
	if o.monitor == nil {
		return
	}

	status := health.NewHealthy("orchestrator", "validation pipeline operational")
	if o.probe != nil {
		if snap := o.probe.Snapshot(); snap.Known() && !snap.IsAvailable {
			status = health.NewDegraded("orchestrator", "primary validation tier unavailable")
		}
	}
	status.Metrics = &health.Metrics{
		Uptime:            time.Since(o.startTime),
		MessagesProcessed: o.processed.Load(),
		LastActivity:      time.Now().UTC(),
	}
	o.monitor.Update("orchestrator", status)
}

// Close releases orchestrator resources
func (o *Orchestrator) Close(_ context.Context) {
	if o.registry != nil {
		o.registry.Unregister("orchestrator", "requests_total")
	}
	if o.monitor != nil {
		o.monitor.Remove("orchestrator")
	}
}

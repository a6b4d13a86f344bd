// Package validation implements the multi-tier SFDR validation pipeline:
// an orchestrator that walks an ordered list of validation tiers (primary
// backend, external API, local mock) and returns the first successful
// result, plus the availability probe that watches the primary tier.
package validation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/nairamint/nexus-core/errors"
	"github.com/nairamint/nexus-core/pkg/retry"
	"github.com/nairamint/nexus-core/sfdr"
)

// Tier source markers stamped on validation results
const (
	SourcePrimary  = "primary"
	SourceExternal = "external"
	SourceMock     = "mock"
)

// Tier is a single validation backend in the fallback chain
type Tier interface {
	// Name identifies the tier in logs, metrics and result markers
	Name() string

	// Validate runs the request against this tier. Implementations honor
	// ctx deadlines; a failed tier returns an error and the orchestrator
	// moves on.
	Validate(ctx context.Context, req sfdr.ClassificationRequest) (sfdr.ValidationResult, error)
}

// HTTPTier validates against a remote HTTP backend
type HTTPTier struct {
	name         string
	baseURL      string
	validatePath string
	healthPath   string
	capsPath     string
	apiKey       string

	client  *http.Client
	logger  *slog.Logger
	retries retry.Config
}

// HTTPTierOption configures an HTTPTier
type HTTPTierOption func(*HTTPTier) error

// WithAPIKey sets the bearer token sent on tier requests
func WithAPIKey(key string) HTTPTierOption {
	return func(t *HTTPTier) error {
		t.apiKey = key
		return nil
	}
}

// WithHTTPClient overrides the HTTP client
func WithHTTPClient(client *http.Client) HTTPTierOption {
	return func(t *HTTPTier) error {
		if client == nil {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "HTTPTier", "WithHTTPClient", "client must not be nil")
		}
		t.client = client
		return nil
	}
}

// WithTierLogger sets the structured logger
func WithTierLogger(logger *slog.Logger) HTTPTierOption {
	return func(t *HTTPTier) error {
		if logger != nil {
			t.logger = logger
		}
		return nil
	}
}

// WithTierRetry overrides the per-call retry policy
func WithTierRetry(cfg retry.Config) HTTPTierOption {
	return func(t *HTTPTier) error {
		t.retries = cfg
		return nil
	}
}

// WithHealthPath sets the path polled by the availability probe
func WithHealthPath(path string) HTTPTierOption {
	return func(t *HTTPTier) error {
		t.healthPath = path
		return nil
	}
}

// WithCapabilitiesPath sets the path serving the tier's capability set
func WithCapabilitiesPath(path string) HTTPTierOption {
	return func(t *HTTPTier) error {
		t.capsPath = path
		return nil
	}
}

// NewHTTPTier creates a tier backed by a remote validation service
func NewHTTPTier(name, baseURL, validatePath string, opts ...HTTPTierOption) (*HTTPTier, error) {
	if name == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "HTTPTier", "NewHTTPTier", "tier name required")
	}
	if baseURL == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "HTTPTier", "NewHTTPTier", "base URL required")
	}

	t := &HTTPTier{
		name:         name,
		baseURL:      baseURL,
		validatePath: validatePath,
		healthPath:   "/api/health",
		capsPath:     "/api/capabilities",
		client:       &http.Client{Timeout: 10 * time.Second},
		logger:       slog.Default(),
		retries: retry.Config{
			MaxAttempts:  2,
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     time.Second,
			Multiplier:   2.0,
			AddJitter:    true,
		},
	}

	for _, opt := range opts {
		if err := opt(t); err != nil {
			return nil, errors.WrapInvalid(err, "HTTPTier", "NewHTTPTier", "apply option")
		}
	}

	return t, nil
}

// Name returns the tier identifier
func (t *HTTPTier) Name() string {
	return t.name
}

// Validate posts the request to the tier's validate endpoint. Client errors
// from the backend are not retried; transport failures and 5xx responses
// are, within the tier's retry budget.
func (t *HTTPTier) Validate(ctx context.Context, req sfdr.ClassificationRequest) (sfdr.ValidationResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return sfdr.ValidationResult{}, errors.WrapInvalid(err, "HTTPTier", "Validate", "marshal request")
	}

	result, err := retry.DoWithResult(ctx, t.retries, func() (sfdr.ValidationResult, error) {
		return t.post(ctx, body)
	})
	if err != nil {
		return sfdr.ValidationResult{}, errors.WrapTransient(err, "HTTPTier", "Validate", t.name+" tier validation")
	}

	if result.Source == "" {
		result.Source = t.name
	}
	return result, nil
}

func (t *HTTPTier) post(ctx context.Context, body []byte) (sfdr.ValidationResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+t.validatePath, bytes.NewReader(body))
	if err != nil {
		return sfdr.ValidationResult{}, retry.NonRetryable(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if t.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return sfdr.ValidationResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return sfdr.ValidationResult{}, fmt.Errorf("%s returned status %d", t.name, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return sfdr.ValidationResult{}, retry.NonRetryable(fmt.Errorf("%s rejected request with status %d", t.name, resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return sfdr.ValidationResult{}, err
	}

	var result sfdr.ValidationResult
	if err := json.Unmarshal(data, &result); err != nil {
		return sfdr.ValidationResult{}, retry.NonRetryable(fmt.Errorf("decode %s response: %w", t.name, err))
	}
	return result, nil
}

// Health probes the tier's health endpoint. A nil return means the tier
// answered with a success status.
func (t *HTTPTier) Health(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+t.healthPath, nil)
	if err != nil {
		return errors.WrapInvalid(err, "HTTPTier", "Health", "build health request")
	}
	if t.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return errors.WrapTransient(err, "HTTPTier", "Health", t.name+" health check")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode != http.StatusOK {
		return errors.WrapTransient(
			fmt.Errorf("%s health endpoint returned status %d", t.name, resp.StatusCode),
			"HTTPTier", "Health", t.name+" health check")
	}
	return nil
}

// Capabilities fetches the tier's capability set
func (t *HTTPTier) Capabilities(ctx context.Context) (sfdr.Capabilities, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+t.capsPath, nil)
	if err != nil {
		return sfdr.Capabilities{}, errors.WrapInvalid(err, "HTTPTier", "Capabilities", "build request")
	}
	if t.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return sfdr.Capabilities{}, errors.WrapTransient(err, "HTTPTier", "Capabilities", "fetch capabilities")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return sfdr.Capabilities{}, errors.WrapTransient(
			fmt.Errorf("%s capabilities endpoint returned status %d", t.name, resp.StatusCode),
			"HTTPTier", "Capabilities", "fetch capabilities")
	}

	var caps sfdr.Capabilities
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&caps); err != nil {
		return sfdr.Capabilities{}, errors.WrapInvalid(err, "HTTPTier", "Capabilities", "decode capabilities")
	}
	return caps, nil
}

// MockTier runs the local rule-based classifier. It is the terminal tier in
// the fallback chain and never fails.
type MockTier struct {
	classifier *sfdr.Classifier
}

// NewMockTier creates the local fallback tier
func NewMockTier() *MockTier {
	return &MockTier{classifier: sfdr.NewClassifier()}
}

// Name returns the tier identifier
func (t *MockTier) Name() string {
	return SourceMock
}

// Validate runs the local classifier. The returned error is always nil.
func (t *MockTier) Validate(_ context.Context, req sfdr.ClassificationRequest) (sfdr.ValidationResult, error) {
	result := t.classifier.BuildResult(req)
	result.Source = SourceMock
	result.Message = "Mock validation completed (fallback mode)"
	return result, nil
}

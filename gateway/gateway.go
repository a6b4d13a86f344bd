// Package gateway provides the HTTP surface of nexus-core: the broadcast
// endpoint used by backend producers, the validation endpoint, capabilities,
// health and metrics.
package gateway

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nairamint/nexus-core/envelope"
	"github.com/nairamint/nexus-core/errors"
	"github.com/nairamint/nexus-core/health"
	"github.com/nairamint/nexus-core/metric"
	"github.com/nairamint/nexus-core/sfdr"
)

// Broadcaster fans envelopes out to connected WebSocket clients
type Broadcaster interface {
	BroadcastToAll(env envelope.Envelope) int
}

// Validator runs classification requests through the validation pipeline
type Validator interface {
	Validate(ctx context.Context, req sfdr.ClassificationRequest) (sfdr.ValidationResult, error)
	Capabilities(ctx context.Context) sfdr.Capabilities
}

// Config holds gateway configuration
type Config struct {
	Port           int           `json:"port"`
	EnableCORS     bool          `json:"enable_cors"`
	CORSOrigins    []string      `json:"cors_origins"`
	MaxRequestSize int64         `json:"max_request_size"`
	RequestTimeout time.Duration `json:"-"`
}

// DefaultConfig returns sensible gateway defaults
func DefaultConfig() Config {
	return Config{
		Port:           8080,
		EnableCORS:     true,
		CORSOrigins:    []string{"*"},
		MaxRequestSize: 1 << 20,
		RequestTimeout: 15 * time.Second,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("invalid port %d", c.Port))
	}
	if c.MaxRequestSize <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"max request size must be positive")
	}
	return nil
}

// Gateway serves the HTTP API
type Gateway struct {
	config    Config
	relay     Broadcaster
	validator Validator
	monitor   *health.Monitor
	registry  *metric.MetricsRegistry
	logger    *slog.Logger

	server      *http.Server
	lifecycleMu sync.Mutex
	mu          sync.RWMutex
	running     bool
	wg          *sync.WaitGroup

	requestsTotal  atomic.Uint64
	requestsFailed atomic.Uint64
}

// GatewayOption configures a Gateway
type GatewayOption func(*Gateway) error

// WithHealthMonitor attaches the health monitor served at /healthz
func WithHealthMonitor(monitor *health.Monitor) GatewayOption {
	return func(g *Gateway) error {
		g.monitor = monitor
		return nil
	}
}

// WithMetricsRegistry attaches the metrics registry served at /metrics
func WithMetricsRegistry(registry *metric.MetricsRegistry) GatewayOption {
	return func(g *Gateway) error {
		g.registry = registry
		return nil
	}
}

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) GatewayOption {
	return func(g *Gateway) error {
		if logger != nil {
			g.logger = logger
		}
		return nil
	}
}

// WithValidator attaches the validation pipeline served at /validate and
// /capabilities
func WithValidator(validator Validator) GatewayOption {
	return func(g *Gateway) error {
		g.validator = validator
		return nil
	}
}

// NewGateway creates a gateway over the given relay
func NewGateway(cfg Config, relay Broadcaster, opts ...GatewayOption) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if relay == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Gateway", "NewGateway", "relay required")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}

	g := &Gateway{
		config: cfg,
		relay:  relay,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, errors.WrapInvalid(err, "Gateway", "NewGateway", "apply option")
		}
	}

	return g, nil
}

// getOrGenerateRequestID extracts the request id from headers or generates
// one for tracing across the gateway and the validation pipeline
func getOrGenerateRequestID(r *http.Request) string {
	if reqID := r.Header.Get("X-Request-ID"); reqID != "" {
		return reqID
	}

	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("req-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

// Handler returns the gateway's HTTP handler. Exposed for tests and for
// mounting the routes on an external mux.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/broadcast", g.wrap(http.MethodPost, g.handleBroadcast))
	mux.HandleFunc("/validate", g.wrap(http.MethodPost, g.handleValidate))
	mux.HandleFunc("/capabilities", g.wrap(http.MethodGet, g.handleCapabilities))
	mux.HandleFunc("/healthz", g.wrap(http.MethodGet, g.handleHealthz))
	if g.registry != nil {
		mux.Handle("/metrics", g.registry.Handler())
	}
	return mux
}

// wrap applies the cross-cutting handler behavior: request id, method
// filtering, CORS, panic recovery and request accounting.
func (g *Gateway) wrap(method string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := getOrGenerateRequestID(r)
		w.Header().Set("X-Request-ID", requestID)
		g.requestsTotal.Add(1)

		defer func() {
			if rec := recover(); rec != nil {
				g.logger.Error("handler panic recovered",
					"path", r.URL.Path, "requestId", requestID, "panic", rec)
				g.requestsFailed.Add(1)
				g.writeError(w, http.StatusInternalServerError, "Internal server error")
			}
		}()

		if g.config.EnableCORS {
			g.applyCORS(w, r)
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}

		if r.Method != method {
			g.requestsFailed.Add(1)
			g.writeError(w, http.StatusMethodNotAllowed,
				fmt.Sprintf("method %s not allowed", r.Method))
			return
		}

		handler(w, r)
	}
}

func (g *Gateway) applyCORS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")

	allowed := false
	for _, allowedOrigin := range g.config.CORSOrigins {
		if allowedOrigin == "*" || allowedOrigin == origin {
			allowed = true
			break
		}
	}
	if !allowed {
		return
	}

	if len(g.config.CORSOrigins) == 1 && g.config.CORSOrigins[0] == "*" {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	} else {
		w.Header().Set("Access-Control-Allow-Origin", origin)
	}
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// BroadcastRequest is the body of POST /broadcast. Message carries any JSON
// value; it becomes the envelope's data verbatim.
type BroadcastRequest struct {
	Message json.RawMessage `json:"message"`
	Type    string          `json:"type"`
	UserID  string          `json:"userId,omitempty"`
}

func (g *Gateway) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	body, err := io.ReadAll(io.LimitReader(r.Body, g.config.MaxRequestSize))
	if err != nil {
		g.requestsFailed.Add(1)
		g.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req BroadcastRequest
	if err := json.Unmarshal(body, &req); err != nil {
		g.requestsFailed.Add(1)
		g.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if len(req.Message) == 0 || string(req.Message) == "null" || req.Type == "" {
		g.requestsFailed.Add(1)
		g.writeError(w, http.StatusBadRequest, "Missing message or type")
		return
	}

	env := envelope.Envelope{
		Type:      req.Type,
		Data:      req.Message,
		Timestamp: envelope.Now(),
		UserID:    req.UserID,
	}

	// Delivery is always a full broadcast; a userId rides on the envelope
	// for clients that filter on it.
	delivered := g.relay.BroadcastToAll(env)

	g.logger.Debug("broadcast dispatched", "type", req.Type, "delivered", delivered)
	g.writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"message":   "Broadcast sent",
		"delivered": delivered,
	})
}

func (g *Gateway) handleValidate(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	if g.validator == nil {
		g.requestsFailed.Add(1)
		g.writeError(w, http.StatusNotImplemented, "validation not configured")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, g.config.MaxRequestSize))
	if err != nil {
		g.requestsFailed.Add(1)
		g.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req sfdr.ClassificationRequest
	if err := json.Unmarshal(body, &req); err != nil {
		g.requestsFailed.Add(1)
		g.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), g.config.RequestTimeout)
	defer cancel()

	result, err := g.validator.Validate(ctx, req)
	if err != nil {
		g.requestsFailed.Add(1)
		if errors.IsInvalid(err) {
			g.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		g.logger.Error("validation failed", "error", err)
		g.writeError(w, http.StatusBadGateway, "validation unavailable")
		return
	}

	g.writeJSON(w, http.StatusOK, result)
}

func (g *Gateway) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	if g.validator == nil {
		g.writeJSON(w, http.StatusOK, sfdr.DefaultCapabilities())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), g.config.RequestTimeout)
	defer cancel()
	g.writeJSON(w, http.StatusOK, g.validator.Capabilities(ctx))
}

func (g *Gateway) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	if g.monitor == nil {
		g.writeJSON(w, http.StatusOK, health.NewHealthy("nexus-core", "OK"))
		return
	}

	status := g.monitor.AggregateHealth("nexus-core")
	code := http.StatusOK
	if status.IsUnhealthy() {
		code = http.StatusServiceUnavailable
	}
	g.writeJSON(w, code, status)
}

func (g *Gateway) writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		g.logger.Warn("failed to write response", "error", err)
	}
}

func (g *Gateway) writeError(w http.ResponseWriter, code int, message string) {
	g.writeJSON(w, code, map[string]string{"error": message})
}

// Start begins serving the gateway HTTP server
func (g *Gateway) Start(ctx context.Context) error {
	g.lifecycleMu.Lock()
	defer g.lifecycleMu.Unlock()

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.running {
		return nil
	}
	if ctx == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Gateway", "Start", "context cannot be nil")
	}

	g.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", g.config.Port),
		Handler:           g.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.running = true

	g.wg = &sync.WaitGroup{}
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		if err := g.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			g.logger.Error("gateway HTTP server failed", "error", err)
		}
	}()

	g.logger.Info("gateway started", "port", g.config.Port)
	return nil
}

// Stop gracefully shuts down the gateway
func (g *Gateway) Stop(timeout time.Duration) error {
	g.lifecycleMu.Lock()
	defer g.lifecycleMu.Unlock()

	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return nil
	}
	g.running = false
	server := g.server
	wg := g.wg
	g.server = nil
	g.wg = nil
	g.mu.Unlock()

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return errors.WrapTransient(err, "Gateway", "Stop", "shutdown HTTP server")
		}
	}
	if wg != nil {
		wg.Wait()
	}

	g.logger.Info("gateway stopped")
	return nil
}

package relay

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nairamint/nexus-core/envelope"
	"github.com/nairamint/nexus-core/errors"
	"github.com/nairamint/nexus-core/health"
	"github.com/nairamint/nexus-core/metric"
	"github.com/nairamint/nexus-core/natsclient"
)

// ServerConfig holds all configuration needed to construct a Server
type ServerConfig struct {
	Port            int                     // Listen port
	Path            string                  // WebSocket endpoint path
	Subjects        []string                // NATS subjects bridged to clients (optional)
	NATSClient      *natsclient.Client      // Optional NATS client for the event bridge
	MetricsRegistry *metric.MetricsRegistry // Optional Prometheus metrics registry
	HealthMonitor   *health.Monitor         // Optional health monitor
	Logger          *slog.Logger
	PingInterval    time.Duration // Keep-alive ping cadence
	ReadTimeout     time.Duration // Per-read deadline
	WriteTimeout    time.Duration // Per-write deadline
}

// DefaultServerConfig returns sensible defaults for Server construction
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:         8081,
		Path:         "/ws",
		PingInterval: 30 * time.Second,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Server is the WebSocket relay. It owns the connection registry, runs the
// per-connection control protocol and fans events out to clients.
type Server struct {
	port     int
	path     string
	subjects []string

	registry   *Registry
	natsClient *natsclient.Client
	logger     *slog.Logger
	monitor    *health.Monitor
	metrics    *Metrics

	server   *http.Server
	upgrader websocket.Upgrader

	// Lifecycle management
	lifecycleMu sync.Mutex // Serializes Start/Stop
	mu          sync.RWMutex
	running     bool
	shutdown    chan struct{}
	wg          *sync.WaitGroup
	startTime   time.Time

	pingInterval time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration

	messagesSent atomic.Int64
	sendErrors   atomic.Int64
}

// NewServer creates a relay server from config
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Path == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Server", "NewServer", "WebSocket path cannot be empty")
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Server", "NewServer",
			fmt.Sprintf("invalid port %d", cfg.Port))
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	return &Server{
		port:       cfg.Port,
		path:       cfg.Path,
		subjects:   cfg.Subjects,
		registry:   NewRegistry(),
		natsClient: cfg.NATSClient,
		logger:     logger,
		monitor:    cfg.HealthMonitor,
		metrics:    newMetrics(cfg.MetricsRegistry),
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(_ *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		pingInterval: cfg.PingInterval,
		readTimeout:  cfg.ReadTimeout,
		writeTimeout: cfg.WriteTimeout,
		startTime:    time.Now(),
	}, nil
}

// Registry exposes the connection registry
func (s *Server) Registry() *Registry {
	return s.registry
}

// Start begins serving WebSocket upgrades, the keep-alive loop and the NATS
// event bridge
func (s *Server) Start(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	if ctx == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Server", "Start", "context cannot be nil")
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "Server", "Start", "context already cancelled")
	}

	s.shutdown = make(chan struct{})

	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.HandleUpgrade)
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: mux,
	}

	if err := s.subscribeToNATS(ctx); err != nil {
		close(s.shutdown)
		s.shutdown = nil
		s.server = nil
		return errors.Wrap(err, "Server", "Start", fmt.Sprintf("subscribe to NATS subjects %v", s.subjects))
	}

	s.running = true
	s.startTime = time.Now()

	s.wg = &sync.WaitGroup{}
	s.wg.Add(2)
	go s.runServer()
	go s.maintainClients(ctx)

	s.reportHealth()
	s.logger.Info("relay server started", "port", s.port, "path", s.path)
	return nil
}

// Stop gracefully shuts down the server, waits for goroutines and closes all
// client connections
func (s *Server) Stop(timeout time.Duration) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false

	if s.shutdown != nil {
		close(s.shutdown)
	}
	wg := s.wg
	server := s.server
	s.mu.Unlock()

	// Shut the HTTP server down first so ListenAndServe returns
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("HTTP server shutdown error", "error", err)
		}
	}

	if wg != nil {
		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			s.logger.Warn("relay goroutines did not exit within timeout")
		}
	}

	// Close remaining clients
	for _, conn := range s.registry.Snapshot() {
		conn.Close()
		s.registry.Unregister(conn.ID)
	}

	s.mu.Lock()
	s.server = nil
	s.shutdown = nil
	s.wg = nil
	s.mu.Unlock()

	if s.monitor != nil {
		s.monitor.Remove("relay")
	}
	s.logger.Info("relay server stopped")
	return nil
}

func (s *Server) runServer() {
	defer s.wg.Done()

	s.mu.RLock()
	server := s.server
	s.mu.RUnlock()
	if server == nil {
		return
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.logger.Error("relay HTTP server failed", "error", err)
		s.countError("server")
	}
}

// HandleUpgrade upgrades an HTTP request to a WebSocket connection and runs
// the connection's read loop. Exposed so the relay endpoint can be mounted
// on an external mux.
func (s *Server) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.countError("connection_upgrade")
		s.logger.Warn("WebSocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	conn := newConnection(wsConn, s.writeTimeout)
	wsConn.SetPongHandler(func(string) error {
		conn.lastPong.Store(time.Now())
		return nil
	})

	s.registry.Register(conn)
	conn.markOpen()

	if s.metrics != nil {
		s.metrics.connectionsTotal.Inc()
		s.metrics.clientsConnected.Set(float64(s.registry.Count()))
	}

	welcome, err := envelope.New(envelope.TypeConnectionEstablished, envelope.ConnectionEstablished{
		ConnectionID: conn.ID,
		Message:      "Connected to Nexus real-time updates",
	})
	if err == nil {
		if sendErr := conn.Send(welcome); sendErr != nil {
			s.evict(conn, "welcome_failed")
			return
		}
	}

	s.logger.Debug("client connected", "connectionId", conn.ID, "remote", r.RemoteAddr)
	s.reportHealth()

	s.readLoop(conn)
}

// readLoop processes control messages until the connection closes. Malformed
// messages and unknown types are tolerated; the connection stays open.
func (s *Server) readLoop(conn *Connection) {
	defer s.evict(conn, "closed")

	for {
		s.mu.RLock()
		shutdown := s.shutdown
		s.mu.RUnlock()
		if shutdown != nil {
			select {
			case <-shutdown:
				return
			default:
			}
		}

		_ = conn.conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		_, data, err := conn.conn.ReadMessage()
		if err != nil {
			return
		}

		env, err := envelope.Parse(data)
		if err != nil {
			s.logger.Debug("ignoring malformed message", "connectionId", conn.ID, "error", err)
			s.countError("malformed_message")
			continue
		}

		s.handleControl(conn, env)
	}
}

// handleControl dispatches one client control message
func (s *Server) handleControl(conn *Connection, env envelope.Envelope) {
	if s.metrics != nil {
		s.metrics.messagesReceived.WithLabelValues(env.Type).Inc()
	}

	switch env.Type {
	case envelope.TypeSubscribe:
		req, err := env.DecodeSubscribe()
		if err != nil {
			s.logger.Debug("ignoring malformed subscribe", "connectionId", conn.ID, "error", err)
			s.countError("malformed_message")
			return
		}
		conn.Subscribe(req.Types)
		if req.UserID != "" {
			conn.SetUserID(req.UserID)
		}
		s.reply(conn, envelope.TypeSubscriptionConfirmed, envelope.SubscriptionConfirmed{
			SubscribedTo: req.Types,
		})

	case envelope.TypeUnsubscribe:
		req, err := env.DecodeSubscribe()
		if err != nil {
			s.logger.Debug("ignoring malformed unsubscribe", "connectionId", conn.ID, "error", err)
			s.countError("malformed_message")
			return
		}
		conn.Unsubscribe(req.Types)
		s.reply(conn, envelope.TypeUnsubscriptionConfirmed, envelope.UnsubscriptionConfirmed{
			UnsubscribedFrom: req.Types,
		})

	case envelope.TypePing:
		s.reply(conn, envelope.TypePong, envelope.Pong{Timestamp: envelope.Now()})

	default:
		s.logger.Debug("ignoring unknown message type", "connectionId", conn.ID, "type", env.Type)
	}
}

func (s *Server) reply(conn *Connection, msgType string, payload any) {
	env, err := envelope.New(msgType, payload)
	if err != nil {
		s.countError("envelope_marshal")
		return
	}
	if err := conn.Send(env); err != nil {
		s.evict(conn, "send_failed")
		return
	}
	s.recordSend(msgType, 1)
}

// BroadcastToAll sends the envelope to every open connection. The envelope
// is serialized once; stale and failed peers are evicted and the fan-out
// continues. Returns the number of successful deliveries.
func (s *Server) BroadcastToAll(env envelope.Envelope) int {
	start := time.Now()

	data, err := env.Encode()
	if err != nil {
		s.countError("envelope_marshal")
		s.logger.Warn("failed to encode broadcast envelope", "type", env.Type, "error", err)
		return 0
	}

	delivered := 0
	for _, conn := range s.registry.Snapshot() {
		if !conn.IsOpen() {
			s.evict(conn, "closed")
			continue
		}
		if err := conn.SendRaw(data); err != nil {
			s.evict(conn, "send_failed")
			continue
		}
		delivered++
	}

	s.recordSend(env.Type, delivered)
	if s.metrics != nil {
		s.metrics.broadcastDuration.Observe(time.Since(start).Seconds())
	}
	s.logger.Debug("broadcast complete", "type", env.Type, "delivered", delivered)
	return delivered
}

// SendToUser delivers the envelope to every open connection associated with
// the user. Zero matches is a silent no-op.
func (s *Server) SendToUser(userID string, env envelope.Envelope) int {
	data, err := env.Encode()
	if err != nil {
		s.countError("envelope_marshal")
		return 0
	}

	delivered := 0
	for _, conn := range s.registry.ByUser(userID) {
		if !conn.IsOpen() {
			s.evict(conn, "closed")
			continue
		}
		if err := conn.SendRaw(data); err != nil {
			s.evict(conn, "send_failed")
			continue
		}
		delivered++
	}

	s.recordSend(env.Type, delivered)
	return delivered
}

// PublishEvent delivers an envelope through the relay: addressed envelopes
// go to the named user, everything else broadcasts. Satisfies the validation
// pipeline's publisher interface.
func (s *Server) PublishEvent(_ context.Context, env envelope.Envelope) error {
	if env.UserID != "" {
		s.SendToUser(env.UserID, env)
		return nil
	}
	s.BroadcastToAll(env)
	return nil
}

// evict removes a connection from the registry and closes it
func (s *Server) evict(conn *Connection, reason string) {
	if _, ok := s.registry.Get(conn.ID); ok {
		s.registry.Unregister(conn.ID)
		if s.metrics != nil {
			s.metrics.disconnectionTotal.WithLabelValues(reason).Inc()
			s.metrics.clientsConnected.Set(float64(s.registry.Count()))
		}
		s.logger.Debug("client disconnected", "connectionId", conn.ID, "reason", reason)
	}
	conn.Close()
	s.reportHealth()
}

// maintainClients sends keep-alive pings on a fixed cadence and evicts dead
// peers
func (s *Server) maintainClients(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdownChan():
			return
		case <-ticker.C:
			for _, conn := range s.registry.Snapshot() {
				if !conn.IsOpen() {
					continue
				}
				if err := conn.Ping(); err != nil {
					s.evict(conn, "ping_failed")
				}
			}
		}
	}
}

func (s *Server) shutdownChan() chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.shutdown
}

// subscribeToNATS bridges configured subjects to connected clients. Messages
// that parse as envelopes are relayed with their addressing intact; anything
// else is skipped.
func (s *Server) subscribeToNATS(ctx context.Context) error {
	if s.natsClient == nil || len(s.subjects) == 0 {
		return nil
	}

	for _, subject := range s.subjects {
		err := s.natsClient.Subscribe(ctx, subject, func(_ context.Context, data []byte) {
			env, err := envelope.Parse(data)
			if err != nil {
				s.logger.Debug("skipping non-envelope NATS message", "subject", subject, "error", err)
				s.countError("nats_decode")
				return
			}
			if env.UserID != "" {
				s.SendToUser(env.UserID, env)
				return
			}
			s.BroadcastToAll(env)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) recordSend(msgType string, delivered int) {
	if delivered <= 0 {
		return
	}
	s.messagesSent.Add(int64(delivered))
	if s.metrics != nil {
		s.metrics.messagesSent.WithLabelValues(msgType).Add(float64(delivered))
		s.metrics.deliveriesTotal.Add(float64(delivered))
	}
}

func (s *Server) countError(errorType string) {
	s.sendErrors.Add(1)
	if s.metrics != nil {
		s.metrics.errorsTotal.WithLabelValues(errorType).Inc()
	}
}

func (s *Server) reportHealth() {
	if s.monitor == nil {
		return
	}

	status := health.NewHealthy("relay", fmt.Sprintf("%d clients connected", s.registry.Count()))
	status.Metrics = &health.Metrics{
		Uptime:            time.Since(s.startTime),
		ErrorCount:        int(s.sendErrors.Load()),
		MessagesProcessed: s.messagesSent.Load(),
		LastActivity:      time.Now().UTC(),
	}
	s.monitor.Update("relay", status)
}

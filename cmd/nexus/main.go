// Package main implements the entry point for nexus-core: the real-time
// relay and SFDR validation service behind the Nexus compliance platform.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/nairamint/nexus-core/config"
	"github.com/nairamint/nexus-core/gateway"
	"github.com/nairamint/nexus-core/health"
	"github.com/nairamint/nexus-core/metric"
	"github.com/nairamint/nexus-core/natsclient"
	"github.com/nairamint/nexus-core/relay"
	"github.com/nairamint/nexus-core/validation"
)

// Build information constants
const (
	Version   = "0.3.0"
	BuildTime = "dev"
	appName   = "nexus"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting nexus-core (real-time relay and validation)",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	cfg, err := config.NewLoader().LoadFile(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	ctx := context.Background()

	metricsRegistry := metric.NewMetricsRegistry()
	monitor := health.NewMonitor()

	natsClient, err := setupNATS(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if natsClient != nil {
		defer natsClient.Close(ctx)
	}

	relayServer, err := setupRelay(cfg, natsClient, metricsRegistry, monitor, logger)
	if err != nil {
		return err
	}

	orchestrator, probe, err := setupValidation(cfg, relayServer, natsClient, metricsRegistry, monitor, logger)
	if err != nil {
		return err
	}

	gw, err := setupGateway(cfg, relayServer, orchestrator, metricsRegistry, monitor, logger)
	if err != nil {
		return err
	}

	return runWithSignalHandling(ctx, cliCfg.ShutdownTimeout, relayServer, probe, gw, orchestrator)
}

// setupNATS creates and connects the optional NATS client
func setupNATS(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*natsclient.Client, error) {
	if !cfg.NATS.Enabled {
		slog.Info("NATS bridge disabled")
		return nil, nil
	}

	client, err := natsclient.NewClient(cfg.NATS.URLs[0],
		natsclient.WithLogger(logger),
		natsclient.WithClientName(appName))
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	slog.Info("Connecting to NATS", "url", cfg.NATS.URLs[0])
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return client, nil
}

// setupRelay creates the WebSocket relay server
func setupRelay(
	cfg *config.Config,
	natsClient *natsclient.Client,
	metricsRegistry *metric.MetricsRegistry,
	monitor *health.Monitor,
	logger *slog.Logger,
) (*relay.Server, error) {
	relayCfg := relay.DefaultServerConfig()
	relayCfg.Port = cfg.Relay.Port
	relayCfg.Path = cfg.Relay.Path
	relayCfg.PingInterval = config.Duration(cfg.Relay.PingInterval, relayCfg.PingInterval)
	relayCfg.ReadTimeout = config.Duration(cfg.Relay.ReadTimeout, relayCfg.ReadTimeout)
	relayCfg.WriteTimeout = config.Duration(cfg.Relay.WriteTimeout, relayCfg.WriteTimeout)
	relayCfg.NATSClient = natsClient
	relayCfg.Subjects = cfg.NATS.Subjects
	relayCfg.MetricsRegistry = metricsRegistry
	relayCfg.HealthMonitor = monitor
	relayCfg.Logger = logger

	server, err := relay.NewServer(relayCfg)
	if err != nil {
		return nil, fmt.Errorf("create relay server: %w", err)
	}
	return server, nil
}

// setupValidation builds the tier chain, probe and orchestrator
func setupValidation(
	cfg *config.Config,
	relayServer *relay.Server,
	natsClient *natsclient.Client,
	metricsRegistry *metric.MetricsRegistry,
	monitor *health.Monitor,
	logger *slog.Logger,
) (*validation.Orchestrator, *validation.AvailabilityProbe, error) {
	var tiers []validation.Tier
	var probe *validation.AvailabilityProbe
	var caps validation.CapabilitiesProvider

	if cfg.Validation.Primary.Enabled {
		primary, err := newHTTPTier(validation.SourcePrimary, cfg.Validation.Primary, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("create primary tier: %w", err)
		}
		tiers = append(tiers, primary)
		caps = primary

		probe, err = validation.NewProbe(primary,
			validation.WithProbeInterval(config.Duration(cfg.Validation.ProbeInterval, time.Minute)),
			validation.WithProbeLogger(logger),
			validation.WithProbeMetrics(metricsRegistry))
		if err != nil {
			return nil, nil, fmt.Errorf("create availability probe: %w", err)
		}
	}

	if cfg.Validation.External.Enabled {
		external, err := newHTTPTier(validation.SourceExternal, cfg.Validation.External, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("create external tier: %w", err)
		}
		tiers = append(tiers, external)
	}

	// The mock tier terminates the chain; validation never fails outright
	tiers = append(tiers, validation.NewMockTier())

	// Events fan out through the local relay, and over NATS when bridged
	var publisher validation.EventPublisher = relayServer
	if natsClient != nil && cfg.NATS.PublishSubject != "" {
		natsPub, err := validation.NewNATSPublisher(natsClient, cfg.NATS.PublishSubject)
		if err != nil {
			return nil, nil, fmt.Errorf("create NATS publisher: %w", err)
		}
		publisher = natsPub
	}

	opts := []validation.OrchestratorOption{
		validation.WithPublisher(publisher),
		validation.WithOrchestratorLogger(logger),
		validation.WithOrchestratorMetrics(metricsRegistry),
		validation.WithHealthMonitor(monitor),
		validation.WithTierTimeout(config.Duration(cfg.Validation.TierTimeout, 15*time.Second)),
	}
	if probe != nil {
		opts = append(opts, validation.WithProbe(probe))
	}
	if caps != nil {
		opts = append(opts, validation.WithCapabilitiesProvider(caps))
	}

	orchestrator, err := validation.NewOrchestrator(tiers, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("create orchestrator: %w", err)
	}
	return orchestrator, probe, nil
}

func newHTTPTier(name string, tierCfg config.TierConfig, logger *slog.Logger) (*validation.HTTPTier, error) {
	opts := []validation.HTTPTierOption{
		validation.WithTierLogger(logger),
	}
	if tierCfg.APIKey != "" {
		opts = append(opts, validation.WithAPIKey(tierCfg.APIKey))
	}
	if tierCfg.HealthPath != "" {
		opts = append(opts, validation.WithHealthPath(tierCfg.HealthPath))
	}
	if tierCfg.CapabilitiesPath != "" {
		opts = append(opts, validation.WithCapabilitiesPath(tierCfg.CapabilitiesPath))
	}

	validatePath := tierCfg.ValidatePath
	if validatePath == "" {
		validatePath = "/api/validate"
	}
	return validation.NewHTTPTier(name, tierCfg.BaseURL, validatePath, opts...)
}

// setupGateway creates the HTTP gateway
func setupGateway(
	cfg *config.Config,
	relayServer *relay.Server,
	orchestrator *validation.Orchestrator,
	metricsRegistry *metric.MetricsRegistry,
	monitor *health.Monitor,
	logger *slog.Logger,
) (*gateway.Gateway, error) {
	gwCfg := gateway.DefaultConfig()
	gwCfg.Port = cfg.Gateway.Port
	gwCfg.EnableCORS = cfg.Gateway.EnableCORS
	if len(cfg.Gateway.CORSOrigins) > 0 {
		gwCfg.CORSOrigins = cfg.Gateway.CORSOrigins
	}
	if cfg.Gateway.MaxRequestSize > 0 {
		gwCfg.MaxRequestSize = cfg.Gateway.MaxRequestSize
	}
	gwCfg.RequestTimeout = config.Duration(cfg.Gateway.RequestTimeout, gwCfg.RequestTimeout)

	gw, err := gateway.NewGateway(gwCfg, relayServer,
		gateway.WithValidator(orchestrator),
		gateway.WithHealthMonitor(monitor),
		gateway.WithMetricsRegistry(metricsRegistry),
		gateway.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("create gateway: %w", err)
	}
	return gw, nil
}

// runWithSignalHandling starts all components and blocks until shutdown
func runWithSignalHandling(
	ctx context.Context,
	shutdownTimeout time.Duration,
	relayServer *relay.Server,
	probe *validation.AvailabilityProbe,
	gw *gateway.Gateway,
	orchestrator *validation.Orchestrator,
) error {
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	if err := relayServer.Start(signalCtx); err != nil {
		return fmt.Errorf("start relay server: %w", err)
	}
	if probe != nil {
		if err := probe.Start(signalCtx); err != nil {
			return fmt.Errorf("start availability probe: %w", err)
		}
	}
	if err := gw.Start(signalCtx); err != nil {
		_ = relayServer.Stop(shutdownTimeout)
		return fmt.Errorf("start gateway: %w", err)
	}

	slog.Info("nexus-core started successfully")

	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	// Stop in reverse order: gateway first so producers stop injecting,
	// then the relay, then the validation pipeline.
	var firstErr error
	if err := gw.Stop(shutdownTimeout); err != nil {
		slog.Error("Error stopping gateway", "error", err)
		firstErr = err
	}
	if err := relayServer.Stop(shutdownTimeout); err != nil {
		slog.Error("Error stopping relay server", "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}
	if probe != nil {
		probe.Stop(ctx)
	}
	orchestrator.Close(ctx)

	slog.Info("nexus-core shutdown complete")
	return firstErr
}

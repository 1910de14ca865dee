// Command broker runs the intent-matching broker: the intent engine,
// provider registry, payment orchestrator, and push fan-out behind one HTTP
// and WebSocket surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kaustubh76/synapse/libs/api"
	"github.com/kaustubh76/synapse/libs/config"
	"github.com/kaustubh76/synapse/libs/health"
	"github.com/kaustubh76/synapse/libs/intent"
	"github.com/kaustubh76/synapse/libs/payments"
	"github.com/kaustubh76/synapse/libs/push"
	"github.com/kaustubh76/synapse/libs/registry"
	"github.com/kaustubh76/synapse/libs/telemetry"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to a TOML config file")
		debug      = flag.Bool("debug", false, "Enable debug logging")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logCfg := telemetry.DefaultLogConfig("synapse-broker")
	logCfg.Level = cfg.LogLevel
	logCfg.Format = cfg.LogFormat
	if *debug {
		logCfg.Level = "debug"
	}
	logger, err := telemetry.NewLogger(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting synapse broker",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.Bool("demo_mode", cfg.DemoMode),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The facilitator boundary: the in-tree demo simulation is the only
	// facilitator; with demo mode off the broker logs a warning and uses it.
	var facilitator payments.Facilitator
	if cfg.DemoMode {
		facilitator = payments.NewDemoFacilitator()
	} else {
		logger.Warn("no external facilitator configured, falling back to demo simulation")
		facilitator = payments.NewDemoFacilitator()
	}

	orchestrator := payments.NewOrchestrator(facilitator, payments.Config{
		FeeRatePermille:    cfg.PlatformFeePermille,
		EscrowTTL:          cfg.EscrowTTL(),
		FacilitatorTimeout: cfg.FacilitatorTimeout(),
	}, logger.Named("payments"))
	orchestrator.Start(ctx)
	defer orchestrator.Stop()

	// Event bridge first: the hub wants its snapshot hook, the registry and
	// engine want it as their event sink.
	bridge := api.NewEventBridge(logger.Named("bridge"))

	hub := push.NewHub(push.Config{
		BatchInterval:         cfg.PushBatchInterval(),
		MaxBatchSize:          cfg.PushMaxBatchSize,
		BackpressureThreshold: cfg.PushBackpressureThreshold,
	}, logger.Named("push"), push.WithSnapshot(bridge.Snapshot))
	bridge.BindHub(hub)
	hub.Start(ctx)
	defer hub.Stop()

	reg := registry.New(bridge, logger.Named("registry"),
		registry.WithLivenessWindow(cfg.HeartbeatLivenessWindow()),
		registry.WithSweepInterval(cfg.HeartbeatSweepInterval()),
	)
	reg.Start(ctx)
	defer reg.Stop()

	engine := intent.NewEngine(reg, orchestrator, bridge, intent.Config{
		BiddingDurationDefault: cfg.BiddingDurationDefault(),
		ExecutionGrace:         cfg.ExecutionGrace(),
		FailoverDepth:          cfg.FailoverDepth,
	}, logger.Named("engine"))
	bridge.BindEngine(engine)
	defer engine.Stop()

	checks := health.New()
	checks.Register("registry", health.CheckerFunc(func(ctx context.Context) health.CheckResult {
		stats := reg.GetStats()
		return health.CheckResult{
			Status:  health.StatusHealthy,
			Message: fmt.Sprintf("%d providers, %d online", stats.TotalProviders, stats.OnlineProviders),
		}
	}))
	checks.Register("push", health.CheckerFunc(func(ctx context.Context) health.CheckResult {
		stats := hub.GetStats()
		return health.CheckResult{
			Status:  health.StatusHealthy,
			Message: fmt.Sprintf("%d active connections", stats.ActiveConnections),
		}
	}))
	checks.Register("payments", health.CheckerFunc(func(ctx context.Context) health.CheckResult {
		stats := orchestrator.GetStats()
		if stats.FailedSettlements > stats.Settlements && stats.FailedSettlements > 0 {
			return health.CheckResult{
				Status:  health.StatusDegraded,
				Message: fmt.Sprintf("%d failed settlements", stats.FailedSettlements),
			}
		}
		return health.Healthy(fmt.Sprintf("%d settlements", stats.Settlements))
	}))

	handlers := api.NewHandlers(engine, reg, orchestrator, hub, logger.Named("api"))
	server := api.NewServer(&api.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		RequestTimeout:  30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		EnableCORS:      true,
		AllowedOrigins:  []string{"*"},
		EnableMetrics:   true,
		MetricsPath:     "/metrics",
	}, handlers, checks, logger.Named("api"))

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", zap.Error(err))
		}
	}

	if err := server.Stop(); err != nil {
		logger.Warn("server shutdown error", zap.Error(err))
	}
	logger.Info("broker stopped")
}

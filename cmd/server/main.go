package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/t77yq/alert-escalation/internal/alerts"
	"github.com/t77yq/alert-escalation/internal/api"
	"github.com/t77yq/alert-escalation/internal/auth"
	"github.com/t77yq/alert-escalation/internal/config"
	"github.com/t77yq/alert-escalation/internal/escalation"
	"github.com/t77yq/alert-escalation/internal/events"
	"github.com/t77yq/alert-escalation/internal/metrics"
	"github.com/t77yq/alert-escalation/internal/monitor"
	"github.com/t77yq/alert-escalation/internal/rules"
	"github.com/t77yq/alert-escalation/internal/storage"
)

func main() {
	configPath := flag.String("config", "", "path to the config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	var logger *zap.Logger
	if cfg.LogDevelopment {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()
	logger = logger.With(zap.String("app", cfg.AppName))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Open the alert store
	store, err := storage.Open(ctx, cfg.Storage.Driver, cfg.Storage.DSN, logger)
	if err != nil {
		logger.Fatal("Failed to open alert store", zap.Error(err))
	}
	defer store.Close()

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(registry)
	if err != nil {
		logger.Fatal("Failed to register metrics", zap.Error(err))
	}

	// Event publishing is optional
	var publisher events.Publisher = events.NopPublisher{}
	if cfg.NATS.URL != "" {
		nc, js, err := events.Connect(events.ConnectConfig{
			Name:           cfg.AppName,
			URL:            cfg.NATS.URL,
			MaxReconnects:  cfg.NATS.MaxReconnects,
			ReconnectWait:  cfg.NATS.ReconnectWait,
			ConnectTimeout: cfg.NATS.ConnectTimeout,
			Retries:        5,
		}, logger)
		if err != nil {
			logger.Fatal("Failed to connect to NATS after retries", zap.Error(err))
		}
		defer drain(nc, logger)

		natsPublisher, err := events.NewNATSPublisher(js, cfg.NATS.Stream, logger)
		if err != nil {
			logger.Fatal("Failed to create event publisher", zap.Error(err))
		}
		publisher = natsPublisher
	} else {
		logger.Info("NATS not configured, alert events are not published")
	}

	// Rules and escalation
	ruleSource := rules.LoadSource(cfg.RulesPath, logger)
	policy := escalation.NewPolicy(cfg.Escalation.Mode, cfg.Escalation.Thresholds, ruleSource, logger)
	engine := escalation.NewEngine(store, policy, logger,
		escalation.WithPublisher(publisher),
		escalation.WithMetrics(m))
	sweeper := escalation.NewScheduler(engine, cfg.Escalation.Interval, cfg.Escalation.SweepTimeout, logger)

	service, err := alerts.NewService(store, logger,
		alerts.WithPublisher(publisher),
		alerts.WithMetrics(m),
		alerts.WithBurst(cfg.Burst.Window, cfg.Burst.Threshold))
	if err != nil {
		logger.Fatal("Failed to create alert service", zap.Error(err))
	}

	// Auth
	if cfg.Auth.Secret == "" {
		logger.Fatal("auth.secret must be set")
	}
	issuer, err := auth.NewIssuer([]byte(cfg.Auth.Secret), cfg.Auth.TokenTTL, cfg.Auth.Username, cfg.Auth.Password)
	if err != nil {
		logger.Fatal("Failed to create token issuer", zap.Error(err))
	}

	reporter := monitor.NewReporter(service, publisher, m, cfg.MonitorInterval, logger)
	server := api.NewServer(api.Config{
		Addr:         cfg.Server.Addr,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, service, issuer, []byte(cfg.Auth.Secret), registry, logger, api.WithStatus(reporter))

	// Setup signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	if err := sweeper.Start(ctx); err != nil {
		logger.Fatal("Failed to start escalation scheduler", zap.Error(err))
	}
	if cfg.MonitorInterval > 0 {
		if err := reporter.Start(ctx); err != nil {
			logger.Fatal("Failed to start status reporter", zap.Error(err))
		}
	}
	server.Start()

	// Wait for shutdown signal
	<-ctx.Done()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("API server shutdown incomplete", zap.Error(err))
	}
	reporter.Stop()
	sweeper.Stop()

	logger.Info("Server shutting down gracefully")
}

func drain(nc *nats.Conn, logger *zap.Logger) {
	if err := nc.Drain(); err != nil {
		logger.Warn("Failed to drain NATS connection", zap.Error(err))
		nc.Close()
	}
}

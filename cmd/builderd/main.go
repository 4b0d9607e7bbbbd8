package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/liquidcrypto/liquidos-builder/internal/builder/api"
	"github.com/liquidcrypto/liquidos-builder/internal/config"
	"github.com/liquidcrypto/liquidos-builder/internal/gateway"
	"github.com/liquidcrypto/liquidos-builder/internal/health"
	"github.com/liquidcrypto/liquidos-builder/internal/history"
	"github.com/liquidcrypto/liquidos-builder/internal/metrics"
	"github.com/liquidcrypto/liquidos-builder/internal/notify"
	"github.com/liquidcrypto/liquidos-builder/internal/session"
	"github.com/liquidcrypto/liquidos-builder/internal/stream"
)

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()

	if os.Getenv("ENVIRONMENT") == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	log.Logger = logger

	// Load config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err == nil {
		zerolog.SetGlobalLevel(level)
	}

	logger.Info().
		Str("environment", cfg.Environment).
		Str("backend", cfg.BuilderBaseURL).
		Str("gateway_addr", cfg.GatewayListenAddr).
		Dur("poll_interval", cfg.PollInterval).
		Bool("stream_enabled", cfg.StreamEnabled()).
		Bool("history_enabled", cfg.HistoryEnabled()).
		Bool("slack_enabled", cfg.SlackEnabled()).
		Msg("starting builderd")

	// Context with graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Backend client
	client := api.NewClient(cfg.BuilderBaseURL, cfg.BuilderToken, logger)
	client.SetTimeout(cfg.RequestTimeout)

	// Metrics
	metricsCollector := metrics.New()

	// Health checker
	checker := health.NewChecker(logger)
	checker.Register("backend", func(ctx context.Context) health.Status {
		if _, err := client.BuildHistory(ctx); err != nil {
			return health.StatusDown
		}
		return health.StatusOK
	})

	// Session store
	store := session.NewStore(client, logger)
	store.SetMetrics(metricsCollector)

	// Local history (optional SQLite cache)
	var hist *history.Store
	if cfg.HistoryEnabled() {
		hist, err = history.New(cfg.HistoryDBPath, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to open history database")
		}
		defer hist.Close()
		store.SetHistory(hist)
		checker.Register("history", func(ctx context.Context) health.Status {
			if err := hist.DB().PingContext(ctx); err != nil {
				return health.StatusDegraded
			}
			return health.StatusOK
		})

		if err := store.SeedFromCache(); err != nil {
			logger.Warn().Err(err).Msg("failed to seed builds from cache")
		}
	} else {
		logger.Info().Msg("history persistence not configured")
	}

	// Slack notifications (optional)
	if cfg.SlackEnabled() {
		store.SetNotifier(notify.NewSlackNotifier(cfg.SlackBotToken, cfg.SlackChannel, logger))
		logger.Info().Str("channel", cfg.SlackChannel).Msg("Slack notifications enabled")
	} else {
		logger.Info().Msg("Slack not configured")
	}

	// Initial history load; cached records cover a backend outage.
	loadCtx, loadCancel := context.WithTimeout(ctx, cfg.RequestTimeout)
	if err := store.LoadHistory(loadCtx); err != nil {
		logger.Warn().Err(err).Msg("initial history load failed; continuing with cache")
	}
	loadCancel()

	// WaitGroup for in-flight work
	var wg sync.WaitGroup

	// Poller
	poller := session.NewPoller(store, cfg.PollInterval, logger)
	poller.SetMetrics(metricsCollector)
	wg.Add(1)
	go func() {
		defer wg.Done()
		poller.Run(ctx)
	}()

	// Status stream (optional; polling remains the fallback)
	if cfg.StreamEnabled() {
		streamClient := stream.NewClient(stream.Config{
			URL:   cfg.StreamURL,
			Token: cfg.BuilderToken,
		}, store, logger)
		streamClient.SetMetrics(metricsCollector)
		wg.Add(1)
		go func() {
			defer wg.Done()
			streamClient.Run(ctx)
		}()
	}

	// Gateway API
	gw := gateway.NewServer(gateway.ServerConfig{
		ListenAddr: cfg.GatewayListenAddr,
		AuthConfig: gateway.AuthConfig{
			Mode:      cfg.GatewayAuthMode,
			APIKey:    cfg.GatewayAPIKey,
			JWTSecret: cfg.GatewayJWTSecret,
		},
		RateLimit: gateway.RateLimitConfig{
			RPS:   cfg.GatewayRateLimitRPS,
			Burst: cfg.GatewayRateLimitBurst,
		},
		CORSOrigins: cfg.GatewayCORSOrigins,
		TLSCert:     cfg.GatewayTLSCert,
		TLSKey:      cfg.GatewayTLSKey,
	}, store, client, checker, metricsCollector, logger)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := gw.Start(); err != nil {
			logger.Error().Err(err).Msg("gateway server error")
		}
	}()

	// Wait for shutdown signal
	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutting down gracefully")

	cancel()

	if err := gw.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("gateway shutdown error")
	}

	// Wait for in-flight work to complete
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("all goroutines stopped")
	case <-time.After(15 * time.Second):
		logger.Warn().Msg("forced shutdown after timeout")
	}

	logger.Info().Msg("builderd stopped")
}

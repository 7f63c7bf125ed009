package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/lexiqai/companion-gateway/internal/config"
	"github.com/lexiqai/companion-gateway/internal/gateway"
	"github.com/lexiqai/companion-gateway/internal/history"
	"github.com/lexiqai/companion-gateway/internal/observability"
	"github.com/lexiqai/companion-gateway/internal/resilience"
	"github.com/lexiqai/companion-gateway/internal/session"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("voice_backend", cfg.VoiceBackend).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Bool("history_persistent", cfg.DatabaseURL != "").
		Msg("Companion Gateway starting")

	resetTimeout := time.Duration(cfg.CircuitBreakerResetTimeout) * time.Second
	voiceBreaker := newBreaker("voice_backend", cfg.CircuitBreakerMaxFailures, resetTimeout)
	historyBreaker := newBreaker("history", cfg.CircuitBreakerMaxFailures, resetTimeout)

	store, err := openHistoryStore(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open session history store")
	}
	defer store.Close()

	recorder := history.NewRecorder(store, history.RecorderConfig{
		Timeout: time.Duration(cfg.HistoryTimeout) * time.Second,
		Retry: &resilience.RetryConfig{
			MaxAttempts:       cfg.RetryMaxAttempts,
			InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
			MaxBackoff:        5 * time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            true,
		},
		Breaker: historyBreaker,
		Logger:  logger,
	})

	newClient, err := gateway.NewClientFactory(cfg, voiceBreaker)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to configure voice backend")
	}

	sessions := gateway.NewRegistry()
	handler := &gateway.Handler{
		NewClient: newClient,
		Sessions:  sessions,
		Recorder:  recorder,
		Settings:  session.SettingsFromConfig(cfg),
	}

	// Create HTTP server
	mux := http.NewServeMux()
	handler.Register(mux)

	// Health check endpoint
	mux.HandleFunc("/health", observability.HealthCheckHandler())

	// Readiness endpoint
	mux.HandleFunc("/ready", observability.ReadinessHandler(map[string]observability.HealthCheckFunc{
		"history": func(ctx context.Context) (bool, error) {
			if err := store.Ping(ctx); err != nil {
				return false, err
			}
			return true, nil
		},
		"history_writes": historyBreaker.Ready,
		"voice_backend":  voiceBreaker.Ready,
	}))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// WriteTimeout stays unset: session websockets are long-lived.
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		endpoint := fmt.Sprintf("ws://localhost:%s/sessions/ws", cfg.Port)
		if cfg.PublicURL != "" {
			endpoint = cfg.PublicURL + "/sessions/ws"
		}
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", endpoint).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Session websockets are hijacked, so Shutdown does not wait for them.
	if n := sessions.CancelAll(); n > 0 {
		logger.Info().Int("sessions", n).Msg("Closing live sessions")
	}
	if !sessions.Wait(ctx) {
		logger.Warn().Int("sessions", sessions.Count()).Msg("Live sessions did not close in time")
	}

	if err := recorder.Close(ctx); err != nil {
		logger.Warn().Err(err).Msg("Pending session history writes were cancelled")
	}

	logger.Info().Msg("Server exited gracefully")
}

func newBreaker(name string, maxFailures int, resetTimeout time.Duration) *resilience.CircuitBreaker {
	cb := resilience.NewCircuitBreaker(name, maxFailures, resetTimeout)
	cb.OnStateChange = func(name string, state resilience.CircuitState) {
		observability.UpdateCircuitBreakerState(name, int(state))
		logger := observability.GetLogger()
		logger.Warn().
			Str("service", name).
			Str("state", state.String()).
			Msg("Circuit breaker state changed")
	}
	observability.UpdateCircuitBreakerState(name, int(resilience.StateClosed))
	return cb
}

// openHistoryStore returns the Postgres store when DATABASE_URL is set, after waiting for
// the database and applying migrations, and an in-memory store otherwise.
func openHistoryStore(cfg *config.Config, logger zerolog.Logger) (history.Store, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn().Msg("DATABASE_URL not set, session history is kept in memory")
		return history.NewMemoryStore(), nil
	}

	store, err := history.NewPostgresStore(context.Background(), cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.DatabaseWaitTimeout)*time.Second)
	defer cancel()

	reconnect := &resilience.ReconnectConfig{
		MaxAttempts: cfg.ReconnectMaxAttempts,
		Backoff:     time.Duration(cfg.ReconnectBackoff) * time.Millisecond,
		Multiplier:  2.0,
		MaxBackoff:  30 * time.Second,
	}
	dbLogger := logger.With().Str("component", "history").Logger()
	if err := resilience.Reconnect(ctx, dbLogger, store.Ping, reconnect); err != nil {
		store.Close()
		return nil, fmt.Errorf("wait for database: %w", err)
	}

	if err := history.Migrate(ctx, cfg.DatabaseURL, dbLogger); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

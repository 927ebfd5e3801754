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

	"github.com/lexiqai/lounge-voice/internal/config"
	"github.com/lexiqai/lounge-voice/internal/observability"
	"github.com/lexiqai/lounge-voice/internal/proxy"
	"github.com/lexiqai/lounge-voice/internal/resilience"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const serviceName = "lounge-api-proxy"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logCloser := observability.InitLogger(observability.LogOptions{
		Level:     cfg.LogLevel,
		Pretty:    cfg.LogPretty,
		File:      cfg.LogFile,
		MaxSizeMB: cfg.LogFileMaxSize,
	})
	defer logCloser.Close()
	logger := observability.GetLogger()

	if cfg.GoogleAPIKey == "" {
		// Requests will be answered with an error until the key is set
		logger.Warn().Msg("GOOGLE_API_KEY (or Gemini_API_KEY) not set")
	}

	logger.Info().
		Str("port", cfg.ProxyPort).
		Str("upstream", cfg.UpstreamBaseURL).
		Str("log_level", cfg.LogLevel).
		Msg("API proxy starting")

	shutdownTracing, err := observability.InitTracing(context.Background(), observability.TracingOptions{
		Service:      serviceName,
		OTLPEndpoint: cfg.OTLPEndpoint,
		OTLPInsecure: cfg.OTLPInsecure,
		Stdout:       cfg.TraceStdout,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize tracing")
	}

	breaker := resilience.NewCircuitBreaker(
		"upstream",
		cfg.CircuitBreakerMaxFailures,
		time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
	)
	p, err := proxy.New(proxy.Options{
		BaseURL: cfg.UpstreamBaseURL,
		APIKey:  cfg.GoogleAPIKey,
		Timeout: time.Duration(cfg.UpstreamTimeout) * time.Second,
		Breaker: breaker,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create proxy")
	}

	mux := http.NewServeMux()
	mux.Handle(proxy.Prefix, p)
	mux.HandleFunc("/health", observability.HealthCheckHandler(serviceName))
	mux.HandleFunc("/ready", observability.ReadinessHandler(serviceName, map[string]observability.HealthCheckFunc{
		"upstream": func(ctx context.Context) (bool, error) {
			if cfg.GoogleAPIKey == "" {
				return false, errors.New(proxy.MissingKeyMessage)
			}
			if breaker.GetState() == resilience.StateOpen {
				return false, resilience.ErrCircuitOpen
			}
			return true, nil
		},
	}))

	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// WriteTimeout stays unset: relayed websockets are long-lived
	server := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.ProxyPort),
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("port", cfg.ProxyPort).
			Str("endpoint", fmt.Sprintf("http://localhost:%s%s", cfg.ProxyPort, proxy.Prefix)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	if err := shutdownTracing(ctx); err != nil {
		logger.Warn().Err(err).Msg("Failed to flush traces")
	}

	logger.Info().Msg("Server exited gracefully")
}

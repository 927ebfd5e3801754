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

	"github.com/lexiqai/lounge-voice/internal/appstate"
	"github.com/lexiqai/lounge-voice/internal/audio"
	"github.com/lexiqai/lounge-voice/internal/binding"
	"github.com/lexiqai/lounge-voice/internal/config"
	"github.com/lexiqai/lounge-voice/internal/device"
	"github.com/lexiqai/lounge-voice/internal/events"
	"github.com/lexiqai/lounge-voice/internal/focus"
	"github.com/lexiqai/lounge-voice/internal/live"
	"github.com/lexiqai/lounge-voice/internal/observability"
	"github.com/lexiqai/lounge-voice/internal/persona"
	"github.com/lexiqai/lounge-voice/internal/resilience"
	"github.com/lexiqai/lounge-voice/internal/store"
	"github.com/lexiqai/lounge-voice/internal/stt"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const serviceName = "lounge-voice"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
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

	logger.Info().
		Str("port", cfg.Port).
		Str("live_endpoint", cfg.LiveEndpoint).
		Str("log_level", cfg.LogLevel).
		Bool("audio_devices", cfg.AudioDevicesEnabled).
		Bool("dictation", cfg.DictationEnabled()).
		Msg("Lounge voice service starting")

	ctx := context.Background()

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingOptions{
		Service:      serviceName,
		OTLPEndpoint: cfg.OTLPEndpoint,
		OTLPInsecure: cfg.OTLPInsecure,
		Stdout:       cfg.TraceStdout,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize tracing")
	}

	// Personas
	catalog := persona.Default()
	if cfg.PersonaFile != "" {
		if catalog, err = persona.LoadFile(cfg.PersonaFile); err != nil {
			logger.Fatal().Err(err).Str("file", cfg.PersonaFile).Msg("Failed to load personas")
		}
	}

	// Archive and app state
	archive, err := store.Open(ctx, cfg.StorePath, cfg.StoreMaxSessions)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.StorePath).Msg("Failed to open store")
	}
	defer archive.Close()

	state := appstate.NewStore(archive)
	if err := state.Load(ctx); err != nil {
		logger.Warn().Err(err).Msg("Starting with empty app state")
	}

	archiver := store.NewArchiver(archive, 0)
	observers := []live.Observer{archiver}

	// Event bus
	var embedded *events.EmbeddedServer
	natsURL := cfg.NATSURL
	if cfg.NATSEmbedded {
		if embedded, err = events.StartEmbedded("127.0.0.1", cfg.NATSEmbeddedPort); err != nil {
			logger.Fatal().Err(err).Msg("Failed to start embedded NATS server")
		}
		if natsURL == "" {
			natsURL = embedded.URL()
		}
	}
	publisher, err := events.Connect(natsURL, cfg.NATSSubject)
	if err != nil {
		// Publishing is best effort; sessions work without it
		logger.Warn().Err(err).Str("url", natsURL).Msg("NATS unavailable, session events will not be published")
	}
	if publisher != nil {
		observers = append(observers, publisher)
	}

	// Audio devices
	var mic audio.MicrophoneSource
	var speaker *device.Speaker
	var devices *device.Context
	if cfg.AudioDevicesEnabled {
		devices, err = device.NewContext()
		if err == nil {
			speaker, err = devices.Speaker(audio.PlaybackSampleRate, cfg.SpeakerBufferMs)
		}
		if err != nil {
			logger.Error().Err(err).Msg("Audio devices unavailable, voice sessions will report a capture error")
		} else {
			mic = devices.Microphone(audio.CaptureSampleRate)
		}
	}
	if speaker == nil {
		speaker = device.Detached(audio.PlaybackSampleRate, cfg.SpeakerBufferMs)
	}

	controller, err := binding.NewController(binding.Options{
		Endpoint:       cfg.LiveEndpoint,
		Catalog:        catalog,
		Tools:          appstate.NewToolSet(state, catalog),
		Microphone:     mic,
		Speaker:        speaker,
		Observers:      observers,
		DefaultPersona: persona.ID(cfg.DefaultPersona),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create voice controller")
	}

	handlerOpts := binding.HandlerOptions{
		Controller: controller,
		State:      state,
		Archive:    archive,
	}

	var recognizer *stt.DeepgramClient
	if cfg.DictationEnabled() && mic != nil {
		recognizer = stt.NewDeepgramClient(cfg)
		handlerOpts.Dictation = stt.NewDictation(recognizer, mic, state)
	}

	if cfg.GoogleAPIKey != "" {
		advisor, err := focus.NewClientAdvisor(ctx, focus.Options{
			APIKey:  cfg.GoogleAPIKey,
			BaseURL: cfg.FocusBaseURL,
			Model:   cfg.FocusModel,
			Breaker: resilience.NewCircuitBreaker(
				"focus",
				cfg.CircuitBreakerMaxFailures,
				time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
			),
		})
		if err != nil {
			logger.Error().Err(err).Msg("Quest focus disabled")
		} else {
			handlerOpts.Focus = advisor
		}
	}

	// Create HTTP server
	mux := http.NewServeMux()
	binding.NewHandler(handlerOpts).Register(mux)

	mux.HandleFunc("/health", observability.HealthCheckHandler(serviceName))
	mux.HandleFunc("/ready", observability.ReadinessHandler(serviceName, map[string]observability.HealthCheckFunc{
		"store": func(ctx context.Context) (bool, error) {
			if err := archive.Ping(ctx); err != nil {
				return false, err
			}
			return true, nil
		},
		"nats": natsCheck(publisher),
	}))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// WriteTimeout stays unset: /voice/events is a long-lived websocket
	server := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Port),
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("events", fmt.Sprintf("ws://localhost:%s/voice/events", cfg.Port)).
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
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Sessions first so their final transitions reach the archive and the bus
	controller.Close()
	if d, ok := handlerOpts.Dictation.(*stt.Dictation); ok && d.Active() {
		d.Stop()
	}
	if recognizer != nil {
		recognizer.Close()
	}
	if err := archiver.Close(); err != nil {
		logger.Warn().Err(err).Msg("Archiver did not drain")
	}
	if publisher != nil {
		publisher.Close()
	}
	embedded.Shutdown()

	speaker.Close()
	if devices != nil {
		devices.Close()
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Failed to flush traces")
	}

	logger.Info().Msg("Server exited gracefully")
}

func natsCheck(p *events.Publisher) observability.HealthCheckFunc {
	if p == nil {
		return nil
	}
	return func(ctx context.Context) (bool, error) {
		if !p.Healthy() {
			return false, errors.New("not connected")
		}
		return true, nil
	}
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/lexiqai/spectral-pipeline/internal/config"
	"github.com/lexiqai/spectral-pipeline/internal/decision"
	"github.com/lexiqai/spectral-pipeline/internal/kernel"
	"github.com/lexiqai/spectral-pipeline/internal/observability"
	"github.com/lexiqai/spectral-pipeline/internal/pipeline"
	"github.com/lexiqai/spectral-pipeline/internal/resilience"
	"github.com/lexiqai/spectral-pipeline/internal/source"
	"github.com/lexiqai/spectral-pipeline/internal/stream"
)

func main() {
	healthcheck := flag.Bool("healthcheck", false, "query the local gRPC health service and exit 0 when serving")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *healthcheck {
		os.Exit(runHealthcheck(cfg))
	}

	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	base := observability.GetLogger()
	logger := observability.WithComponent("server")

	logger.Info().
		Str("port", cfg.Port).
		Str("grpc_port", cfg.GRPCPort).
		Str("transform", cfg.Transform).
		Int("kernel_length", cfg.KernelLength).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Spectral pipeline service starting")

	transform, err := kernel.New(cfg.Transform, cfg.KernelLength, cfg.Window)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create transform")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	src := newSource(cfg, base)
	go func() {
		if err := src.Run(ctx); err != nil {
			logger.Error().Err(err).Msg("Audio source stopped")
		}
	}()

	store := decision.NewStore(cfg.SubjectCapacity)
	hub := stream.NewHub(store, cfg.SubscriberQueueSize, base)
	go hub.Run(ctx)

	p, err := pipeline.New(cfg, transform, src, hub, base)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create pipeline")
	}
	if err := p.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Pipeline handshake failed")
	}

	checks := []observability.NamedCheck{
		{Name: "pipeline", Check: func(ctx context.Context) (bool, error) {
			if !p.Ready() {
				return false, errors.New("pipeline not ready")
			}
			return true, nil
		}},
		{Name: "source", Check: src.Check},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/streams/spectrum", hub.HandleSpectrum())
	mux.HandleFunc("/subjects", hub.HandleSubjects())
	mux.HandleFunc("/health", observability.HealthCheckHandler())
	mux.HandleFunc("/ready", observability.ReadinessHandler(checks...))
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// Create HTTP server with timeouts. WriteTimeout is left unset because
	// spectrum subscriptions are long-lived.
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s/streams/spectrum", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	grpcHealth := observability.NewGRPCHealth(base, checks...)
	lis, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.GRPCPort))
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to listen for gRPC health")
	}
	go func() {
		if err := grpcHealth.Serve(lis); err != nil {
			logger.Error().Err(err).Msg("gRPC health server stopped")
		}
	}()
	go grpcHealth.Watch(ctx, 5*time.Second)

	<-ctx.Done()
	logger.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	grpcHealth.Stop()
	hub.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	p.Close()
	if err := src.Close(); err != nil {
		logger.Warn().Err(err).Msg("Error closing audio source")
	}

	s := p.Stats()
	logger.Info().
		Uint64("frames", s.Frames).
		Uint64("cycles", s.Cycles).
		Uint64("underruns", s.Underruns).
		Uint64("input_dropped", s.InputDropped).
		Uint64("output_dropped", s.OutputDropped).
		Uint64("hub_dropped", hub.Dropped()).
		Int("viewers", hub.Subscribers()).
		Int("subjects", store.Len()).
		Uint64("subjects_evicted", store.Evicted()).
		Msg("Server exited gracefully")
}

// runHealthcheck asks the gRPC health service of a running instance for its
// status. It backs container health checks, where no HTTP client is available.
func runHealthcheck(cfg *config.Config) int {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	serving, err := observability.CheckGRPCHealth(ctx, net.JoinHostPort("localhost", cfg.GRPCPort), "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		return 1
	}
	if !serving {
		fmt.Fprintln(os.Stderr, "Service not serving")
		return 1
	}
	return 0
}

// newSource picks the upstream WebSocket when SOURCE_URL is set, otherwise a tone
func newSource(cfg *config.Config, logger zerolog.Logger) source.Source {
	if cfg.SourceURL == "" {
		logger.Info().Float64("frequency", cfg.ToneFrequency).Msg("Using synthetic tone source")
		return source.NewTone(cfg.ToneFrequency, float32(cfg.ToneAmplitude), cfg.SampleRate)
	}

	return source.NewWebSocket(source.WebSocketConfig{
		URL:        cfg.SourceURL,
		SampleRate: cfg.EffectiveSourceSampleRate(),
		TargetRate: cfg.SampleRate,
		BufferSize: cfg.SourceBufferSize,
		Reconnect: &resilience.ReconnectConfig{
			MaxAttempts: cfg.ReconnectMaxAttempts,
			Backoff:     time.Duration(cfg.ReconnectBackoff) * time.Millisecond,
			Multiplier:  2.0,
			MaxBackoff:  30 * time.Second,
		},
		Breaker: resilience.NewCircuitBreaker(
			"source",
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
			logger,
		),
	}, logger)
}

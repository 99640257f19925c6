package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/kirkproxy/internal/api"
	"github.com/dunamismax/kirkproxy/internal/config"
	"github.com/dunamismax/kirkproxy/internal/logging"
	"github.com/dunamismax/kirkproxy/internal/pipeline"
	"github.com/dunamismax/kirkproxy/internal/queue"
	"github.com/dunamismax/kirkproxy/internal/ratelimit"
	"github.com/dunamismax/kirkproxy/internal/storage"
	"github.com/dunamismax/kirkproxy/internal/store"
	"github.com/dunamismax/kirkproxy/internal/telemetry"
	"github.com/dunamismax/kirkproxy/internal/upstream"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
)

func main() {
	cfg, err := config.Load(os.Getenv("KIRKPROXY_CONFIG"))
	if err != nil {
		log.Fatal().Err(err).Msg("could not load config")
	}
	logger := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format}, "kirkproxy-api")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  cfg.Tracing.ServiceName + "-api",
		Exporter:     cfg.Tracing.Exporter,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		OTLPInsecure: cfg.Tracing.OTLPInsecure,
		SampleRatio:  cfg.Tracing.SampleRatio,
		Component:    "api",
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("tracing setup failed")
	}

	if err := pipeline.Startup(); err != nil {
		logger.Fatal().Err(err).Msg("image runtime startup failed")
	}
	defer pipeline.Shutdown()

	images, err := storage.New(ctx, storage.Config{
		Backend:   cfg.Storage.Backend,
		LocalDir:  cfg.Storage.LocalDir,
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		Bucket:    cfg.Storage.Bucket,
		Prefix:    cfg.Storage.Prefix,
		UseSSL:    cfg.Storage.UseSSL,
	})
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.Storage.Backend).Msg("image store init failed")
	}

	runs, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Database.Driver).Msg("run store init failed")
	}
	defer runs.Close()

	processor, err := pipeline.NewProcessor(logger, pipeline.Deps{
		Face:            upstream.NewFaceClient(cfg.Upstream.FaceURL, cfg.Upstream.FaceTimeout),
		Submitter:       upstream.NewTransformClient(cfg.Upstream.TransformURL, cfg.Upstream.TransformTimeout),
		Store:           images,
		SourceImagePath: cfg.Upstream.SourceImagePath,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("processor init failed")
	}

	opts := api.Options{
		Logger:      logger,
		Renderer:    processor,
		Runs:        runs,
		Images:      images,
		FaviconPath: cfg.API.FaviconPath,
		Tracer:      otel.Tracer("kirkproxy/api"),
	}

	if cfg.Queue.Enabled {
		queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name, cfg.Queue.TaskTimeout)
		defer func() {
			if err := queueClient.Close(); err != nil {
				logger.Warn().Err(err).Msg("queue client close error")
			}
		}()
		opts.Queue = queueClient
	}

	if cfg.RateLimit.Enabled {
		limiter, err := ratelimit.NewRedisTokenBucket(
			redis.NewClient(&redis.Options{Addr: cfg.RateLimit.RedisAddr}),
			ratelimit.Options{Capacity: cfg.RateLimit.Capacity, Window: cfg.RateLimit.Window},
		)
		if err != nil {
			logger.Fatal().Err(err).Msg("rate limiter init failed")
		}
		defer limiter.Close()
		opts.RateLimiter = limiter
	}

	app := api.NewServer(opts)

	httpServer := &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           app.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.Upstream.FaceTimeout + cfg.Upstream.TransformTimeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("addr", cfg.API.Addr).
			Bool("queue", cfg.Queue.Enabled).
			Bool("rate_limit", cfg.RateLimit.Enabled).
			Str("storage", cfg.Storage.Backend).
			Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
	defer cancel()

	logger.Info().Msg("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("tracing shutdown failed")
	}
}

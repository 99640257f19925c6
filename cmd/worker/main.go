package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/dunamismax/kirkproxy/internal/config"
	"github.com/dunamismax/kirkproxy/internal/logging"
	"github.com/dunamismax/kirkproxy/internal/pipeline"
	"github.com/dunamismax/kirkproxy/internal/storage"
	"github.com/dunamismax/kirkproxy/internal/store"
	"github.com/dunamismax/kirkproxy/internal/telemetry"
	"github.com/dunamismax/kirkproxy/internal/upstream"
	"github.com/dunamismax/kirkproxy/internal/webhook"
	"github.com/dunamismax/kirkproxy/internal/worker"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load(os.Getenv("KIRKPROXY_CONFIG"))
	if err != nil {
		log.Fatal().Err(err).Msg("could not load config")
	}
	logger := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format}, "kirkproxy-worker")
	ctx := context.Background()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  cfg.Tracing.ServiceName + "-worker",
		Exporter:     cfg.Tracing.Exporter,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		OTLPInsecure: cfg.Tracing.OTLPInsecure,
		SampleRatio:  cfg.Tracing.SampleRatio,
		Component:    "worker",
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

	notifier := webhook.NewNotifier(webhook.Config{
		SigningSecret:  cfg.Webhook.SigningSecret,
		Timeout:        cfg.Webhook.Timeout,
		MaxAttempts:    cfg.Webhook.MaxAttempts,
		InitialBackoff: cfg.Webhook.InitialBackoff,
		MaxBackoff:     cfg.Webhook.MaxBackoff,
	})

	srv, err := worker.NewServer(logger, cfg.Queue, cfg.Worker, processor, images, runs, notifier)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker init failed")
	}

	var metricsServer *http.Server
	if cfg.Worker.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", srv.MetricsHandler())
		metricsServer = &http.Server{
			Addr:              cfg.Worker.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	logger.Info().
		Int("concurrency", cfg.Worker.Concurrency).
		Int("max_active_jobs", cfg.Worker.MaxActiveJobs).
		Str("queue", cfg.Queue.Name).
		Str("redis", cfg.Queue.RedisAddr).
		Msg("starting worker")

	// Run blocks until SIGINT or SIGTERM and drains in-flight renders.
	if err := srv.Run(); err != nil {
		logger.Error().Err(err).Msg("worker failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("tracing shutdown failed")
	}
}

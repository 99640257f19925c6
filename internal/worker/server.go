package worker

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/dunamismax/kirkproxy/internal/config"
	"github.com/dunamismax/kirkproxy/internal/domain"
	"github.com/dunamismax/kirkproxy/internal/pipeline"
	"github.com/dunamismax/kirkproxy/internal/queue"
	"github.com/dunamismax/kirkproxy/internal/store"
	"github.com/dunamismax/kirkproxy/internal/webhook"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Server struct {
	logger   zerolog.Logger
	server   *asynq.Server
	sem      chan struct{}
	renderer renderer
	images   imageWriter
	runs     store.RunStore
	webhooks webhookSender
	metrics  *metrics
	tracer   trace.Tracer
}

type renderer interface {
	Run(ctx context.Context, runID string, size int) (domain.Result, error)
}

type imageWriter interface {
	Write(ctx context.Context, key string, data []byte, contentType string) error
}

type webhookSender interface {
	Notify(ctx context.Context, endpoint string, ev webhook.RenderEvent) error
}

func NewServer(
	logger zerolog.Logger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	renderer renderer,
	images imageWriter,
	runs store.RunStore,
	webhooks webhookSender,
) (*Server, error) {
	if renderer == nil || images == nil || runs == nil {
		return nil, fmt.Errorf("renderer, image store and run store are required")
	}

	s := &Server{
		logger: logger,
		server: asynq.NewServer(
			queueCfg.RedisClientOpt(),
			asynq.Config{
				Concurrency: workerCfg.Concurrency,
				Queues: map[string]int{
					queueCfg.Name: 1,
				},
				Logger:   asynqLogger{logger: logger.With().Str("component", "asynq").Logger()},
				LogLevel: asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					logger.Error().Err(err).Str("type", task.Type()).Int("retry", retried).Int("max_retry", maxRetry).Msg("task failed")
				}),
			},
		),
		sem:      make(chan struct{}, max(1, workerCfg.MaxActiveJobs)),
		renderer: renderer,
		images:   images,
		runs:     runs,
		webhooks: webhooks,
		metrics:  newMetrics(),
		tracer:   otel.Tracer("kirkproxy/worker"),
	}
	return s, nil
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeRender, s.handleRender)
	return s.server.Run(mux)
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleRender(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.ParseRenderPayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}
	return s.render(ctx, payload)
}

// render runs one queued render and records its outcome. A failed render
// marks the run failed and is reported to asynq so the task is archived.
func (s *Server) render(ctx context.Context, payload queue.RenderPayload) error {
	startedAt := time.Now()
	outcome := domain.RunStatusFailed
	logger := s.logger.With().Str("run_id", payload.RunID).Int("size", payload.Size).Logger()

	ctx, span := s.tracer.Start(ctx, "worker.render", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("run.id", payload.RunID),
		attribute.Int("run.size", payload.Size),
	)
	defer span.End()

	s.sem <- struct{}{}
	s.metrics.activeRenders.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeRenders.Dec()
		s.metrics.renderDuration.WithLabelValues(outcome).Observe(time.Since(startedAt).Seconds())
	}()

	logger.Info().Dur("queued_for", startedAt.Sub(payload.RequestedAt)).Msg("render started")
	s.updateRun(ctx, logger, payload.RunID, domain.RunUpdate{Status: domain.RunStatusProcessing})

	outputKey := pipeline.OutputKey(payload.RunID)
	written, err := s.produce(ctx, payload, outputKey)
	if err != nil {
		kind := domain.FailureKind(err)
		s.metrics.rendersTotal.WithLabelValues(domain.RunStatusFailed, kind).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, kind)

		s.updateRun(ctx, logger, payload.RunID, domain.RunUpdate{
			Status:      domain.RunStatusFailed,
			FailureKind: kind,
			Error:       err.Error(),
		})
		s.dispatchWebhook(ctx, logger, payload, webhook.RenderEvent{
			RunID:       payload.RunID,
			Status:      domain.RunStatusFailed,
			Size:        payload.Size,
			FailureKind: kind,
			Error:       err.Error(),
			FinishedAt:  time.Now().UTC(),
		})
		return fmt.Errorf("render %s: %w", payload.RunID, err)
	}

	outcome = domain.RunStatusSucceeded
	s.metrics.rendersTotal.WithLabelValues(domain.RunStatusSucceeded, "").Inc()
	s.metrics.outputBytesTotal.Add(float64(written))
	span.SetStatus(codes.Ok, "rendered")
	logger.Info().Str("output_key", outputKey).Int("bytes", written).Dur("elapsed", time.Since(startedAt)).Msg("render succeeded")

	s.updateRun(ctx, logger, payload.RunID, domain.RunUpdate{
		Status:      domain.RunStatusSucceeded,
		OutputKey:   outputKey,
		OutputBytes: written,
	})
	s.dispatchWebhook(ctx, logger, payload, webhook.RenderEvent{
		RunID:       payload.RunID,
		Status:      domain.RunStatusSucceeded,
		Size:        payload.Size,
		OutputBytes: written,
		FinishedAt:  time.Now().UTC(),
	})
	return nil
}

func (s *Server) produce(ctx context.Context, payload queue.RenderPayload, outputKey string) (int, error) {
	res, err := s.renderer.Run(ctx, payload.RunID, payload.Size)
	if err != nil {
		return 0, err
	}
	data, err := res.Bytes()
	if err != nil {
		return 0, err
	}
	if err := s.images.Write(ctx, outputKey, data, "image/png"); err != nil {
		return 0, fmt.Errorf("store output %s: %w", outputKey, err)
	}
	return len(data), nil
}

func (s *Server) updateRun(ctx context.Context, logger zerolog.Logger, runID string, update domain.RunUpdate) {
	if _, err := s.runs.Update(ctx, runID, update); err != nil {
		logger.Warn().Err(err).Str("status", update.Status).Msg("run status update failed")
	}
}

// dispatchWebhook never fails the task: the render outcome is already
// recorded on the run.
func (s *Server) dispatchWebhook(ctx context.Context, logger zerolog.Logger, payload queue.RenderPayload, ev webhook.RenderEvent) {
	if payload.WebhookURL == "" || s.webhooks == nil {
		return
	}

	if err := s.webhooks.Notify(ctx, payload.WebhookURL, ev); err != nil {
		s.metrics.webhookFailuresTotal.WithLabelValues(ev.Event()).Inc()
		logger.Warn().Err(err).Str("event", ev.Event()).Msg("webhook delivery failed")
	}
}

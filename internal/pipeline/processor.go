package pipeline

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dunamismax/kirkproxy/internal/domain"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Processor struct {
	acquirer        *Acquirer
	transformer     *Transformer
	store           ImageStore
	sourceImagePath string
	logger          zerolog.Logger
	tracer          trace.Tracer
}

type Deps struct {
	Face            FaceSource
	Submitter       Submitter
	Store           ImageStore
	Resizer         Resizer
	SourceImagePath string
}

func NewProcessor(logger zerolog.Logger, deps Deps) (*Processor, error) {
	if deps.Face == nil || deps.Submitter == nil || deps.Store == nil {
		return nil, fmt.Errorf("face source, submitter and image store are required")
	}
	if deps.SourceImagePath == "" {
		return nil, fmt.Errorf("source image path is required")
	}
	resizer := deps.Resizer
	if resizer == nil {
		resizer = NewResizer()
	}

	return &Processor{
		acquirer:        NewAcquirer(logger, deps.Face, deps.Store, resizer),
		transformer:     NewTransformer(logger, deps.Submitter, resizer),
		store:           deps.Store,
		sourceImagePath: deps.SourceImagePath,
		logger:          logger,
		tracer:          otel.Tracer("kirkproxy/pipeline"),
	}, nil
}

// Run executes acquisition then transformation for one run. The acquired
// image lives under a key derived from runID and is removed afterwards, so
// concurrent runs never touch each other's files.
func (p *Processor) Run(ctx context.Context, runID string, size int) (domain.Result, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.Int("run.size", size),
	))
	defer span.End()

	startedAt := time.Now()
	logger := p.logger.With().Str("run_id", runID).Int("size", size).Logger()

	res, err := p.run(ctx, logger, runID, size)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, domain.FailureKind(err))
		logger.Error().Err(err).Str("kind", domain.FailureKind(err)).Dur("elapsed", time.Since(startedAt)).Msg("run failed")
		return domain.Result{}, err
	}

	span.SetStatus(codes.Ok, "processed")
	logger.Info().Dur("elapsed", time.Since(startedAt)).Msg("run processed")
	return res, nil
}

func (p *Processor) run(ctx context.Context, logger zerolog.Logger, runID string, size int) (domain.Result, error) {
	key := AcquiredKey(runID)
	defer p.discard(ctx, logger, key)

	if err := p.stage(ctx, "pipeline.acquire", func(ctx context.Context) error {
		_, err := p.acquirer.Acquire(ctx, key, size)
		return err
	}); err != nil {
		return domain.Result{}, fmt.Errorf("acquire stage: %w", err)
	}

	source, err := os.ReadFile(p.sourceImagePath)
	if err != nil {
		return domain.Result{}, fmt.Errorf("read source image %s: %w", p.sourceImagePath, err)
	}
	target, err := p.store.Read(ctx, key)
	if err != nil {
		return domain.Result{}, fmt.Errorf("read acquired image %s: %w", key, err)
	}

	var res domain.Result
	if err := p.stage(ctx, "pipeline.transform", func(ctx context.Context) error {
		res, err = p.transformer.Transform(ctx, source, target, size)
		return err
	}); err != nil {
		return domain.Result{}, fmt.Errorf("transform stage: %w", err)
	}
	return res, nil
}

func (p *Processor) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := p.tracer.Start(ctx, name)
	defer span.End()

	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, domain.FailureKind(err))
		return err
	}
	return nil
}

func (p *Processor) discard(ctx context.Context, logger zerolog.Logger, key string) {
	if err := p.store.Delete(context.WithoutCancel(ctx), key); err != nil {
		logger.Debug().Err(err).Str("key", key).Msg("acquired image not removed")
	}
}

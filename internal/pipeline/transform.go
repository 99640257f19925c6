package pipeline

import (
	"context"

	"github.com/dunamismax/kirkproxy/internal/domain"
	"github.com/rs/zerolog"
)

type Submitter interface {
	Submit(ctx context.Context, source, target []byte) (domain.Result, error)
}

// Transformer squares both inputs to the same size and hands them to the
// transformation endpoint.
type Transformer struct {
	submitter Submitter
	resizer   Resizer
	logger    zerolog.Logger
}

func NewTransformer(logger zerolog.Logger, submitter Submitter, resizer Resizer) *Transformer {
	return &Transformer{
		submitter: submitter,
		resizer:   resizer,
		logger:    logger,
	}
}

func (t *Transformer) Transform(ctx context.Context, source, target []byte, size int) (domain.Result, error) {
	source = t.resizeOrOriginal("source", source, size)
	target = t.resizeOrOriginal("target", target, size)
	return t.submitter.Submit(ctx, source, target)
}

// resizeOrOriginal falls back to the unmodified bytes of this one image.
func (t *Transformer) resizeOrOriginal(role string, data []byte, size int) []byte {
	resized, err := t.resizer.Resize(data, size, size)
	if err != nil {
		t.logger.Warn().Err(err).Str("role", role).Int("size", size).Msg("submitting image unresized")
		return data
	}
	return resized
}

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/dunamismax/kirkproxy/internal/domain"
	"github.com/rs/zerolog"
)

type FaceSource interface {
	Fetch(ctx context.Context) ([]byte, error)
}

type ImageStore interface {
	Write(ctx context.Context, key string, data []byte, contentType string) error
	Read(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// Acquirer downloads one face and persists it under a caller-chosen key.
type Acquirer struct {
	source  FaceSource
	store   ImageStore
	resizer Resizer
	logger  zerolog.Logger
}

func NewAcquirer(logger zerolog.Logger, source FaceSource, store ImageStore, resizer Resizer) *Acquirer {
	return &Acquirer{
		source:  source,
		store:   store,
		resizer: resizer,
		logger:  logger,
	}
}

// Acquire stores the downloaded bytes under key, then replaces them with a
// size x size PNG when resizing works. A failed resize leaves the original in
// place and is not an error. The raw download is returned either way.
func (a *Acquirer) Acquire(ctx context.Context, key string, size int) ([]byte, error) {
	raw, err := a.source.Fetch(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrDownload) {
			err = fmt.Errorf("%w: %v", domain.ErrDownload, err)
		}
		return nil, err
	}

	if err := a.store.Write(ctx, key, raw, http.DetectContentType(raw)); err != nil {
		return nil, fmt.Errorf("%w: key=%s: %v", domain.ErrSave, key, err)
	}

	resized, err := a.resizer.Resize(raw, size, size)
	if err != nil {
		a.logger.Warn().Err(err).Str("key", key).Int("size", size).Msg("acquired image kept unresized")
		return raw, nil
	}
	if err := a.store.Write(ctx, key, resized, "image/png"); err != nil {
		a.logger.Warn().Err(err).Str("key", key).Msg("could not overwrite acquired image with resized copy")
	}

	return raw, nil
}

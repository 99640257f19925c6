package pipeline

import (
	"errors"
	"testing"

	"github.com/dunamismax/kirkproxy/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquirerStoresResizedImage(t *testing.T) {
	raw := buildTestPNG(t, 120, 90)
	store := newMemStore()
	acquirer := NewAcquirer(zerolog.Nop(), staticFace{data: raw}, store, imagingResizer{})

	got, err := acquirer.Acquire(t.Context(), "acquired/run-1.png", 64)
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	stored, ok := store.get("acquired/run-1.png")
	require.True(t, ok)
	w, h := pngDimensions(t, stored)
	assert.Equal(t, 64, w)
	assert.Equal(t, 64, h)
}

func TestAcquirerKeepsOriginalWhenResizeFails(t *testing.T) {
	raw := []byte("not decodable but still bytes")
	store := newMemStore()
	acquirer := NewAcquirer(zerolog.Nop(), staticFace{data: raw}, store, imagingResizer{})

	got, err := acquirer.Acquire(t.Context(), "k", 64)
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	stored, ok := store.get("k")
	require.True(t, ok)
	assert.Equal(t, raw, stored)
}

func TestAcquirerKeepsOriginalWhenOverwriteFails(t *testing.T) {
	raw := buildTestPNG(t, 40, 40)
	store := newMemStore()
	store.failFrom = 2
	acquirer := NewAcquirer(zerolog.Nop(), staticFace{data: raw}, store, imagingResizer{})

	_, err := acquirer.Acquire(t.Context(), "k", 16)
	require.NoError(t, err)

	stored, _ := store.get("k")
	assert.Equal(t, raw, stored)
}

func TestAcquirerFailures(t *testing.T) {
	t.Run("download", func(t *testing.T) {
		acquirer := NewAcquirer(zerolog.Nop(), staticFace{err: errors.New("connection reset")}, newMemStore(), imagingResizer{})
		_, err := acquirer.Acquire(t.Context(), "k", 16)
		require.ErrorIs(t, err, domain.ErrDownload)
	})

	t.Run("save", func(t *testing.T) {
		store := newMemStore()
		store.failFrom = 1
		acquirer := NewAcquirer(zerolog.Nop(), staticFace{data: buildTestPNG(t, 8, 8)}, store, imagingResizer{})
		_, err := acquirer.Acquire(t.Context(), "k", 16)
		require.ErrorIs(t, err, domain.ErrSave)
	})
}

func TestTransformerResizesBothInputs(t *testing.T) {
	submitter := &captureSubmitter{result: domain.Result{Image: "data:image/png;base64,AAAA"}}
	transformer := NewTransformer(zerolog.Nop(), submitter, imagingResizer{})

	res, err := transformer.Transform(t.Context(), buildTestPNG(t, 50, 30), buildTestPNG(t, 20, 70), 32)
	require.NoError(t, err)
	assert.Equal(t, "data:image/png;base64,AAAA", res.Image)

	for _, data := range [][]byte{submitter.source, submitter.target} {
		w, h := pngDimensions(t, data)
		assert.Equal(t, 32, w)
		assert.Equal(t, 32, h)
	}
}

func TestTransformerFallsBackPerImage(t *testing.T) {
	source := buildTestPNG(t, 50, 30)
	target := buildTestPNG(t, 20, 70)

	submitter := &captureSubmitter{result: domain.Result{Image: "x"}}
	resizer := selectiveResizer{failOn: source, next: imagingResizer{}}
	transformer := NewTransformer(zerolog.Nop(), submitter, resizer)

	_, err := transformer.Transform(t.Context(), source, target, 24)
	require.NoError(t, err)

	assert.Equal(t, source, submitter.source)
	w, h := pngDimensions(t, submitter.target)
	assert.Equal(t, 24, w)
	assert.Equal(t, 24, h)
}

func TestTransformerPropagatesSubmitError(t *testing.T) {
	submitter := &captureSubmitter{err: &domain.UpstreamError{StatusCode: 500, Body: "server error"}}
	transformer := NewTransformer(zerolog.Nop(), submitter, imagingResizer{})

	_, err := transformer.Transform(t.Context(), []byte("a"), []byte("b"), 10)
	require.ErrorIs(t, err, domain.ErrUpstream)
	assert.Equal(t, []byte("a"), submitter.source)
	assert.Equal(t, []byte("b"), submitter.target)
}

package pipeline

import (
	"bytes"
	"fmt"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dunamismax/kirkproxy/internal/domain"
	"github.com/dunamismax/kirkproxy/internal/storage"
	"github.com/dunamismax/kirkproxy/internal/upstream"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUpstreams struct {
	face      *httptest.Server
	transform *httptest.Server

	mu         sync.Mutex
	inputSizes [][2]int
}

func newFakeUpstreams(t *testing.T, faceBytes, composite []byte) *fakeUpstreams {
	t.Helper()
	f := &fakeUpstreams{}

	f.face = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(faceBytes)
	}))
	t.Cleanup(f.face.Close)

	f.transform = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(8 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for _, field := range []string{upstream.SourceField, upstream.TargetField} {
			file, _, err := r.FormFile(field)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			data, _ := io.ReadAll(file)
			cfg, err := png.DecodeConfig(bytes.NewReader(data))
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			f.mu.Lock()
			f.inputSizes = append(f.inputSizes, [2]int{cfg.Width, cfg.Height})
			f.mu.Unlock()
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"image":%q}`, domain.PNGResult(composite).Image)
	}))
	t.Cleanup(f.transform.Close)

	return f
}

func newTestProcessor(t *testing.T, up *fakeUpstreams, store ImageStore) *Processor {
	t.Helper()

	sourcePath := filepath.Join(t.TempDir(), "source.png")
	require.NoError(t, os.WriteFile(sourcePath, buildTestPNG(t, 400, 400), 0o644))

	processor, err := NewProcessor(zerolog.Nop(), Deps{
		Face:            upstream.NewFaceClient(up.face.URL, 5*time.Second),
		Submitter:       upstream.NewTransformClient(up.transform.URL, 5*time.Second),
		Store:           store,
		Resizer:         imagingResizer{},
		SourceImagePath: sourcePath,
	})
	require.NoError(t, err)
	return processor
}

func TestProcessorRunEndToEnd(t *testing.T) {
	composite := buildTestPNG(t, 96, 96)
	up := newFakeUpstreams(t, buildTestPNG(t, 300, 200), composite)

	store, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	processor := newTestProcessor(t, up, store)

	res, err := processor.Run(t.Context(), "run-e2e", 96)
	require.NoError(t, err)

	out, err := res.Bytes()
	require.NoError(t, err)
	assert.Equal(t, composite, out)

	w, h := pngDimensions(t, out)
	assert.Equal(t, 96, w)
	assert.Equal(t, 96, h)

	require.Len(t, up.inputSizes, 2)
	for _, dims := range up.inputSizes {
		assert.Equal(t, [2]int{96, 96}, dims)
	}

	exists, err := store.Exists(t.Context(), AcquiredKey("run-e2e"))
	require.NoError(t, err)
	assert.False(t, exists, "acquired image should be removed after the run")
}

func TestProcessorConcurrentRunsAreIsolated(t *testing.T) {
	up := newFakeUpstreams(t, buildTestPNG(t, 64, 64), buildTestPNG(t, 8, 8))
	processor := newTestProcessor(t, up, newMemStore())

	var wg sync.WaitGroup
	errs := make([]error, 6)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = processor.Run(t.Context(), fmt.Sprintf("run-%d", i), 16+i)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
}

func TestProcessorRunUpstreamFailure(t *testing.T) {
	face := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(buildTestPNG(t, 32, 32))
	}))
	defer face.Close()
	transform := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("server error"))
	}))
	defer transform.Close()

	up := &fakeUpstreams{face: face, transform: transform}
	processor := newTestProcessor(t, up, newMemStore())

	_, err := processor.Run(t.Context(), "run-500", 32)
	require.ErrorIs(t, err, domain.ErrUpstream)

	var upstreamErr *domain.UpstreamError
	require.ErrorAs(t, err, &upstreamErr)
	assert.Equal(t, http.StatusInternalServerError, upstreamErr.StatusCode)
}

func TestProcessorRunDownloadFailure(t *testing.T) {
	face := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer face.Close()
	transform := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Error("transform endpoint must not be called after a failed download")
	}))
	defer transform.Close()

	processor := newTestProcessor(t, &fakeUpstreams{face: face, transform: transform}, newMemStore())

	_, err := processor.Run(t.Context(), "run-dl", 32)
	require.ErrorIs(t, err, domain.ErrDownload)
}

func TestNewProcessorValidatesDeps(t *testing.T) {
	_, err := NewProcessor(zerolog.Nop(), Deps{})
	require.Error(t, err)

	_, err = NewProcessor(zerolog.Nop(), Deps{
		Face:      staticFace{},
		Submitter: &captureSubmitter{},
		Store:     newMemStore(),
	})
	require.Error(t, err)
}

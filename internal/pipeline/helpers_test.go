package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"

	"github.com/dunamismax/kirkproxy/internal/domain"
)

func buildTestPNG(tb testing.TB, w, h int) []byte {
	tb.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x * 255) / w),
				G: uint8((y * 255) / h),
				B: 140,
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		tb.Fatalf("encode source png: %v", err)
	}
	return buf.Bytes()
}

func pngDimensions(tb testing.TB, data []byte) (int, int) {
	tb.Helper()

	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		tb.Fatalf("decode png config: %v", err)
	}
	return cfg.Width, cfg.Height
}

const pngColorTypeRGBA byte = 6

// pngColorType reads the color type byte of the IHDR chunk.
func pngColorType(tb testing.TB, data []byte) byte {
	tb.Helper()

	const offset = 8 + 4 + 4 + 4 + 4 + 1
	if len(data) <= offset || string(data[12:16]) != "IHDR" {
		tb.Fatalf("missing IHDR chunk")
	}
	return data[offset]
}

type memStore struct {
	mu       sync.Mutex
	objects  map[string][]byte
	writes   int
	failFrom int
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[string][]byte)}
}

func (s *memStore) Write(_ context.Context, key string, data []byte, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if s.failFrom > 0 && s.writes >= s.failFrom {
		return errors.New("disk full")
	}
	s.objects[key] = append([]byte(nil), data...)
	return nil
}

func (s *memStore) Read(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return data, nil
}

func (s *memStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func (s *memStore) get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	return data, ok
}

type staticFace struct {
	data []byte
	err  error
}

func (f staticFace) Fetch(context.Context) ([]byte, error) {
	return f.data, f.err
}

type captureSubmitter struct {
	source, target []byte
	result         domain.Result
	err            error
}

func (s *captureSubmitter) Submit(_ context.Context, source, target []byte) (domain.Result, error) {
	s.source = source
	s.target = target
	return s.result, s.err
}

// selectiveResizer fails for one exact input and delegates otherwise.
type selectiveResizer struct {
	failOn []byte
	next   Resizer
}

func (r selectiveResizer) Resize(data []byte, width, height int) ([]byte, error) {
	if bytes.Equal(data, r.failOn) {
		return nil, fmt.Errorf("%w: forced failure", domain.ErrResize)
	}
	return r.next.Resize(data, width, height)
}

package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/dunamismax/kirkproxy/internal/domain"
	"github.com/rs/zerolog"
)

func BenchmarkImagingResize(b *testing.B) {
	source := buildTestPNG(b, 1024, 1024)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := (imagingResizer{}).Resize(source, domain.DefaultSize, domain.DefaultSize); err != nil {
			b.Fatalf("resize: %v", err)
		}
	}
}

func BenchmarkProcessorRun(b *testing.B) {
	sourcePath := filepath.Join(b.TempDir(), "source.png")
	if err := os.WriteFile(sourcePath, buildTestPNG(b, 512, 512), 0o644); err != nil {
		b.Fatalf("write source: %v", err)
	}

	processor, err := NewProcessor(zerolog.Nop(), Deps{
		Face:            staticFace{data: buildTestPNG(b, 1024, 1024)},
		Submitter:       &captureSubmitter{result: domain.Result{Image: "data:image/png;base64,AAAA"}},
		Store:           newMemStore(),
		Resizer:         imagingResizer{},
		SourceImagePath: sourcePath,
	})
	if err != nil {
		b.Fatalf("new processor: %v", err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := processor.Run(context.Background(), fmt.Sprintf("bench-%d", i), domain.DefaultSize); err != nil {
			b.Fatalf("run: %v", err)
		}
	}
}

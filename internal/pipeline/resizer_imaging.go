package pipeline

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/kirkproxy/internal/domain"
	_ "golang.org/x/image/webp"
)

type imagingResizer struct{}

func (imagingResizer) Resize(data []byte, width, height int) ([]byte, error) {
	if err := checkDimensions(width, height); err != nil {
		return nil, err
	}

	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: decode: %v", domain.ErrResize, err)
	}

	// imaging works on NRGBA, so transparency survives the resample.
	dst := imaging.Resize(src, width, height, imaging.Lanczos)

	var buf bytes.Buffer
	encoder := png.Encoder{CompressionLevel: png.DefaultCompression}
	if err := encoder.Encode(&buf, withAlpha{dst}); err != nil {
		return nil, fmt.Errorf("%w: encode png: %v", domain.ErrResize, err)
	}
	return buf.Bytes(), nil
}

// withAlpha makes image/png write an RGBA (color type 6) file even when every
// pixel is opaque, as happens for JPEG faces.
type withAlpha struct{ *image.NRGBA }

func (withAlpha) Opaque() bool { return false }

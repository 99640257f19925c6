//go:build govips && cgo

package pipeline

import (
	"fmt"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/dunamismax/kirkproxy/internal/domain"
)

type govipsResizer struct{}

func (govipsResizer) Resize(data []byte, width, height int) ([]byte, error) {
	if err := checkDimensions(width, height); err != nil {
		return nil, err
	}

	img, err := vips.NewImageFromBuffer(data)
	if err != nil {
		return nil, fmt.Errorf("%w: decode: %v", domain.ErrResize, err)
	}
	defer img.Close()

	if !img.HasAlpha() {
		if err := img.AddAlpha(); err != nil {
			return nil, fmt.Errorf("%w: add alpha: %v", domain.ErrResize, err)
		}
	}

	if img.Width() <= 0 || img.Height() <= 0 {
		return nil, fmt.Errorf("%w: source image has invalid dimensions", domain.ErrResize)
	}
	hscale := float64(width) / float64(img.Width())
	vscale := float64(height) / float64(img.Height())
	if err := img.ResizeWithVScale(hscale, vscale, vips.KernelLanczos3); err != nil {
		return nil, fmt.Errorf("%w: resample: %v", domain.ErrResize, err)
	}

	out, _, err := img.ExportPng(vips.NewPngExportParams())
	if err != nil {
		return nil, fmt.Errorf("%w: encode png: %v", domain.ErrResize, err)
	}
	return out, nil
}

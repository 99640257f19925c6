package pipeline

import (
	"fmt"

	"github.com/dunamismax/kirkproxy/internal/domain"
)

// Resizer decodes an image, scales it to exactly width x height keeping an
// alpha channel, and encodes the result as PNG. Implementations never recover
// from a failure; call sites decide whether a resize is optional.
type Resizer interface {
	Resize(data []byte, width, height int) ([]byte, error)
}

// NewResizer returns the resizer selected at build time.
func NewResizer() Resizer {
	return newResizer()
}

func checkDimensions(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: invalid target %dx%d", domain.ErrResize, width, height)
	}
	return nil
}

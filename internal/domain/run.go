package domain

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	DefaultSize = 248
	MinSize     = 1
	MaxSize     = 1024

	RunModeInline   = "inline"
	RunModeDownload = "download"
	RunModeAsync    = "async"

	RunStatusQueued     = "queued"
	RunStatusProcessing = "processing"
	RunStatusSucceeded  = "succeeded"
	RunStatusFailed     = "failed"
)

var ErrInvalidSize = fmt.Errorf("size must be an integer between %d and %d", MinSize, MaxSize)

var validate = validator.New()

// Run is the diagnostic record of one pipeline execution.
type Run struct {
	ID          string    `json:"id"`
	Mode        string    `json:"mode"`
	Size        int       `json:"size"`
	Status      string    `json:"status"`
	FailureKind string    `json:"failure_kind,omitempty"`
	Error       string    `json:"error,omitempty"`
	OutputKey   string    `json:"output_key,omitempty"`
	OutputBytes int       `json:"output_bytes,omitempty"`
	WebhookURL  string    `json:"webhook_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RunUpdate replaces the mutable outcome fields of a run.
type RunUpdate struct {
	Status      string
	FailureKind string
	Error       string
	OutputKey   string
	OutputBytes int
}

type RenderRequest struct {
	Size       int    `validate:"gte=1,lte=1024"`
	WebhookURL string `validate:"omitempty,url"`
}

func (r RenderRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 && verrs[0].Field() == "Size" {
			return ErrInvalidSize
		}
		return fmt.Errorf("invalid render request: %w", err)
	}
	return nil
}

// ParseSize reads the size query parameter. A missing parameter means
// DefaultSize; one that is present but blank is rejected.
func ParseSize(query url.Values) (int, error) {
	if !query.Has("size") {
		return DefaultSize, nil
	}
	raw := strings.TrimSpace(query.Get("size"))
	if raw == "" {
		return 0, ErrInvalidSize
	}

	size, err := strconv.Atoi(raw)
	if err != nil {
		return 0, ErrInvalidSize
	}
	if err := (RenderRequest{Size: size}).Validate(); err != nil {
		return 0, err
	}
	return size, nil
}

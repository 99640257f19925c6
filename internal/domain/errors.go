package domain

import (
	"errors"
	"fmt"
)

var (
	ErrDownload           = errors.New("download face image")
	ErrSave               = errors.New("save acquired image")
	ErrResize             = errors.New("resize image")
	ErrRequestFailed      = errors.New("transform request failed")
	ErrUpstream           = errors.New("transform upstream error")
	ErrMalformedResponse  = errors.New("malformed transform response")
	ErrUnexpectedResponse = errors.New("unexpected transform response")
	ErrNoImage            = errors.New("no usable image in result")
)

const (
	FailureDownload   = "download"
	FailureSave       = "save"
	FailureResize     = "resize"
	FailureRequest    = "request"
	FailureUpstream   = "upstream"
	FailureMalformed  = "malformed_response"
	FailureUnexpected = "unexpected_response"
	FailureNoImage    = "no_image"
	FailureInternal   = "internal"
)

// UpstreamError carries the status and a bounded body prefix of a non-2xx
// answer from the transformation endpoint.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: status=%d body=%q", ErrUpstream, e.StatusCode, e.Body)
}

func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstream
}

// FailureKind maps an error to the stable label used in run records, logs and
// metrics.
func FailureKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDownload):
		return FailureDownload
	case errors.Is(err, ErrSave):
		return FailureSave
	case errors.Is(err, ErrResize):
		return FailureResize
	case errors.Is(err, ErrRequestFailed):
		return FailureRequest
	case errors.Is(err, ErrUpstream):
		return FailureUpstream
	case errors.Is(err, ErrMalformedResponse):
		return FailureMalformed
	case errors.Is(err, ErrUnexpectedResponse):
		return FailureUnexpected
	case errors.Is(err, ErrNoImage):
		return FailureNoImage
	default:
		return FailureInternal
	}
}

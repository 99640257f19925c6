package domain

import (
	"encoding/base64"
	"fmt"
	"strings"
	"unicode"
)

const PNGDataURIPrefix = "data:image/png;base64,"

// Result is the normalized outcome of a transformation. Image holds a data URI
// or bare base64 text, Data holds bytes that were already decoded. Callers go
// through Bytes and never look at either field directly.
type Result struct {
	Image string
	Data  []byte
}

// PNGResult wraps raw image bytes into a PNG data URI result.
func PNGResult(raw []byte) Result {
	return Result{Image: PNGDataURIPrefix + base64.StdEncoding.EncodeToString(raw)}
}

func (r Result) Empty() bool {
	return len(r.Data) == 0 && strings.TrimSpace(r.Image) == ""
}

func (r Result) Bytes() ([]byte, error) {
	if len(r.Data) > 0 {
		return r.Data, nil
	}

	payload := stripSpace(StripDataURI(strings.TrimSpace(r.Image)))
	if payload == "" {
		return nil, ErrNoImage
	}

	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		decoded, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		if err != nil {
			return nil, fmt.Errorf("%w: decode base64 payload: %v", ErrNoImage, err)
		}
	}
	if len(decoded) == 0 {
		return nil, ErrNoImage
	}
	return decoded, nil
}

// StripDataURI removes a leading data:image/...;base64, prefix if present.
func StripDataURI(s string) string {
	if !strings.HasPrefix(s, "data:image") {
		return s
	}
	idx := strings.Index(s, "base64,")
	if idx < 0 {
		return s
	}
	return s[idx+len("base64,"):]
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

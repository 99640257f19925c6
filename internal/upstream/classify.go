package upstream

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/dunamismax/kirkproxy/internal/domain"
	"github.com/dunamismax/kirkproxy/internal/jsontree"
)

const bareBase64MinLen = 200

// Classify turns a successful transformation response into a Result. It is
// pure: the same content type and body always produce the same outcome.
func Classify(contentType string, body []byte) (domain.Result, error) {
	ct := strings.ToLower(contentType)
	trimmed := bytes.TrimSpace(body)

	switch {
	case strings.Contains(ct, "json") || bytes.HasPrefix(trimmed, []byte("{")):
		return classifyJSON(body)
	case strings.Contains(ct, "image/"):
		return domain.PNGResult(body), nil
	}

	if bytes.HasPrefix(trimmed, []byte("{")) {
		if tree, err := jsontree.Parse(body); err == nil {
			if res, ok := directImage(tree); ok {
				return res, nil
			}
		}
	}
	return domain.Result{}, fmt.Errorf("%w: content-type=%q", domain.ErrUnexpectedResponse, contentType)
}

func classifyJSON(body []byte) (domain.Result, error) {
	tree, err := jsontree.Parse(body)
	if err != nil {
		return domain.Result{}, fmt.Errorf("%w: invalid JSON: %v", domain.ErrMalformedResponse, err)
	}

	if res, ok := directImage(tree); ok {
		return res, nil
	}

	if found, ok := jsontree.FindString(tree, imageString); ok {
		return domain.Result{Image: found}, nil
	}
	return domain.Result{}, fmt.Errorf("%w: JSON without image", domain.ErrMalformedResponse)
}

// directImage reads a top-level "image" key.
func directImage(tree jsontree.Value) (domain.Result, bool) {
	v, ok := tree.Field("image")
	if !ok {
		return domain.Result{}, false
	}
	switch v.Kind {
	case jsontree.String:
		return domain.Result{Image: v.Str}, true
	case jsontree.Array:
		if data, ok := v.Bytes(); ok {
			return domain.Result{Data: data}, true
		}
	}
	return domain.Result{}, true
}

// imageString accepts a data:image URI with a base64 payload, or a long bare
// base64 string which it wraps into a PNG data URI. The bare form matches any
// long token over the base64 alphabet, so false positives are possible.
func imageString(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:image") && strings.Contains(s, "base64,") {
		return s, true
	}
	if len(s) > bareBase64MinLen && isBase64Text(s) {
		return domain.PNGDataURIPrefix + s, true
	}
	return "", false
}

func isBase64Text(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		case c == '+', c == '/', c == '=':
		case c == '\n', c == '\r', c == '\t', c == ' ':
		default:
			return false
		}
	}
	return true
}

package pipeline

import (
	"path"
	"strings"
)

const (
	acquiredPrefix = "acquired"
	outputPrefix   = "outputs"
)

func AcquiredKey(runID string) string {
	return path.Join(acquiredPrefix, sanitizePathToken(runID)+".png")
}

func OutputKey(runID string) string {
	return path.Join(outputPrefix, sanitizePathToken(runID)+".png")
}

func sanitizePathToken(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

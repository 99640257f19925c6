package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/kirkproxy/internal/ratelimit"
	"github.com/rs/zerolog/hlog"
)

type RateLimiter interface {
	Allow(ctx context.Context, subject string) (ratelimit.Decision, error)
}

// withRateLimit guards the routes that trigger upstream calls, per client IP.
// Limiter errors let the request through.
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	if s.rateLimiter == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !shouldRateLimit(r) {
			next.ServeHTTP(w, r)
			return
		}

		route := routeLabel(r.URL.Path)
		subject := clientIP(r) + ":" + route

		decision, err := s.rateLimiter.Allow(r.Context(), subject)
		if err != nil {
			hlog.FromRequest(r).Warn().Err(err).Str("subject", subject).Msg("rate limiter check failed")
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
		w.Header().Set("X-RateLimit-Reset", strconv.Itoa(ceilSeconds(decision.ResetAfter)))
		if decision.Allowed {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("Retry-After", strconv.Itoa(max(1, ceilSeconds(decision.RetryAfter))))
		s.metrics.throttled.WithLabelValues(route).Inc()
		writeDetail(w, http.StatusTooManyRequests, "rate limit exceeded")
	})
}

func shouldRateLimit(r *http.Request) bool {
	switch r.Method {
	case http.MethodGet:
		return r.URL.Path == "/" || r.URL.Path == "/download"
	case http.MethodPost:
		return r.URL.Path == "/v1/renders"
	default:
		return false
	}
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil || host == "" {
		return "unknown"
	}
	return host
}

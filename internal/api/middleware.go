package api

import (
	"net/http"
	"time"

	"github.com/rs/cors"
	"github.com/rs/zerolog/hlog"
)

const corsMaxAge = 600

func (s *Server) withAccessLog(next http.Handler) http.Handler {
	h := hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	})(next)
	h = hlog.RemoteAddrHandler("ip")(h)
	h = hlog.RequestIDHandler("req_id", "X-Request-Id")(h)
	return hlog.NewHandler(s.logger)(h)
}

// withCORS allows every origin, method and header. Credentialed requests get
// the caller's origin echoed back since browsers reject "*" with credentials.
func withCORS(next http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowOriginFunc: func(string) bool { return true },
		AllowedMethods: []string{
			http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
			http.MethodPatch, http.MethodDelete, http.MethodOptions,
		},
		AllowedHeaders:       []string{"*"},
		AllowCredentials:     true,
		MaxAge:               corsMaxAge,
		OptionsSuccessStatus: http.StatusOK,
	}).Handler(next)
}

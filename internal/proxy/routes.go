package proxy

import (
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/vnmchuo/x402-gateway/internal/payment"
	"github.com/vnmchuo/x402-gateway/pkg/ratelimit"
)

// NewMux mounts the free discovery routes and the paid generation route.
// limiter may be nil, in which case no per-client limit is enforced.
func NewMux(h *Handler, gate *payment.Gate, limiter *ratelimit.Limiter, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/", h.HandleIndex)
	r.Get("/config", h.HandleConfig)
	r.Get("/healthz", h.HandleHealth)

	r.Group(func(r chi.Router) {
		if limiter != nil {
			r.Use(RateLimit(limiter, logger))
		}
		r.Use(gate.Middleware)
		r.Post("/generate-text", h.HandleGenerate)
	})

	return r
}

// RateLimit rejects clients over their per-minute budget before any
// payment is verified. A limiter backend failure lets the request through.
func RateLimit(l *ratelimit.Limiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := clientIP(r)
			allowed, err := l.Allow(r.Context(), client)
			if err != nil {
				logger.Warn("rate limiter unavailable", "client", client, "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

package ratelimit

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/jwtauth"
	"github.com/go-chi/render"
)

// IdentityFunc resolves the caller identity for one request.
type IdentityFunc func(r *http.Request) Identity

// DefaultIdentityFunc keys authenticated requests by the verified JWT
// subject (the user's email) and everything else by network peer address.
// It expects jwtauth.Verifier to have run earlier in the middleware chain;
// requests without a valid token simply fall through to the address key.
func DefaultIdentityFunc(trustXFF bool) IdentityFunc {
	return func(r *http.Request) Identity {
		if _, claims, err := jwtauth.FromContext(r.Context()); err == nil {
			if sub, ok := claims["sub"].(string); ok && sub != "" {
				return Identity{Key: sub, Authenticated: true}
			}
		}

		if trustXFF {
			// First entry of X-Forwarded-For is the original client.
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				parts := strings.Split(xff, ",")
				if ip := strings.TrimSpace(parts[0]); ip != "" {
					return Identity{Key: ip}
				}
			}
		}

		host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
		if err == nil && host != "" {
			return Identity{Key: host}
		}
		if r.RemoteAddr != "" {
			return Identity{Key: r.RemoteAddr}
		}
		return Identity{Key: "unknown"}
	}
}

// MiddlewareOptions configures the admission middleware.
type MiddlewareOptions struct {
	Limiter            *Limiter
	IdentityFn         IdentityFunc
	Stats              StatsRecorder
	TrustXForwardedFor bool
	Logger             *slog.Logger
}

// Middleware runs the limiter ahead of routing and rejects over-limit
// requests with 429 and a Retry-After header.
func Middleware(opts MiddlewareOptions) func(next http.Handler) http.Handler {
	if opts.IdentityFn == nil {
		opts.IdentityFn = DefaultIdentityFunc(opts.TrustXForwardedFor)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if opts.Limiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			id := opts.IdentityFn(r)
			dec := opts.Limiter.Allow(r.Context(), id)

			if opts.Stats != nil {
				if err := opts.Stats.Record(r.Context(), StatsEvent{
					Key:     id.Key,
					Allowed: dec.Allowed,
					Method:  r.Method,
					Path:    r.URL.Path,
					At:      time.Now(),
				}); err != nil {
					opts.Logger.Warn("failed to record rate limit stats", "err", err)
				}
			}

			if !dec.Allowed {
				w.Header().Set("Retry-After", fmt.Sprintf("%d", int(dec.RetryAfter.Seconds())))
				render.Status(r, http.StatusTooManyRequests)
				render.JSON(w, r, map[string]string{
					"error": "too many requests, please try again later",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

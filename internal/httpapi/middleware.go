// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parley Contributors

package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/parleychat/parley/internal/auth"
	"github.com/parleychat/parley/internal/observability"
)

type contextKey int

const identityKey contextKey = iota

// Identity is the authenticated caller extracted from a bearer token.
type Identity struct {
	UserID   ulid.ULID
	Username string
	Email    string
}

// IdentityFrom returns the authenticated identity stored in the request
// context by RequireAuth.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// withIdentity returns a child context carrying the identity. Exposed to
// tests so handlers can be exercised without the middleware.
func withIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// RequireAuth rejects requests lacking a valid bearer access token and
// stores the caller's identity in the request context for handlers.
func RequireAuth(verifier AccessVerifier, logger *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				writeError(w, logger, oops.Code("TOKEN_INVALID").Errorf("missing bearer token"))
				return
			}

			claims, err := verifier.VerifyAccess(token)
			if err != nil {
				writeError(w, logger, err)
				return
			}

			userID, err := auth.SubjectID(claims.RegisteredClaims)
			if err != nil {
				writeError(w, logger, err)
				return
			}

			identity := Identity{
				UserID:   userID,
				Username: claims.Username,
				Email:    claims.Email,
			}
			next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), identity)))
		})
	}
}

// statusRecorder captures the response status for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// RequestLogger logs every request with its route, status, and duration,
// and records the request counter when metrics are configured.
func RequestLogger(logger *slog.Logger, metrics *observability.Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			route := routeTemplate(r)
			logger.Info("request",
				"method", r.Method,
				"route", route,
				"status", rec.status,
				"duration_ms", time.Since(start).Milliseconds(),
			)
			if metrics != nil {
				metrics.RequestsTotal.WithLabelValues(route, httpStatusLabel(rec.status)).Inc()
			}
		})
	}
}

// routeTemplate returns the matched mux route pattern, falling back to the
// raw path when no route matched. Using the pattern keeps metric label
// cardinality bounded.
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return r.URL.Path
}

func httpStatusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

// bearerToken extracts the token from an "Authorization: Bearer ..." header.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

package middleware

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/brizzai/fluo/internal/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type userContextKey struct{}

// UserResolver returns the user key bound to a request, or "".
type UserResolver interface {
	UserID(r *http.Request) string
}

// Identity resolves the token store user key of each request: the key bound
// to the browser session wins, then defaultUserID for single tenant setups.
func Identity(resolver UserResolver, defaultUserID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := resolver.UserID(r)
			if userID == "" {
				userID = defaultUserID
			}
			if userID != "" {
				ctx := context.WithValue(r.Context(), userContextKey{}, userID)
				ctx = logger.WithContext(ctx, logger.FromContext(ctx).With(zap.String("user_id", userID)))
				r = r.WithContext(ctx)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UserID returns the user key resolved by Identity.
func UserID(ctx context.Context) string {
	userID, _ := ctx.Value(userContextKey{}).(string)
	return userID
}

// WithUserID binds userID to ctx the way Identity does.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userContextKey{}, userID)
}

// CORS allows the listed origins, or any origin when the list is empty or
// contains "*".
func CORS(allowOrigins []string) func(http.Handler) http.Handler {
	wildcard := len(allowOrigins) == 0 || slices.Contains(allowOrigins, "*")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			switch {
			case wildcard:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case origin != "" && slices.Contains(allowOrigins, origin):
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// SecurityHeaders sets the headers sent on the OAuth callback.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		next.ServeHTTP(w, r)
	})
}

// NoStore marks responses as uncacheable.
func NoStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// responseWriter captures the status code for logging
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Logging tags each request with an id, stores a request scoped logger in the
// context and logs the outcome. Query strings are not logged since the
// callback carries the authorization code.
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		l := logger.With(zap.String("request_id", requestID))
		r = r.WithContext(logger.WithContext(r.Context(), l))

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote_addr", ClientIP(r)),
			zap.Int("status", rw.statusCode),
			zap.Duration("duration", time.Since(start)),
			zap.String("user_agent", r.UserAgent()),
		}
		if rw.statusCode >= http.StatusInternalServerError {
			l.Warn("HTTP request", fields...)
			return
		}
		l.Info("HTTP request", fields...)
	})
}

// Chain applies middlewares so the first one listed runs first.
func Chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// ClientIP returns the first X-Forwarded-For hop or the remote address.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	return r.RemoteAddr
}

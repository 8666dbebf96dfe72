package rest

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rzbill/kadali/pkg/log"
)

// RequestIDHeader carries the request id in and out of the server.
const RequestIDHeader = "X-Request-ID"

// Middleware is a function that wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Chain combines multiple middleware into a single middleware.
func Chain(middlewares ...Middleware) Middleware {
	return func(next http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// RequestID assigns every request an id, reusing the caller's if present, and
// puts it in the request context for loggers.
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(RequestIDHeader)
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, id)
			next.ServeHTTP(w, r.WithContext(log.ContextWithRequestID(r.Context(), id)))
		})
	}
}

// Logger returns a middleware that logs HTTP requests.
func Logger(logger log.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapper := &responseWrapper{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrapper, r)

			fields := []log.Field{
				log.Str("method", r.Method),
				log.Str("path", r.URL.Path),
				log.Int("status", wrapper.status),
				log.Duration("duration", time.Since(start)),
				log.Str("remote_addr", r.RemoteAddr),
			}
			if tenant := r.Header.Get(TenantHeader); tenant != "" {
				fields = append(fields, log.TenantID(tenant))
			}

			l := logger.WithContext(r.Context())
			if wrapper.status >= http.StatusInternalServerError {
				l.Warn("HTTP Request", fields...)
				return
			}
			l.Info("HTTP Request", fields...)
		})
	}
}

// APIKey returns a middleware that checks for a valid bearer API key. With no
// keys configured every request is let through.
func APIKey(apiKeys []string, logger log.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(apiKeys) == 0 {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.Warn("Missing Authorization header", log.Str("path", r.URL.Path))
				writeError(w, http.StatusUnauthorized, CodeUnauthorized, "missing API key", nil)
				return
			}

			if !strings.HasPrefix(authHeader, "Bearer ") {
				logger.Warn("Invalid Authorization header format", log.Str("path", r.URL.Path))
				writeError(w, http.StatusUnauthorized, CodeUnauthorized, "invalid Authorization format", nil)
				return
			}

			apiKey := strings.TrimPrefix(authHeader, "Bearer ")
			valid := false
			for _, key := range apiKeys {
				if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
					valid = true
					break
				}
			}

			if !valid {
				logger.Warn("Invalid API key", log.Str("path", r.URL.Path))
				writeError(w, http.StatusUnauthorized, CodeUnauthorized, "invalid API key", nil)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Recovery returns a middleware that recovers from panics.
func Recovery(logger log.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.WithContext(r.Context()).Error("Panic recovered",
						log.Any("error", err),
						log.Str("path", r.URL.Path),
					)
					writeError(w, http.StatusInternalServerError, CodeInternal, "internal server error", nil)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// Timeout returns a middleware that adds a timeout to the request context.
func Timeout(timeout time.Duration) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			r = r.WithContext(ctx)
			next.ServeHTTP(w, r)
		})
	}
}

// responseWrapper is a wrapper for http.ResponseWriter that captures the status code.
type responseWrapper struct {
	http.ResponseWriter
	status int
}

// WriteHeader captures the status code and passes it to the wrapped ResponseWriter.
func (rw *responseWrapper) WriteHeader(status int) {
	rw.status = status
	rw.ResponseWriter.WriteHeader(status)
}

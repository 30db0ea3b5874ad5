package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/mealdeck/mealdeck/internal/observability/logger"
)

// Middleware wraps a handler. Compatible with chi's Use.
type Middleware func(http.Handler) http.Handler

type ctxKey string

const ctxRequestIDKey ctxKey = "request_id"

// RequestID returns the request id placed in the context by WithRequestID.
func RequestID(ctx context.Context) string {
	if v, ok := ctx.Value(ctxRequestIDKey).(string); ok {
		return v
	}
	return ""
}

// WithRequestID tags every request with an id, honoring an inbound
// X-Request-ID, and binds a request-scoped logger into the context.
func WithRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), ctxRequestIDKey, id)
		ctx = logger.ToContext(ctx, logger.L().With(logger.RequestID(id)))
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// WithRecover turns panics into 500s instead of dropping the connection.
func WithRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.From(r.Context()).Error("panic recovered",
					logger.Op("recover"),
					logger.Any("panic", rec),
				)
				WriteError(w, ErrInternal.WithDetail("panic recovered"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// WithLogging emits one access log line per request.
func WithLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		logger.From(r.Context()).Info("request",
			logger.Method(r.Method),
			logger.Path(r.URL.Path),
			logger.Status(status),
			logger.ClientIP(r.RemoteAddr),
			logger.Duration(time.Since(start)),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

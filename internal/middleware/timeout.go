package middleware

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"pagegraph-backend/pkg/api"
)

// Timeout bounds each request with a deadline. The handler runs in its own
// goroutine so a stuck request still gets a 408 response.
func Timeout(timeout time.Duration, logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			r = r.WithContext(ctx)

			done := make(chan struct{})
			go func() {
				defer func() {
					if err := recover(); err != nil {
						logger.Error("panic in timed handler",
							zap.String("request_id", GetRequestID(r.Context())),
							zap.Any("panic", err))
					}
					close(done)
				}()
				next.ServeHTTP(w, r)
			}()

			select {
			case <-done:
			case <-ctx.Done():
				logger.Warn("request timed out",
					zap.String("request_id", GetRequestID(r.Context())),
					zap.String("path", r.URL.Path),
					zap.Duration("timeout", timeout))
				if w.Header().Get("Content-Type") == "" {
					api.Error(w, http.StatusRequestTimeout, "request timeout")
				}
			}
		})
	}
}

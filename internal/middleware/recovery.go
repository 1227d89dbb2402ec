package middleware

import (
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	"pagegraph-backend/pkg/api"
)

// Recovery converts panics into 500 responses and logs the stack trace with
// the request id for correlation.
func Recovery(logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic recovered",
						zap.String("request_id", GetRequestID(r.Context())),
						zap.String("path", r.URL.Path),
						zap.Any("panic", err),
						zap.ByteString("stack", debug.Stack()))
					if w.Header().Get("Content-Type") == "" {
						api.Error(w, http.StatusInternalServerError, "internal server error")
					}
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

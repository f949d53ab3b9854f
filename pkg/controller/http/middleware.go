package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/secmon-lab/titan/pkg/service/metrics"
	"github.com/secmon-lab/titan/pkg/utils/logging"
)

// accessLogger is a middleware that logs HTTP requests and, when c is set,
// records them in the request metrics
func accessLogger(c *metrics.Collector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				duration := time.Since(start)
				logging.From(r.Context()).Info("access",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration", duration,
					"remote", r.RemoteAddr,
					"user_agent", r.UserAgent(),
				)

				if c != nil {
					route := "unmatched"
					if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
						route = rctx.RoutePattern()
					}
					c.ObserveHTTP(r.Method, route, ww.Status(), duration)
				}
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

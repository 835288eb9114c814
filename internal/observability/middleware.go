package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"speech-session-service/internal/observability/metrics"
)

// RequestMetrics records duration and status of every request by route
// pattern and logs it. WebSocket requests are recorded when the connection
// closes.
func RequestMetrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			duration := time.Since(start)
			route := routePattern(r)
			status := ww.Status()
			if status == 0 {
				// hijacked or nothing written
				status = http.StatusOK
				if websocket.IsWebSocketUpgrade(r) {
					status = http.StatusSwitchingProtocols
				}
			}
			m.RecordHTTPRequest(r.Method, route, strconv.Itoa(status), duration.Seconds())

			log.Debug().
				Str("method", r.Method).
				Str("route", route).
				Int("status", status).
				Str("requestId", middleware.GetReqID(r.Context())).
				Dur("duration", duration).
				Msg("HTTP request")
		})
	}
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

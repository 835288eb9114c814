package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/language"

	"speech-session-service/internal/observability"
	"speech-session-service/internal/observability/metrics"
	"speech-session-service/internal/service/stt"
)

// Deps holds what the router serves.
type Deps struct {
	Engine stt.Engine
	// Speech serves the host WebSocket.
	Speech  http.Handler
	Metrics *metrics.Metrics
	// Ready backs /v1/readiness; nil means always ready.
	Ready func() bool
}

type availabilityResponse struct {
	Locale    string `json:"locale"`
	Available bool   `json:"available"`
}

type infoResponse struct {
	Service     string `json:"service"`
	STTProvider string `json:"sttProvider"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewRouter constructs the HTTP router for the service.
func NewRouter(deps Deps) http.Handler {
	if deps.Metrics == nil {
		deps.Metrics = metrics.DefaultMetrics
	}
	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(observability.RequestMetrics(deps.Metrics))

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		if deps.Ready != nil && !deps.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	// API routes
	r.Route("/v1", func(r chi.Router) {
		r.Get("/info", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, infoResponse{
				Service:     "speech-session-service",
				STTProvider: deps.Engine.Name(),
			})
		})
		r.Get("/availability", availabilityHandler(deps.Engine))
		if deps.Speech != nil {
			r.Get("/speech", deps.Speech.ServeHTTP)
		}
	})

	return r
}

// availabilityHandler answers isAvailable without opening a session.
func availabilityHandler(engine stt.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tag, err := language.Parse(r.URL.Query().Get("locale"))
		if err != nil || tag == language.Und {
			writeJSON(w, http.StatusBadRequest, errorResponse{
				Code:    stt.CodeInvalidArguments,
				Message: "Language is required",
			})
			return
		}
		locale := tag.String()
		writeJSON(w, http.StatusOK, availabilityResponse{
			Locale:    locale,
			Available: engine.IsAvailable(r.Context(), locale),
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to write response")
	}
}

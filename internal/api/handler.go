// Package api exposes the dialogue engine over HTTP for voice front-ends.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hray3182/DoseLine/internal/dialogue"
)

// TurnHandler answers one dialogue turn.
type TurnHandler interface {
	Handle(ctx context.Context, turn dialogue.Turn) dialogue.Response
}

type Handler struct {
	engine TurnHandler
	logger zerolog.Logger
	newID  func() string

	locks sync.Map // session id -> *sync.Mutex
}

func NewHandler(engine TurnHandler, logger zerolog.Logger) *Handler {
	return &Handler{
		engine: engine,
		logger: logger.With().Str("component", "api").Logger(),
		newID:  func() string { return uuid.NewString() },
	}
}

// Router builds the chi router with the turn routes and health check.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(RequestLogger(h.logger))
	r.Use(Recoverer(h.logger))
	r.Use(chiMiddleware.Heartbeat("/health"))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/turns", h.NewSessionTurn)
		r.Post("/sessions/{sessionID}/turns", h.SessionTurn)
	})
	return r
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

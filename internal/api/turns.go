package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/hray3182/DoseLine/internal/dialogue"
)

const maxTurnBody = 64 << 10

type turnRequest struct {
	Intent           string            `json:"intent"`
	Slots            map[string]string `json:"slots,omitempty"`
	NewSession       bool              `json:"newSession"`
	DeviceID         string            `json:"deviceId,omitempty"`
	ReminderAPIToken string            `json:"reminderApiToken,omitempty"`
}

type turnResponse struct {
	SessionID    string `json:"sessionId"`
	Speech       string `json:"speech"`
	Reprompt     string `json:"reprompt,omitempty"`
	EndSession   bool   `json:"endSession"`
	ExpectAnswer bool   `json:"expectAnswer"`
}

// NewSessionTurn starts a conversation under a freshly minted session id.
func (h *Handler) NewSessionTurn(w http.ResponseWriter, r *http.Request) {
	h.turn(w, r, h.newID(), true)
}

func (h *Handler) SessionTurn(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "sessionID"))
	if id == "" {
		Error(w, http.StatusBadRequest, "missing session id")
		return
	}
	h.turn(w, r, id, false)
}

func (h *Handler) turn(w http.ResponseWriter, r *http.Request, sessionID string, fresh bool) {
	var req turnRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTurnBody)).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Intent == "" {
		Error(w, http.StatusBadRequest, "intent is required")
		return
	}

	turn := dialogue.Turn{
		SessionID:        sessionID,
		Intent:           dialogue.ParseIntent(req.Intent),
		Slots:            req.Slots,
		NewSession:       fresh || req.NewSession,
		DeviceID:         req.DeviceID,
		ReminderAPIToken: req.ReminderAPIToken,
	}

	mu, _ := h.locks.LoadOrStore(sessionID, &sync.Mutex{})
	mu.(*sync.Mutex).Lock()
	resp := h.engine.Handle(r.Context(), turn)
	mu.(*sync.Mutex).Unlock()

	JSON(w, http.StatusOK, turnResponse{
		SessionID:    sessionID,
		Speech:       resp.Speech,
		Reprompt:     resp.Reprompt,
		EndSession:   resp.EndSession,
		ExpectAnswer: resp.ExpectAnswer,
	})
}

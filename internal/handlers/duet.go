package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/MegaGrindStone/duet-web-ui/internal/duet"
	"github.com/MegaGrindStone/duet-web-ui/internal/models"
)

// HandleStart starts or resumes the conversation. It expects "model_a" and "model_b" form fields and, for
// a new session, a "prompt". The reply is 202 Accepted; turns reach the page over SSE.
func (m Main) HandleStart(w http.ResponseWriter, r *http.Request) {
	if !m.requirePost(w, r) {
		return
	}

	session := models.Session{
		ModelA: r.FormValue("model_a"),
		ModelB: r.FormValue("model_b"),
		Seed:   r.FormValue("prompt"),
	}

	if err := m.duet.Start(r.Context(), session); err != nil {
		m.logger.Error("Failed to start conversation",
			slog.String("modelA", session.ModelA),
			slog.String("modelB", session.ModelB),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), duetErrorStatus(err))
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// HandleStop stops the conversation after cancelling the in-flight turn and speech.
func (m Main) HandleStop(w http.ResponseWriter, r *http.Request) {
	if !m.requirePost(w, r) {
		return
	}

	m.duet.Stop()
	w.WriteHeader(http.StatusNoContent)
}

// HandleReset stops the conversation and clears it.
func (m Main) HandleReset(w http.ResponseWriter, r *http.Request) {
	if !m.requirePost(w, r) {
		return
	}

	if err := m.duet.Reset(r.Context()); err != nil {
		m.logger.Error("Failed to reset conversation", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), duetErrorStatus(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleSay adds the "message" form field to the conversation as a user interjection.
func (m Main) HandleSay(w http.ResponseWriter, r *http.Request) {
	if !m.requirePost(w, r) {
		return
	}

	if _, err := m.duet.Say(r.Context(), r.FormValue("message")); err != nil {
		m.logger.Error("Failed to add user message", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), duetErrorStatus(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (m Main) requirePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodPost {
		return true
	}
	m.logger.Error("Method not allowed", slog.String("method", r.Method))
	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	return false
}

func duetErrorStatus(err error) int {
	switch {
	case errors.Is(err, duet.ErrNoModel), errors.Is(err, duet.ErrNoSeed), errors.Is(err, duet.ErrEmptyMessage):
		return http.StatusBadRequest
	case errors.Is(err, duet.ErrRunning), errors.Is(err, duet.ErrSessionLocked):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

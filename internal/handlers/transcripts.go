package handlers

import (
	"log/slog"
	"net/http"

	"github.com/MegaGrindStone/duet-web-ui/internal/models"
)

type transcriptsPageData struct {
	Sessions []models.Session

	Current  *models.Session
	Messages []message
}

// HandleTranscripts lists archived sessions. With a "session_id" query parameter it shows that session's
// messages instead; adding "format=text" returns them as a plain "name: text" transcript.
func (m Main) HandleTranscripts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		m.listTranscripts(w, r)
		return
	}

	session, ok, err := m.store.Session(r.Context(), sessionID)
	if err != nil {
		m.logger.Error("Failed to get session",
			slog.String("sessionID", sessionID),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	msgs, err := m.store.Messages(r.Context(), sessionID)
	if err != nil {
		m.logger.Error("Failed to get messages",
			slog.String("sessionID", sessionID),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(session.Seed + "\n\n" + models.RenderTranscript(msgs) + "\n"))
		return
	}

	views := make([]message, 0, len(msgs))
	for _, msg := range msgs {
		view, err := messageView(msg)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		views = append(views, view)
	}

	data := transcriptsPageData{Current: &session, Messages: views}
	if err := m.templates.ExecuteTemplate(w, "transcripts.html", data); err != nil {
		m.logger.Error("Failed to render transcript", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (m Main) listTranscripts(w http.ResponseWriter, r *http.Request) {
	sessions, err := m.store.Sessions(r.Context())
	if err != nil {
		m.logger.Error("Failed to get sessions", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if err := m.templates.ExecuteTemplate(w, "transcripts.html", transcriptsPageData{Sessions: sessions}); err != nil {
		m.logger.Error("Failed to render transcripts", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

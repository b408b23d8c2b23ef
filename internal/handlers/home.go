package handlers

import (
	"log/slog"
	"net/http"

	"github.com/MegaGrindStone/duet-web-ui/internal/models"
)

type homePageData struct {
	Models      []string
	ModelsError string

	ModelA string
	ModelB string
	Seed   string
	// Locked is set while a session has history; the model pair can't change until reset.
	Locked  bool
	Running bool
	Next    models.Speaker

	Messages []message

	SplashMillis int64
}

// HandleHome renders the duet page: the model pickers filled from the inference server, the controls, and
// the transcript of the current session. When the server can't be reached the page still renders, with
// an error banner in place of the model list.
func (m Main) HandleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	state := m.duet.Snapshot()

	data := homePageData{
		ModelA:       state.Session.ModelA,
		ModelB:       state.Session.ModelB,
		Seed:         state.Session.Seed,
		Locked:       state.Session.ModelA != "" && len(state.History) > 0,
		Running:      m.duet.Running(),
		Next:         state.Next,
		SplashMillis: m.settings.Splash.Milliseconds(),
	}
	if data.Seed == "" {
		data.Seed = m.settings.SeedPrompt
	}

	names, err := m.models.Models(r.Context())
	if err != nil {
		m.logger.Error("Failed to list models", slog.String(errLoggerKey, err.Error()))
		data.ModelsError = err.Error()
	}
	data.Models = names
	if data.ModelA == "" && len(names) > 0 {
		data.ModelA = names[0]
	}
	if data.ModelB == "" && len(names) > 0 {
		data.ModelB = names[min(1, len(names)-1)]
	}

	msgs := make([]message, 0, len(state.History))
	for _, msg := range state.History {
		view, err := messageView(msg)
		if err != nil {
			m.logger.Error("Failed to render message",
				slog.String("messageID", msg.ID),
				slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		msgs = append(msgs, view)
	}
	data.Messages = msgs

	if err := m.templates.ExecuteTemplate(w, "home.html", data); err != nil {
		m.logger.Error("Failed to render home page", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

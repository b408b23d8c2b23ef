package handlers

import (
	"context"
	"html/template"
	"log/slog"
	"time"

	duetwebui "github.com/MegaGrindStone/duet-web-ui"
	"github.com/MegaGrindStone/duet-web-ui/internal/duet"
	"github.com/MegaGrindStone/duet-web-ui/internal/models"
)

// ModelLister reports the models the inference server can run.
type ModelLister interface {
	Models(ctx context.Context) ([]string, error)
}

// Duet is the conversation the page controls. It is implemented by duet.Controller.
type Duet interface {
	Start(ctx context.Context, session models.Session) error
	Stop()
	Reset(ctx context.Context) error
	Say(ctx context.Context, text string) (models.Message, error)
	Snapshot() duet.State
	Running() bool
}

// Store gives read access to archived sessions.
type Store interface {
	Sessions(ctx context.Context) ([]models.Session, error)
	Session(ctx context.Context, sessionID string) (models.Session, bool, error)
	Messages(ctx context.Context, sessionID string) ([]models.Message, error)
}

// Settings holds the presentation options of the page.
type Settings struct {
	// SeedPrompt pre-fills the prompt box.
	SeedPrompt string
	// Splash is how long the splash overlay stays up after the page loads. Zero disables it.
	Splash time.Duration
}

// Main serves the duet page and its controls. Live updates are pushed by Events.
type Main struct {
	templates *template.Template
	events    *Events

	models   ModelLister
	duet     Duet
	store    Store
	settings Settings

	logger *slog.Logger
}

const errLoggerKey = "err"

// ParseTemplates parses the embedded layout, page, and partial templates.
func ParseTemplates() (*template.Template, error) {
	// We parse templates from three distinct directories to separate layout, pages, and partial views
	return template.New("").Funcs(template.FuncMap{
		"label": func(s models.Speaker) string { return s.Label() },
	}).ParseFS(
		duetwebui.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
}

// NewMain creates a new Main instance. The events instance must be built from the same templates.
func NewMain(
	templates *template.Template,
	events *Events,
	lister ModelLister,
	d Duet,
	store Store,
	settings Settings,
	logger *slog.Logger,
) Main {
	return Main{
		templates: templates,
		events:    events,
		models:    lister,
		duet:      d,
		store:     store,
		settings:  settings,
		logger:    logger.With(slog.String("module", "main")),
	}
}

// Shutdown stops the conversation, then closes the SSE connections.
func (m Main) Shutdown(ctx context.Context) error {
	m.duet.Stop()
	return m.events.Shutdown(ctx)
}

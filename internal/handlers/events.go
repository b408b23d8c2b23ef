package handlers

import (
	"context"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MegaGrindStone/duet-web-ui/internal/models"
	"github.com/tmaxmax/go-sse"
)

// Events is the display of a duet: it renders each update to an HTML fragment and publishes it to every
// open page over Server-Sent Events.
type Events struct {
	sseSrv    *sse.Server
	templates *template.Template

	logger *slog.Logger
}

// SSE event types for real-time updates.
const (
	turnSSEType    = "turn"
	messageSSEType = "message"
	failureSSEType = "failure"
	statusSSEType  = "status"
	clearedSSEType = "cleared"
)

type message struct {
	ID        string
	Speaker   models.Speaker
	Model     string
	Content   template.HTML
	Timestamp time.Time
}

type pendingTurn struct {
	Speaker models.Speaker
	Model   string
	Partial string
}

type failure struct {
	Speaker models.Speaker
	Error   string
}

// NewEvents creates the SSE display. Every client subscribes to the default topic.
func NewEvents(templates *template.Template, logger *slog.Logger) *Events {
	return &Events{
		sseSrv: &sse.Server{
			OnSession: func(s *sse.Session) (sse.Subscription, bool) {
				return sse.Subscription{
					Client:      s,
					LastEventID: s.LastEventID,
					Topics:      []string{sse.DefaultTopic},
				}, true
			},
		},
		templates: templates,
		logger:    logger.With(slog.String("module", "events")),
	}
}

// ServeHTTP serves the event stream.
func (e *Events) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	e.sseSrv.ServeHTTP(w, r)
}

// Shutdown broadcasts a close message to all connected clients and waits up to 5 seconds for their
// connections to terminate.
func (e *Events) Shutdown(ctx context.Context) error {
	ev := &sse.Message{Type: sse.Type("close")}
	// We create a close event that carries a data field, which SSE requires
	ev.AppendData("bye")

	// We ignore the error here since we're shutting down anyway
	_ = e.sseSrv.Publish(ev)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return e.sseSrv.Shutdown(ctx)
}

// TurnStarted shows that a model is thinking.
func (e *Events) TurnStarted(speaker models.Speaker, model string) {
	e.publishTemplate(turnSSEType, "pending_turn", pendingTurn{Speaker: speaker, Model: model})
}

// TurnChunk shows the reply received so far.
func (e *Events) TurnChunk(speaker models.Speaker, partial string) {
	e.publishTemplate(turnSSEType, "pending_turn", pendingTurn{Speaker: speaker, Partial: partial})
}

// TurnCompleted appends a recorded message to the transcript.
func (e *Events) TurnCompleted(msg models.Message) {
	view, err := messageView(msg)
	if err != nil {
		e.logger.Error("Failed to render message",
			slog.String("messageID", msg.ID),
			slog.String(errLoggerKey, err.Error()))
		return
	}
	e.publishTemplate(messageSSEType, "message", view)
}

// TurnFailed shows an error banner.
func (e *Events) TurnFailed(speaker models.Speaker, err error) {
	e.publishTemplate(failureSSEType, "failure", failure{Speaker: speaker, Error: err.Error()})
}

// StatusChanged tells the page whether the conversation is running.
func (e *Events) StatusChanged(running bool) {
	status := "stopped"
	if running {
		status = "running"
	}
	e.publish(statusSSEType, status)
}

// Cleared empties the transcript.
func (e *Events) Cleared() {
	e.publish(clearedSSEType, "cleared")
}

func (e *Events) publishTemplate(typ string, name string, data any) {
	var sb strings.Builder
	if err := e.templates.ExecuteTemplate(&sb, name, data); err != nil {
		e.logger.Error("Failed to execute template",
			slog.String("template", name),
			slog.String(errLoggerKey, err.Error()))
		return
	}
	e.publish(typ, sb.String())
}

func (e *Events) publish(typ string, data string) {
	msg := sse.Message{Type: sse.Type(typ)}
	msg.AppendData(data)
	if err := e.sseSrv.Publish(&msg); err != nil {
		e.logger.Error("Failed to publish event",
			slog.String("type", typ),
			slog.String(errLoggerKey, err.Error()))
	}
}

func messageView(msg models.Message) (message, error) {
	content, err := models.RenderMarkdown(msg.Text)
	if err != nil {
		return message{}, err
	}
	// RenderMarkdown escapes raw HTML in the reply.
	return message{
		ID:        msg.ID,
		Speaker:   msg.Speaker,
		Model:     msg.Model,
		Content:   template.HTML(content),
		Timestamp: msg.Timestamp,
	}, nil
}

package duet

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MegaGrindStone/duet-web-ui/internal/models"
	"github.com/google/uuid"
)

// LLM generates one turn of the conversation. The returned iterator yields the reply in chunks; a non-nil
// error ends the turn.
type LLM interface {
	Chat(ctx context.Context, req models.TurnRequest) iter.Seq2[string, error]
}

// Display receives everything the user should see. Implementations must not block for long, they are
// called from the turn loop.
type Display interface {
	TurnStarted(speaker models.Speaker, model string)
	TurnChunk(speaker models.Speaker, partial string)
	TurnCompleted(msg models.Message)
	TurnFailed(speaker models.Speaker, err error)
	StatusChanged(running bool)
	Cleared()
}

// Speech reads a reply aloud and returns once playback ends or ctx is cancelled.
type Speech interface {
	Speak(ctx context.Context, text, voice string) error
}

// Archive keeps a record of sessions and their messages. It is optional.
type Archive interface {
	AddSession(ctx context.Context, session models.Session) (string, error)
	AddMessage(ctx context.Context, sessionID string, message models.Message) (string, error)
}

// Config tunes the controller.
type Config struct {
	SystemPrompt string
	VoiceA       string
	VoiceB       string
	// MaxTurns stops a run after that many successful turns. Zero means run until stopped.
	MaxTurns int
}

var (
	// ErrRunning is returned by Start while a run is in progress.
	ErrRunning = errors.New("conversation is already running")
	// ErrSessionLocked is returned when resuming a session with a different model pair.
	ErrSessionLocked = errors.New("models can't change during a session, reset first")
	// ErrNoModel is returned when a model seat is empty.
	ErrNoModel = errors.New("both models must be selected")
	// ErrNoSeed is returned when a new session is started without a prompt.
	ErrNoSeed = errors.New("a prompt is required to start a conversation")
	// ErrNoSession is returned by AdvanceTurn before any session is started.
	ErrNoSession = errors.New("no conversation has been started")
	// ErrEmptyReply is returned when a model answers with nothing.
	ErrEmptyReply = errors.New("model returned an empty reply")
	// ErrEmptyMessage is returned by Say for blank input.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrStale is returned when a reply arrives after the conversation moved on without it.
	ErrStale = errors.New("reply no longer matches the conversation")
)

// Controller runs the turn-taking loop between two models. It owns the State; the LLM, display, speech
// engine and archive are collaborators invoked through narrow interfaces.
type Controller struct {
	llm     LLM
	display Display
	speech  Speech
	archive Archive
	cfg     Config

	logger *slog.Logger

	mu    sync.Mutex
	state State

	archiveMu   sync.Mutex
	archivedFor string
	archiveKey  string

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewController creates a Controller with an empty conversation. archive may be nil.
func NewController(llm LLM, display Display, speech Speech, archive Archive, cfg Config, logger *slog.Logger) *Controller {
	return &Controller{
		llm:     llm,
		display: display,
		speech:  speech,
		archive: archive,
		cfg:     cfg,
		logger:  logger.With(slog.String("module", "duet")),
		state:   NewState(),
	}
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// Running reports whether the turn loop is active.
func (c *Controller) Running() bool {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	return c.runningLocked()
}

func (c *Controller) runningLocked() bool {
	if c.done == nil {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Start begins a new session, or resumes the current one, and runs turns in the background until Stop is
// called, a turn fails, or MaxTurns is reached. A session is new when nothing has been said in it yet;
// otherwise the requested models must match the ones it started with.
func (c *Controller) Start(ctx context.Context, session models.Session) error {
	if session.ModelA == "" || session.ModelB == "" {
		return ErrNoModel
	}

	c.runMu.Lock()
	defer c.runMu.Unlock()

	if c.runningLocked() {
		return ErrRunning
	}

	// Messages typed before the session existed were never archived.
	var pending []models.Message

	c.mu.Lock()
	current := c.state.Session
	fresh := current.ModelA == "" || len(c.state.History) == 0
	switch {
	case fresh:
		session.Seed = strings.TrimSpace(session.Seed)
		if session.Seed == "" {
			c.mu.Unlock()
			return ErrNoSeed
		}
		session.ID = uuid.New().String()
		session.StartedAt = time.Now()
		c.state.Session = session
		c.state.Next = models.SpeakerA
		pending = slices.Clone(c.state.History)
	case current.ModelA != session.ModelA || current.ModelB != session.ModelB:
		c.mu.Unlock()
		return ErrSessionLocked
	}
	c.mu.Unlock()

	for _, msg := range pending {
		c.record(ctx, session, msg)
	}

	if c.cancel != nil {
		c.cancel()
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done

	c.logger.Info("Conversation started",
		slog.String("modelA", session.ModelA),
		slog.String("modelB", session.ModelB),
		slog.Bool("resumed", !fresh))
	c.display.StatusChanged(true)

	go c.run(runCtx, done)

	return nil
}

func (c *Controller) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer c.display.StatusChanged(false)

	for turns := 0; c.cfg.MaxTurns == 0 || turns < c.cfg.MaxTurns; turns++ {
		if ctx.Err() != nil {
			return
		}
		if _, err := c.AdvanceTurn(ctx); err != nil {
			if !errors.Is(err, context.Canceled) {
				c.logger.Warn("Conversation halted", slog.String(errLoggerKey, err.Error()))
			}
			return
		}
	}
	c.logger.Info("Conversation reached turn limit", slog.Int("maxTurns", c.cfg.MaxTurns))
}

// Stop cancels the in-flight request and any speech, then waits for the loop to exit. The conversation
// can be resumed with Start.
func (c *Controller) Stop() {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
	c.cancel = nil
	c.done = nil
	c.logger.Info("Conversation stopped")
}

// Reset stops the loop and forgets the session.
func (c *Controller) Reset(context.Context) error {
	c.Stop()

	c.mu.Lock()
	c.state.Reset()
	c.mu.Unlock()

	c.archiveMu.Lock()
	c.archivedFor = ""
	c.archiveKey = ""
	c.archiveMu.Unlock()

	c.display.Cleared()
	c.logger.Info("Conversation reset")
	return nil
}

// Say adds a user message to the history. The next model to play sees it as part of its context.
func (c *Controller) Say(ctx context.Context, text string) (models.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.Message{}, ErrEmptyMessage
	}

	c.mu.Lock()
	msg := c.state.Interject(text)
	session := c.state.Session
	c.mu.Unlock()

	c.display.TurnCompleted(msg)
	c.record(ctx, session, msg)
	return msg, nil
}

// AdvanceTurn plays exactly one turn: it sends the full history to the model whose turn it is, records
// the reply, shows it and speaks it. When the model call fails nothing is recorded and the same model
// plays again on the next call.
func (c *Controller) AdvanceTurn(ctx context.Context) (models.Message, error) {
	c.mu.Lock()
	if c.state.Session.ModelA == "" {
		c.mu.Unlock()
		return models.Message{}, ErrNoSession
	}
	req := c.state.Request(c.cfg.SystemPrompt)
	epoch := c.state.Epoch()
	session := c.state.Session
	c.mu.Unlock()

	c.display.TurnStarted(req.Speaker, req.Model)

	text, err := c.generate(ctx, req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return models.Message{}, ctxErr
		}
		err = fmt.Errorf("%s (%s): %w", req.Speaker.Label(), req.Model, err)
		c.logger.Error("Turn failed", slog.String(errLoggerKey, err.Error()))
		c.display.TurnFailed(req.Speaker, err)
		return models.Message{}, err
	}

	c.mu.Lock()
	if !c.state.Current(epoch) || c.state.Next != req.Speaker {
		c.mu.Unlock()
		return models.Message{}, ErrStale
	}
	msg := c.state.Record(text)
	c.mu.Unlock()

	c.logger.Debug("Turn recorded",
		slog.String("speaker", string(msg.Speaker)),
		slog.String("model", msg.Model),
		slog.Int("length", len(msg.Text)))

	c.display.TurnCompleted(msg)
	c.record(ctx, session, msg)

	if err := c.speech.Speak(ctx, msg.Text, c.voice(msg.Speaker)); err != nil && ctx.Err() == nil {
		c.logger.Error("Speech failed", slog.String(errLoggerKey, err.Error()))
		c.display.TurnFailed(msg.Speaker, fmt.Errorf("speech failed: %w", err))
	}

	return msg, nil
}

func (c *Controller) generate(ctx context.Context, req models.TurnRequest) (string, error) {
	var sb strings.Builder
	for chunk, err := range c.llm.Chat(ctx, req) {
		if err != nil {
			return "", err
		}
		sb.WriteString(chunk)
		c.display.TurnChunk(req.Speaker, sb.String())
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", ErrEmptyReply
	}
	return text, nil
}

func (c *Controller) voice(speaker models.Speaker) string {
	if speaker == models.SpeakerB {
		return c.cfg.VoiceB
	}
	return c.cfg.VoiceA
}

// record writes msg to the archive. The session itself is archived lazily with its first message, so
// sessions that never produced anything leave no trace. Archive failures are logged and otherwise ignored.
func (c *Controller) record(ctx context.Context, session models.Session, msg models.Message) {
	if c.archive == nil || session.ID == "" {
		return
	}

	c.archiveMu.Lock()
	defer c.archiveMu.Unlock()

	ctx = context.WithoutCancel(ctx)

	if c.archivedFor != session.ID || c.archiveKey == "" {
		key, err := c.archive.AddSession(ctx, session)
		if err != nil {
			c.logger.Error("Failed to archive session",
				slog.String("sessionID", session.ID),
				slog.String(errLoggerKey, err.Error()))
			return
		}
		c.archivedFor = session.ID
		c.archiveKey = key
	}

	if _, err := c.archive.AddMessage(ctx, c.archiveKey, msg); err != nil {
		c.logger.Error("Failed to archive message",
			slog.String("messageID", msg.ID),
			slog.String(errLoggerKey, err.Error()))
	}
}

const errLoggerKey = "err"

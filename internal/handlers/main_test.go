package handlers_test

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MegaGrindStone/duet-web-ui/internal/duet"
	"github.com/MegaGrindStone/duet-web-ui/internal/handlers"
	"github.com/MegaGrindStone/duet-web-ui/internal/models"
)

type mockLister struct {
	models []string
	err    error
}

type mockDuet struct {
	mu       sync.Mutex
	state    duet.State
	running  bool
	err      error
	started  []models.Session
	said     []string
	stopped  int
	resetted int
}

type mockStore struct {
	sessions []models.Session
	messages map[string][]models.Message
	err      error
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestMain(t *testing.T, lister *mockLister, d *mockDuet, store *mockStore) handlers.Main {
	t.Helper()

	tmpl, err := handlers.ParseTemplates()
	if err != nil {
		t.Fatalf("ParseTemplates() error = %v", err)
	}
	events := handlers.NewEvents(tmpl, testLogger())
	return handlers.NewMain(tmpl, events, lister, d, store, handlers.Settings{
		SeedPrompt: "Debate pineapple on pizza",
		Splash:     3 * time.Second,
	}, testLogger())
}

func TestNewMain(t *testing.T) {
	d := &mockDuet{state: duet.NewState()}
	main := newTestMain(t, &mockLister{}, d, &mockStore{})

	if main.Shutdown(context.Background()) != nil {
		t.Error("Shutdown() should not return error")
	}
	if d.stopped != 1 {
		t.Errorf("Shutdown() stopped the duet %d times, want 1", d.stopped)
	}
}

func TestHandleHome(t *testing.T) {
	state := duet.NewState()
	state.Session = models.Session{ModelA: "llama3", ModelB: "mistral", Seed: "Talk about tea"}
	state.Record("Tea is **lovely**")

	tests := []struct {
		name       string
		method     string
		url        string
		lister     *mockLister
		state      duet.State
		wantStatus int
		wantBody   []string
	}{
		{
			name:       "Fresh page",
			method:     http.MethodGet,
			url:        "/",
			lister:     &mockLister{models: []string{"llama3", "mistral"}},
			state:      duet.NewState(),
			wantStatus: http.StatusOK,
			wantBody:   []string{"llama3", "mistral", "Debate pineapple on pizza", `data-ms="3000"`},
		},
		{
			name:       "Page with history",
			method:     http.MethodGet,
			url:        "/",
			lister:     &mockLister{models: []string{"llama3", "mistral"}},
			state:      state,
			wantStatus: http.StatusOK,
			wantBody:   []string{"<strong>lovely</strong>", "Talk about tea", "disabled"},
		},
		{
			name:       "Server unreachable",
			method:     http.MethodGet,
			url:        "/",
			lister:     &mockLister{err: errors.New("connection refused")},
			state:      duet.NewState(),
			wantStatus: http.StatusOK,
			wantBody:   []string{"Can't list models: connection refused"},
		},
		{
			name:       "Unknown path",
			method:     http.MethodGet,
			url:        "/nope",
			lister:     &mockLister{},
			state:      duet.NewState(),
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "Invalid method",
			method:     http.MethodPost,
			url:        "/",
			lister:     &mockLister{},
			state:      duet.NewState(),
			wantStatus: http.StatusMethodNotAllowed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			main := newTestMain(t, tt.lister, &mockDuet{state: tt.state}, &mockStore{})

			req := httptest.NewRequest(tt.method, tt.url, nil)
			w := httptest.NewRecorder()

			main.HandleHome(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("HandleHome() status = %v, want %v", w.Code, tt.wantStatus)
			}
			for _, want := range tt.wantBody {
				if !strings.Contains(w.Body.String(), want) {
					t.Errorf("HandleHome() body = %v, want to contain %v", w.Body.String(), want)
				}
			}
		})
	}
}

func TestHandleStart(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		form       string
		err        error
		wantStatus int
	}{
		{
			name:       "Invalid method",
			method:     http.MethodGet,
			wantStatus: http.StatusMethodNotAllowed,
		},
		{
			name:       "Missing model",
			method:     http.MethodPost,
			form:       "model_a=llama3&prompt=hi",
			err:        duet.ErrNoModel,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "Already running",
			method:     http.MethodPost,
			form:       "model_a=llama3&model_b=mistral&prompt=hi",
			err:        duet.ErrRunning,
			wantStatus: http.StatusConflict,
		},
		{
			name:       "Models locked",
			method:     http.MethodPost,
			form:       "model_a=phi3&model_b=mistral",
			err:        fmt.Errorf("resume: %w", duet.ErrSessionLocked),
			wantStatus: http.StatusConflict,
		},
		{
			name:       "Started",
			method:     http.MethodPost,
			form:       "model_a=llama3&model_b=mistral&prompt=Talk+about+tea",
			wantStatus: http.StatusAccepted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &mockDuet{state: duet.NewState(), err: tt.err}
			main := newTestMain(t, &mockLister{}, d, &mockStore{})

			req := httptest.NewRequest(tt.method, "/duet/start", strings.NewReader(tt.form))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			w := httptest.NewRecorder()

			main.HandleStart(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("HandleStart() status = %v, want %v", w.Code, tt.wantStatus)
			}
		})
	}

	d := &mockDuet{state: duet.NewState()}
	main := newTestMain(t, &mockLister{}, d, &mockStore{})
	req := httptest.NewRequest(http.MethodPost, "/duet/start",
		strings.NewReader("model_a=llama3&model_b=mistral&prompt=Talk+about+tea"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	main.HandleStart(httptest.NewRecorder(), req)

	want := models.Session{ModelA: "llama3", ModelB: "mistral", Seed: "Talk about tea"}
	if len(d.started) != 1 || d.started[0] != want {
		t.Errorf("started sessions = %+v, want [%+v]", d.started, want)
	}
}

func TestHandleControls(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		handler    func(handlers.Main) http.HandlerFunc
		form       string
		err        error
		wantStatus int
	}{
		{
			name:       "Stop",
			method:     http.MethodPost,
			handler:    func(m handlers.Main) http.HandlerFunc { return m.HandleStop },
			wantStatus: http.StatusNoContent,
		},
		{
			name:       "Stop invalid method",
			method:     http.MethodGet,
			handler:    func(m handlers.Main) http.HandlerFunc { return m.HandleStop },
			wantStatus: http.StatusMethodNotAllowed,
		},
		{
			name:       "Reset",
			method:     http.MethodPost,
			handler:    func(m handlers.Main) http.HandlerFunc { return m.HandleReset },
			wantStatus: http.StatusNoContent,
		},
		{
			name:       "Say",
			method:     http.MethodPost,
			handler:    func(m handlers.Main) http.HandlerFunc { return m.HandleSay },
			form:       "message=Please+be+nicer",
			wantStatus: http.StatusNoContent,
		},
		{
			name:       "Say empty",
			method:     http.MethodPost,
			handler:    func(m handlers.Main) http.HandlerFunc { return m.HandleSay },
			err:        duet.ErrEmptyMessage,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &mockDuet{state: duet.NewState(), err: tt.err}
			main := newTestMain(t, &mockLister{}, d, &mockStore{})

			req := httptest.NewRequest(tt.method, "/duet", strings.NewReader(tt.form))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			w := httptest.NewRecorder()

			tt.handler(main)(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %v, want %v", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestHandleTranscripts(t *testing.T) {
	store := &mockStore{
		sessions: []models.Session{
			{ID: "1-abc", ModelA: "llama3", ModelB: "mistral", Seed: "Talk about tea", StartedAt: time.Now()},
		},
		messages: map[string][]models.Message{
			"1-abc": {
				{ID: "m1", Speaker: models.SpeakerA, Model: "llama3", Text: "hi"},
				{ID: "m2", Speaker: models.SpeakerB, Model: "mistral", Text: "hello"},
			},
		},
	}

	tests := []struct {
		name       string
		url        string
		store      *mockStore
		wantStatus int
		wantBody   string
	}{
		{
			name:       "List",
			url:        "/transcripts",
			store:      store,
			wantStatus: http.StatusOK,
			wantBody:   "Talk about tea",
		},
		{
			name:       "Empty list",
			url:        "/transcripts",
			store:      &mockStore{},
			wantStatus: http.StatusOK,
			wantBody:   "No conversations yet.",
		},
		{
			name:       "One session",
			url:        "/transcripts?session_id=1-abc",
			store:      store,
			wantStatus: http.StatusOK,
			wantBody:   "hello",
		},
		{
			name:       "Plain text",
			url:        "/transcripts?session_id=1-abc&format=text",
			store:      store,
			wantStatus: http.StatusOK,
			wantBody:   "Talk about tea\n\nllama3: hi\nmistral: hello\n",
		},
		{
			name:       "Unknown session",
			url:        "/transcripts?session_id=nope",
			store:      store,
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "Store failure",
			url:        "/transcripts",
			store:      &mockStore{err: errors.New("disk on fire")},
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			main := newTestMain(t, &mockLister{}, &mockDuet{state: duet.NewState()}, tt.store)

			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			w := httptest.NewRecorder()

			main.HandleTranscripts(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("HandleTranscripts() status = %v, want %v", w.Code, tt.wantStatus)
			}
			if !strings.Contains(w.Body.String(), tt.wantBody) {
				t.Errorf("HandleTranscripts() body = %v, want to contain %v", w.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestEventsPublishMessages(t *testing.T) {
	tmpl, err := handlers.ParseTemplates()
	if err != nil {
		t.Fatalf("ParseTemplates() error = %v", err)
	}
	events := handlers.NewEvents(tmpl, testLogger())

	srv := httptest.NewServer(events)
	defer srv.Close()

	done := make(chan struct{})
	defer close(done)

	// The subscription starts some time after the request is made, so the message is repeated until the
	// client sees it.
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				events.TurnCompleted(models.Message{
					ID:      "m1",
					Speaker: models.SpeakerB,
					Model:   "mistral",
					Text:    "Hello *there*",
				})
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatal(err)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET events error = %v", err)
	}
	defer res.Body.Close()

	var sawEvent, sawContent bool
	scanner := bufio.NewScanner(res.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "event: message" {
			sawEvent = true
		}
		if sawEvent && strings.Contains(line, "<em>there</em>") {
			sawContent = true
			break
		}
	}

	if !sawEvent || !sawContent {
		t.Errorf("event stream: saw event %v, saw content %v", sawEvent, sawContent)
	}
}

func (m *mockLister) Models(context.Context) ([]string, error) {
	return m.models, m.err
}

func (d *mockDuet) Start(_ context.Context, session models.Session) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.started = append(d.started, session)
	d.running = true
	return nil
}

func (d *mockDuet) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped++
	d.running = false
}

func (d *mockDuet) Reset(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resetted++
	d.state = duet.NewState()
	return d.err
}

func (d *mockDuet) Say(_ context.Context, text string) (models.Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return models.Message{}, d.err
	}
	d.said = append(d.said, text)
	return d.state.Interject(text), nil
}

func (d *mockDuet) Snapshot() duet.State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *mockDuet) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

func (m *mockStore) Sessions(context.Context) ([]models.Session, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.sessions, nil
}

func (m *mockStore) Session(_ context.Context, sessionID string) (models.Session, bool, error) {
	if m.err != nil {
		return models.Session{}, false, m.err
	}
	for _, s := range m.sessions {
		if s.ID == sessionID {
			return s, true, nil
		}
	}
	return models.Session{}, false, nil
}

func (m *mockStore) Messages(_ context.Context, sessionID string) ([]models.Message, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.messages[sessionID], nil
}

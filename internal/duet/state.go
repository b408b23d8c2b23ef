package duet

import (
	"slices"
	"time"

	"github.com/MegaGrindStone/duet-web-ui/internal/models"
	"github.com/google/uuid"
)

// State is the whole mutable state of a duet: the session, the history sent to the models, and whose
// turn it is. It has no locking of its own; the Controller serializes access to it.
type State struct {
	Session models.Session
	History []models.Message
	Next    models.Speaker

	epoch uint64
}

// NewState returns an empty state with Model A to play first.
func NewState() State {
	return State{Next: models.SpeakerA}
}

// Request builds the turn request for whichever model plays next. The history is copied in full.
func (s State) Request(system string) models.TurnRequest {
	return models.TurnRequest{
		Model:   s.Session.Model(s.Next),
		Speaker: s.Next,
		System:  system,
		Seed:    s.Session.Seed,
		History: slices.Clone(s.History),
	}
}

// Record appends a reply from the model whose turn it is and hands the turn to the other model.
func (s *State) Record(text string) models.Message {
	msg := models.Message{
		ID:        uuid.New().String(),
		Speaker:   s.Next,
		Model:     s.Session.Model(s.Next),
		Text:      text,
		Timestamp: time.Now(),
	}
	s.History = append(s.History, msg)
	s.Next = s.Next.Other()
	return msg
}

// Interject appends a user message. The turn does not change.
func (s *State) Interject(text string) models.Message {
	msg := models.Message{
		ID:        uuid.New().String(),
		Speaker:   models.SpeakerUser,
		Text:      text,
		Timestamp: time.Now(),
	}
	s.History = append(s.History, msg)
	return msg
}

// Reset clears the session. Replies requested before the reset are rejected by Current.
func (s *State) Reset() {
	epoch := s.epoch + 1
	*s = NewState()
	s.epoch = epoch
}

// Current reports whether the state is still in the epoch a request was built in.
func (s State) Current(epoch uint64) bool {
	return s.epoch == epoch
}

// Epoch identifies the current session generation.
func (s State) Epoch() uint64 {
	return s.epoch
}

func (s State) clone() State {
	c := s
	c.History = slices.Clone(s.History)
	return c
}

package models

import "time"

// Session is a conversation between two models. The model pair and the seed prompt are chosen when the
// session starts and stay fixed until it is reset.
type Session struct {
	ID        string
	ModelA    string
	ModelB    string
	Seed      string
	StartedAt time.Time
}

// Model returns the model identifier sitting in the given seat, or an empty string for the user.
func (s Session) Model(speaker Speaker) string {
	switch speaker {
	case SpeakerA:
		return s.ModelA
	case SpeakerB:
		return s.ModelB
	default:
		return ""
	}
}

// TurnRequest carries everything an LLM backend needs to produce one turn.
type TurnRequest struct {
	// Model is the identifier of the acting model.
	Model string
	// Speaker is the seat of the acting model. Backends use it to tell the model's own earlier turns
	// apart from its partner's.
	Speaker Speaker
	// System is an optional system prompt.
	System string
	// Seed is the user's opening prompt, sent ahead of the history on every turn.
	Seed string
	// History is the full ordered sequence of prior messages.
	History []Message
}

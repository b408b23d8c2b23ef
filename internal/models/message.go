package models

import (
	"fmt"
	"time"
)

// Speaker identifies who produced a message in a duet. The two model seats are fixed for a session; the
// user may interject between turns.
type Speaker string

const (
	// SpeakerA is the seat of the first model. It always opens a session.
	SpeakerA Speaker = "a"
	// SpeakerB is the seat of the second model.
	SpeakerB Speaker = "b"
	// SpeakerUser marks a message typed by the user while the models talk.
	SpeakerUser Speaker = "user"
)

// Other returns the seat that plays after s. A user interjection does not take a seat, so it hands the
// turn back to A.
func (s Speaker) Other() Speaker {
	if s == SpeakerA {
		return SpeakerB
	}
	return SpeakerA
}

// Label is the human readable name of the seat, used in transcripts and prompts.
func (s Speaker) Label() string {
	switch s {
	case SpeakerA:
		return "Model A"
	case SpeakerB:
		return "Model B"
	case SpeakerUser:
		return "User"
	default:
		return string(s)
	}
}

// Message is a single recorded turn of a duet. Messages are never modified after they are appended to
// a history.
type Message struct {
	ID        string
	Speaker   Speaker
	Model     string
	Text      string
	Timestamp time.Time
}

// Line renders the message the way it appears in a plain text transcript.
func (m Message) Line() string {
	name := m.Model
	if name == "" {
		name = m.Speaker.Label()
	}
	return fmt.Sprintf("%s: %s", name, m.Text)
}

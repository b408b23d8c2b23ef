package duet_test

import (
	"testing"

	"github.com/MegaGrindStone/duet-web-ui/internal/duet"
	"github.com/MegaGrindStone/duet-web-ui/internal/models"
)

func TestStateRecord(t *testing.T) {
	s := duet.NewState()
	s.Session = models.Session{ModelA: "alpha", ModelB: "beta", Seed: "go"}

	first := s.Record("hi")
	if first.Speaker != models.SpeakerA || first.Model != "alpha" {
		t.Errorf("first = %+v, want alpha in seat a", first)
	}
	if s.Next != models.SpeakerB {
		t.Errorf("Next = %q, want b", s.Next)
	}

	s.Interject("louder")
	if s.Next != models.SpeakerB {
		t.Errorf("Next after interjection = %q, want b", s.Next)
	}

	req := s.Request("")
	if req.Model != "beta" || len(req.History) != 2 {
		t.Errorf("Request() = %+v, want beta with two messages", req)
	}

	// The request must not alias the state's history.
	req.History[0].Text = "changed"
	if s.History[0].Text != "hi" {
		t.Error("Request() history aliases state history")
	}
}

func TestStateReset(t *testing.T) {
	s := duet.NewState()
	s.Session = models.Session{ModelA: "alpha", ModelB: "beta"}
	s.Record("hi")

	epoch := s.Epoch()
	s.Reset()

	if s.Current(epoch) {
		t.Error("Current() = true for an epoch from before the reset")
	}
	if len(s.History) != 0 || s.Next != models.SpeakerA || s.Session.ModelA != "" {
		t.Errorf("state after Reset() = %+v, want empty", s)
	}
}

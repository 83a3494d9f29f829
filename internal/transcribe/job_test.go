package transcribe

import "testing"

func TestJobTransitions(t *testing.T) {
	j := newJob("job-1")
	if j.State != StateSubmitted {
		t.Fatalf("initial state = %q, want submitted", j.State)
	}
	if j.SubmittedAt.IsZero() {
		t.Error("SubmittedAt should be set")
	}

	if got := j.transition(StatePolling); got != StatePolling {
		t.Errorf("transition to polling = %q", got)
	}
	if got := j.transition(StateSucceeded); got != StateSucceeded {
		t.Errorf("transition to succeeded = %q", got)
	}
}

func TestJobTerminalStatesAreSticky(t *testing.T) {
	terminals := []JobState{StateSucceeded, StateFailed, StateTimedOut}
	for _, term := range terminals {
		t.Run(string(term), func(t *testing.T) {
			j := newJob("job-1")
			j.transition(StatePolling)
			j.transition(term)

			for _, next := range []JobState{StateSubmitted, StatePolling, StateSucceeded, StateFailed, StateTimedOut} {
				if got := j.transition(next); got != term {
					t.Errorf("transition(%q) after %q = %q, terminal state must stick", next, term, got)
				}
			}
		})
	}
}

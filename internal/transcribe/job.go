package transcribe

import "time"

// JobState tracks one remote transcription job through the submit/poll
// protocol. Terminal states are never exited.
type JobState string

const (
	StateSubmitted JobState = "submitted"
	StatePolling   JobState = "polling"
	StateSucceeded JobState = "succeeded"
	StateFailed    JobState = "failed"
	StateTimedOut  JobState = "timed_out"
)

// terminal reports whether the state admits no further transitions.
func (s JobState) terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateTimedOut:
		return true
	}
	return false
}

// Job is one submitted unit of work, tracked by the service's opaque id.
// State transitions are owned exclusively by the polling loop.
type Job struct {
	ID          string
	SubmittedAt time.Time
	State       JobState
}

func newJob(id string) *Job {
	return &Job{ID: id, SubmittedAt: time.Now(), State: StateSubmitted}
}

// transition moves the job to next unless it already reached a terminal
// state. Returns the state actually in effect afterwards.
func (j *Job) transition(next JobState) JobState {
	if j.State.terminal() {
		return j.State
	}
	j.State = next
	return j.State
}

package models

import "time"

// LoopState is the state of a polling loop
type LoopState string

const (
	LoopIdle      LoopState = "idle"
	LoopRunning   LoopState = "running"
	LoopSucceeded LoopState = "succeeded"
	LoopFailed    LoopState = "failed"
	LoopExhausted LoopState = "exhausted"
	LoopCancelled LoopState = "cancelled"
)

// Terminal reports whether no further ticks can happen in this state
func (s LoopState) Terminal() bool {
	switch s {
	case LoopSucceeded, LoopFailed, LoopExhausted, LoopCancelled:
		return true
	}
	return false
}

// PollState is a point-in-time view of a polling loop
type PollState struct {
	State       LoopState     `json:"state"`
	Attempts    int           `json:"attempts"`
	Probes      int           `json:"probes"`
	Interval    time.Duration `json:"interval"`
	MaxAttempts int           `json:"max_attempts"`
	MatchedURL  string        `json:"matched_url,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  time.Time     `json:"finished_at"`
}

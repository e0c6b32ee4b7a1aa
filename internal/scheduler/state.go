package scheduler

import (
	"fmt"
	"time"
)

// State is the scheduler's lifecycle position.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateRecovering
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateRecovering:
		return "RECOVERING"
	case StateStopped:
		return "STOPPED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// StopReason says why the loop ended.
type StopReason string

const (
	StopNone       StopReason = ""
	StopDailyLimit StopReason = "daily_limit"
	StopCancelled  StopReason = "cancelled"
	StopMaxCycles  StopReason = "max_cycles"
)

// CycleState holds the counters owned by the loop.
type CycleState struct {
	// Running is true from a successful start until Stop or the loop ends.
	Running              bool  `json:"running"`
	CycleCount           int64 `json:"cycle_count"`
	ConsecutiveFailures  int   `json:"consecutive_failures"`
	TotalBookingsThisRun int   `json:"total_bookings_this_run"`
	Recoveries           int   `json:"recoveries"`
}

// Snapshot is a point-in-time copy of the scheduler for status reporting.
type Snapshot struct {
	State      State      `json:"state"`
	StopReason StopReason `json:"stop_reason,omitempty"`
	CycleState
	DailyCount  int       `json:"daily_count"`
	DailyLimit  int       `json:"daily_limit"`
	StartedAt   time.Time `json:"started_at"`
	LastCycleAt time.Time `json:"last_cycle_at,omitempty"`
	LastOutcome string    `json:"last_outcome,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	NextCycleAt time.Time `json:"next_cycle_at,omitempty"`
}

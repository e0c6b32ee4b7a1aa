package workflow

import (
	"fmt"

	"github.com/example/shift-scheduler/internal/errors"
	"github.com/example/shift-scheduler/internal/shift"
)

// State is a step of the booking state machine.
type State int

const (
	StateDiscover State = iota
	StateSelectCandidate
	StateResolveModals
	StateActivateApply
	StateCompleteFlow
	StateSuccess
	StateFailure
)

var stateNames = [...]string{
	StateDiscover:        "DISCOVER",
	StateSelectCandidate: "SELECT_CANDIDATE",
	StateResolveModals:   "RESOLVE_MODALS",
	StateActivateApply:   "ACTIVATE_APPLY",
	StateCompleteFlow:    "COMPLETE_FLOW",
	StateSuccess:         "SUCCESS",
	StateFailure:         "FAILURE",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Candidate-local step failures.
var (
	ErrCandidateUnreachable = errors.New("candidate control unreachable")
	ErrApplyExhausted       = errors.New("apply control not activated within budget")
	ErrUnconfirmed          = errors.New("flow ended without a success indicator")
)

// StepError records which state abandoned a candidate and why.
type StepError struct {
	State     State
	Candidate string
	Err       error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.State, e.Candidate, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

func stepFailed(s State, c shift.Candidate, err error) error {
	return &StepError{State: s, Candidate: c.ID, Err: err}
}

// OutcomeKind is the terminal classification of one workflow run.
type OutcomeKind int

const (
	OutcomeNoCandidates OutcomeKind = iota
	OutcomeBooked
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeBooked:
		return "booked"
	case OutcomeNoCandidates:
		return "no_candidates"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", int(k))
	}
}

// Outcome is the result of one workflow run for one partition.
type Outcome struct {
	Kind      OutcomeKind
	Partition shift.Partition
	Candidate shift.Candidate
	Reason    error
	// Examined counts candidates that entered SELECT_CANDIDATE.
	Examined int
	// LedgerErr is set when a booking succeeded but could not be persisted.
	LedgerErr error
}

func Booked(p shift.Partition, c shift.Candidate, examined int) Outcome {
	return Outcome{Kind: OutcomeBooked, Partition: p, Candidate: c, Examined: examined}
}

func NoCandidates(p shift.Partition) Outcome {
	return Outcome{Kind: OutcomeNoCandidates, Partition: p}
}

func Failed(p shift.Partition, reason error, examined int) Outcome {
	return Outcome{Kind: OutcomeFailed, Partition: p, Reason: reason, Examined: examined}
}

func (o Outcome) IsBooked() bool { return o.Kind == OutcomeBooked }

func (o Outcome) String() string {
	switch o.Kind {
	case OutcomeBooked:
		return fmt.Sprintf("booked %s in %s", o.Candidate, o.Partition)
	case OutcomeFailed:
		return fmt.Sprintf("failed in %s: %v", o.Partition, o.Reason)
	default:
		return fmt.Sprintf("no candidates in %s", o.Partition)
	}
}

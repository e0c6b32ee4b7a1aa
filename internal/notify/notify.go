// Package notify delivers human-readable events on a best-effort basis.
// Nothing in this package returns an error to the caller: delivery problems
// end up in the fallback log.
package notify

import (
	"time"
)

// Kind classifies an event.
type Kind string

const (
	KindStartup      Kind = "startup"
	KindBooked       Kind = "booked"
	KindLimitReached Kind = "limit_reached"
	KindRecovery     Kind = "recovery"
	KindCritical     Kind = "critical"
	KindSummary      Kind = "summary"
	KindLedgerError  Kind = "ledger_error"
	KindShutdown     Kind = "shutdown"
)

// Field is one labelled value shown with an event.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Event is a notification request.
type Event struct {
	Kind          Kind      `json:"kind"`
	Title         string    `json:"title"`
	Message       string    `json:"message"`
	Urgent        bool      `json:"urgent,omitempty"`
	Fields        []Field   `json:"fields,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	At            time.Time `json:"at"`
}

// With returns a copy of e with an extra field.
func (e Event) With(name, value string) Event {
	e.Fields = append(append([]Field(nil), e.Fields...), Field{Name: name, Value: value})
	return e
}

// Notifier accepts events without blocking the caller for long and never fails.
type Notifier interface {
	Notify(e Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Notify(Event) {}

// Func adapts a function to a Notifier.
type Func func(Event)

func (f Func) Notify(e Event) { f(e) }

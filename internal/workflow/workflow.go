// Package workflow drives one partition from discovery to a confirmed booking.
//
// Each run walks DISCOVER, then for every remaining candidate
// SELECT_CANDIDATE, RESOLVE_MODALS, ACTIVATE_APPLY and COMPLETE_FLOW, ending
// in SUCCESS for the first confirmed candidate or FAILURE once candidates are
// exhausted. A candidate is only reported booked after a success indicator
// was seen and the ledger write was attempted.
package workflow

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/example/shift-scheduler/internal/action"
	"github.com/example/shift-scheduler/internal/driver"
	"github.com/example/shift-scheduler/internal/errors"
	"github.com/example/shift-scheduler/internal/notify"
	"github.com/example/shift-scheduler/internal/shift"
)

// Page is the site-specific side of the workflow.
type Page interface {
	// Discover loads the listing for p and returns candidates in page order.
	Discover(ctx context.Context, p shift.Partition) ([]shift.Candidate, error)
	// CandidateTarget returns the locators of the control that opens c.
	CandidateTarget(c shift.Candidate) []driver.Locator
	// Confirmed reports whether a terminal success indicator is showing.
	Confirmed(ctx context.Context) bool
	// Restore returns to the listing for p after a candidate was abandoned.
	Restore(ctx context.Context, p shift.Partition) error
}

// Activator is the part of action.Executor the workflow uses.
type Activator interface {
	ResolveAndActivate(ctx context.Context, targets []driver.Locator, strategies []action.Strategy, budget int) bool
}

// Ledger is the part of ledger.Ledger the workflow uses.
type Ledger interface {
	IsBooked(id string) bool
	RecordBooking(id string) error
}

// Targets are the controls the workflow activates after opening a candidate.
type Targets struct {
	ModalOpen   []driver.Locator
	ModalOption []driver.Locator
	Apply       []driver.Locator
	Proceed     []driver.Locator
}

// Config holds per-state budgets.
type Config struct {
	MaxCandidates  int
	SelectAttempts int
	ApplyAttempts  int
	FlowMaxSteps   int
	Targets        Targets
}

const (
	DefaultMaxCandidates  = 10
	DefaultSelectAttempts = 2
	DefaultApplyAttempts  = 3
	DefaultFlowMaxSteps   = 5
)

func (c Config) withDefaults() Config {
	if c.MaxCandidates <= 0 {
		c.MaxCandidates = DefaultMaxCandidates
	}
	if c.SelectAttempts <= 0 {
		c.SelectAttempts = DefaultSelectAttempts
	}
	if c.ApplyAttempts <= 0 {
		c.ApplyAttempts = DefaultApplyAttempts
	}
	if c.FlowMaxSteps <= 0 {
		c.FlowMaxSteps = DefaultFlowMaxSteps
	}
	return c
}

// Workflow books at most one shift per Run.
type Workflow struct {
	page     Page
	exec     Activator
	ledger   Ledger
	notifier notify.Notifier
	cfg      Config
	log      *zap.SugaredLogger
	now      func() time.Time
}

func New(page Page, exec Activator, l Ledger, n notify.Notifier, cfg Config, log *zap.SugaredLogger) *Workflow {
	if n == nil {
		n = notify.Nop{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Workflow{
		page:     page,
		exec:     exec,
		ledger:   l,
		notifier: n,
		cfg:      cfg.withDefaults(),
		log:      log,
		now:      time.Now,
	}
}

// Run executes the state machine for partition p. Candidate-local failures
// are folded into the Outcome; a returned error means the run itself broke
// (discovery failed or the listing could not be restored).
func (w *Workflow) Run(ctx context.Context, p shift.Partition, correlationID string) (Outcome, error) {
	log := w.log.With("partition", p.String(), "correlation_id", correlationID)

	log.Debugw("entering state", "state", StateDiscover)
	found, err := w.page.Discover(ctx, p)
	if err != nil {
		return Outcome{}, errors.Wrapf(err, "discover %s", p)
	}

	candidates := make([]shift.Candidate, 0, len(found))
	for _, c := range found {
		if w.ledger.IsBooked(c.ID) {
			log.Debugw("skipping candidate already booked today", "candidate", c.ID)
			continue
		}
		candidates = append(candidates, c)
	}
	if len(candidates) == 0 {
		log.Infow("no candidates", "discovered", len(found))
		return NoCandidates(p), nil
	}
	if len(candidates) > w.cfg.MaxCandidates {
		log.Debugw("capping candidates", "available", len(candidates), "cap", w.cfg.MaxCandidates)
		candidates = candidates[:w.cfg.MaxCandidates]
	}
	log.Infow("candidates discovered", "discovered", len(found), "eligible", len(candidates))

	var last error
	for i, c := range candidates {
		if err := ctx.Err(); err != nil {
			return Failed(p, errors.Wrap(err, "cancelled between candidates"), i), nil
		}

		clog := log.With("candidate", c.ID, "title", c.Title)
		err := w.attempt(ctx, c, clog)
		if err == nil {
			clog.Debugw("entering state", "state", StateSuccess)
			return w.succeed(p, c, i+1, correlationID, clog), nil
		}

		clog.Debugw("entering state", "state", StateFailure, "reason", err)
		last = err
		if i == len(candidates)-1 {
			break
		}
		if err := w.page.Restore(ctx, p); err != nil {
			return Outcome{}, errors.Wrapf(err, "restore listing for %s", p)
		}
	}

	return Failed(p, errors.Wrapf(last, "%d candidates abandoned", len(candidates)), len(candidates)), nil
}

// attempt drives one candidate from SELECT_CANDIDATE to a success indicator.
func (w *Workflow) attempt(ctx context.Context, c shift.Candidate, log *zap.SugaredLogger) error {
	clicks := action.Clicks()

	log.Debugw("entering state", "state", StateSelectCandidate)
	if !w.exec.ResolveAndActivate(ctx, w.page.CandidateTarget(c), clicks, w.cfg.SelectAttempts) {
		return stepFailed(StateSelectCandidate, c, ErrCandidateUnreachable)
	}

	log.Debugw("entering state", "state", StateResolveModals)
	w.resolveModals(ctx, log)

	log.Debugw("entering state", "state", StateActivateApply)
	if !w.exec.ResolveAndActivate(ctx, w.cfg.Targets.Apply, clicks, w.cfg.ApplyAttempts) {
		return stepFailed(StateActivateApply, c, ErrApplyExhausted)
	}

	log.Debugw("entering state", "state", StateCompleteFlow)
	if w.page.Confirmed(ctx) {
		return nil
	}
	for step := 1; step <= w.cfg.FlowMaxSteps; step++ {
		activated := w.exec.ResolveAndActivate(ctx, w.cfg.Targets.Proceed, clicks, 1)
		if w.page.Confirmed(ctx) {
			log.Debugw("success indicator found", "step", step)
			return nil
		}
		log.Debugw("flow step without confirmation", "step", step, "activated", activated)
		if ctx.Err() != nil {
			break
		}
	}
	return stepFailed(StateCompleteFlow, c, ErrUnconfirmed)
}

// resolveModals handles an optional interstitial dialog. Finding none is fine.
func (w *Workflow) resolveModals(ctx context.Context, log *zap.SugaredLogger) {
	t := w.cfg.Targets
	if len(t.ModalOpen) == 0 && len(t.ModalOption) == 0 {
		return
	}
	if len(t.ModalOpen) > 0 && !w.exec.ResolveAndActivate(ctx, t.ModalOpen, action.Clicks(), 1) {
		log.Debugw("no dialog to resolve")
		return
	}
	if len(t.ModalOption) > 0 && !w.exec.ResolveAndActivate(ctx, t.ModalOption, action.Clicks(), 1) {
		log.Debugw("dialog open but no option could be chosen")
	}
}

func (w *Workflow) succeed(p shift.Partition, c shift.Candidate, examined int, correlationID string, log *zap.SugaredLogger) Outcome {
	out := Booked(p, c, examined)

	if err := w.ledger.RecordBooking(c.ID); err != nil {
		out.LedgerErr = err
		log.Errorw("booking confirmed but ledger write failed", "error", err)
		w.notifier.Notify(notify.Event{
			Kind:          notify.KindLedgerError,
			Title:         "Ledger write failed",
			Message:       "A confirmed booking could not be persisted; a restart today may attempt it again.",
			Urgent:        true,
			CorrelationID: correlationID,
			At:            w.now(),
		}.With("Shift", c.String()).With("Error", err.Error()))
	}

	log.Infow("shift booked", "location", c.Location, "schedule", c.Schedule)
	ev := notify.Event{
		Kind:          notify.KindBooked,
		Title:         "Shift booked",
		Message:       c.Title,
		CorrelationID: correlationID,
		At:            w.now(),
	}.With("Location", c.Location).With("Schedule", c.Schedule).With("Partition", p.String())
	if c.PayRate != "" {
		ev = ev.With("Pay", c.PayRate)
	}
	w.notifier.Notify(ev)
	return out
}

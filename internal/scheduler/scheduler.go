// Package scheduler runs booking cycles until the daily limit is reached or
// the process is asked to stop. It owns the cycle counters and decides when
// the browser has to be rebuilt.
package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/example/shift-scheduler/internal/errors"
	"github.com/example/shift-scheduler/internal/journal"
	"github.com/example/shift-scheduler/internal/notify"
	"github.com/example/shift-scheduler/internal/shift"
	"github.com/example/shift-scheduler/internal/workflow"
)

// Runner executes one booking workflow for one partition.
type Runner interface {
	Run(ctx context.Context, p shift.Partition, correlationID string) (workflow.Outcome, error)
}

// Provider builds the browser-backed Runner and tears it down. Discard must
// drop every piece of per-driver state so the next Acquire starts clean.
type Provider interface {
	Acquire(ctx context.Context) (Runner, error)
	Discard(ctx context.Context) error
}

// Ledger is the part of ledger.Ledger the loop consults.
type Ledger interface {
	ResetIfNewDay() bool
	CanBookMore(limit int) bool
	DailyCount() int
}

type Config struct {
	PollInterval     time.Duration
	DailyLimit       int
	PerCycleLimit    int
	FailureThreshold int
	RecoveryDelay    time.Duration
	// SleepTick is the granularity at which waits observe a stop request.
	SleepTick time.Duration
	// SummaryEvery sends a summary notification every n cycles; zero disables it.
	SummaryEvery int
	// MaxCycles ends the loop after n cycles; zero runs until stopped.
	MaxCycles int64
	// WorkflowTimeout bounds one workflow run. A stop request never cuts a
	// run short; this is the only limit on it.
	WorkflowTimeout time.Duration
	Partitions      []shift.Partition
}

func (c *Config) setDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 45 * time.Second
	}
	if c.DailyLimit <= 0 {
		c.DailyLimit = 5
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 10
	}
	if c.RecoveryDelay <= 0 {
		c.RecoveryDelay = 120 * time.Second
	}
	if c.SleepTick <= 0 {
		c.SleepTick = time.Second
	}
	if c.WorkflowTimeout <= 0 {
		c.WorkflowTimeout = 10 * time.Minute
	}
	if len(c.Partitions) == 0 {
		c.Partitions = []shift.Partition{{}}
	}
}

type Scheduler struct {
	cfg      Config
	provider Provider
	ledger   Ledger
	notifier notify.Notifier
	journal  journal.Journal
	log      *zap.SugaredLogger
	now      func() time.Time
	onState  func(State)
	runID    string

	runner Runner
	stopCh chan struct{}
	once   sync.Once

	mu   sync.Mutex
	snap Snapshot
}

type Option func(*Scheduler)

func WithNotifier(n notify.Notifier) Option { return func(s *Scheduler) { s.notifier = n } }
func WithJournal(j journal.Journal) Option { return func(s *Scheduler) { s.journal = j } }
func WithLogger(l *zap.SugaredLogger) Option { return func(s *Scheduler) { s.log = l } }
func WithClock(now func() time.Time) Option { return func(s *Scheduler) { s.now = now } }

// WithStateHook is called on every state transition.
func WithStateHook(fn func(State)) Option { return func(s *Scheduler) { s.onState = fn } }

func New(cfg Config, provider Provider, ledger Ledger, opts ...Option) *Scheduler {
	cfg.setDefaults()
	s := &Scheduler{
		cfg:      cfg,
		provider: provider,
		ledger:   ledger,
		notifier: notify.Nop{},
		journal:  journal.Nop{},
		log:      zap.NewNop().Sugar(),
		now:      time.Now,
		runID:    ulid.Make().String(),
		stopCh:   make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	s.snap.DailyLimit = cfg.DailyLimit
	return s
}

// Stop asks the loop to end at its next safe point. It is safe to call more
// than once and from any goroutine.
func (s *Scheduler) Stop() {
	s.once.Do(func() {
		close(s.stopCh)
		s.update(func(sn *Snapshot) { sn.Running = false })
	})
}

func (s *Scheduler) stopping(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

// Snapshot returns a copy of the current counters.
func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

func (s *Scheduler) update(fn func(*Snapshot)) {
	s.mu.Lock()
	fn(&s.snap)
	s.mu.Unlock()
}

func (s *Scheduler) setState(st State) {
	s.update(func(sn *Snapshot) { sn.State = st })
	s.log.Infow("scheduler state", "state", st)
	if s.onState != nil {
		s.onState(st)
	}
}

// Run drives cycles until the daily limit is reached or ctx is cancelled or
// Stop is called. It returns an error only when the first browser session
// cannot be built; after that, every failure is absorbed by the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	s.update(func(sn *Snapshot) { sn.StartedAt = s.now() })

	runner, err := s.provider.Acquire(ctx)
	if err != nil {
		s.notifier.Notify(notify.Event{
			Kind:    notify.KindCritical,
			Title:   "Startup failed",
			Message: err.Error(),
			Urgent:  true,
		})
		s.setState(StateStopped)
		return errors.Wrap(err, "initialize browser")
	}
	s.runner = runner
	s.update(func(sn *Snapshot) { sn.Running = !s.stopping(ctx) })

	s.ledger.ResetIfNewDay()
	s.notifier.Notify(notify.Event{
		Kind:          notify.KindStartup,
		Title:         "Shift monitor started",
		Message:       fmt.Sprintf("Polling every %s across %d partition(s).", s.cfg.PollInterval, len(s.cfg.Partitions)),
		CorrelationID: s.runID,
	}.With("Booked today", fmt.Sprintf("%d/%d", s.ledger.DailyCount(), s.cfg.DailyLimit)))

	s.setState(StateRunning)
	reason := s.loop(ctx)

	s.update(func(sn *Snapshot) { sn.StopReason = reason; sn.NextCycleAt = time.Time{}; sn.Running = false })
	s.shutdown(reason)
	s.setState(StateStopped)
	return nil
}

func (s *Scheduler) loop(ctx context.Context) StopReason {
	for {
		if s.stopping(ctx) {
			return StopCancelled
		}
		if s.ledger.ResetIfNewDay() {
			s.log.Infow("new day, ledger reset")
		}
		if s.limitReached() {
			return StopDailyLimit
		}

		cycle := s.runCycle(ctx)

		if s.limitReached() {
			return StopDailyLimit
		}
		if s.cfg.MaxCycles > 0 && cycle >= s.cfg.MaxCycles {
			return StopMaxCycles
		}
		if s.stopping(ctx) {
			return StopCancelled
		}

		if s.Snapshot().ConsecutiveFailures >= s.cfg.FailureThreshold {
			if !s.enterRecovery(ctx) {
				return StopCancelled
			}
		}

		s.update(func(sn *Snapshot) { sn.NextCycleAt = s.now().Add(s.cfg.PollInterval) })
		s.log.Debugw("waiting for next cycle", "interval", s.cfg.PollInterval)
		if !s.wait(ctx, s.cfg.PollInterval) {
			return StopCancelled
		}
	}
}

// limitReached caps the process run as a whole. TotalBookingsThisRun is not
// cleared at midnight, so a run that spans two days books at most DailyLimit
// shifts in total; the ledger enforces the per-day cap.
func (s *Scheduler) limitReached() bool {
	snap := s.Snapshot()
	return snap.TotalBookingsThisRun >= s.cfg.DailyLimit || !s.ledger.CanBookMore(s.cfg.DailyLimit)
}

// runCycle performs one pass over every partition, updates the counters and
// returns the cycle number.
func (s *Scheduler) runCycle(ctx context.Context) int64 {
	var cycle int64
	s.update(func(sn *Snapshot) {
		sn.CycleCount++
		cycle = sn.CycleCount
		sn.LastCycleAt = s.now()
	})
	log := s.log.With("cycle", cycle)
	started := s.now()
	log.Infow("cycle started")

	booked, examined, err := s.runPartitions(ctx, cycle, log)

	var failures int
	s.update(func(sn *Snapshot) {
		switch {
		case booked > 0:
			sn.ConsecutiveFailures = 0
		case err != nil:
			sn.ConsecutiveFailures++
		default:
			sn.ConsecutiveFailures = 0
		}
		failures = sn.ConsecutiveFailures
		sn.DailyCount = s.ledger.DailyCount()
		if err != nil {
			sn.LastError = err.Error()
		} else {
			sn.LastError = ""
		}
	})

	took := s.now().Sub(started)
	if err != nil {
		log.Warnw("cycle failed", "error", err, "consecutive_failures", failures, "duration", took)
	} else {
		log.Infow("cycle finished", "booked", booked, "examined", examined, "duration", took)
	}

	if s.cfg.SummaryEvery > 0 && cycle%int64(s.cfg.SummaryEvery) == 0 {
		s.summary(cycle, took, err == nil)
	}
	return cycle
}

func (s *Scheduler) runPartitions(ctx context.Context, cycle int64, log *zap.SugaredLogger) (booked, examined int, err error) {
	if s.stopping(ctx) {
		return 0, 0, nil
	}
	if s.runner == nil {
		r, aerr := s.provider.Acquire(ctx)
		if aerr != nil {
			if s.stopping(ctx) {
				return 0, 0, nil
			}
			return 0, 0, errors.Wrap(aerr, "rebuild browser")
		}
		s.runner = r
	}

	for i, p := range s.cfg.Partitions {
		if s.stopping(ctx) {
			return booked, examined, nil
		}
		if s.cfg.PerCycleLimit > 0 && booked >= s.cfg.PerCycleLimit {
			log.Debugw("per-cycle limit reached", "limit", s.cfg.PerCycleLimit)
			return booked, examined, nil
		}
		if s.limitReached() {
			return booked, examined, nil
		}

		correlationID := s.runID + "-" + strconv.FormatInt(cycle, 10) + "-" + strconv.Itoa(i)
		started := s.now()
		out, rerr := s.runWorkflow(ctx, p, correlationID)
		s.record(ctx, cycle, correlationID, p, out, rerr, started)

		if rerr != nil {
			// The browser itself is suspect; the rest of the pass would hit
			// the same fault.
			return booked, examined, errors.Wrapf(rerr, "partition %s", p)
		}

		examined += out.Examined
		s.update(func(sn *Snapshot) { sn.LastOutcome = out.String() })
		if out.IsBooked() {
			booked++
			s.update(func(sn *Snapshot) { sn.TotalBookingsThisRun++ })
			log.Infow("shift booked", "partition", p.String(), "candidate", out.Candidate.ID, "title", out.Candidate.Title)
		} else {
			log.Debugw("partition finished", "partition", p.String(), "outcome", out.Kind, "reason", out.Reason)
		}
	}
	return booked, examined, nil
}

// runWorkflow runs one partition to completion even if a stop arrives
// meanwhile: a booking cut short after the site accepted it would never
// reach the ledger.
func (s *Scheduler) runWorkflow(ctx context.Context, p shift.Partition, correlationID string) (workflow.Outcome, error) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.WorkflowTimeout)
	defer cancel()
	return s.runSafely(wctx, p, correlationID)
}

// runSafely converts a panic escaping the workflow into an error.
func (s *Scheduler) runSafely(ctx context.Context, p shift.Partition, correlationID string) (out workflow.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("workflow panic: %v", r)
			s.log.Errorw("workflow panicked", "partition", p.String(), "correlation_id", correlationID, "panic", r)
		}
	}()
	return s.runner.Run(ctx, p, correlationID)
}

func (s *Scheduler) record(ctx context.Context, cycle int64, correlationID string, p shift.Partition, out workflow.Outcome, runErr error, started time.Time) {
	a := journal.Attempt{
		CorrelationID: correlationID,
		Cycle:         cycle,
		Partition:     p.String(),
		Outcome:       out.Kind.String(),
		Examined:      out.Examined,
		StartedAt:     started,
		FinishedAt:    s.now(),
	}
	switch {
	case runErr != nil:
		a.Outcome = journal.OutcomeError
		a.Reason = runErr.Error()
	case out.IsBooked():
		a.CandidateID = out.Candidate.ID
		a.CandidateTitle = out.Candidate.Title
		if out.LedgerErr != nil {
			a.Reason = out.LedgerErr.Error()
		}
	case out.Reason != nil:
		a.Reason = out.Reason.Error()
	}
	// Journal writes must not outlive a stop request by much.
	jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.journal.Record(jctx, a); err != nil {
		s.log.Warnw("journal write failed", "correlation_id", correlationID, "error", err)
	}
}

// enterRecovery pauses, drops the browser and clears the failure streak. It
// returns false when a stop request arrived during the pause.
func (s *Scheduler) enterRecovery(ctx context.Context) bool {
	snap := s.Snapshot()
	s.setState(StateRecovering)
	s.log.Warnw("entering recovery", "consecutive_failures", snap.ConsecutiveFailures, "delay", s.cfg.RecoveryDelay)
	s.notifier.Notify(notify.Event{
		Kind:    notify.KindRecovery,
		Title:   "Recovery mode activated",
		Message: fmt.Sprintf("%d consecutive failed cycles. Pausing %s and rebuilding the browser.", snap.ConsecutiveFailures, s.cfg.RecoveryDelay),
		Urgent:  true,
	}.With("Cycle", strconv.FormatInt(snap.CycleCount, 10)).With("Last error", snap.LastError))

	s.update(func(sn *Snapshot) { sn.Recoveries++; sn.NextCycleAt = s.now().Add(s.cfg.RecoveryDelay) })
	completed := s.wait(ctx, s.cfg.RecoveryDelay)

	s.discard(ctx)
	s.update(func(sn *Snapshot) { sn.ConsecutiveFailures = 0 })
	if !completed {
		return false
	}
	s.log.Infow("recovery complete")
	s.setState(StateRunning)
	return true
}

func (s *Scheduler) discard(ctx context.Context) {
	s.runner = nil
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := s.provider.Discard(dctx); err != nil {
		s.log.Warnw("discard browser", "error", err)
	}
}

// wait sleeps for d in slices of at most SleepTick and reports false as soon
// as a stop is requested.
func (s *Scheduler) wait(ctx context.Context, d time.Duration) bool {
	deadline := time.Now().Add(d)
	for {
		if s.stopping(ctx) {
			return false
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return true
		}
		t := time.NewTimer(min(s.cfg.SleepTick, remaining))
		select {
		case <-ctx.Done():
			t.Stop()
			return false
		case <-s.stopCh:
			t.Stop()
			return false
		case <-t.C:
		}
	}
}

func (s *Scheduler) summary(cycle int64, took time.Duration, ok bool) {
	snap := s.Snapshot()
	uptime := s.now().Sub(snap.StartedAt).Round(time.Minute)
	status := "YES"
	if !ok {
		status = "NO"
	}
	s.notifier.Notify(notify.Event{
		Kind:    notify.KindSummary,
		Title:   fmt.Sprintf("Monitoring update, cycle %d", cycle),
		Message: fmt.Sprintf("Cycle took %s. Next scan in %s.", took.Round(100*time.Millisecond), s.cfg.PollInterval),
	}.
		With("Running", uptime.String()).
		With("Bookings this run", strconv.Itoa(snap.TotalBookingsThisRun)).
		With("Booked today", fmt.Sprintf("%d/%d", snap.DailyCount, s.cfg.DailyLimit)).
		With("Cycle success", status))
}

func (s *Scheduler) shutdown(reason StopReason) {
	snap := s.Snapshot()
	s.log.Infow("scheduler stopping", "reason", reason, "cycles", snap.CycleCount, "bookings", snap.TotalBookingsThisRun)

	if reason == StopDailyLimit {
		s.notifier.Notify(notify.Event{
			Kind:    notify.KindLimitReached,
			Title:   "Daily booking limit reached",
			Message: fmt.Sprintf("Booked %d of %d allowed today. Monitoring stopped.", s.ledger.DailyCount(), s.cfg.DailyLimit),
			Urgent:  true,
		}.With("Bookings this run", strconv.Itoa(snap.TotalBookingsThisRun)))
	}

	if s.runner != nil {
		s.discard(context.Background())
	}

	s.notifier.Notify(notify.Event{
		Kind:    notify.KindShutdown,
		Title:   "Shift monitor stopped",
		Message: fmt.Sprintf("Stopped after %d cycle(s): %s.", snap.CycleCount, reason),
	}.With("Bookings this run", strconv.Itoa(snap.TotalBookingsThisRun)))
}

package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/example/shift-scheduler/internal/errors"
	"github.com/example/shift-scheduler/internal/journal"
	"github.com/example/shift-scheduler/internal/notify"
	"github.com/example/shift-scheduler/internal/shift"
	"github.com/example/shift-scheduler/internal/workflow"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeLedger struct {
	mu     sync.Mutex
	count  int
	resets int
}

func (l *fakeLedger) ResetIfNewDay() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resets++
	return false
}

func (l *fakeLedger) CanBookMore(limit int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count < limit
}

func (l *fakeLedger) DailyCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

func (l *fakeLedger) book() {
	l.mu.Lock()
	l.count++
	l.mu.Unlock()
}

// scriptedRunner returns whatever step says for the n-th call (one based).
type scriptedRunner struct {
	mu      sync.Mutex
	calls   []string
	lastCtx context.Context
	step    func(n int, p shift.Partition) (workflow.Outcome, error)
}

func (r *scriptedRunner) Run(ctx context.Context, p shift.Partition, _ string) (workflow.Outcome, error) {
	r.mu.Lock()
	r.lastCtx = ctx
	r.calls = append(r.calls, p.String())
	n := len(r.calls)
	r.mu.Unlock()
	return r.step(n, p)
}

func (r *scriptedRunner) ctx() context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastCtx
}

func (r *scriptedRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type fakeProvider struct {
	mu        sync.Mutex
	runner    Runner
	err       error
	acquires  int
	discards  int
	onAcquire func(n int)
}

func (p *fakeProvider) Acquire(context.Context) (Runner, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.acquires++
	if p.onAcquire != nil {
		p.onAcquire(p.acquires)
	}
	if p.err != nil {
		return nil, p.err
	}
	return p.runner, nil
}

func (p *fakeProvider) Discard(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.discards++
	return nil
}

type recorder struct {
	mu     sync.Mutex
	events []notify.Event
	states []State
}

func (r *recorder) Notify(e notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) state(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *recorder) kinds() []notify.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Kind
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

func (r *recorder) count(k notify.Kind) int {
	n := 0
	for _, got := range r.kinds() {
		if got == k {
			n++
		}
	}
	return n
}

type memJournal struct {
	mu       sync.Mutex
	attempts []journal.Attempt
	err      error
}

func (j *memJournal) Record(_ context.Context, a journal.Attempt) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.attempts = append(j.attempts, a)
	return j.err
}

func fastConfig() Config {
	return Config{
		PollInterval:     time.Millisecond,
		DailyLimit:       5,
		FailureThreshold: 10,
		RecoveryDelay:    5 * time.Millisecond,
		SleepTick:        time.Millisecond,
	}
}

type harness struct {
	sched    *Scheduler
	runner   *scriptedRunner
	provider *fakeProvider
	ledger   *fakeLedger
	rec      *recorder
	journal  *memJournal
}

func newHarness(cfg Config, step func(h *harness, n int, p shift.Partition) (workflow.Outcome, error)) *harness {
	h := &harness{ledger: &fakeLedger{}, rec: &recorder{}, journal: &memJournal{}}
	h.runner = &scriptedRunner{step: func(n int, p shift.Partition) (workflow.Outcome, error) { return step(h, n, p) }}
	h.provider = &fakeProvider{runner: h.runner}
	h.sched = New(cfg, h.provider, h.ledger,
		WithNotifier(h.rec),
		WithJournal(h.journal),
		WithStateHook(h.rec.state),
	)
	return h
}

func booked(id string) workflow.Outcome {
	return workflow.Booked(shift.Partition{}, shift.Candidate{ID: id, Title: "Picker"}, 1)
}

func TestRecoveryTriggeredOnce(t *testing.T) {
	h := newHarness(fastConfig(), func(h *harness, n int, _ shift.Partition) (workflow.Outcome, error) {
		if n == 15 {
			h.sched.Stop()
		}
		return workflow.Outcome{}, errors.Mark(errors.New("browser crashed"), errors.ErrUnavailable)
	})

	require.NoError(t, h.sched.Run(context.Background()))

	assert.Equal(t, 15, h.runner.count())
	assert.Equal(t, []State{StateRunning, StateRecovering, StateRunning, StateStopped}, h.rec.states)
	snap := h.sched.Snapshot()
	assert.Equal(t, 1, snap.Recoveries)
	assert.Equal(t, 5, snap.ConsecutiveFailures, "counter restarts after recovery")
	assert.Equal(t, int64(15), snap.CycleCount)
	assert.Equal(t, StopCancelled, snap.StopReason)
	assert.Equal(t, 2, h.provider.acquires, "browser rebuilt after recovery")
	assert.Equal(t, 2, h.provider.discards, "recovery and shutdown")
	assert.Equal(t, 1, h.rec.count(notify.KindRecovery))
}

func TestDailyLimitStops(t *testing.T) {
	cfg := fastConfig()
	cfg.DailyLimit = 2
	h := newHarness(cfg, func(h *harness, n int, _ shift.Partition) (workflow.Outcome, error) {
		return booked("shift-" + string(rune('a'+n))), nil
	})

	require.NoError(t, h.sched.Run(context.Background()))

	assert.Equal(t, 2, h.runner.count(), "no cycle after the limit")
	snap := h.sched.Snapshot()
	assert.Equal(t, StateStopped, snap.State)
	assert.Equal(t, StopDailyLimit, snap.StopReason)
	assert.Equal(t, 2, snap.TotalBookingsThisRun)
	assert.Equal(t, 1, h.rec.count(notify.KindLimitReached))
	assert.Equal(t, notify.KindShutdown, h.rec.kinds()[len(h.rec.kinds())-1])
}

func TestLedgerLimitStopsBeforeFirstCycle(t *testing.T) {
	h := newHarness(fastConfig(), func(*harness, int, shift.Partition) (workflow.Outcome, error) {
		return workflow.NoCandidates(shift.Partition{}), nil
	})
	h.ledger.count = 5

	require.NoError(t, h.sched.Run(context.Background()))

	assert.Zero(t, h.runner.count())
	assert.Equal(t, StopDailyLimit, h.sched.Snapshot().StopReason)
}

func TestLedgerCountsTowardLimit(t *testing.T) {
	cfg := fastConfig()
	cfg.DailyLimit = 3
	h := newHarness(cfg, func(h *harness, n int, _ shift.Partition) (workflow.Outcome, error) {
		h.ledger.book()
		return booked("x"), nil
	})
	h.ledger.count = 1

	require.NoError(t, h.sched.Run(context.Background()))
	assert.Equal(t, 2, h.runner.count())
}

func TestInterruptibleWait(t *testing.T) {
	cfg := fastConfig()
	cfg.PollInterval = time.Hour
	cfg.SleepTick = time.Second
	ran := make(chan struct{}, 1)
	h := newHarness(cfg, func(*harness, int, shift.Partition) (workflow.Outcome, error) {
		ran <- struct{}{}
		return workflow.NoCandidates(shift.Partition{}), nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.sched.Run(ctx) }()

	<-ran
	time.Sleep(50 * time.Millisecond)
	start := time.Now()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop within two seconds")
	}
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, 1, h.runner.count())
	assert.Equal(t, StopCancelled, h.sched.Snapshot().StopReason)
}

func TestPanicCountsAsFailure(t *testing.T) {
	h := newHarness(fastConfig(), func(h *harness, n int, _ shift.Partition) (workflow.Outcome, error) {
		if n == 3 {
			h.sched.Stop()
		}
		panic("nil element")
	})

	require.NoError(t, h.sched.Run(context.Background()))

	snap := h.sched.Snapshot()
	assert.Equal(t, 3, snap.ConsecutiveFailures)
	assert.Contains(t, snap.LastError, "workflow panic: nil element")
	require.Len(t, h.journal.attempts, 3)
	assert.Equal(t, journal.OutcomeError, h.journal.attempts[0].Outcome)
}

func TestCleanCycleClearsFailureStreak(t *testing.T) {
	h := newHarness(fastConfig(), func(h *harness, n int, _ shift.Partition) (workflow.Outcome, error) {
		switch n {
		case 1, 2:
			return workflow.Outcome{}, errors.New("driver gone")
		case 3:
			return workflow.Failed(shift.Partition{}, workflow.ErrApplyExhausted, 2), nil
		case 4:
			return workflow.Outcome{}, errors.New("driver gone")
		}
		h.sched.Stop()
		return workflow.NoCandidates(shift.Partition{}), nil
	})

	require.NoError(t, h.sched.Run(context.Background()))
	assert.Equal(t, 0, h.sched.Snapshot().ConsecutiveFailures)
	assert.Equal(t, 0, h.sched.Snapshot().Recoveries)
}

func TestPerCycleLimitAndPartitions(t *testing.T) {
	cfg := fastConfig()
	cfg.PerCycleLimit = 1
	cfg.DailyLimit = 10
	cfg.Partitions = shift.Partitions([]string{"Seattle", "Tacoma", "Kent"})
	h := newHarness(cfg, func(h *harness, n int, p shift.Partition) (workflow.Outcome, error) {
		if n == 2 {
			h.sched.Stop()
		}
		return workflow.Booked(p, shift.Candidate{ID: "s"}, 1), nil
	})

	require.NoError(t, h.sched.Run(context.Background()))
	assert.Equal(t, []string{"Seattle", "Seattle"}, h.runner.calls)
}

func TestAllPartitionsRunWithoutPerCycleLimit(t *testing.T) {
	cfg := fastConfig()
	cfg.Partitions = shift.Partitions([]string{"Seattle", "Tacoma", "Kent"})
	h := newHarness(cfg, func(h *harness, n int, p shift.Partition) (workflow.Outcome, error) {
		if n == 3 {
			h.sched.Stop()
		}
		if p.Name == "Tacoma" {
			return workflow.Booked(p, shift.Candidate{ID: "t1", Title: "Sorter"}, 1), nil
		}
		return workflow.NoCandidates(p), nil
	})

	require.NoError(t, h.sched.Run(context.Background()))
	assert.Equal(t, []string{"Seattle", "Tacoma", "Kent"}, h.runner.calls)

	require.Len(t, h.journal.attempts, 3)
	a := h.journal.attempts[1]
	assert.Equal(t, "booked", a.Outcome)
	assert.Equal(t, "Tacoma", a.Partition)
	assert.Equal(t, "t1", a.CandidateID)
	assert.Equal(t, int64(1), a.Cycle)
	assert.Equal(t, h.sched.runID+"-1-1", a.CorrelationID)
}

func TestErrorAbandonsRemainingPartitions(t *testing.T) {
	cfg := fastConfig()
	cfg.Partitions = shift.Partitions([]string{"Seattle", "Tacoma"})
	h := newHarness(cfg, func(h *harness, n int, p shift.Partition) (workflow.Outcome, error) {
		if n == 2 {
			h.sched.Stop()
		}
		return workflow.Outcome{}, errors.New("session deleted")
	})

	require.NoError(t, h.sched.Run(context.Background()))
	assert.Equal(t, []string{"Seattle", "Seattle"}, h.runner.calls)
	assert.Equal(t, 2, h.sched.Snapshot().ConsecutiveFailures)
}

func TestStartupFailureIsFatal(t *testing.T) {
	h := newHarness(fastConfig(), nil)
	h.provider.err = errors.New("chromedriver not reachable")

	err := h.sched.Run(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "initialize browser")
	assert.Equal(t, []notify.Kind{notify.KindCritical}, h.rec.kinds())
	assert.Equal(t, StateStopped, h.sched.Snapshot().State)
}

func TestAcquireFailureAfterRecoveryCountsAsFailure(t *testing.T) {
	cfg := fastConfig()
	cfg.FailureThreshold = 2
	h := newHarness(cfg, func(h *harness, n int, _ shift.Partition) (workflow.Outcome, error) {
		if n == 2 {
			h.provider.mu.Lock()
			h.provider.err = errors.New("no browser")
			h.provider.mu.Unlock()
		}
		return workflow.Outcome{}, errors.New("stale session")
	})
	h.provider.onAcquire = func(n int) {
		if n == 2 {
			h.sched.Stop()
		}
	}

	require.NoError(t, h.sched.Run(context.Background()))

	assert.Equal(t, 2, h.runner.count())
	snap := h.sched.Snapshot()
	assert.Equal(t, int64(3), snap.CycleCount)
	assert.Equal(t, 1, snap.ConsecutiveFailures)
	assert.Equal(t, 1, snap.Recoveries)
	assert.Contains(t, snap.LastError, "rebuild browser")
}

func TestSummaryEveryNCycles(t *testing.T) {
	cfg := fastConfig()
	cfg.SummaryEvery = 2
	h := newHarness(cfg, func(h *harness, n int, _ shift.Partition) (workflow.Outcome, error) {
		if n == 4 {
			h.sched.Stop()
		}
		return workflow.NoCandidates(shift.Partition{}), nil
	})

	require.NoError(t, h.sched.Run(context.Background()))
	assert.Equal(t, 2, h.rec.count(notify.KindSummary))
	assert.Equal(t, notify.KindStartup, h.rec.kinds()[0])
}

func TestJournalFailureDoesNotStopLoop(t *testing.T) {
	h := newHarness(fastConfig(), func(h *harness, n int, _ shift.Partition) (workflow.Outcome, error) {
		if n == 2 {
			h.sched.Stop()
		}
		return workflow.NoCandidates(shift.Partition{}), nil
	})
	h.journal.err = errors.New("db down")

	require.NoError(t, h.sched.Run(context.Background()))
	assert.Equal(t, 2, h.runner.count())
	assert.Zero(t, h.sched.Snapshot().ConsecutiveFailures)
}

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "IDLE", StateIdle.String())
	assert.Equal(t, "RECOVERING", StateRecovering.String())
	b, err := StateStopped.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "STOPPED", string(b))
}

func TestMaxCycles(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxCycles = 1
	h := newHarness(cfg, func(*harness, int, shift.Partition) (workflow.Outcome, error) {
		return workflow.NoCandidates(shift.Partition{}), nil
	})

	require.NoError(t, h.sched.Run(context.Background()))
	assert.Equal(t, 1, h.runner.count())
	assert.Equal(t, StopMaxCycles, h.sched.Snapshot().StopReason)
}

func TestCancelDuringWorkflowLetsBookingFinish(t *testing.T) {
	cfg := fastConfig()
	cfg.Partitions = []shift.Partition{{Name: "Leeds"}, {Name: "York"}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runCtxErr error
	h := newHarness(cfg, func(h *harness, n int, _ shift.Partition) (workflow.Outcome, error) {
		cancel()
		runCtxErr = h.runner.ctx().Err()
		h.ledger.book()
		return booked("shift-1"), nil
	})

	require.NoError(t, h.sched.Run(ctx))

	snap := h.sched.Snapshot()
	assert.NoError(t, runCtxErr, "workflow context must survive a stop request")
	assert.Equal(t, 1, h.runner.count(), "no partition starts after the stop")
	assert.Equal(t, 1, snap.TotalBookingsThisRun)
	assert.Zero(t, snap.ConsecutiveFailures)
	assert.Empty(t, snap.LastError)
	assert.Equal(t, StopCancelled, snap.StopReason)
	require.Len(t, h.journal.attempts, 1)
	assert.Equal(t, "shift-1", h.journal.attempts[0].CandidateID)
}

func TestRunningFlag(t *testing.T) {
	cfg := fastConfig()
	var during bool
	h := newHarness(cfg, func(h *harness, n int, _ shift.Partition) (workflow.Outcome, error) {
		during = h.sched.Snapshot().Running
		h.sched.Stop()
		assert.False(t, h.sched.Snapshot().Running)
		return workflow.NoCandidates(shift.Partition{}), nil
	})

	require.NoError(t, h.sched.Run(context.Background()))
	assert.True(t, during)
	assert.False(t, h.sched.Snapshot().Running)
}

func TestWaitEndsOnDeadlineBetweenTicks(t *testing.T) {
	cfg := fastConfig()
	cfg.SleepTick = time.Second
	h := newHarness(cfg, func(*harness, int, shift.Partition) (workflow.Outcome, error) {
		return workflow.NoCandidates(shift.Partition{}), nil
	})

	start := time.Now()
	assert.True(t, h.sched.wait(context.Background(), 150*time.Millisecond))
	took := time.Since(start)
	assert.GreaterOrEqual(t, took, 150*time.Millisecond)
	assert.Less(t, took, 700*time.Millisecond)
}

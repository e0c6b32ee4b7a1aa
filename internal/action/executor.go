// Package action resolves abstract targets to live controls and activates
// them, retrying across locators, strategies and attempts. Failures never
// escape as errors: callers get a bool and the reason is logged at debug.
package action

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/example/shift-scheduler/internal/driver"
	"github.com/example/shift-scheduler/internal/errors"
)

const (
	DefaultAttemptDelay   = 500 * time.Millisecond
	DefaultAttemptTimeout = 10 * time.Second
)

// Executor performs resolve-and-activate operations against one driver.
type Executor struct {
	driver  driver.Driver
	log     *zap.SugaredLogger
	delay   time.Duration
	timeout time.Duration
}

type Option func(*Executor)

// WithAttemptDelay sets the base delay between attempts. Attempt n waits n times the base.
func WithAttemptDelay(d time.Duration) Option {
	return func(e *Executor) { e.delay = d }
}

// WithAttemptTimeout bounds a single resolve-and-activate attempt.
func WithAttemptTimeout(d time.Duration) Option {
	return func(e *Executor) { e.timeout = d }
}

func WithLogger(l *zap.SugaredLogger) Option {
	return func(e *Executor) { e.log = l }
}

func New(d driver.Driver, opts ...Option) *Executor {
	e := &Executor{
		driver:  d,
		log:     zap.NewNop().Sugar(),
		delay:   DefaultAttemptDelay,
		timeout: DefaultAttemptTimeout,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Driver returns the driver the executor acts on.
func (e *Executor) Driver() driver.Driver { return e.driver }

// ResolveAndActivate tries up to budget times to resolve one of targets and
// activate it with the first strategy that succeeds. It reports whether an
// activation call completed; it cannot tell whether the page reacted.
func (e *Executor) ResolveAndActivate(ctx context.Context, targets []driver.Locator, strategies []Strategy, budget int) bool {
	if budget < 1 {
		budget = 1
	}
	if len(strategies) == 0 {
		strategies = Clicks()
	}
	for attempt := 1; attempt <= budget; attempt++ {
		if ctx.Err() != nil {
			e.log.Debugw("activation cancelled", "attempt", attempt, "error", ctx.Err())
			return false
		}
		err := e.attempt(ctx, targets, strategies)
		if err == nil {
			return true
		}
		e.log.Debugw("activation attempt failed", "attempt", attempt, "budget", budget, "error", err)
		if attempt < budget {
			if err := sleep(ctx, e.delay*time.Duration(attempt)); err != nil {
				return false
			}
		}
	}
	return false
}

func (e *Executor) attempt(ctx context.Context, targets []driver.Locator, strategies []Strategy) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("panic during activation: %v", r)
		}
	}()

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	el, loc, err := e.resolve(ctx, targets, e.usable)
	if err != nil {
		return err
	}

	var last error
	for _, s := range strategies {
		if err := s.Activate(ctx, e.driver, el); err != nil {
			e.log.Debugw("strategy failed", "strategy", s.Name(), "locator", loc.String(), "error", err)
			last = errors.Wrapf(err, "strategy %s", s.Name())
			continue
		}
		e.log.Debugw("activated", "strategy", s.Name(), "locator", loc.String())
		return nil
	}
	if last == nil {
		last = errors.New("no strategies")
	}
	return errors.Wrap(last, "all strategies failed")
}

// Resolve returns the first visible and enabled control matched by targets.
func (e *Executor) Resolve(ctx context.Context, targets []driver.Locator) (driver.Element, error) {
	el, _, err := e.resolve(ctx, targets, e.usable)
	return el, err
}

// Visible reports whether any of targets currently matches a displayed
// element. Lookup errors count as "not visible".
func (e *Executor) Visible(ctx context.Context, targets []driver.Locator) bool {
	_, _, err := e.resolve(ctx, targets, e.displayed)
	return err == nil
}

func (e *Executor) resolve(ctx context.Context, targets []driver.Locator, ok func(context.Context, driver.Element) bool) (driver.Element, driver.Locator, error) {
	for _, loc := range targets {
		els, err := e.driver.FindAll(ctx, loc)
		if err != nil {
			e.log.Debugw("locator lookup failed", "locator", loc.String(), "error", err)
			continue
		}
		if loc.Nth > 0 {
			if len(els) < loc.Nth {
				continue
			}
			els = els[loc.Nth-1 : loc.Nth]
		}
		for _, el := range els {
			if ok(ctx, el) {
				return el, loc, nil
			}
		}
	}
	return driver.Element{}, driver.Locator{}, errors.Wrapf(errors.ErrNotFound, "no usable control among %d locators", len(targets))
}

func (e *Executor) usable(ctx context.Context, el driver.Element) bool {
	if !e.displayed(ctx, el) {
		return false
	}
	enabled, err := e.driver.Enabled(ctx, el)
	return err == nil && enabled
}

func (e *Executor) displayed(ctx context.Context, el driver.Element) bool {
	shown, err := e.driver.Displayed(ctx, el)
	return err == nil && shown
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

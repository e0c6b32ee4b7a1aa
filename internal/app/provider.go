// Package app assembles the browser-bound booking pipeline for the
// scheduler: driver session, executor, site page and workflow.
package app

import (
	"context"

	"go.uber.org/zap"

	"github.com/example/shift-scheduler/internal/action"
	"github.com/example/shift-scheduler/internal/driver"
	"github.com/example/shift-scheduler/internal/errors"
	"github.com/example/shift-scheduler/internal/filter"
	"github.com/example/shift-scheduler/internal/notify"
	"github.com/example/shift-scheduler/internal/scheduler"
	"github.com/example/shift-scheduler/internal/session"
	"github.com/example/shift-scheduler/internal/shift"
	"github.com/example/shift-scheduler/internal/site"
	"github.com/example/shift-scheduler/internal/workflow"
)

// DriverFactory opens a new browser session.
type DriverFactory func(ctx context.Context) (driver.Driver, error)

type Options struct {
	NewDriver DriverFactory
	Profile   site.Profile
	Filters   filter.Set
	Ledger    workflow.Ledger
	Notifier  notify.Notifier
	// Vault may be nil.
	Vault       *session.Vault
	Workflow    workflow.Config
	ExecOptions []action.Option
	Log         *zap.SugaredLogger
}

// Provider caches one pipeline per driver session. It is used from the
// scheduler goroutine only.
type Provider struct {
	opts Options
	log  *zap.SugaredLogger

	drv    driver.Driver
	runner *runner
}

var _ scheduler.Provider = (*Provider)(nil)

func NewProvider(opts Options) *Provider {
	if opts.Log == nil {
		opts.Log = zap.NewNop().Sugar()
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop{}
	}
	if len(opts.Workflow.Targets.Apply) == 0 && len(opts.Workflow.Targets.Proceed) == 0 {
		opts.Workflow.Targets = opts.Profile.Targets
	}
	return &Provider{opts: opts, log: opts.Log}
}

// Acquire returns the cached runner or builds a new one on a fresh driver.
func (p *Provider) Acquire(ctx context.Context) (scheduler.Runner, error) {
	if p.runner != nil {
		return p.runner, nil
	}
	if p.opts.NewDriver == nil {
		return nil, errors.InvalidConfigf("no driver factory configured")
	}

	drv, err := p.opts.NewDriver(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "start browser")
	}
	p.drv = drv
	p.restoreSession(ctx)

	execOpts := append([]action.Option{action.WithLogger(p.log.Named("action"))}, p.opts.ExecOptions...)
	exec := action.New(drv, execOpts...)
	page := site.NewPage(exec, p.opts.Profile, p.opts.Filters, p.log.Named("site"))
	wf := workflow.New(page, exec, p.opts.Ledger, p.opts.Notifier, p.opts.Workflow, p.log.Named("workflow"))

	p.runner = &runner{wf: wf, drv: drv, vault: p.opts.Vault, log: p.log}
	p.log.Infow("booking pipeline ready")
	return p.runner, nil
}

// restoreSession loads saved cookies. Cookies only apply to the origin the
// browser is on, so the listing is opened first.
func (p *Provider) restoreSession(ctx context.Context) {
	if !p.opts.Vault.Enabled() || p.opts.Profile.SearchURL == "" {
		return
	}
	if err := p.drv.Navigate(ctx, p.opts.Profile.SearchURL); err != nil {
		p.log.Warnw("open site before session restore", "error", err)
		return
	}
	if _, err := p.opts.Vault.Restore(ctx, p.drv); err != nil {
		p.log.Warnw("restore session", "error", err)
	}
}

// Discard saves the session, closes the browser and forgets the pipeline.
func (p *Provider) Discard(ctx context.Context) error {
	if p.drv == nil {
		return nil
	}
	drv := p.drv
	p.drv, p.runner = nil, nil

	if err := p.opts.Vault.Save(ctx, drv); err != nil {
		p.log.Warnw("save session before discard", "error", err)
	}
	if err := drv.Close(ctx); err != nil {
		return errors.Wrap(err, "close browser")
	}
	return nil
}

type runner struct {
	wf    *workflow.Workflow
	drv   driver.Driver
	vault *session.Vault
	log   *zap.SugaredLogger
}

// Run books in partition and snapshots the session after every run that
// did not break.
func (r *runner) Run(ctx context.Context, part shift.Partition, correlationID string) (workflow.Outcome, error) {
	out, err := r.wf.Run(ctx, part, correlationID)
	if err == nil {
		if serr := r.vault.Save(ctx, r.drv); serr != nil {
			r.log.Warnw("save session", "correlation_id", correlationID, "error", serr)
		}
	}
	return out, err
}

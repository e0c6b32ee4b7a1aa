package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/example/shift-scheduler/internal/action"
	"github.com/example/shift-scheduler/internal/app"
	"github.com/example/shift-scheduler/internal/auth"
	"github.com/example/shift-scheduler/internal/config"
	"github.com/example/shift-scheduler/internal/db"
	"github.com/example/shift-scheduler/internal/driver"
	"github.com/example/shift-scheduler/internal/driver/webdriver"
	"github.com/example/shift-scheduler/internal/errors"
	"github.com/example/shift-scheduler/internal/filter"
	"github.com/example/shift-scheduler/internal/journal"
	"github.com/example/shift-scheduler/internal/ledger"
	"github.com/example/shift-scheduler/internal/logger"
	"github.com/example/shift-scheduler/internal/migrate"
	"github.com/example/shift-scheduler/internal/notify"
	"github.com/example/shift-scheduler/internal/scheduler"
	"github.com/example/shift-scheduler/internal/session"
	"github.com/example/shift-scheduler/internal/shift"
	"github.com/example/shift-scheduler/internal/site"
	"github.com/example/shift-scheduler/internal/web"
	"github.com/example/shift-scheduler/internal/workflow"
)

func newRunCmd() *cobra.Command {
	var (
		migrateUp bool
		once      bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the booking loop until stopped or the daily limit is reached",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.RequireSearchURL(); err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			log := logger.Logger
			fs := afero.NewOsFs()

			loc, err := cfg.Location()
			if err != nil {
				return err
			}
			led := ledger.Open(fs, cfg.LedgerPath, ledger.WithLocation(loc), ledger.WithLogger(logger.Named("ledger")))

			filters, err := filter.Load(fs, cfg.FiltersPath)
			if err != nil {
				return err
			}

			hashKey, blockKey, err := cfg.SessionKeys(fs)
			if err != nil {
				return err
			}
			vault, err := session.NewVault(fs, cfg.Session.Path, hashKey, blockKey, logger.Named("session"))
			if err != nil {
				return err
			}

			dispatcher := newDispatcher(cfg, fs)
			defer func() {
				closeCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
				defer done()
				dispatcher.Close(closeCtx)
			}()

			var j journal.Journal = journal.Nop{}
			if cfg.DatabaseURL != "" {
				d, err := db.Open(ctx, cfg.DatabaseURL)
				if err != nil {
					return err
				}
				defer d.Close()

				if err := d.Ping(ctx); err != nil {
					return errors.Wrap(err, "db ping")
				}
				if migrateUp {
					if _, err := migrate.Up(ctx, d); err != nil {
						return err
					}
				}
				j = journal.NewRepo(d)
			}

			provider := app.NewProvider(app.Options{
				NewDriver: newDriverFactory(cfg),
				Profile:   site.DefaultProfile(cfg.SearchURL),
				Filters:   filters,
				Ledger:    led,
				Notifier:  dispatcher,
				Vault:     vault,
				Workflow: workflow.Config{
					MaxCandidates:  cfg.MaxCandidatesPerCycle,
					SelectAttempts: cfg.SelectAttempts,
					ApplyAttempts:  cfg.ApplyAttempts,
					FlowMaxSteps:   cfg.FlowMaxSteps,
				},
				ExecOptions: []action.Option{
					action.WithAttemptDelay(time.Duration(cfg.Action.AttemptDelayMS) * time.Millisecond),
					action.WithAttemptTimeout(time.Duration(cfg.Action.AttemptTimeoutSeconds) * time.Second),
				},
				Log: logger.Named("app"),
			})

			schedCfg := scheduler.Config{
				PollInterval:     cfg.PollInterval(),
				DailyLimit:       cfg.DailyBookingLimit,
				PerCycleLimit:    cfg.PerCycleBookingLimit,
				FailureThreshold: cfg.ConsecutiveFailureThreshold,
				RecoveryDelay:    cfg.RecoveryDelay(),
				SleepTick:        cfg.SleepTick(),
				SummaryEvery:     cfg.SummaryEveryCycles,
				Partitions:       shift.Partitions(cfg.Partitions),
			}
			if once {
				schedCfg.MaxCycles = 1
			}
			s := scheduler.New(schedCfg, provider, led,
				scheduler.WithNotifier(dispatcher),
				scheduler.WithJournal(j),
				scheduler.WithLogger(logger.Named("scheduler")),
			)

			statusDone := make(chan struct{})
			statusCtx, stopStatus := context.WithCancel(ctx)
			defer stopStatus()
			if cfg.Status.ListenAddr == "" {
				close(statusDone)
			} else {
				basic := auth.Basic{Username: cfg.Status.Username, PasswordHash: cfg.Status.PasswordHash}
				if basic.Enabled() {
					if err := auth.ValidateHash(basic.PasswordHash); err != nil {
						return err
					}
				}
				ws := &web.Server{Status: s, Bookings: led, Auth: basic, Version: Version}
				go func() {
					defer close(statusDone)
					if err := web.Start(statusCtx, cfg.Status.ListenAddr, ws.Routes(), logger.Named("web")); err != nil {
						log.Errorw("status server stopped", "error", err)
					}
				}()
			}

			runErr := s.Run(ctx)
			stopStatus()
			<-statusDone
			return runErr
		},
	}

	cmd.Flags().BoolVar(&migrateUp, "migrate", true, "run database migrations on startup when database_url is set")
	cmd.Flags().Lookup("migrate").NoOptDefVal = "true"
	cmd.Flags().BoolVar(&once, "once", false, "run a single cycle and exit")
	return cmd
}

func newDispatcher(cfg *config.Config, fs afero.Fs) *notify.Dispatcher {
	log := logger.Named("notify")

	var sender notify.Sender = notify.LogSender{Log: log}
	if cfg.Notify.WebhookURL != "" {
		sender = notify.NewWebhook(notify.WebhookConfig{
			URL:           cfg.Notify.WebhookURL,
			Username:      cfg.Notify.Username,
			Mention:       cfg.Notify.Mention,
			RetryMax:      cfg.Notify.RetryMax,
			RatePerMinute: cfg.Notify.RatePerMinute,
		}, log)
	}

	return notify.NewDispatcher(sender,
		notify.NewFallback(fs, cfg.Notify.FallbackPath, log),
		notify.WithSendTimeout(time.Duration(cfg.Notify.TimeoutSeconds)*time.Second),
		notify.WithQueueSize(cfg.Notify.QueueSize),
		notify.WithDispatcherLogger(log),
	)
}

func newDriverFactory(cfg *config.Config) app.DriverFactory {
	opts := webdriver.Options{
		URL:          cfg.WebDriver.URL,
		Browser:      cfg.WebDriver.Browser,
		Headless:     cfg.WebDriver.Headless,
		Args:         cfg.WebDriver.Args,
		StartRetries: 5,
	}
	log := logger.Named("webdriver")
	return func(ctx context.Context) (driver.Driver, error) {
		c, err := webdriver.Start(ctx, opts, log)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

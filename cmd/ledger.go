package cmd

import (
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/example/shift-scheduler/internal/config"
	"github.com/example/shift-scheduler/internal/errors"
	"github.com/example/shift-scheduler/internal/ledger"
	"github.com/example/shift-scheduler/internal/logger"
)

func newLedgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect or reset today's booking ledger",
	}
	cmd.AddCommand(newLedgerShowCmd())
	cmd.AddCommand(newLedgerResetCmd())
	return cmd
}

func openLedger(cfg *config.Config) (*ledger.Ledger, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	return ledger.Open(afero.NewOsFs(), cfg.LedgerPath,
		ledger.WithLocation(loc),
		ledger.WithLogger(logger.Named("ledger")),
	), nil
}

func newLedgerShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "List the shifts booked today",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			led, err := openLedger(cfg)
			if err != nil {
				return err
			}
			led.ResetIfNewDay()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %d of %d booked\n", led.Day(), led.DailyCount(), cfg.DailyBookingLimit)

			entries := led.Entries()
			if len(entries) == 0 {
				return nil
			}
			data := pterm.TableData{{"#", "Shift", "Booked at"}}
			for i, e := range entries {
				data = append(data, []string{fmt.Sprint(i + 1), e.ID, e.BookedAt.Format(time.Kitchen)})
			}
			table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(out, table)
			return err
		},
	}
}

func newLedgerResetCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Forget today's bookings so the daily limit starts over",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.WithHint(errors.New("refusing to reset the ledger"), "pass --yes to confirm")
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			led, err := openLedger(cfg)
			if err != nil {
				return err
			}
			if err := led.Reset(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ledger %s reset\n", led.Path())
			return nil
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the reset")
	return cmd
}

package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/example/shift-scheduler/internal/db"
	"github.com/example/shift-scheduler/internal/errors"
	"github.com/example/shift-scheduler/internal/journal"
)

func newHistoryCmd() *cobra.Command {
	var limit int

	c := &cobra.Command{
		Use:   "history",
		Short: "Show recent booking attempts from the journal database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return errors.InvalidConfigf("database_url is not set")
			}

			ctx := context.Background()
			d, err := db.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer d.Close()

			attempts, err := journal.NewRepo(d).Recent(ctx, limit)
			if err != nil {
				return err
			}

			data := pterm.TableData{{"Started", "Cycle", "Partition", "Outcome", "Shift", "Examined", "Took", "Reason"}}
			for _, a := range attempts {
				shiftName := a.CandidateTitle
				if shiftName == "" {
					shiftName = a.CandidateID
				}
				data = append(data, []string{
					a.StartedAt.Format("2006-01-02 15:04:05"),
					fmt.Sprint(a.Cycle),
					a.Partition,
					a.Outcome,
					shiftName,
					fmt.Sprint(a.Examined),
					a.Duration().Round(100 * time.Millisecond).String(),
					a.Reason,
				})
			}
			table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), table)
			return err
		},
	}

	c.Flags().IntVar(&limit, "limit", 20, "number of attempts to show")
	return c
}

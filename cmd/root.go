package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/example/shift-scheduler/internal/config"
	"github.com/example/shift-scheduler/internal/logger"
)

var (
	Version   = "dev"
	CommitSHA = "none"
	BuildDate = "unknown"
)

type rootFlags struct {
	configPath string
	logJSON    bool
	logLevel   string
}

var flags rootFlags

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "shiftsched",
		Short:         "Watches a hiring portal for open shifts and books them up to a daily limit",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "config file (yaml, json or toml)")
	root.PersistentFlags().BoolVar(&flags.logJSON, "log-json", false, "log as JSON")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newKeysCmd())
	root.AddCommand(newRunCmd())
	root.AddCommand(newLedgerCmd())
	root.AddCommand(newConfigCmd())
	root.AddCommand(newHashPasswordCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newHistoryCmd())

	return root
}

func Execute() {
	err := NewRootCmd().Execute()
	logger.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration and sets up logging from it; the
// --log-* flags win over the file and environment.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(afero.NewOsFs(), flags.configPath)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("log-json") {
		cfg.Log.JSON = flags.logJSON
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	if err := logger.Initialize(cfg.Log.JSON, cfg.Log.Level); err != nil {
		return nil, err
	}
	return cfg, nil
}

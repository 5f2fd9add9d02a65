package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"civic-voice-go/internal/app"
	"civic-voice-go/internal/config"
	"civic-voice-go/internal/logger"
)

// RetryCmd returns the retry command
func RetryCmd() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "retry",
		Short: "Redeliver every report whose notification failed",
		Long: `Redeliver failed notifications stored in the SQLite database using the
Telegram settings from the environment (or .env). Attempt numbers continue
from the earlier attempts.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if dbPath != "" {
				cfg.DBPath = dbPath
			}
			if cfg.DBPath == "" {
				return fmt.Errorf("no database: set --db or DB_PATH")
			}
			log := logger.NewWith(cfg.Environment, cfg.LogLevel, os.Stderr)
			a, err := app.Build(cfg, log)
			if err != nil {
				return err
			}
			defer a.Close(5 * time.Second)

			delivered, err := a.Pipeline.RetryFailed(cmd.Context())
			if err != nil {
				return err
			}
			s := a.Aggregator.Snapshot()
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d delivered, %d still failed\n",
				color.New(color.FgGreen).Sprint("Redelivery finished:"), delivered, s.Notify.Failed)
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite report database (defaults to DB_PATH)")
	return cmd
}

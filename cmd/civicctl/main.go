package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"civic-voice-go/internal/cli"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "civicctl",
		Short: "Operator tool for the civic voice reporting service",
		Long: `civicctl classifies transcripts offline, replays spreadsheets of
calls against a running webhook, exports stored reports and redelivers
failed notifications.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(cli.ClassifyCmd())
	rootCmd.AddCommand(cli.ReplayCmd())
	rootCmd.AddCommand(cli.ExportCmd())
	rootCmd.AddCommand(cli.RetryCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

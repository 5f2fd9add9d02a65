package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"civic-voice-go/internal/aggregator"
	"civic-voice-go/internal/dataset"
	"civic-voice-go/internal/store"
)

// ExportCmd returns the export command
func ExportCmd() *cobra.Command {
	var dbPath, outPath string
	var bucket time.Duration

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export stored reports and analytics to an xlsx workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.OpenSQLite(dbPath)
			if err != nil {
				return err
			}
			defer st.Close()

			reports, err := st.ListReports(cmd.Context(), 0)
			if err != nil {
				return err
			}
			agg := aggregator.New(bucket)
			for _, r := range reports {
				agg.Restore(r)
			}

			f, err := os.Create(outPath)
			if err != nil {
				return fmt.Errorf("create %s: %w", outPath, err)
			}
			if err := dataset.WriteWorkbook(f, reports, agg.Snapshot()); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d reports to %s\n", len(reports), outPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "civic.db", "SQLite report database")
	cmd.Flags().StringVar(&outPath, "out", "civic-reports.xlsx", "output workbook")
	cmd.Flags().DurationVar(&bucket, "bucket", time.Hour, "analytics bucket width")
	return cmd
}

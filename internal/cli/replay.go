package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"civic-voice-go/internal/dataset"
	"civic-voice-go/internal/pipeline"
)

// ReplayCmd returns the replay command
func ReplayCmd() *cobra.Command {
	var url string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "replay <file.xlsx>",
		Short: "Post every transcript in a spreadsheet to a webhook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := dataset.LoadTranscripts(args[0])
			if err != nil {
				return err
			}
			client := &http.Client{Timeout: timeout}
			out := cmd.OutOrStdout()

			var ok, failed int
			for _, row := range rows {
				raw, err := pipeline.NewEvent(row.CallID, row.Transcript, row.DurationSeconds)
				if err != nil {
					return err
				}
				resp, err := postEvent(cmd, client, url, raw)
				if err != nil {
					failed++
					fmt.Fprintf(out, "%s row %d (%s): %v\n", color.New(color.FgRed).Sprint("FAIL"), row.Row, row.CallID, err)
					continue
				}
				ok++
				label := color.New(color.FgGreen).Sprint("OK  ")
				if resp.Status == pipeline.StatusDegraded {
					label = color.New(color.FgYellow).Sprint("WARN")
				}
				fmt.Fprintf(out, "%s row %d (%s): %s %s/%s\n", label, row.Row, row.CallID, resp.ReportID, resp.Category, resp.Priority)
			}
			fmt.Fprintf(out, "\n%d sent, %d failed\n", ok, failed)
			if failed > 0 {
				return fmt.Errorf("%d of %d rows failed", failed, len(rows))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&url, "url", "http://localhost:8080/webhooks/telnyx", "webhook URL")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "per request timeout")
	return cmd
}

func postEvent(cmd *cobra.Command, client *http.Client, url string, raw []byte) (pipeline.Response, error) {
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return pipeline.Response{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return pipeline.Response{}, err
	}
	defer resp.Body.Close()

	var body pipeline.Response
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return pipeline.Response{}, fmt.Errorf("status %d: decode response: %w", resp.StatusCode, err)
	}
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusAccepted {
		return body, fmt.Errorf("status %d: %s %s", resp.StatusCode, body.Error, body.Message)
	}
	return body, nil
}

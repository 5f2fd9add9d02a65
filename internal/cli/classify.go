package cli

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"civic-voice-go/internal/classifier"
	"civic-voice-go/internal/formatter"
	"civic-voice-go/internal/priority"
	"civic-voice-go/internal/rules"
	"civic-voice-go/internal/types"
)

// ClassifyCmd returns the classify command
func ClassifyCmd() *cobra.Command {
	var duration int
	var rulesPath string

	cmd := &cobra.Command{
		Use:   "classify <transcript...>",
		Short: "Classify a transcript with the configured keyword rules",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r := rules.Default()
			if rulesPath != "" {
				loaded, err := rules.Load(rulesPath)
				if err != nil {
					return err
				}
				r = loaded
			}
			compiled, err := r.Compile()
			if err != nil {
				return err
			}

			text := strings.Join(args, " ")
			cls := classifier.Classify(text, compiled)
			pri := priority.Score(text, duration, compiled)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Category: %s\n", cls.Category)
			if len(cls.MatchedKeywords) > 0 {
				fmt.Fprintf(out, "Keywords: %s\n", strings.Join(cls.MatchedKeywords, ", "))
			} else {
				fmt.Fprintln(out, "Keywords: (none)")
			}
			fmt.Fprintf(out, "Priority: %s\n", priorityColor(pri.Priority).Sprint(strings.ToUpper(string(pri.Priority))))
			fmt.Fprintf(out, "Reason:   %s\n", pri.Reason)
			if loc := formatter.ExtractLocation(text); loc != "" {
				fmt.Fprintf(out, "Location: %s\n", loc)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&duration, "duration", 0, "call duration in seconds")
	cmd.Flags().StringVar(&rulesPath, "rules", "", "YAML rules file (defaults to built-in rules)")
	return cmd
}

func priorityColor(p types.Priority) *color.Color {
	switch p {
	case types.PriorityUrgent:
		return color.New(color.FgRed, color.Bold)
	case types.PriorityHigh:
		return color.New(color.FgRed)
	case types.PriorityMedium:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgGreen)
	}
}

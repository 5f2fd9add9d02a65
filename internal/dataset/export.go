package dataset

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"civic-voice-go/internal/types"
)

const (
	ReportsSheet   = "Reports"
	AnalyticsSheet = "Analytics"
)

var reportHeader = []any{
	"Report ID", "Call Control ID", "Created At", "Category", "Priority",
	"Priority Reason", "Matched Keywords", "Location", "Duration (s)",
	"Notification Status", "Attempts", "Transcript",
}

// WriteWorkbook writes one row per report plus the analytics tables as an
// xlsx workbook.
func WriteWorkbook(w io.Writer, reports []types.Report, snap types.AnalyticsAggregate) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", ReportsSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if err := writeRow(f, ReportsSheet, 1, reportHeader); err != nil {
		return err
	}
	for i, rep := range reports {
		row := []any{
			rep.ID,
			rep.CallControlID,
			rep.CreatedAt.UTC().Format(time.RFC3339),
			string(rep.Category),
			string(rep.Priority),
			rep.PriorityReason,
			strings.Join(rep.MatchedKeywords, ", "),
			rep.Location,
			rep.CallDurationSeconds,
			string(rep.NotificationStatus),
			rep.NotificationAttempts,
			rep.TranscriptText,
		}
		if err := writeRow(f, ReportsSheet, i+2, row); err != nil {
			return err
		}
	}

	if _, err := f.NewSheet(AnalyticsSheet); err != nil {
		return fmt.Errorf("new sheet: %w", err)
	}
	row := 1
	put := func(vals ...any) error {
		err := writeRow(f, AnalyticsSheet, row, vals)
		row++
		return err
	}
	lines := [][]any{
		{"Total reports", snap.TotalReports},
		{"Generated at", snap.GeneratedAt.UTC().Format(time.RFC3339)},
		{"Delivered", snap.Notify.Delivered},
		{"Failed", snap.Notify.Failed},
		{"Pending", snap.Notify.Pending},
		{"Mean time to notify (ms)", snap.Notify.MeanTimeToNotifyMs},
		{"Max time to notify (ms)", snap.Notify.MaxTimeToNotifyMs},
		{},
		{"Category", "Count"},
	}
	for _, l := range lines {
		if err := put(l...); err != nil {
			return err
		}
	}
	for _, c := range types.Categories {
		if err := put(string(c), snap.ByCategory[c]); err != nil {
			return err
		}
	}
	if err := put(); err != nil {
		return err
	}
	if err := put("Priority", "Count"); err != nil {
		return err
	}
	for _, p := range types.Priorities {
		if err := put(string(p), snap.ByPriority[p]); err != nil {
			return err
		}
	}
	if err := put(); err != nil {
		return err
	}
	if err := put("Bucket", "Category", "Priority", "Count"); err != nil {
		return err
	}
	for _, b := range snap.Buckets {
		if err := put(b.Bucket.UTC().Format(time.RFC3339), string(b.Category), string(b.Priority), b.Count); err != nil {
			return err
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeRow(f *excelize.File, sheet string, row int, vals []any) error {
	if len(vals) == 0 {
		return nil
	}
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &vals); err != nil {
		return fmt.Errorf("write %s row %d: %w", sheet, row, err)
	}
	return nil
}

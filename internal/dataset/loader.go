// Package dataset reads transcript spreadsheets for replay and writes
// report and analytics workbooks.
package dataset

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// TranscriptRow is one call from a replay spreadsheet.
type TranscriptRow struct {
	Row             int
	CallID          string
	Transcript      string
	DurationSeconds int
}

// LoadTranscripts reads the first sheet and auto-detects the transcript,
// call id and duration columns by header heuristics. Rows without text are
// skipped; rows without a call id get one derived from the row number.
func LoadTranscripts(path string) ([]TranscriptRow, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) <= 1 {
		return nil, fmt.Errorf("no data rows")
	}

	header := rows[0]
	textIdx, callIDIdx, durationIdx := -1, -1, -1
	for i, h := range header {
		l := strings.ToLower(strings.TrimSpace(h))
		switch {
		case strings.Contains(l, "transcript") || strings.Contains(l, "text"):
			if textIdx == -1 {
				textIdx = i
			}
		case strings.Contains(l, "duration") || strings.Contains(l, "seconds"):
			if durationIdx == -1 {
				durationIdx = i
			}
		case strings.Contains(l, "call id") || strings.Contains(l, "callid") || strings.Contains(l, "call_control_id") || l == "id":
			if callIDIdx == -1 {
				callIDIdx = i
			}
		}
	}
	// fallback: single column sheets hold only transcripts
	if textIdx == -1 {
		if len(header) == 1 {
			textIdx = 0
		} else {
			return nil, fmt.Errorf("no transcript column in header %v", header)
		}
	}

	var out []TranscriptRow
	for i, r := range rows {
		if i == 0 {
			continue
		}
		rec := TranscriptRow{Row: i + 1}
		if textIdx < len(r) {
			rec.Transcript = strings.TrimSpace(r[textIdx])
		}
		if rec.Transcript == "" {
			continue
		}
		if callIDIdx >= 0 && callIDIdx < len(r) {
			rec.CallID = strings.TrimSpace(r[callIDIdx])
		}
		if rec.CallID == "" {
			rec.CallID = fmt.Sprintf("row-%d", rec.Row)
		}
		if durationIdx >= 0 && durationIdx < len(r) {
			rec.DurationSeconds, _ = strconv.Atoi(strings.TrimSpace(r[durationIdx]))
		}
		out = append(out, rec)
	}
	return out, nil
}

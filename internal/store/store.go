// Package store persists Reports and their notification log. Reports are
// keyed by id and, uniquely, by the originating call control id.
package store

import (
	"context"
	"errors"

	"civic-voice-go/internal/types"
)

var (
	ErrNotFound          = errors.New("report not found")
	ErrDuplicateCall     = errors.New("report already exists for call")
	ErrDuplicateID       = errors.New("report id already exists")
	ErrInvalidTransition = errors.New("invalid notification status transition")
	ErrStatusConflict    = errors.New("notification status changed concurrently")
)

// Store is the append/read interface the pipeline needs.
type Store interface {
	// CreateReport inserts a new report. It fails with ErrDuplicateCall when
	// the call already has a report and ErrDuplicateID when the id is taken.
	CreateReport(ctx context.Context, r types.Report) error
	ReportByCall(ctx context.Context, callControlID string) (types.Report, error)
	ReportByID(ctx context.Context, id string) (types.Report, error)
	// UpdateNotification moves a report's notification status forward and
	// records its attempt count. Backward moves fail with ErrInvalidTransition.
	UpdateNotification(ctx context.Context, id string, status types.NotificationStatus, attempts int) error
	// ClaimNotification atomically moves a report from status from to
	// status to and returns the updated report. It fails with
	// ErrStatusConflict when the report is not currently in from, so only
	// one of several concurrent claimers wins.
	ClaimNotification(ctx context.Context, id string, from, to types.NotificationStatus) (types.Report, error)
	AppendNotification(ctx context.Context, rec types.NotificationRecord) error
	Notifications(ctx context.Context, reportID string) ([]types.NotificationRecord, error)
	// ListReports returns up to limit reports, newest first. limit <= 0 means all.
	ListReports(ctx context.Context, limit int) ([]types.Report, error)
	ReportsByStatus(ctx context.Context, status types.NotificationStatus) ([]types.Report, error)
	Close() error
}

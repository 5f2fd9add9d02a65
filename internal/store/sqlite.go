package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"civic-voice-go/internal/types"
)

// SQLite is a Store backed by an embedded SQLite database.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies
// the schema. Use ":memory:" for a throwaway database.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer keeps read-check-insert sequences serialized
	db.SetMaxOpenConns(1)
	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) migrate() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS reports (
			id TEXT PRIMARY KEY,
			call_control_id TEXT NOT NULL UNIQUE,
			category TEXT NOT NULL,
			priority TEXT NOT NULL,
			priority_reason TEXT,
			matched_keywords_json TEXT,
			transcript_text TEXT NOT NULL,
			location TEXT,
			call_duration INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			notification_status TEXT NOT NULL,
			notification_attempts INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_reports_status ON reports(notification_status);`,
		`CREATE TABLE IF NOT EXISTS notifications (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			report_id TEXT NOT NULL REFERENCES reports(id),
			channel TEXT NOT NULL,
			attempt_number INTEGER NOT NULL,
			result TEXT NOT NULL,
			error TEXT,
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_report ON notifications(report_id);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

const reportColumns = `id, call_control_id, category, priority, priority_reason, matched_keywords_json,
	transcript_text, location, call_duration, created_at, notification_status, notification_attempts`

func (s *SQLite) CreateReport(ctx context.Context, r types.Report) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM reports WHERE call_control_id=?`, r.CallControlID).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return ErrDuplicateCall
	}
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM reports WHERE id=?`, r.ID).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return ErrDuplicateID
	}
	kw, _ := json.Marshal(r.MatchedKeywords)
	_, err = tx.ExecContext(ctx, `INSERT INTO reports(`+reportColumns+`) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.ID, r.CallControlID, string(r.Category), string(r.Priority), r.PriorityReason, string(kw),
		r.TranscriptText, r.Location, r.CallDurationSeconds, formatTime(r.CreatedAt),
		string(r.NotificationStatus), r.NotificationAttempts)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLite) ReportByCall(ctx context.Context, callControlID string) (types.Report, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE call_control_id=?`, callControlID)
	return scanReport(row)
}

func (s *SQLite) ReportByID(ctx context.Context, id string) (types.Report, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE id=?`, id)
	return scanReport(row)
}

func (s *SQLite) UpdateNotification(ctx context.Context, id string, status types.NotificationStatus, attempts int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var current string
	switch err := tx.QueryRowContext(ctx, `SELECT notification_status FROM reports WHERE id=?`, id).Scan(&current); {
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	case err != nil:
		return err
	}
	if !types.CanTransition(types.NotificationStatus(current), status) {
		return ErrInvalidTransition
	}
	if _, err := tx.ExecContext(ctx, `UPDATE reports SET notification_status=?, notification_attempts=? WHERE id=?`, string(status), attempts, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLite) ClaimNotification(ctx context.Context, id string, from, to types.NotificationStatus) (types.Report, error) {
	if !types.CanTransition(from, to) {
		return types.Report{}, ErrInvalidTransition
	}
	res, err := s.db.ExecContext(ctx, `UPDATE reports SET notification_status=? WHERE id=? AND notification_status=?`,
		string(to), id, string(from))
	if err != nil {
		return types.Report{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return types.Report{}, err
	}
	r, err := s.ReportByID(ctx, id)
	if err != nil {
		return types.Report{}, err
	}
	if n == 0 {
		return r, ErrStatusConflict
	}
	return r, nil
}

func (s *SQLite) AppendNotification(ctx context.Context, rec types.NotificationRecord) error {
	var errMsg *string
	if rec.Error != "" {
		errMsg = &rec.Error
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO notifications(report_id, channel, attempt_number, result, error, created_at)
		SELECT ?,?,?,?,?,? WHERE EXISTS (SELECT 1 FROM reports WHERE id=?)`,
		rec.ReportID, rec.Channel, rec.AttemptNumber, string(rec.Result), errMsg, formatTime(rec.Timestamp), rec.ReportID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) Notifications(ctx context.Context, reportID string) ([]types.NotificationRecord, error) {
	if _, err := s.ReportByID(ctx, reportID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT report_id, channel, attempt_number, result, error, created_at
		FROM notifications WHERE report_id=? ORDER BY id ASC`, reportID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []types.NotificationRecord
	for rows.Next() {
		var rec types.NotificationRecord
		var result, ts string
		var errMsg sql.NullString
		if err := rows.Scan(&rec.ReportID, &rec.Channel, &rec.AttemptNumber, &result, &errMsg, &ts); err != nil {
			return nil, err
		}
		rec.Result = types.NotificationResult(result)
		if errMsg.Valid {
			rec.Error = errMsg.String
		}
		if rec.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLite) ListReports(ctx context.Context, limit int) ([]types.Report, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+reportColumns+` FROM reports ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	return scanReports(rows)
}

func (s *SQLite) ReportsByStatus(ctx context.Context, status types.NotificationStatus) ([]types.Report, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE notification_status=? ORDER BY id ASC`, string(status))
	if err != nil {
		return nil, err
	}
	return scanReports(rows)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanReport(row scanner) (types.Report, error) {
	var r types.Report
	var category, priority, status, created string
	var reason, kw, location sql.NullString
	err := row.Scan(&r.ID, &r.CallControlID, &category, &priority, &reason, &kw,
		&r.TranscriptText, &location, &r.CallDurationSeconds, &created, &status, &r.NotificationAttempts)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Report{}, ErrNotFound
	}
	if err != nil {
		return types.Report{}, err
	}
	r.Category = types.Category(category)
	r.Priority = types.Priority(priority)
	r.NotificationStatus = types.NotificationStatus(status)
	r.PriorityReason = reason.String
	r.Location = location.String
	if kw.Valid && kw.String != "" && kw.String != "null" {
		if err := json.Unmarshal([]byte(kw.String), &r.MatchedKeywords); err != nil {
			return types.Report{}, fmt.Errorf("decode matched keywords for %s: %w", r.ID, err)
		}
	}
	if r.CreatedAt, err = parseTime(created); err != nil {
		return types.Report{}, err
	}
	return r, nil
}

func scanReports(rows *sql.Rows) ([]types.Report, error) {
	defer rows.Close()
	var out []types.Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

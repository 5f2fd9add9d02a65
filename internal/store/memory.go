package store

import (
	"context"
	"sort"
	"sync"

	"civic-voice-go/internal/types"
)

// Memory is an in-process Store guarded by a single mutex.
type Memory struct {
	mu      sync.RWMutex
	byID    map[string]*types.Report
	byCall  map[string]string
	records map[string][]types.NotificationRecord
}

func NewMemory() *Memory {
	return &Memory{
		byID:    map[string]*types.Report{},
		byCall:  map[string]string{},
		records: map[string][]types.NotificationRecord{},
	}
}

func (m *Memory) CreateReport(_ context.Context, r types.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byCall[r.CallControlID]; ok {
		return ErrDuplicateCall
	}
	if _, ok := m.byID[r.ID]; ok {
		return ErrDuplicateID
	}
	r.MatchedKeywords = append([]string(nil), r.MatchedKeywords...)
	m.byID[r.ID] = &r
	m.byCall[r.CallControlID] = r.ID
	return nil
}

func (m *Memory) ReportByCall(_ context.Context, callControlID string) (types.Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byCall[callControlID]
	if !ok {
		return types.Report{}, ErrNotFound
	}
	return copyReport(m.byID[id]), nil
}

func (m *Memory) ReportByID(_ context.Context, id string) (types.Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.byID[id]
	if !ok {
		return types.Report{}, ErrNotFound
	}
	return copyReport(r), nil
}

func (m *Memory) UpdateNotification(_ context.Context, id string, status types.NotificationStatus, attempts int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	if !types.CanTransition(r.NotificationStatus, status) {
		return ErrInvalidTransition
	}
	r.NotificationStatus = status
	r.NotificationAttempts = attempts
	return nil
}

func (m *Memory) ClaimNotification(_ context.Context, id string, from, to types.NotificationStatus) (types.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byID[id]
	if !ok {
		return types.Report{}, ErrNotFound
	}
	if r.NotificationStatus != from {
		return copyReport(r), ErrStatusConflict
	}
	if !types.CanTransition(from, to) {
		return copyReport(r), ErrInvalidTransition
	}
	r.NotificationStatus = to
	return copyReport(r), nil
}

func (m *Memory) AppendNotification(_ context.Context, rec types.NotificationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[rec.ReportID]; !ok {
		return ErrNotFound
	}
	m.records[rec.ReportID] = append(m.records[rec.ReportID], rec)
	return nil
}

func (m *Memory) Notifications(_ context.Context, reportID string) ([]types.NotificationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.byID[reportID]; !ok {
		return nil, ErrNotFound
	}
	return append([]types.NotificationRecord(nil), m.records[reportID]...), nil
}

func (m *Memory) ListReports(_ context.Context, limit int) ([]types.Report, error) {
	m.mu.RLock()
	out := make([]types.Report, 0, len(m.byID))
	for _, r := range m.byID {
		out = append(out, copyReport(r))
	}
	m.mu.RUnlock()
	// ids sort by creation time
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) ReportsByStatus(_ context.Context, status types.NotificationStatus) ([]types.Report, error) {
	m.mu.RLock()
	var out []types.Report
	for _, r := range m.byID {
		if r.NotificationStatus == status {
			out = append(out, copyReport(r))
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) Close() error { return nil }

func copyReport(r *types.Report) types.Report {
	c := *r
	c.MatchedKeywords = append([]string(nil), r.MatchedKeywords...)
	return c
}

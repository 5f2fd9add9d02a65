package aggregator

import (
	"sync"
	"testing"
	"time"

	"civic-voice-go/internal/types"
)

var t0 = time.Date(2024, 1, 27, 14, 30, 22, 0, time.UTC)

func report(id string, cat types.Category, pri types.Priority, status types.NotificationStatus, created time.Time) types.Report {
	return types.Report{ID: id, CallControlID: "call-" + id, Category: cat, Priority: pri, CreatedAt: created, NotificationStatus: status}
}

func delivered(id string, at time.Time) types.NotificationRecord {
	return types.NotificationRecord{ReportID: id, AttemptNumber: 1, Result: types.ResultSuccess, Timestamp: at}
}

func TestRecordCountsAndTimeToNotify(t *testing.T) {
	a := New(time.Hour)
	a.Record(report("a", types.CategoryWaste, types.PriorityLow, types.StatusDelivered, t0), delivered("a", t0.Add(2*time.Second)))
	a.Record(report("b", types.CategoryWaste, types.PriorityUrgent, types.StatusDelivered, t0.Add(time.Minute)), delivered("b", t0.Add(time.Minute+4*time.Second)))
	a.Record(report("c", types.CategoryHealth, types.PriorityLow, types.StatusFailed, t0.Add(2*time.Hour)), types.NotificationRecord{ReportID: "c", Result: types.ResultFailure, Timestamp: t0.Add(2 * time.Hour)})

	s := a.Snapshot()
	if s.TotalReports != 3 {
		t.Fatalf("expected 3 reports, got %d", s.TotalReports)
	}
	if s.ByCategory[types.CategoryWaste] != 2 || s.ByCategory[types.CategoryHealth] != 1 {
		t.Fatalf("unexpected category counts %v", s.ByCategory)
	}
	if s.ByPriority[types.PriorityLow] != 2 || s.ByPriority[types.PriorityUrgent] != 1 {
		t.Fatalf("unexpected priority counts %v", s.ByPriority)
	}
	if s.Notify.Delivered != 2 || s.Notify.Failed != 1 {
		t.Fatalf("unexpected outcome totals %+v", s.Notify)
	}
	if s.Notify.MeanTimeToNotifyMs != 3000 || s.Notify.MaxTimeToNotifyMs != 4000 {
		t.Fatalf("unexpected time-to-notify %+v", s.Notify)
	}
	if len(s.Buckets) != 3 {
		t.Fatalf("expected 3 buckets, got %+v", s.Buckets)
	}
	if !s.Buckets[0].Bucket.Equal(t0.Truncate(time.Hour)) || s.Buckets[2].Category != types.CategoryHealth {
		t.Fatalf("buckets not sorted by time: %+v", s.Buckets)
	}
}

func TestRecordSameReportCountsOnce(t *testing.T) {
	a := New(time.Hour)
	rep := report("a", types.CategorySecurity, types.PriorityHigh, types.StatusFailed, t0)
	a.Record(rep, types.NotificationRecord{ReportID: "a", Result: types.ResultFailure, Timestamp: t0})
	a.Record(rep, types.NotificationRecord{ReportID: "a", Result: types.ResultFailure, Timestamp: t0})

	rep.NotificationStatus = types.StatusDelivered
	a.Record(rep, delivered("a", t0.Add(time.Second)))
	a.Record(rep, delivered("a", t0.Add(time.Hour)))

	s := a.Snapshot()
	if s.TotalReports != 1 || s.ByCategory[types.CategorySecurity] != 1 {
		t.Fatalf("report double counted: %+v", s)
	}
	if s.Notify.Failed != 0 || s.Notify.Delivered != 1 {
		t.Fatalf("outcome should move from failed to delivered: %+v", s.Notify)
	}
	if s.Notify.TotalTimeToNotifyMs != 1000 {
		t.Fatalf("only the first delivery counts, got %d", s.Notify.TotalTimeToNotifyMs)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	a := New(time.Hour)
	a.Record(report("a", types.CategoryWaste, types.PriorityLow, types.StatusPending, t0), types.NotificationRecord{})
	s := a.Snapshot()
	s.ByCategory[types.CategoryWaste] = 99
	s.Buckets[0].Count = 99
	if again := a.Snapshot(); again.ByCategory[types.CategoryWaste] != 1 || again.Buckets[0].Count != 1 {
		t.Fatalf("snapshot shares state with the aggregator")
	}
	if s.Notify.Pending != 1 {
		t.Fatalf("expected pending report counted, got %+v", s.Notify)
	}
}

func TestRecordConcurrent(t *testing.T) {
	a := New(time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := time.Duration(i).String()
			a.Record(report(id, types.CategoryOther, types.PriorityLow, types.StatusDelivered, t0), delivered(id, t0))
			_ = a.Snapshot()
		}(i)
	}
	wg.Wait()
	if got := a.Snapshot().ByCategory[types.CategoryOther]; got != 100 {
		t.Fatalf("expected 100, got %d", got)
	}
}

func TestRestoreDoesNotSkewMean(t *testing.T) {
	a := New(time.Hour)
	a.Restore(report("old", types.CategoryEducation, types.PriorityMedium, types.StatusDelivered, t0))
	a.Record(report("new", types.CategoryEducation, types.PriorityMedium, types.StatusDelivered, t0), delivered("new", t0.Add(time.Second)))

	s := a.Snapshot()
	if s.TotalReports != 2 || s.Notify.Delivered != 2 {
		t.Fatalf("unexpected totals %+v", s)
	}
	if s.Notify.MeanTimeToNotifyMs != 1000 {
		t.Fatalf("restored reports carry no timing, mean should be 1000, got %v", s.Notify.MeanTimeToNotifyMs)
	}
}

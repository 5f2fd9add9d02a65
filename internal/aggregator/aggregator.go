package aggregator

import (
	"sort"
	"sync"
	"time"

	"civic-voice-go/internal/types"
)

type bucketKey struct {
	bucket   time.Time
	category types.Category
	priority types.Priority
}

// Aggregator keeps running counters over processed reports. Each report is
// counted once; a later outcome for the same report (a redelivery) only
// moves its notification totals.
type Aggregator struct {
	mu       sync.Mutex
	width    time.Duration
	buckets  map[bucketKey]int
	category map[types.Category]int
	priority map[types.Priority]int
	outcome  map[string]types.NotificationStatus
	totals   types.NotificationTotals
	timed    int
	now      func() time.Time
}

// New returns an aggregator bucketing reports by createdAt truncated to width.
func New(width time.Duration) *Aggregator {
	if width <= 0 {
		width = time.Hour
	}
	return &Aggregator{
		width:    width,
		buckets:  map[bucketKey]int{},
		category: map[types.Category]int{},
		priority: map[types.Priority]int{},
		outcome:  map[string]types.NotificationStatus{},
		now:      time.Now,
	}
}

// Record counts rep and its notification outcome. rec is the last delivery
// attempt; a zero record means no attempt was made yet.
func (a *Aggregator) Record(rep types.Report, rec types.NotificationRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()

	prev, seen := a.outcome[rep.ID]
	if !seen {
		key := bucketKey{bucket: rep.CreatedAt.UTC().Truncate(a.width), category: rep.Category, priority: rep.Priority}
		a.buckets[key]++
		a.category[rep.Category]++
		a.priority[rep.Priority]++
	} else {
		if prev == types.StatusDelivered {
			return
		}
		a.adjust(prev, -1)
	}

	status := rep.NotificationStatus
	a.outcome[rep.ID] = status
	a.adjust(status, 1)
	if status == types.StatusDelivered && rec.Result == types.ResultSuccess {
		ms := rec.Timestamp.Sub(rep.CreatedAt).Milliseconds()
		if ms < 0 {
			ms = 0
		}
		a.totals.TotalTimeToNotifyMs += ms
		a.timed++
		if ms > a.totals.MaxTimeToNotifyMs {
			a.totals.MaxTimeToNotifyMs = ms
		}
	}
}

// Restore counts a stored report without timing data, used to rebuild
// counters after a restart.
func (a *Aggregator) Restore(rep types.Report) {
	a.Record(rep, types.NotificationRecord{})
}

func (a *Aggregator) adjust(status types.NotificationStatus, d int) {
	switch status {
	case types.StatusDelivered:
		a.totals.Delivered += d
	case types.StatusFailed:
		a.totals.Failed += d
	default:
		a.totals.Pending += d
	}
}

// Snapshot returns a point-in-time copy of every counter.
func (a *Aggregator) Snapshot() types.AnalyticsAggregate {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := types.AnalyticsAggregate{
		TotalReports: len(a.outcome),
		ByCategory:   make(map[types.Category]int, len(a.category)),
		ByPriority:   make(map[types.Priority]int, len(a.priority)),
		Buckets:      make([]types.BucketCount, 0, len(a.buckets)),
		Notify:       a.totals,
		GeneratedAt:  a.now().UTC(),
	}
	for k, v := range a.category {
		out.ByCategory[k] = v
	}
	for k, v := range a.priority {
		out.ByPriority[k] = v
	}
	for k, v := range a.buckets {
		out.Buckets = append(out.Buckets, types.BucketCount{Bucket: k.bucket, Category: k.category, Priority: k.priority, Count: v})
	}
	sort.Slice(out.Buckets, func(i, j int) bool {
		bi, bj := out.Buckets[i], out.Buckets[j]
		if !bi.Bucket.Equal(bj.Bucket) {
			return bi.Bucket.Before(bj.Bucket)
		}
		if bi.Category != bj.Category {
			return bi.Category < bj.Category
		}
		return bi.Priority < bj.Priority
	})
	if a.timed > 0 {
		out.Notify.MeanTimeToNotifyMs = float64(out.Notify.TotalTimeToNotifyMs) / float64(a.timed)
	}
	return out
}

package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"civic-voice-go/internal/queue"
	"civic-voice-go/internal/store"
	"civic-voice-go/internal/types"
)

// flakyChannel fails the first failures sends, then succeeds.
type flakyChannel struct {
	mu       sync.Mutex
	failures int
	err      error
	calls    int
	sent     []string
}

func (f *flakyChannel) Name() string { return "fake" }

func (f *flakyChannel) Send(_ context.Context, destination, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		if f.err != nil {
			return f.err
		}
		return fmt.Errorf("transient failure %d", f.calls)
	}
	f.sent = append(f.sent, destination+"|"+text)
	return nil
}

func quietLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func testOptions(max int) Options {
	return Options{
		Destination: "-100123",
		MaxAttempts: max,
		BackoffBase: time.Millisecond,
		BackoffCap:  4 * time.Millisecond,
		Timeout:     5 * time.Second,
	}
}

func seedReport(t *testing.T, st store.Store) types.Report {
	t.Helper()
	rep := types.Report{
		ID:                 "CVC-20240127-143022-01",
		CallControlID:      "call-1",
		Category:           types.CategoryInfrastructure,
		Priority:           types.PriorityMedium,
		TranscriptText:     "pothole",
		CreatedAt:          time.Now(),
		NotificationStatus: types.StatusPending,
	}
	if err := st.CreateReport(context.Background(), rep); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return rep
}

func TestDispatchSucceedsOnAttemptN(t *testing.T) {
	for n := 1; n <= 4; n++ {
		st := store.NewMemory()
		rep := seedReport(t, st)
		ch := &flakyChannel{failures: n - 1}
		d := NewDispatcher(ch, st, nil, testOptions(4), quietLog())

		rec, err := d.Dispatch(context.Background(), &rep, "hello")
		if err != nil {
			t.Fatalf("n=%d: unexpected error %v", n, err)
		}
		if rec.Result != types.ResultSuccess || rec.AttemptNumber != n {
			t.Fatalf("n=%d: unexpected final record %+v", n, rec)
		}
		stored, _ := st.ReportByID(context.Background(), rep.ID)
		if stored.NotificationStatus != types.StatusDelivered || rep.NotificationStatus != types.StatusDelivered {
			t.Fatalf("n=%d: expected delivered, got %s", n, stored.NotificationStatus)
		}
		recs, _ := st.Notifications(context.Background(), rep.ID)
		if len(recs) != n {
			t.Fatalf("n=%d: expected %d records, got %d", n, n, len(recs))
		}
		for i, r := range recs {
			if r.AttemptNumber != i+1 {
				t.Fatalf("n=%d: record %d has attempt %d", n, i, r.AttemptNumber)
			}
		}
		if len(ch.sent) != 1 || ch.sent[0] != "-100123|hello" {
			t.Fatalf("n=%d: unexpected deliveries %v", n, ch.sent)
		}
	}
}

func TestDispatchExhaustsRetries(t *testing.T) {
	st := store.NewMemory()
	rep := seedReport(t, st)
	ch := &flakyChannel{failures: 1000}
	d := NewDispatcher(ch, st, nil, testOptions(3), quietLog())

	rec, err := d.Dispatch(context.Background(), &rep, "hello")
	if !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("expected ErrDeliveryFailed, got %v", err)
	}
	if rec.Result != types.ResultFailure || rec.AttemptNumber != 3 {
		t.Fatalf("unexpected last record %+v", rec)
	}
	stored, err := st.ReportByID(context.Background(), rep.ID)
	if err != nil {
		t.Fatalf("report must survive a failed delivery: %v", err)
	}
	if stored.NotificationStatus != types.StatusFailed || stored.NotificationAttempts != 3 {
		t.Fatalf("expected failed/3, got %s/%d", stored.NotificationStatus, stored.NotificationAttempts)
	}
	recs, _ := st.Notifications(context.Background(), rep.ID)
	if len(recs) != 3 {
		t.Fatalf("expected exactly 3 records, got %d", len(recs))
	}
}

func TestDispatchPermanentErrorStopsRetrying(t *testing.T) {
	st := store.NewMemory()
	rep := seedReport(t, st)
	ch := &flakyChannel{failures: 1000, err: fmt.Errorf("%w: chat not found", ErrPermanent)}
	d := NewDispatcher(ch, st, nil, testOptions(5), quietLog())

	_, err := d.Dispatch(context.Background(), &rep, "hello")
	if !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("expected ErrDeliveryFailed, got %v", err)
	}
	if ch.calls != 1 {
		t.Fatalf("permanent errors must not be retried, got %d calls", ch.calls)
	}
}

func TestRedeliverContinuesAttemptNumbers(t *testing.T) {
	st := store.NewMemory()
	rep := seedReport(t, st)
	ch := &flakyChannel{failures: 2}
	d := NewDispatcher(ch, st, nil, testOptions(2), quietLog())

	if _, err := d.Dispatch(context.Background(), &rep, "hello"); !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("expected first round to fail, got %v", err)
	}
	rec, err := d.Redeliver(context.Background(), &rep, "hello")
	if err != nil {
		t.Fatalf("redeliver: %v", err)
	}
	if rec.AttemptNumber != 3 || rep.NotificationStatus != types.StatusDelivered {
		t.Fatalf("unexpected redelivery outcome %+v / %s", rec, rep.NotificationStatus)
	}
	if _, err := d.Redeliver(context.Background(), &rep, "hello"); !errors.Is(err, ErrNotRetryable) {
		t.Fatalf("delivered reports are terminal, got %v", err)
	}
}

func TestSubmitRunsInBackground(t *testing.T) {
	st := store.NewMemory()
	rep := seedReport(t, st)
	ch := &flakyChannel{failures: 1}
	q := queue.New(4, 1, 10*time.Second, quietLog())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	d := NewDispatcher(ch, st, q, testOptions(3), quietLog())

	done := make(chan types.Report, 1)
	ok := d.Submit(rep, "hello", func(r types.Report, rec types.NotificationRecord, err error) {
		if err != nil {
			t.Errorf("unexpected error %v", err)
		}
		done <- r
	})
	if !ok {
		t.Fatalf("submit rejected")
	}
	select {
	case r := <-done:
		if r.NotificationStatus != types.StatusDelivered || r.NotificationAttempts != 2 {
			t.Fatalf("unexpected report state %s/%d", r.NotificationStatus, r.NotificationAttempts)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("background delivery did not finish")
	}
	if rep.NotificationStatus != types.StatusPending {
		t.Fatalf("caller's copy must not be mutated")
	}
}

func TestRedeliverConcurrentSendsOnce(t *testing.T) {
	st := store.NewMemory()
	rep := seedReport(t, st)
	if err := st.UpdateNotification(context.Background(), rep.ID, types.StatusFailed, 2); err != nil {
		t.Fatal(err)
	}
	rep.NotificationStatus, rep.NotificationAttempts = types.StatusFailed, 2
	ch := &flakyChannel{}
	d := NewDispatcher(ch, st, nil, testOptions(3), quietLog())

	var wg sync.WaitGroup
	var mu sync.Mutex
	refused := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(r types.Report) {
			defer wg.Done()
			_, err := d.Redeliver(context.Background(), &r, "hello")
			if errors.Is(err, ErrNotRetryable) {
				mu.Lock()
				refused++
				mu.Unlock()
			} else if err != nil {
				t.Errorf("redeliver: %v", err)
			}
		}(rep)
	}
	wg.Wait()
	if ch.calls != 1 || refused != 7 {
		t.Fatalf("expected one send and seven refusals, got %d sends %d refusals", ch.calls, refused)
	}
}

type panicChannel struct{}

func (panicChannel) Name() string { return "panic" }

func (panicChannel) Send(context.Context, string, string) error { panic("driver bug") }

func TestSubmitPanicMarksReportFailed(t *testing.T) {
	st := store.NewMemory()
	rep := seedReport(t, st)
	q := queue.New(4, 1, time.Second, quietLog())
	q.Start(context.Background())
	defer q.Stop(context.Background())
	d := NewDispatcher(panicChannel{}, st, q, testOptions(3), quietLog())

	done := make(chan error, 1)
	var got types.Report
	if !d.Submit(rep, "hello", func(r types.Report, _ types.NotificationRecord, err error) {
		got = r
		done <- err
	}) {
		t.Fatalf("submit rejected")
	}
	select {
	case err := <-done:
		if !errors.Is(err, queue.ErrJobPanic) {
			t.Fatalf("expected panic error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("onDone never called after panic")
	}
	stored, _ := st.ReportByID(context.Background(), rep.ID)
	if stored.NotificationStatus != types.StatusFailed || got.NotificationStatus != types.StatusFailed {
		t.Fatalf("panicked delivery should leave the report failed, got %s", stored.NotificationStatus)
	}
}

// blockingChannel waits for its context, like a request to an unresponsive API.
type blockingChannel struct{}

func (blockingChannel) Name() string { return "blocking" }

func (blockingChannel) Send(ctx context.Context, _, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestQueueStopTimeoutLeavesReportsFailed(t *testing.T) {
	st := store.NewMemory()
	first := seedReport(t, st)
	second := first
	second.ID, second.CallControlID = "CVC-20240127-143022-02", "call-2"
	if err := st.CreateReport(context.Background(), second); err != nil {
		t.Fatal(err)
	}
	q := queue.New(4, 1, time.Minute, quietLog())
	q.Start(context.Background())
	opts := testOptions(3)
	opts.Timeout = time.Minute
	d := NewDispatcher(blockingChannel{}, st, q, opts, quietLog())
	for _, r := range []types.Report{first, second} {
		if !d.Submit(r, "hello", nil) {
			t.Fatalf("submit %s rejected", r.ID)
		}
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	q.Stop(stopCtx)

	for _, id := range []string{first.ID, second.ID} {
		r, err := st.ReportByID(context.Background(), id)
		if err != nil {
			t.Fatal(err)
		}
		if r.NotificationStatus != types.StatusFailed {
			t.Fatalf("%s should be failed after an interrupted drain, got %s", id, r.NotificationStatus)
		}
	}
}

package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"civic-voice-go/internal/queue"
	"civic-voice-go/internal/store"
	"civic-voice-go/internal/types"
)

var (
	// ErrDeliveryFailed is returned once every attempt has failed. The report
	// stays stored with status failed and can be redelivered later.
	ErrDeliveryFailed = errors.New("notification delivery failed")
	ErrNotRetryable   = errors.New("report notification is not in failed state")
)

type Options struct {
	Destination string
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration
	// Timeout bounds one full retry round.
	Timeout time.Duration
}

// Dispatcher delivers report notifications with retry and records every
// attempt in the store.
type Dispatcher struct {
	channel Channel
	store   store.Store
	queue   *queue.Queue
	opts    Options
	log     *logrus.Entry
	now     func() time.Time
}

// NewDispatcher wires a dispatcher. q may be nil when only synchronous
// Dispatch is used.
func NewDispatcher(ch Channel, st store.Store, q *queue.Queue, opts Options, log *logrus.Entry) *Dispatcher {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	if opts.BackoffCap < opts.BackoffBase {
		opts.BackoffCap = opts.BackoffBase
	}
	return &Dispatcher{channel: ch, store: st, queue: q, opts: opts, log: log, now: time.Now}
}

// Dispatch sends message for rep, retrying transient failures with
// exponential backoff up to MaxAttempts. rep's notification status and
// attempt count are updated in place and in the store. It returns the last
// attempt's record; on exhaustion the error wraps ErrDeliveryFailed.
func (d *Dispatcher) Dispatch(ctx context.Context, rep *types.Report, message string) (types.NotificationRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()
	// bookkeeping must land even when the retry window has expired
	storeCtx := context.WithoutCancel(ctx)
	log := d.log.WithField("report_id", rep.ID).WithField("channel", d.channel.Name())

	var last types.NotificationRecord
	var sendErr error
	op := func() error {
		attempt := rep.NotificationAttempts + 1
		sendErr = d.channel.Send(ctx, d.opts.Destination, message)
		rec := types.NotificationRecord{
			ReportID:      rep.ID,
			Channel:       d.channel.Name(),
			AttemptNumber: attempt,
			Result:        types.ResultSuccess,
			Timestamp:     d.now(),
		}
		if sendErr != nil {
			rec.Result = types.ResultFailure
			rec.Error = sendErr.Error()
		}
		if err := d.store.AppendNotification(storeCtx, rec); err != nil {
			return backoff.Permanent(fmt.Errorf("append notification: %w", err))
		}
		rep.NotificationAttempts = attempt
		last = rec
		if sendErr == nil {
			return nil
		}
		if err := d.store.UpdateNotification(storeCtx, rep.ID, types.StatusPending, attempt); err != nil {
			return backoff.Permanent(fmt.Errorf("update notification: %w", err))
		}
		if errors.Is(sendErr, ErrPermanent) {
			return backoff.Permanent(sendErr)
		}
		return sendErr
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.opts.BackoffBase
	b.MaxInterval = d.opts.BackoffCap
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(d.opts.MaxAttempts-1)), ctx)

	err := backoff.RetryNotify(op, policy, func(err error, wait time.Duration) {
		log.WithField("attempt", rep.NotificationAttempts).
			WithField("retry_in_ms", wait.Milliseconds()).
			WithField("error", err.Error()).
			Warn("notification attempt failed, retrying")
	})
	if err == nil {
		rep.NotificationStatus = types.StatusDelivered
		if uerr := d.store.UpdateNotification(storeCtx, rep.ID, types.StatusDelivered, rep.NotificationAttempts); uerr != nil {
			log.WithField("error", uerr.Error()).Error("failed to mark report delivered")
		}
		log.WithField("attempts", rep.NotificationAttempts).Info("notification delivered")
		return last, nil
	}

	rep.NotificationStatus = types.StatusFailed
	if uerr := d.store.UpdateNotification(storeCtx, rep.ID, types.StatusFailed, rep.NotificationAttempts); uerr != nil {
		log.WithField("error", uerr.Error()).Error("failed to mark report failed")
	}
	if sendErr == nil {
		sendErr = err
	}
	log.WithField("attempts", rep.NotificationAttempts).WithField("error", sendErr.Error()).Warn("notification delivery failed")
	return last, fmt.Errorf("%w after %d attempts: %v", ErrDeliveryFailed, rep.NotificationAttempts, sendErr)
}

// Redeliver claims a failed report by moving it back to pending and runs a
// fresh retry round. The claim is atomic in the store, so concurrent
// redeliveries of one report send at most one round. Attempt numbers
// continue from the report's previous attempts.
func (d *Dispatcher) Redeliver(ctx context.Context, rep *types.Report, message string) (types.NotificationRecord, error) {
	claimed, err := d.store.ClaimNotification(ctx, rep.ID, types.StatusFailed, types.StatusPending)
	switch {
	case errors.Is(err, store.ErrStatusConflict):
		*rep = claimed
		return types.NotificationRecord{}, fmt.Errorf("%w: %s is %s", ErrNotRetryable, rep.ID, claimed.NotificationStatus)
	case err != nil:
		return types.NotificationRecord{}, fmt.Errorf("claim %s: %w", rep.ID, err)
	}
	*rep = claimed
	return d.Dispatch(ctx, rep, message)
}

// Submit queues delivery of rep in the background. onDone, if set, receives
// the updated report and the outcome. It returns false when the queue cannot
// take the job; the report then stays pending.
func (d *Dispatcher) Submit(rep types.Report, message string, onDone func(types.Report, types.NotificationRecord, error)) bool {
	if d.queue == nil {
		return false
	}
	r := rep
	var last types.NotificationRecord
	return d.queue.Enqueue(queue.Job{
		ID: rep.ID,
		Work: func(ctx context.Context) error {
			var err error
			last, err = d.Dispatch(ctx, &r, message)
			return err
		},
		OnFinish: func(err error) {
			if errors.Is(err, queue.ErrJobPanic) {
				d.abandon(&r, err)
			}
			if onDone != nil {
				onDone(r, last, err)
			}
		},
	})
}

// abandon marks a report whose delivery round died part way as failed so
// it can be redelivered.
func (d *Dispatcher) abandon(rep *types.Report, cause error) {
	log := d.log.WithField("report_id", rep.ID).WithField("error", cause.Error())
	ctx := context.Background()
	cur, err := d.store.ReportByID(ctx, rep.ID)
	if err != nil {
		log.WithField("store_error", err.Error()).Error("failed to load abandoned report")
		return
	}
	*rep = cur
	if cur.NotificationStatus != types.StatusPending {
		return
	}
	if err := d.store.UpdateNotification(ctx, rep.ID, types.StatusFailed, cur.NotificationAttempts); err != nil {
		log.WithField("store_error", err.Error()).Error("failed to mark abandoned report failed")
		return
	}
	rep.NotificationStatus = types.StatusFailed
	log.Warn("delivery round aborted, report marked failed")
}

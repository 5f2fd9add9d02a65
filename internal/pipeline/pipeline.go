// Package pipeline turns inbound call transcription events into stored,
// classified reports and hands their notifications to the dispatcher.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"civic-voice-go/internal/aggregator"
	"civic-voice-go/internal/classifier"
	"civic-voice-go/internal/formatter"
	"civic-voice-go/internal/notify"
	"civic-voice-go/internal/priority"
	"civic-voice-go/internal/reportid"
	"civic-voice-go/internal/rules"
	"civic-voice-go/internal/store"
	"civic-voice-go/internal/types"
)

const (
	StatusSuccess  = "success"
	StatusDegraded = "degraded"
	StatusError    = "error"
)

// Response is the webhook reply body.
type Response struct {
	Status             string                   `json:"status"`
	ReportID           string                   `json:"report_id,omitempty"`
	Category           types.Category           `json:"category,omitempty"`
	Priority           types.Priority           `json:"priority,omitempty"`
	NotificationStatus types.NotificationStatus `json:"notification_status,omitempty"`
	Replay             bool                     `json:"replay,omitempty"`
	Error              string                   `json:"error,omitempty"`
	Message            string                   `json:"message,omitempty"`
}

// ErrorResponse builds the reply for a rejected event.
func ErrorResponse(err error) Response {
	msg := "the report could not be processed"
	var ve *ValidationError
	if errors.As(err, &ve) {
		msg = ve.Message
	}
	return Response{Status: StatusError, Error: Kind(err), Message: msg}
}

type Options struct {
	// SyncDispatch makes Handle wait for notification delivery and report a
	// degraded outcome when it fails. By default delivery runs in the
	// background and the caller sees notification_status "pending".
	SyncDispatch bool
}

// Pipeline is the webhook intake orchestrator.
type Pipeline struct {
	rules      *rules.Holder
	ids        *reportid.Generator
	store      store.Store
	dispatcher *notify.Dispatcher
	agg        *aggregator.Aggregator
	opts       Options
	inflight   singleflight.Group
	log        *logrus.Entry
	now        func() time.Time
}

func New(rh *rules.Holder, ids *reportid.Generator, st store.Store, d *notify.Dispatcher, agg *aggregator.Aggregator, opts Options, log *logrus.Entry) *Pipeline {
	return &Pipeline{
		rules:      rh,
		ids:        ids,
		store:      st,
		dispatcher: d,
		agg:        agg,
		opts:       opts,
		log:        log,
		now:        time.Now,
	}
}

// Handle validates a raw webhook body and processes it. Deliveries for a
// call that already has a report are answered from the stored report.
func (p *Pipeline) Handle(ctx context.Context, raw []byte) (Response, error) {
	ev, err := ParseEvent(raw, p.now())
	if err != nil {
		p.log.WithField("error", err.Error()).Warn("webhook rejected")
		return ErrorResponse(err), err
	}
	// concurrent deliveries of the same call share one run
	v, err, _ := p.inflight.Do(ev.CallControlID, func() (any, error) {
		return p.process(ctx, ev)
	})
	if err != nil {
		return ErrorResponse(err), err
	}
	return v.(Response), nil
}

func (p *Pipeline) process(ctx context.Context, ev types.CallEvent) (Response, error) {
	log := p.log.WithField("call_control_id", ev.CallControlID)

	existing, err := p.store.ReportByCall(ctx, ev.CallControlID)
	switch {
	case err == nil:
		log.WithField("report_id", existing.ID).Info("duplicate delivery, replaying existing report")
		return replayResponse(existing), nil
	case !errors.Is(err, store.ErrNotFound):
		log.WithField("error", err.Error()).Error("report lookup failed")
		return Response{}, fmt.Errorf("%w: lookup report: %v", ErrInternal, err)
	}

	r := p.rules.Current()
	cls := classifier.Classify(ev.TranscriptText, r)
	pri := priority.Score(ev.TranscriptText, ev.CallDurationSeconds, r)
	id := p.ids.Next(ev.ReceivedAt)
	rep, msg := formatter.Format(ev, cls, pri, id)

	if err := p.store.CreateReport(ctx, rep); err != nil {
		switch {
		case errors.Is(err, store.ErrDuplicateCall):
			existing, lerr := p.store.ReportByCall(ctx, ev.CallControlID)
			if lerr != nil {
				return Response{}, fmt.Errorf("%w: lookup report: %v", ErrInternal, lerr)
			}
			log.WithField("report_id", existing.ID).Info("report created concurrently, replaying")
			return replayResponse(existing), nil
		case errors.Is(err, store.ErrDuplicateID):
			log.WithField("report_id", id).Error("report id collision")
			return Response{}, fmt.Errorf("%w: report id collision %s", ErrInternal, id)
		default:
			log.WithField("error", err.Error()).Error("failed to store report")
			return Response{}, fmt.Errorf("%w: store report: %v", ErrInternal, err)
		}
	}

	log = log.WithField("report_id", rep.ID)
	log.WithFields(logrus.Fields{
		"category":         rep.Category,
		"priority":         rep.Priority,
		"priority_reason":  rep.PriorityReason,
		"matched_keywords": rep.MatchedKeywords,
		"location":         rep.Location,
	}).Info("report created")

	resp := Response{
		Status:             StatusSuccess,
		ReportID:           rep.ID,
		Category:           rep.Category,
		Priority:           rep.Priority,
		NotificationStatus: types.StatusPending,
	}

	if p.opts.SyncDispatch {
		rec, derr := p.dispatcher.Dispatch(context.WithoutCancel(ctx), &rep, msg)
		p.agg.Record(rep, rec)
		resp.NotificationStatus = rep.NotificationStatus
		if derr != nil {
			resp.Status = StatusDegraded
			resp.Message = "report accepted; notification delivery failed and will need a retry"
		}
		return resp, nil
	}

	// counted as pending now; the delivery outcome moves it later
	p.agg.Record(rep, types.NotificationRecord{})
	queued := p.dispatcher.Submit(rep, msg, func(r types.Report, rec types.NotificationRecord, _ error) {
		p.agg.Record(r, rec)
	})
	if !queued {
		log.Warn("notification queue unavailable, marking report failed for later retry")
		if err := p.store.UpdateNotification(ctx, rep.ID, types.StatusFailed, rep.NotificationAttempts); err != nil {
			log.WithField("error", err.Error()).Error("failed to mark report failed")
		}
		rep.NotificationStatus = types.StatusFailed
		p.agg.Record(rep, types.NotificationRecord{})
		resp.Status = StatusDegraded
		resp.NotificationStatus = types.StatusFailed
		resp.Message = "report accepted; notification could not be queued"
	}
	return resp, nil
}

func replayResponse(rep types.Report) Response {
	return Response{
		Status:             StatusSuccess,
		ReportID:           rep.ID,
		Category:           rep.Category,
		Priority:           rep.Priority,
		NotificationStatus: rep.NotificationStatus,
		Replay:             true,
	}
}

// Retry redelivers the notification of a failed report and returns the
// report's updated state.
func (p *Pipeline) Retry(ctx context.Context, reportID string) (types.Report, error) {
	rep, err := p.store.ReportByID(ctx, reportID)
	if err != nil {
		return types.Report{}, err
	}
	rec, err := p.dispatcher.Redeliver(ctx, &rep, formatter.Message(rep))
	if errors.Is(err, notify.ErrNotRetryable) {
		return rep, err
	}
	p.agg.Record(rep, rec)
	return rep, err
}

// RetryFailed redelivers every failed report in id order and returns how
// many were delivered.
func (p *Pipeline) RetryFailed(ctx context.Context) (int, error) {
	failed, err := p.store.ReportsByStatus(ctx, types.StatusFailed)
	if err != nil {
		return 0, err
	}
	delivered := 0
	for _, rep := range failed {
		if ctx.Err() != nil {
			return delivered, ctx.Err()
		}
		if _, err := p.Retry(ctx, rep.ID); err != nil {
			p.log.WithField("report_id", rep.ID).WithField("error", err.Error()).Warn("batch redelivery failed")
			continue
		}
		delivered++
	}
	p.log.WithField("failed", len(failed)).WithField("delivered", delivered).Info("batch redelivery finished")
	return delivered, nil
}

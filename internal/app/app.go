// Package app assembles the service components from configuration. Both
// the HTTP server and the operator CLI build on it.
package app

import (
	"context"
	"fmt"
	"time"

	"civic-voice-go/internal/aggregator"
	"civic-voice-go/internal/config"
	"civic-voice-go/internal/logger"
	"civic-voice-go/internal/notify"
	"civic-voice-go/internal/pipeline"
	"civic-voice-go/internal/queue"
	"civic-voice-go/internal/reportid"
	"civic-voice-go/internal/rules"
	"civic-voice-go/internal/store"
	"civic-voice-go/internal/types"
)

type App struct {
	Config     config.Config
	Log        *logger.Logger
	Store      store.Store
	Rules      *rules.Holder
	IDs        *reportid.Generator
	Queue      *queue.Queue
	Dispatcher *notify.Dispatcher
	Aggregator *aggregator.Aggregator
	Pipeline   *pipeline.Pipeline
}

// Build wires every component. The queue is created but not started.
func Build(cfg config.Config, log *logger.Logger) (*App, error) {
	compiled, err := cfg.Rules.Compile()
	if err != nil {
		return nil, fmt.Errorf("compile rules: %w", err)
	}
	holder := rules.NewHolder(compiled)
	if longCall := cfg.Rules.Priorities.LongCallSeconds; cfg.LongCallFromEnv {
		holder.OnLoad(func(r *rules.Rules) { r.Priorities.LongCallSeconds = longCall })
	}

	var st store.Store
	if cfg.DBPath != "" {
		s, err := store.OpenSQLite(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		st = s
		log.WithField("db_path", cfg.DBPath).Info("using sqlite report store")
	} else {
		st = store.NewMemory()
		log.Info("using in-memory report store")
	}

	var ch notify.Channel
	if cfg.TelegramEnabled() {
		tg, err := notify.NewTelegram(cfg.TelegramAPIURL, cfg.TelegramToken, cfg.TelegramTimeout)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("telegram: %w", err)
		}
		ch = tg
	} else {
		log.Warn("telegram not configured, notifications will only be logged")
		ch = notify.LogChannel{Log: log.Component("notify.log")}
	}

	q := queue.New(cfg.NotifyQueueSize, cfg.NotifyWorkers, cfg.NotifyTimeout, log.Component("queue"))
	d := notify.NewDispatcher(ch, st, q, notify.Options{
		Destination: cfg.TelegramChatID,
		MaxAttempts: cfg.NotifyMaxAttempts,
		BackoffBase: cfg.NotifyBackoffBase,
		BackoffCap:  cfg.NotifyBackoffCap,
		Timeout:     cfg.NotifyTimeout,
	}, log.Component("dispatcher"))
	agg := aggregator.New(cfg.AnalyticsBucket)
	ids := reportid.New()
	p := pipeline.New(holder, ids, st, d, agg,
		pipeline.Options{SyncDispatch: cfg.NotifySync}, log.Component("pipeline"))

	return &App{
		Config:     cfg,
		Log:        log,
		Store:      st,
		Rules:      holder,
		IDs:        ids,
		Queue:      q,
		Dispatcher: d,
		Aggregator: agg,
		Pipeline:   p,
	}, nil
}

// Start runs the notification workers and, when enabled, the rules watcher.
func (a *App) Start(ctx context.Context) error {
	// workers outlive ctx; Close drains them
	a.Queue.Start(context.WithoutCancel(ctx))
	if a.Config.RulesWatch && a.Config.RulesPath != "" {
		if err := a.Rules.Watch(ctx, a.Config.RulesPath, a.Log.Component("rules")); err != nil {
			return err
		}
		a.Log.WithField("path", a.Config.RulesPath).Info("watching rules file")
	}
	return nil
}

// Warm prepares a process that reuses a durable store: the id generator
// resumes after the newest stored id, reports left pending by a previous
// process are marked failed so they can be redelivered, and analytics
// counters are rebuilt. Call it before Start.
func (a *App) Warm(ctx context.Context) error {
	reports, err := a.Store.ListReports(ctx, 0)
	if err != nil {
		return err
	}
	if len(reports) > 0 {
		// newest first
		if err := a.IDs.Resume(reports[0].ID); err != nil {
			return err
		}
	}
	stale := 0
	for i, r := range reports {
		if r.NotificationStatus == types.StatusPending {
			if err := a.Store.UpdateNotification(ctx, r.ID, types.StatusFailed, r.NotificationAttempts); err != nil {
				return fmt.Errorf("fail stale report %s: %w", r.ID, err)
			}
			reports[i].NotificationStatus = types.StatusFailed
			stale++
		}
		a.Aggregator.Restore(reports[i])
	}
	if stale > 0 {
		a.Log.WithField("reports", stale).Warn("reports left pending by a previous run marked failed")
	}
	return nil
}

// Close drains the queue within timeout, cancelling jobs that are still
// running after it, and closes the store once every worker has returned.
func (a *App) Close(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := a.Queue.Stop(ctx); err != nil {
		a.Log.WithError(err).Warn("notification queue did not drain in time")
	}
	return a.Store.Close()
}

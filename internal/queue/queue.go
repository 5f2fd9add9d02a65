// Package queue runs background jobs on a bounded channel drained by a
// fixed pool of workers.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrJobPanic is passed to OnFinish when Work panicked.
var ErrJobPanic = errors.New("job panicked")

// Job is a unit of work. OnFinish, when set, runs after Work returns or
// panics, on the same worker.
type Job struct {
	ID       string
	Work     func(context.Context) error
	OnFinish func(error)
}

type Stats struct {
	Length      int    `json:"length"`
	Capacity    int    `json:"capacity"`
	WorkerCount int    `json:"worker_count"`
	Processed   uint64 `json:"processed"`
	Failed      uint64 `json:"failed"`
}

// Queue is a bounded job queue with a fixed worker pool.
type Queue struct {
	jobs        chan Job
	workerCount int
	timeout     time.Duration
	log         *logrus.Entry

	mu        sync.RWMutex
	cancel    context.CancelFunc
	started   bool
	stopped   bool
	wg        sync.WaitGroup
	processed atomic.Uint64
	failed    atomic.Uint64
}

// New creates a queue holding up to capacity jobs, drained by workerCount
// workers, each job bounded by timeout.
func New(capacity, workerCount int, timeout time.Duration, log *logrus.Entry) *Queue {
	return &Queue{
		jobs:        make(chan Job, capacity),
		workerCount: workerCount,
		timeout:     timeout,
		log:         log,
	}
}

// Start launches the workers. Calling it twice is a no-op.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.started = true
	ctx, q.cancel = context.WithCancel(ctx)
	for i := 0; i < q.workerCount; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
}

// Enqueue adds j without blocking. It returns false when the queue is full,
// not started, or stopped.
func (q *Queue) Enqueue(j Job) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if !q.started || q.stopped {
		q.log.WithField("job", j.ID).Warn("enqueue rejected: queue not running")
		return false
	}
	select {
	case q.jobs <- j:
		return true
	default:
		q.log.WithField("job", j.ID).Warn("job queue full, dropping job")
		return false
	}
}

// Stop stops accepting jobs and waits for queued ones to drain. If ctx ends
// first the workers' context is cancelled, so remaining jobs run with an
// expired context, and Stop still waits for every worker to return. It
// returns ctx's error when the drain was cut short.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.started || q.stopped {
		q.mu.Unlock()
		return nil
	}
	q.stopped = true
	close(q.jobs)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.log.Warn("queue drain timed out, cancelling running jobs")
		q.cancel()
		<-done
		return ctx.Err()
	}
}

func (q *Queue) Stats() Stats {
	return Stats{
		Length:      len(q.jobs),
		Capacity:    cap(q.jobs),
		WorkerCount: q.workerCount,
		Processed:   q.processed.Load(),
		Failed:      q.failed.Load(),
	}
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			q.drain(ctx)
			return
		case j, ok := <-q.jobs:
			if !ok {
				return
			}
			q.handle(ctx, j)
		}
	}
}

// drain finishes queued jobs after cancellation so each one still reaches
// OnFinish.
func (q *Queue) drain(ctx context.Context) {
	for {
		select {
		case j, ok := <-q.jobs:
			if !ok {
				return
			}
			q.handle(ctx, j)
		default:
			return
		}
	}
}

func (q *Queue) handle(ctx context.Context, j Job) {
	start := time.Now()
	log := q.log.WithField("job", j.ID)
	defer func() {
		if r := recover(); r != nil {
			q.failed.Add(1)
			log.WithField("panic", r).Error("job completion panic recovered")
		}
	}()

	jobCtx, cancel := context.WithTimeout(ctx, q.timeout)
	err := run(jobCtx, j)
	cancel()
	if errors.Is(err, ErrJobPanic) {
		log.WithField("error", err.Error()).Error("job panic recovered")
	}
	if j.OnFinish != nil {
		j.OnFinish(err)
	}
	q.processed.Add(1)
	if err != nil {
		q.failed.Add(1)
		log = log.WithField("error", err.Error())
	}
	log.WithField("duration_ms", time.Since(start).Milliseconds()).Debug("job finished")
}

func run(ctx context.Context, j Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrJobPanic, r)
		}
	}()
	return j.Work(ctx)
}

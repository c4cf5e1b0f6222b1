// ABOUTME: Durable background job queue with a polling worker pool
// ABOUTME: Jobs persist in the store; workers claim, run, retry with linear backoff, and record outcomes

package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/2389/slack-pulse/internal/metrics"
	"github.com/2389/slack-pulse/internal/store"
)

// ErrUnknownJob is recorded when no handler is registered for a job name.
var ErrUnknownJob = errors.New("no handler registered for job")

// Handler runs one job attempt. payload is the JSON given to Enqueue.
type Handler func(ctx context.Context, payload json.RawMessage) error

// Enqueuer schedules background work.
type Enqueuer interface {
	Enqueue(ctx context.Context, name string, args any) (*store.Job, error)
}

// Options tunes the worker pool.
type Options struct {
	Workers      int
	MaxAttempts  int
	PollInterval time.Duration
	// Timeout bounds one attempt.
	Timeout time.Duration
	// RetryBackoff is multiplied by the attempt number to schedule a retry.
	RetryBackoff time.Duration
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
}

// Queue stores jobs and runs them on a pool of workers.
type Queue struct {
	store   store.JobStore
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu       sync.RWMutex
	handlers map[string]Handler

	wake chan struct{}

	lifecycle   sync.Mutex
	started     bool
	stopPolling context.CancelFunc
	abortJobs   context.CancelFunc
	wg          sync.WaitGroup
}

// New creates a queue over s.
func New(s store.JobStore, opts Options) *Queue {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	return &Queue{
		store:    s,
		opts:     opts,
		logger:   logger.With("component", "jobs"),
		metrics:  opts.Metrics,
		now:      time.Now,
		handlers: make(map[string]Handler),
		wake:     make(chan struct{}, 1),
	}
}

// Register binds a handler to a job name. Registering a name twice replaces
// the earlier handler.
func (q *Queue) Register(name string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[name] = h
}

func (q *Queue) handler(name string) (Handler, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	h, ok := q.handlers[name]
	return h, ok
}

// Enqueue persists a job whose payload is args encoded as JSON and wakes a worker.
func (q *Queue) Enqueue(ctx context.Context, name string, args any) (*store.Job, error) {
	payload, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encoding %s args: %w", name, err)
	}

	job := &store.Job{
		Name:        name,
		Payload:     payload,
		Status:      store.JobQueued,
		MaxAttempts: q.opts.MaxAttempts,
		RunAfter:    q.now().UTC(),
	}
	if err := q.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("enqueueing %s: %w", name, err)
	}

	q.logger.Info("job_enqueued", "id", job.ID, "name", name)
	q.signal()
	return job, nil
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Start requeues jobs abandoned by a previous process and launches the
// workers. It returns immediately.
func (q *Queue) Start(ctx context.Context) error {
	q.lifecycle.Lock()
	defer q.lifecycle.Unlock()

	if q.started {
		return errors.New("job queue already started")
	}

	n, err := q.store.RequeueRunningJobs(ctx)
	if err != nil {
		return fmt.Errorf("requeueing abandoned jobs: %w", err)
	}
	if n > 0 {
		q.logger.Warn("requeued abandoned jobs", "count", n)
	}

	pollCtx, stopPolling := context.WithCancel(ctx)
	jobCtx, abortJobs := context.WithCancel(context.WithoutCancel(ctx))
	q.stopPolling = stopPolling
	q.abortJobs = abortJobs
	q.started = true

	for i := 0; i < q.opts.Workers; i++ {
		q.wg.Add(1)
		go q.work(pollCtx, jobCtx, i)
	}
	q.logger.Info("job workers started", "workers", q.opts.Workers)
	return nil
}

// Stop stops claiming new jobs and waits for running ones. When ctx
// expires first, running jobs are cancelled and Stop returns ctx's error
// after they exit.
func (q *Queue) Stop(ctx context.Context) error {
	q.lifecycle.Lock()
	if !q.started {
		q.lifecycle.Unlock()
		return nil
	}
	q.started = false
	stopPolling, abortJobs := q.stopPolling, q.abortJobs
	q.lifecycle.Unlock()

	stopPolling()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		abortJobs()
		q.logger.Info("job workers stopped")
		return nil
	case <-ctx.Done():
		abortJobs()
		<-done
		return ctx.Err()
	}
}

func (q *Queue) work(pollCtx, jobCtx context.Context, id int) {
	defer q.wg.Done()
	logger := q.logger.With("worker", id)

	timer := time.NewTimer(q.opts.PollInterval)
	defer timer.Stop()

	for {
		if pollCtx.Err() != nil {
			return
		}

		ran, err := q.RunNext(jobCtx)
		if err != nil && pollCtx.Err() == nil {
			logger.Error("job worker error", "error", err)
		}
		if ran {
			continue
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(q.opts.PollInterval)

		select {
		case <-pollCtx.Done():
			return
		case <-q.wake:
		case <-timer.C:
		}
	}
}

// RunNext claims and runs one runnable job. It reports whether a job was
// found; handler failures are recorded on the job, not returned.
func (q *Queue) RunNext(ctx context.Context) (bool, error) {
	job, err := q.store.ClaimJob(ctx, q.now().UTC())
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}

	logger := q.logger.With("job_id", job.ID, "name", job.Name, "attempt", job.Attempts)
	logger.Info("job_started")

	start := time.Now()
	runErr := q.execute(ctx, job)
	elapsed := time.Since(start)
	q.metrics.Job(job.Name, elapsed, runErr)

	// Outcome writes must land even if the job context was aborted.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if runErr == nil {
		logger.Info("job_succeeded", "duration", elapsed)
		if err := q.store.CompleteJob(writeCtx, job.ID); err != nil {
			return true, fmt.Errorf("completing job %s: %w", job.ID, err)
		}
		return true, nil
	}

	var retryAt *time.Time
	if job.Attempts < job.MaxAttempts && !errors.Is(runErr, ErrUnknownJob) {
		at := q.now().UTC().Add(q.opts.RetryBackoff * time.Duration(job.Attempts))
		retryAt = &at
		logger.Warn("job_failed_will_retry", "error", runErr, "retry_at", at)
	} else {
		logger.Error("job_failed", "error", runErr, "duration", elapsed)
	}

	if err := q.store.FailJob(writeCtx, job.ID, runErr.Error(), retryAt); err != nil {
		return true, fmt.Errorf("recording failure for job %s: %w", job.ID, err)
	}
	if retryAt != nil && q.opts.RetryBackoff <= 0 {
		q.signal()
	}
	return true, nil
}

func (q *Queue) execute(ctx context.Context, job *store.Job) (err error) {
	h, ok := q.handler(job.Name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, job.Name)
	}

	if q.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.opts.Timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("job panicked", "job_id", job.ID, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()

	return h(ctx, json.RawMessage(job.Payload))
}

var _ Enqueuer = (*Queue)(nil)

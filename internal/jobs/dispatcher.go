package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cloo-solutions/kbindex/internal/config"
	"github.com/cloo-solutions/kbindex/internal/domain"
	"github.com/cloo-solutions/kbindex/internal/logger"
	"github.com/cloo-solutions/kbindex/internal/metrics"
	"github.com/cloo-solutions/kbindex/internal/telemetry"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const outcomeTimeout = 10 * time.Second

// TrainingQueue is the leased job table the dispatcher polls
type TrainingQueue interface {
	// Claim leases the oldest claimable job to owner, or returns
	// domain.ErrTrainingJobNotFound when there is none.
	Claim(ctx context.Context, owner string, lease time.Duration) (*domain.TrainingJob, error)

	// Renew extends a held lease; domain.ErrLeaseLost when owner no longer holds it.
	Renew(ctx context.Context, id, owner string, lease time.Duration) error

	// Fail records a failed attempt and reports whether the job is now terminal.
	Fail(ctx context.Context, id, owner, errMsg string, terminal bool, retryDelay time.Duration) (bool, error)

	// Release gives the job back without spending a retry.
	Release(ctx context.Context, id, owner, reason string, delay time.Duration) error
}

// JobHandler runs one claimed job
type JobHandler interface {
	ProcessJob(ctx context.Context, job *domain.TrainingJob) error
}

// Dispatcher runs a fixed pool of workers that claim training jobs, keep
// their leases alive while a handler runs, and record the outcome.
type Dispatcher struct {
	queue     TrainingQueue
	handler   JobHandler
	cfg       config.DispatcherConfig
	log       *logger.Logger
	metrics   *metrics.Metrics
	processID string

	mu          sync.Mutex
	pausedUntil time.Time
	now         func() time.Time

	stopChan chan struct{}
	doneChan chan struct{}
	stopOnce sync.Once
}

// NewDispatcher creates a Dispatcher. Zero config fields get defaults.
func NewDispatcher(queue TrainingQueue, handler JobHandler, cfg config.DispatcherConfig, log *logger.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = 3 * time.Minute
	}
	if cfg.LeaseRenewInterval <= 0 || cfg.LeaseRenewInterval >= cfg.LeaseDuration {
		cfg.LeaseRenewInterval = cfg.LeaseDuration / 3
	}
	if cfg.IdleBackoffMin <= 0 {
		cfg.IdleBackoffMin = 200 * time.Millisecond
	}
	if cfg.IdleBackoffMax < cfg.IdleBackoffMin {
		cfg.IdleBackoffMax = cfg.IdleBackoffMin
	}
	if cfg.Pause <= 0 {
		cfg.Pause = 30 * time.Second
	}
	processID := uuid.NewString()[:8]
	return &Dispatcher{
		queue:     queue,
		handler:   handler,
		cfg:       cfg,
		log:       log.With("component", "dispatcher", "process_id", processID),
		processID: processID,
		now:       time.Now,
		stopChan:  make(chan struct{}),
		doneChan:  make(chan struct{}),
	}
}

// WithMetrics reports job outcomes and pauses to m.
func (d *Dispatcher) WithMetrics(m *metrics.Metrics) *Dispatcher {
	d.metrics = m
	return d
}

// Start runs the workers until ctx is cancelled or Stop is called. Jobs in
// flight at that moment run to completion.
func (d *Dispatcher) Start(ctx context.Context) {
	defer close(d.doneChan)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-d.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	d.log.Info("dispatcher started",
		"workers", d.cfg.Workers,
		"lease", d.cfg.LeaseDuration.String(),
	)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < d.cfg.Workers; i++ {
		owner := fmt.Sprintf("%s-%d", d.processID, i)
		g.Go(func() error {
			d.runWorker(gctx, owner)
			return nil
		})
	}
	_ = g.Wait()

	d.log.Info("dispatcher stopped")
}

// Stop signals the workers and waits for them to return
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.stopChan) })
	<-d.doneChan
}

// Paused reports whether the dispatcher is holding off claims.
func (d *Dispatcher) Paused() bool {
	return d.pauseRemaining() > 0
}

func (d *Dispatcher) runWorker(ctx context.Context, owner string) {
	idle := backoff.NewExponentialBackOff()
	idle.InitialInterval = d.cfg.IdleBackoffMin
	idle.MaxInterval = d.cfg.IdleBackoffMax
	idle.MaxElapsedTime = 0
	idle.Reset()

	for ctx.Err() == nil {
		if wait := d.pauseRemaining(); wait > 0 {
			if !sleep(ctx, wait) {
				return
			}
			continue
		}

		if d.RunOnce(ctx, owner) {
			idle.Reset()
			continue
		}
		if !sleep(ctx, idle.NextBackOff()) {
			return
		}
	}
}

// RunOnce claims and executes at most one job as owner. It reports whether
// a job was claimed.
func (d *Dispatcher) RunOnce(ctx context.Context, owner string) bool {
	job, err := d.queue.Claim(ctx, owner, d.cfg.LeaseDuration)
	if errors.Is(err, domain.ErrTrainingJobNotFound) {
		return false
	}
	if err != nil {
		if ctx.Err() == nil {
			d.log.Warn("claim failed", "owner", owner, "error", err)
			d.pause(err)
		}
		return false
	}

	d.execute(ctx, owner, job)
	return true
}

func (d *Dispatcher) execute(ctx context.Context, owner string, job *domain.TrainingJob) {
	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	var lost atomic.Bool
	done := make(chan struct{})
	renewed := make(chan struct{})
	go func() {
		defer close(renewed)
		ticker := time.NewTicker(d.cfg.LeaseRenewInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				err := d.queue.Renew(jobCtx, job.ID, owner, d.cfg.LeaseDuration)
				if errors.Is(err, domain.ErrLeaseLost) {
					lost.Store(true)
					cancel()
					return
				}
				if err != nil {
					d.log.Warn("lease renewal failed", "job_id", job.ID, "error", err)
				}
			}
		}
	}()

	start := d.now()
	err := d.handler.ProcessJob(jobCtx, job)
	close(done)
	<-renewed

	d.handleResult(ctx, owner, job, err, lost.Load(), d.now().Sub(start))
}

func (d *Dispatcher) handleResult(ctx context.Context, owner string, job *domain.TrainingJob, jobErr error, lost bool, took time.Duration) {
	log := d.log.With("job_id", job.ID, "dataset_id", job.DatasetID, "owner", owner)
	mode := string(job.Mode)
	attrs := telemetry.SpanAttributes{TeamID: job.TeamID, DatasetID: job.DatasetID, JobID: job.ID, Operation: mode}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), outcomeTimeout)
	defer cancel()

	switch {
	case jobErr == nil:
		log.Debug("job done", "took", took.String())
		d.metrics.JobFinished(mode, metrics.OutcomeSucceeded, took)

	case lost || errors.Is(jobErr, domain.ErrLeaseLost):
		log.Warn("lease lost, result discarded", "error", jobErr)
		d.metrics.JobFinished(mode, metrics.OutcomeLeaseLost, took)

	case domain.IsResourceExhausted(jobErr):
		if err := d.queue.Release(ctx, job.ID, owner, jobErr.Error(), d.cfg.Pause); err != nil && !errors.Is(err, domain.ErrLeaseLost) {
			log.Error("release failed", "error", err)
		}
		d.metrics.JobFinished(mode, metrics.OutcomeReleased, took)
		d.pause(jobErr)

	case domain.IsNonRetryable(jobErr):
		if _, err := d.queue.Fail(ctx, job.ID, owner, jobErr.Error(), true, 0); err != nil {
			log.Error("recording failure failed", "error", err)
			return
		}
		log.Warn("job failed permanently", "error", jobErr)
		d.metrics.JobFinished(mode, metrics.OutcomeFailed, took)
		telemetry.CaptureJobFailure(ctx, attrs, jobErr)

	default:
		transient := domain.Code(jobErr) == "" || errors.Is(jobErr, domain.ErrTransientData)
		failed, err := d.queue.Fail(ctx, job.ID, owner, jobErr.Error(), false, d.cfg.RetryDelay)
		if err != nil {
			log.Error("recording failure failed", "error", err)
		} else if failed {
			log.Warn("job out of retries", "error", jobErr)
			d.metrics.JobFinished(mode, metrics.OutcomeFailed, took)
			telemetry.CaptureJobFailure(ctx, attrs, jobErr)
		} else {
			log.Info("job will be retried", "retries_left", job.RetryCount-1, "error", jobErr)
			d.metrics.JobFinished(mode, metrics.OutcomeRetried, took)
		}
		if transient {
			d.pause(jobErr)
		}
	}
}

func (d *Dispatcher) pause(cause error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	until := d.now().Add(d.cfg.Pause)
	if until.After(d.pausedUntil) {
		if !d.pausedUntil.After(d.now()) {
			d.log.Warn("dispatcher paused", "for", d.cfg.Pause.String(), "cause", cause)
			d.metrics.DispatcherPaused()
		}
		d.pausedUntil = until
	}
}

func (d *Dispatcher) pauseRemaining() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pausedUntil.Sub(d.now())
}

func sleep(ctx context.Context, dur time.Duration) bool {
	if dur <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

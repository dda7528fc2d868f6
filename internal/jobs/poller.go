package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cloo-solutions/kbindex/internal/logger"
	"github.com/cloo-solutions/kbindex/internal/metrics"
)

// Drainer performs one pass of background work and reports how many items it
// moved.
type Drainer interface {
	DrainPass(ctx context.Context) (int, error)
}

// maxErrorBackoff caps the wait after consecutive failed passes, in multiples
// of the poll interval.
const maxErrorBackoff = 8

// Poller drives a Drainer. A pass that moved items is followed immediately by
// another one; an empty pass waits one interval; failed passes back off
// exponentially up to maxErrorBackoff intervals.
type Poller struct {
	name     string
	drainer  Drainer
	interval time.Duration
	log      *logger.Logger
	metrics  *metrics.Metrics

	failures *backoff.ExponentialBackOff

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func NewPoller(name string, drainer Drainer, interval time.Duration, log *logger.Logger) *Poller {
	if interval <= 0 {
		interval = time.Second
	}
	failures := &backoff.ExponentialBackOff{
		InitialInterval: interval,
		Multiplier:      2,
		MaxInterval:     interval * maxErrorBackoff,
		Stop:            backoff.Stop,
		Clock:           backoff.SystemClock,
	}
	failures.Reset()
	return &Poller{
		name:     name,
		drainer:  drainer,
		interval: interval,
		log:      log.With("poller", name),
		failures: failures,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// WithMetrics counts moved items and failed passes under the poller name.
func (p *Poller) WithMetrics(m *metrics.Metrics) *Poller {
	p.metrics = m
	return p
}

// Start blocks until ctx is cancelled or Stop is called.
func (p *Poller) Start(ctx context.Context) {
	defer close(p.done)
	p.log.Info("poller started", "interval", p.interval.String())

	for {
		wait := p.pass(ctx)
		if wait == 0 {
			select {
			case <-ctx.Done():
				p.log.Info("poller stopped", "reason", "context cancelled")
				return
			case <-p.stop:
				p.log.Info("poller stopped", "reason", "stop requested")
				return
			default:
				continue
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			p.log.Info("poller stopped", "reason", "context cancelled")
			return
		case <-p.stop:
			timer.Stop()
			p.log.Info("poller stopped", "reason", "stop requested")
			return
		case <-timer.C:
		}
	}
}

// pass runs the drainer once and returns how long to wait before the next.
func (p *Poller) pass(ctx context.Context) time.Duration {
	n, err := p.drainer.DrainPass(ctx)
	p.metrics.PollerPass(p.name, n, err)
	if err != nil {
		if ctx.Err() != nil {
			return p.interval
		}
		wait := p.failures.NextBackOff()
		p.log.Error("drain pass failed", "error", err, "retry_in", wait.String())
		return wait
	}
	p.failures.Reset()
	if n > 0 {
		p.log.Debug("drain pass", "moved", n)
		return 0
	}
	return p.interval
}

// Stop asks the loop to exit and waits for it. Safe to call more than once.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
	<-p.done
	p.log.Info("poller shutdown complete")
}

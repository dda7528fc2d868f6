// Package billing records token usage and enforces per-team token quotas.
package billing

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cloo-solutions/kbindex/internal/domain"
	"github.com/cloo-solutions/kbindex/internal/logger"
	"github.com/cloo-solutions/kbindex/internal/metrics"
	"github.com/google/uuid"
)

// UsageStore persists usage records
type UsageStore interface {
	Insert(ctx context.Context, u *domain.Usage) error
}

// Quota tracks consumption against a team limit
type Quota interface {
	Check(ctx context.Context, teamID string) error
	Add(ctx context.Context, teamID string, tokens int) error
}

type Config struct {
	MaxRetries     uint64
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
	}
}

// Biller is the usage callback of the pipeline. Persisting a record is
// retried a bounded number of times; quota counting is best effort.
type Biller struct {
	store UsageStore
	quota Quota
	cfg   Config
	log   *logger.Logger
	stats *metrics.Metrics
	now   func() time.Time
}

// NewBiller creates a biller; quota may be nil for unlimited teams.
func NewBiller(store UsageStore, quota Quota, cfg Config, log *logger.Logger) *Biller {
	return &Biller{
		store: store,
		quota: quota,
		cfg:   cfg,
		log:   log,
		now:   time.Now,
	}
}

// WithMetrics counts persisted tokens per model and source.
func (b *Biller) WithMetrics(m *metrics.Metrics) *Biller {
	b.stats = m
	return b
}

// CheckQuota returns a resource exhausted error once the team is over quota.
func (b *Biller) CheckQuota(ctx context.Context, teamID string) error {
	if b.quota == nil {
		return nil
	}
	return b.quota.Check(ctx, teamID)
}

// Record persists one usage event. Zero-token events are dropped.
func (b *Biller) Record(ctx context.Context, u domain.Usage) error {
	if u.Tokens <= 0 {
		return nil
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = b.now().UTC()
	}

	if b.quota != nil {
		if err := b.quota.Add(ctx, u.TeamID, u.Tokens); err != nil {
			b.log.Warn("failed to count usage against quota", "team_id", u.TeamID, "tokens", u.Tokens, "error", err)
		}
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = b.cfg.InitialBackoff
	eb.MaxInterval = b.cfg.MaxBackoff
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, b.cfg.MaxRetries), ctx)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		return b.store.Insert(ctx, &u)
	}, policy)
	if err != nil {
		b.log.Error("failed to record usage",
			"team_id", u.TeamID,
			"bill_id", u.BillID,
			"model", u.Model,
			"tokens", u.Tokens,
			"attempts", attempt,
			"error", err,
		)
		return err
	}
	b.stats.TokensBilled(u.Model, string(u.Source), u.Tokens)
	return nil
}

// Package telemetry wraps Sentry tracing and error capture for the daemon and
// its workers. Every helper is a no-op when Sentry was never initialised.
package telemetry

import (
	"context"
	"time"

	"github.com/cloo-solutions/kbindex/internal/logger"
	"github.com/getsentry/sentry-go"
)

const (
	serverName   = "kbindex"
	flushTimeout = 5 * time.Second
)

// Transactions that are never sampled.
var unsampled = map[string]bool{
	"GET /health": true,
}

type Config struct {
	DSN              string
	Environment      string
	TracesSampleRate float64
	Debug            bool
}

// Init configures the global Sentry client and returns a flush function for
// shutdown. An empty DSN disables Sentry. A failed init is logged and also
// leaves Sentry disabled.
func Init(cfg Config, log *logger.Logger) (func(), error) {
	noop := func() {}
	if cfg.DSN == "" {
		return noop, nil
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	rate := cfg.TracesSampleRate
	if rate <= 0 || rate > 1 {
		rate = 1.0
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:           cfg.DSN,
		Environment:   cfg.Environment,
		Debug:         cfg.Debug,
		ServerName:    serverName,
		EnableTracing: true,
		TracesSampler: sampler(rate),
	})
	if err != nil {
		log.Warn("sentry init failed, continuing without tracing", "error", err)
		return noop, nil
	}

	log.Info("sentry tracing initialized", "environment", cfg.Environment, "sample_rate", rate)
	return func() { sentry.Flush(flushTimeout) }, nil
}

// sampler follows the parent's decision for child spans and applies rate to
// new root transactions.
func sampler(rate float64) sentry.TracesSampler {
	return func(ctx sentry.SamplingContext) float64 {
		if unsampled[ctx.Span.Name] {
			return 0
		}
		if ctx.Span.ParentSpanID != (sentry.SpanID{}) {
			if ctx.Span.Sampled.Bool() {
				return 1
			}
			return 0
		}
		return rate
	}
}

// SpanAttributes become tags on spans and captured events. Empty fields are
// skipped.
type SpanAttributes struct {
	TeamID    string
	DatasetID string
	JobID     string
	Operation string
}

func (a SpanAttributes) tags() map[string]string {
	tags := make(map[string]string, 3)
	for key, value := range map[string]string{
		"team_id":    a.TeamID,
		"dataset_id": a.DatasetID,
		"job_id":     a.JobID,
	} {
		if value != "" {
			tags[key] = value
		}
	}
	return tags
}

type Span struct {
	inner *sentry.Span
	attrs SpanAttributes
}

func (s *Span) End() {
	s.inner.Finish()
}

// SetError marks the span failed and reports err with the span's tags.
func (s *Span) SetError(err error) {
	s.inner.Status = sentry.SpanStatusInternalError
	capture(s.inner.Context(), s.attrs, sentry.LevelError, err)
}

// StartSpan opens a child of the span already in ctx, or a new transaction
// when there is none, as happens for dispatcher jobs.
func StartSpan(ctx context.Context, name string, attrs SpanAttributes) (context.Context, *Span) {
	var span *sentry.Span
	if parent := sentry.SpanFromContext(ctx); parent != nil {
		span = parent.StartChild(name)
	} else {
		span = sentry.StartSpan(ctx, name, sentry.WithTransactionName(name))
	}
	for key, value := range attrs.tags() {
		span.SetTag(key, value)
	}
	if attrs.Operation != "" {
		span.SetData("operation", attrs.Operation)
	}
	return span.Context(), &Span{inner: span, attrs: attrs}
}

func CaptureError(ctx context.Context, err error) {
	capture(ctx, SpanAttributes{}, sentry.LevelError, err)
}

// CaptureJobFailure reports a job that exhausted its retries or failed
// permanently. These are expected in normal operation and go in at warning
// level.
func CaptureJobFailure(ctx context.Context, attrs SpanAttributes, err error) {
	capture(ctx, attrs, sentry.LevelWarning, err)
}

func AddBreadcrumb(ctx context.Context, category, message string) {
	hubFrom(ctx).AddBreadcrumb(&sentry.Breadcrumb{
		Type:      "default",
		Category:  category,
		Message:   message,
		Level:     sentry.LevelInfo,
		Timestamp: time.Now(),
	}, nil)
}

func capture(ctx context.Context, attrs SpanAttributes, level sentry.Level, err error) {
	hub := hubFrom(ctx)
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(level)
		scope.SetTags(attrs.tags())
		hub.CaptureException(err)
	})
}

func hubFrom(ctx context.Context) *sentry.Hub {
	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		return hub
	}
	return sentry.CurrentHub()
}

// Package telemetry wires Sentry tracing and structured logging for the
// decision pipeline.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
)

const (
	serverName   = "mnemod"
	flushTimeout = 5 * time.Second
)

// Config holds the Sentry client settings.
type Config struct {
	DSN              string
	Environment      string
	TracesSampleRate float64
	Debug            bool
}

// Init starts the Sentry client and returns a flush func for shutdown.
// An empty DSN disables reporting.
func Init(cfg Config) (func(), error) {
	if cfg.DSN == "" {
		return func() {}, nil
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.TracesSampleRate <= 0 || cfg.TracesSampleRate > 1 {
		cfg.TracesSampleRate = 1
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		ServerName:       serverName,
		EnableTracing:    true,
		TracesSampleRate: cfg.TracesSampleRate,
		Debug:            cfg.Debug,
	})
	if err != nil {
		return func() {}, fmt.Errorf("sentry init: %w", err)
	}
	return func() { sentry.Flush(flushTimeout) }, nil
}

// SpanAttributes tag a pipeline span. Empty fields are skipped.
type SpanAttributes struct {
	OrgID      string
	OwnerID    string
	DecisionID string
	ProposalID string
	Stage      string
}

func (a SpanAttributes) tags() map[string]string {
	tags := make(map[string]string, 5)
	for k, v := range map[string]string{
		"org_id":      a.OrgID,
		"owner_id":    a.OwnerID,
		"decision_id": a.DecisionID,
		"proposal_id": a.ProposalID,
		"stage":       a.Stage,
	} {
		if v != "" {
			tags[k] = v
		}
	}
	return tags
}

// Span is a pipeline span. The zero value is a no-op.
type Span struct {
	inner *sentry.Span
	tags  map[string]string
}

func (s *Span) End() {
	if s.inner != nil {
		s.inner.Finish()
	}
}

// SetError marks the span failed and reports err with the span's tags.
func (s *Span) SetError(err error) {
	if s.inner == nil || err == nil {
		return
	}
	s.inner.Status = sentry.SpanStatusInternalError
	hub := sentry.GetHubFromContext(s.inner.Context())
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(s.tags)
		hub.CaptureException(err)
	})
}

func (s *Span) SetData(key string, value any) {
	if s.inner != nil {
		s.inner.SetData(key, value)
	}
}

// StartSpan opens a child of the span carried by ctx, or a new transaction
// named after the operation when there is none.
func StartSpan(ctx context.Context, operation string, attrs SpanAttributes) (context.Context, *Span) {
	var opts []sentry.SpanOption
	if sentry.SpanFromContext(ctx) == nil {
		opts = append(opts, sentry.WithTransactionName(operation))
	}
	span := sentry.StartSpan(ctx, operation, opts...)

	tags := attrs.tags()
	for k, v := range tags {
		span.SetTag(k, v)
	}
	return span.Context(), &Span{inner: span, tags: tags}
}

// CaptureError reports err on the hub bound to ctx, falling back to the
// global hub.
func CaptureError(ctx context.Context, err error) {
	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		hub.CaptureException(err)
		return
	}
	sentry.CaptureException(err)
}

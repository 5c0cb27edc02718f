// Package audit correlates observed chat moderation events with the most
// recent matching record of an external audit feed.
package audit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/onnwee/mod-tender/telemetry"
)

// DefaultMaxAge is how old a record may be and still be attributed to a
// just-observed event.
const DefaultMaxAge = 5 * time.Second

// Outcome classifies a FindMatching call.
type Outcome int

const (
	OutcomeNoMatch Outcome = iota
	OutcomeMatch
	OutcomePermissionDenied
	OutcomeFeedError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeMatch:
		return "match"
	case OutcomeNoMatch:
		return "no_match"
	case OutcomePermissionDenied:
		return "permission_denied"
	case OutcomeFeedError:
		return "feed_error"
	default:
		return "unknown"
	}
}

// Query describes one lookup. Target, Cache and Report are optional. A zero
// MaxAge uses the correlator's default.
type Query struct {
	Scope   string
	Actions []Action
	Target  string
	MaxAge  time.Duration
	Cache   Cache
	Report  Reporter
}

// Result is the outcome of a lookup. Record is set only for OutcomeMatch and
// Err only for OutcomePermissionDenied and OutcomeFeedError.
type Result struct {
	Outcome Outcome
	Record  *Record
	Err     error
}

// Found returns the matched record or nil.
func (r Result) Found() *Record {
	if r.Outcome != OutcomeMatch {
		return nil
	}
	return r.Record
}

// Option configures a Correlator.
type Option func(*Correlator)

func WithLogger(l *slog.Logger) Option {
	return func(c *Correlator) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Correlator) {
		if now != nil {
			c.now = now
		}
	}
}

func WithDefaultMaxAge(d time.Duration) Option {
	return func(c *Correlator) {
		if d > 0 {
			c.maxAge = d
		}
	}
}

// Correlator looks up audit records for observed events.
type Correlator struct {
	feed   Feed
	logger *slog.Logger
	now    func() time.Time
	maxAge time.Duration
}

func NewCorrelator(feed Feed, opts ...Option) *Correlator {
	c := &Correlator{
		feed:   feed,
		logger: slog.Default(),
		now:    time.Now,
		maxAge: DefaultMaxAge,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String("component", "audit"))
	return c
}

// FindMatching returns the most recent record of any of q.Actions in q.Scope,
// provided it is no older than MaxAge, concerns q.Target when one is given and
// has not already been returned for the same cache key. It never returns an
// error directly; permission failures go to q.Report.
func (c *Correlator) FindMatching(ctx context.Context, q Query) (res Result) {
	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "audit", "audit.find_matching",
		attribute.String("audit.scope", q.Scope),
		attribute.String("audit.target", q.Target))
	defer func() {
		span.SetAttributes(attribute.String("audit.outcome", res.Outcome.String()))
		telemetry.RecordError(span, res.Err)
		span.End()
		telemetry.ObserveAuditLookup(res.Outcome.String(), time.Since(start))
	}()

	log := c.logger.With(slog.String("scope", q.Scope))
	if corr := telemetry.GetCorrelation(ctx); corr != "" {
		log = log.With(slog.String("corr", corr))
	}

	records, err := c.fetch(ctx, q)
	if err != nil {
		if errors.Is(err, ErrPermissionDenied) {
			log.Warn("audit feed access denied", slog.Any("err", err))
			if q.Report != nil {
				q.Report.Report(ctx, Failure{Scope: q.Scope, Actions: q.Actions, Err: err, At: c.now()})
			}
			return Result{Outcome: OutcomePermissionDenied, Err: err}
		}
		log.Warn("audit feed lookup failed", slog.Any("err", err))
		return Result{Outcome: OutcomeFeedError, Err: err}
	}

	// records is in Actions order; strict comparison keeps the first on ties.
	var latest *Record
	for _, r := range records {
		if r != nil && (latest == nil || r.CreatedAt.After(latest.CreatedAt)) {
			latest = r
		}
	}
	if latest == nil {
		return Result{Outcome: OutcomeNoMatch}
	}

	maxAge := q.MaxAge
	if maxAge <= 0 {
		maxAge = c.maxAge
	}
	if age := c.now().Sub(latest.CreatedAt); age > maxAge {
		log.Debug("latest audit record too old", slog.Duration("age", age), slog.String("action", string(latest.Action)))
		return Result{Outcome: OutcomeNoMatch}
	}
	if q.Target != "" && q.Target != latest.Target {
		log.Debug("latest audit record has another target", slog.String("target", q.Target), slog.String("record_target", latest.Target))
		return Result{Outcome: OutcomeNoMatch}
	}

	if q.Cache != nil {
		key := CacheKey{Scope: q.Scope, Action: latest.Action, Target: q.Target}
		last, ok, err := q.Cache.Last(ctx, key)
		if err != nil {
			log.Warn("audit dedup cache read failed", slog.Any("err", err))
		} else if ok && last.Equal(latest.CreatedAt) {
			log.Debug("audit record already handled", slog.String("action", string(latest.Action)))
			return Result{Outcome: OutcomeNoMatch}
		}
		if err := q.Cache.Store(ctx, key, latest.CreatedAt); err != nil {
			log.Warn("audit dedup cache write failed", slog.Any("err", err))
		}
	}

	return Result{Outcome: OutcomeMatch, Record: latest}
}

// fetch queries the feed once per action concurrently, keeping input order.
// Every fetch runs to completion so a transport error on one action cannot
// hide a permission error on another; permission errors take precedence.
func (c *Correlator) fetch(ctx context.Context, q Query) ([]*Record, error) {
	records := make([]*Record, len(q.Actions))
	errs := make([]error, len(q.Actions))
	var g errgroup.Group
	for i, action := range q.Actions {
		g.Go(func() error {
			records[i], errs[i] = c.feed.MostRecent(ctx, q.Scope, action)
			return nil
		})
	}
	_ = g.Wait()

	var first error
	for _, err := range errs {
		if errors.Is(err, ErrPermissionDenied) {
			return nil, err
		}
		if first == nil {
			first = err
		}
	}
	if first != nil {
		return nil, first
	}
	return records, nil
}

// Package retention periodically removes old mod-log entries and audit
// failures.
package retention

import (
	"context"
	"log/slog"
	"time"
)

// Policy decides what is kept.
type Policy struct {
	// KeepDays is the age in days past which rows are removed. 0 disables
	// the job.
	KeepDays int
	// DryRun logs what would be removed without deleting anything.
	DryRun bool
	// Interval between runs; defaults to six hours.
	Interval time.Duration
}

// Store is the part of the mod-log storage the job needs.
type Store interface {
	CountBefore(ctx context.Context, before time.Time) (entries, failures int64, err error)
	DeleteBefore(ctx context.Context, before time.Time) (entries, failures int64, err error)
}

// Result is the outcome of one cleanup run.
type Result struct {
	Cutoff   time.Time
	Entries  int64
	Failures int64
	DryRun   bool
}

// RunOnce applies policy once relative to now.
func RunOnce(ctx context.Context, store Store, policy Policy, now time.Time) (Result, error) {
	res := Result{Cutoff: now.Add(-time.Duration(policy.KeepDays) * 24 * time.Hour), DryRun: policy.DryRun}
	var err error
	if policy.DryRun {
		res.Entries, res.Failures, err = store.CountBefore(ctx, res.Cutoff)
	} else {
		res.Entries, res.Failures, err = store.DeleteBefore(ctx, res.Cutoff)
	}
	return res, err
}

// Start runs the cleanup now and then every policy.Interval until ctx is
// done. It returns immediately when the policy keeps everything.
func Start(ctx context.Context, store Store, policy Policy) {
	logger := slog.Default().With(slog.String("component", "retention_cleanup"), slog.Bool("dry_run", policy.DryRun))
	if policy.KeepDays <= 0 {
		logger.Info("retention job disabled (no policy configured)")
		return
	}
	if policy.Interval <= 0 {
		policy.Interval = 6 * time.Hour
	}
	logger.Info("retention job starting", slog.Int("keep_days", policy.KeepDays), slog.Duration("interval", policy.Interval))

	run := func() {
		res, err := RunOnce(ctx, store, policy, time.Now())
		if err != nil {
			logger.Warn("retention cleanup failed", slog.Any("err", err))
			return
		}
		msg := "retention cleanup complete"
		if res.DryRun {
			msg = "retention cleanup dry-run complete"
		}
		logger.Info(msg, slog.Time("cutoff", res.Cutoff), slog.Int64("entries", res.Entries), slog.Int64("failures", res.Failures))
	}

	run()
	ticker := time.NewTicker(policy.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("retention job stopped")
			return
		case <-ticker.C:
			run()
		}
	}
}

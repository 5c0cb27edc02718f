// Package oauth keeps persisted OAuth tokens fresh. It performs jittered
// checks and refreshes a token when its expiry falls within a window.
package oauth

import (
	"context"
	"log/slog"
	"math/rand"
	"strings"
	"time"
)

// RefreshFunc performs provider-specific refresh and returns (access, refresh, expiry, scope).
type RefreshFunc func(ctx context.Context, refreshToken string) (string, string, time.Time, string, error)

// Store reads and writes the token row of a provider.
type Store interface {
	GetOAuthToken(ctx context.Context, provider string) (access, refresh string, expiry time.Time, scope string, err error)
	UpsertOAuthToken(ctx context.Context, provider, access, refresh string, expiry time.Time, scope string) error
}

// RefreshOnce refreshes the token of provider when its remaining lifetime is
// at most window. It reports whether a new token was stored.
func RefreshOnce(ctx context.Context, store Store, provider string, window time.Duration, fn RefreshFunc) (bool, error) {
	_, rt, exp, scope, err := store.GetOAuthToken(ctx, provider)
	if err != nil {
		return false, err
	}
	if rt == "" || time.Until(exp) > window {
		return false, nil
	}

	ctx2, cancel := context.WithTimeout(ctx, 15*time.Second)
	newAT, newRT, newExp, newScope, err := fn(ctx2, rt)
	cancel()
	if err != nil {
		return false, err
	}
	if newRT == "" {
		newRT = rt
	}
	if newScope == "" {
		newScope = scope
	}
	if err := store.UpsertOAuthToken(ctx, provider, newAT, newRT, newExp, strings.TrimSpace(newScope)); err != nil {
		return false, err
	}
	return true, nil
}

// StartRefresher launches a goroutine that periodically checks the token of
// provider and refreshes it.
// interval: how often to wake up and check.
// window: refresh when remaining lifetime <= window.
func StartRefresher(ctx context.Context, store Store, provider string, interval, window time.Duration, fn RefreshFunc) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	log := slog.Default().With(slog.String("component", "oauth_refresher"), slog.String("provider", provider))
	// Randomize initial delay to spread load across instances.
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
	initialJitter := time.Duration(rand.Int63n(int64(interval/2) + 1))
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(initialJitter):
		}
		for {
			refreshed, err := RefreshOnce(ctx, store, provider, window, fn)
			switch {
			case err != nil && ctx.Err() == nil:
				log.Warn("token refresh failed", slog.Any("err", err))
			case refreshed:
				log.Info("token refreshed")
			}

			// ±20% jitter per iteration.
			jitterRange := int64(interval/5) + 1
			//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
			nextSleep := interval + time.Duration(rand.Int63n(jitterRange*2)-jitterRange)
			if nextSleep < interval/2 {
				nextSleep = interval / 2
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(nextSleep):
			}
		}
	}()
}

package audit

import (
	"context"
	"errors"
)

// ErrPermissionDenied is wrapped by feed errors caused by missing access to
// the audit feed.
var ErrPermissionDenied = errors.New("audit: permission denied")

// Feed returns the most recent audit record of one action kind within scope.
// It returns (nil, nil) when no such record exists.
type Feed interface {
	MostRecent(ctx context.Context, scope string, action Action) (*Record, error)
}

// FeedFunc adapts a function to Feed.
type FeedFunc func(ctx context.Context, scope string, action Action) (*Record, error)

func (f FeedFunc) MostRecent(ctx context.Context, scope string, action Action) (*Record, error) {
	return f(ctx, scope, action)
}

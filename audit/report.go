package audit

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Failure describes an audit lookup the feed refused.
type Failure struct {
	Scope   string
	Actions []Action
	Err     error
	At      time.Time
}

// Message is the human readable notice for a failure.
func (f Failure) Message() string {
	kinds := make([]string, len(f.Actions))
	for i, a := range f.Actions {
		kinds[i] = string(a)
	}
	return fmt.Sprintf("Error parsing audit log (%s): missing permissions to read the moderation log for %s. Grant the moderation:read scope to the bot.",
		strings.Join(kinds, ", "), f.Scope)
}

// Reporter delivers a visible notice about a failed lookup.
type Reporter interface {
	Report(ctx context.Context, f Failure)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(ctx context.Context, f Failure)

func (fn ReporterFunc) Report(ctx context.Context, f Failure) { fn(ctx, f) }

package modlog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/onnwee/mod-tender/audit"
	"github.com/onnwee/mod-tender/moderation"
)

// Kind is the type of a mod-log entry.
type Kind string

const (
	KindBan     Kind = "ban"
	KindTimeout Kind = "timeout"
	KindClear   Kind = "clear"
)

// Entry is one line of the mod log. Moderator and Reason are empty when no
// audit record could be attributed to the event.
type Entry struct {
	ID            string        `json:"id"`
	Channel       string        `json:"channel"`
	BroadcasterID string        `json:"broadcaster_id"`
	Kind          Kind          `json:"kind"`
	TargetID      string        `json:"target_id,omitempty"`
	TargetLogin   string        `json:"target_login,omitempty"`
	ModeratorID   string        `json:"moderator_id,omitempty"`
	ModeratorName string        `json:"moderator_name,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	Duration      time.Duration `json:"duration,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}

// Line renders the entry for chat.
func (e Entry) Line() string {
	var b strings.Builder
	switch e.Kind {
	case KindClear:
		b.WriteString("[clear] chat cleared")
	case KindTimeout:
		fmt.Fprintf(&b, "[timeout %s] %s", moderation.HumanDuration(e.Duration), e.TargetLogin)
	default:
		fmt.Fprintf(&b, "[%s] %s", e.Kind, e.TargetLogin)
	}
	if e.ModeratorName != "" {
		fmt.Fprintf(&b, " by %s", e.ModeratorName)
	}
	if e.Reason != "" {
		fmt.Fprintf(&b, ": %s", e.Reason)
	}
	return b.String()
}

// Store persists mod-log entries and audit failures.
type Store interface {
	Insert(ctx context.Context, e Entry) error
	Recent(ctx context.Context, channel string, limit int) ([]Entry, error)
	InsertFailure(ctx context.Context, f audit.Failure) error
}

package twitchapi

import (
	"context"

	"github.com/onnwee/mod-tender/audit"
)

// BannedUsersLister is the part of HelixClient AuditFeed needs.
type BannedUsersLister interface {
	GetBannedUsers(ctx context.Context, broadcasterID, userID string, first int) ([]BannedUser, error)
}

// AuditFeed serves audit records from the channel's banned users list. The
// scope is the broadcaster id. Permanent entries are bans and entries with an
// expiry are timeouts; unbans leave no trace in the list and are never found.
type AuditFeed struct {
	Helix BannedUsersLister
}

var _ audit.Feed = (*AuditFeed)(nil)

func (f *AuditFeed) MostRecent(ctx context.Context, scope string, action audit.Action) (*audit.Record, error) {
	if action != audit.ActionBan && action != audit.ActionTimeout {
		return nil, nil
	}
	banned, err := f.Helix.GetBannedUsers(ctx, scope, "", 100)
	if err != nil {
		return nil, err
	}
	var latest *BannedUser
	for i := range banned {
		b := &banned[i]
		if b.ExpiresAt.IsZero() != (action == audit.ActionBan) {
			continue
		}
		if latest == nil || b.CreatedAt.After(latest.CreatedAt) {
			latest = b
		}
	}
	if latest == nil {
		return nil, nil
	}
	return &audit.Record{
		Action:     action,
		Actor:      latest.ModeratorID,
		ActorName:  latest.ModeratorName,
		Target:     latest.UserID,
		TargetName: latest.UserLogin,
		Reason:     latest.Reason,
		CreatedAt:  latest.CreatedAt,
		ExpiresAt:  latest.ExpiresAt,
	}, nil
}

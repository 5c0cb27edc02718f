package twitchapi

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/onnwee/mod-tender/audit"
)

type stubBanned struct {
	list []BannedUser
	err  error
}

func (s stubBanned) GetBannedUsers(context.Context, string, string, int) ([]BannedUser, error) {
	return s.list, s.err
}

func TestAuditFeedMostRecent(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	feed := &AuditFeed{Helix: stubBanned{list: []BannedUser{
		{UserID: "1", CreatedAt: base, ModeratorID: "m1"},
		{UserID: "2", CreatedAt: base.Add(time.Minute), ModeratorID: "m2", Reason: "spam"},
		{UserID: "3", CreatedAt: base.Add(2 * time.Minute), ExpiresAt: base.Add(12 * time.Minute), ModeratorID: "m3"},
		{UserID: "4", CreatedAt: base.Add(-time.Hour), ExpiresAt: base, ModeratorID: "m4"},
	}}}

	tests := []struct {
		action     audit.Action
		wantTarget string
	}{
		{audit.ActionBan, "2"},
		{audit.ActionTimeout, "3"},
		{audit.ActionUnban, ""},
	}
	for _, tt := range tests {
		t.Run(string(tt.action), func(t *testing.T) {
			rec, err := feed.MostRecent(context.Background(), "100", tt.action)
			if err != nil {
				t.Fatalf("MostRecent() error = %v", err)
			}
			if tt.wantTarget == "" {
				if rec != nil {
					t.Errorf("got %+v, want nil", rec)
				}
				return
			}
			if rec == nil || rec.Target != tt.wantTarget || rec.Action != tt.action {
				t.Fatalf("got %+v, want target %s", rec, tt.wantTarget)
			}
		})
	}

	rec, _ := feed.MostRecent(context.Background(), "100", audit.ActionTimeout)
	if rec.Duration() != 10*time.Minute || rec.Actor != "m3" {
		t.Errorf("timeout record = %+v", rec)
	}
}

func TestAuditFeedPropagatesPermissionErrors(t *testing.T) {
	feed := &AuditFeed{Helix: stubBanned{err: &APIError{Endpoint: "banned_users", Status: 403}}}
	_, err := feed.MostRecent(context.Background(), "100", audit.ActionBan)
	if !errors.Is(err, audit.ErrPermissionDenied) {
		t.Errorf("err = %v, want permission denied", err)
	}
}

package moderation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeBans struct {
	mu       sync.Mutex
	banned   map[string]bool
	unbanned chan string
}

func newFakeBans() *fakeBans {
	return &fakeBans{banned: make(map[string]bool), unbanned: make(chan string, 4)}
}

func (f *fakeBans) BanUser(_ context.Context, _, _, userID string, d time.Duration, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d != 0 {
		return errors.New("tempban must use a permanent ban")
	}
	f.banned[userID] = true
	return nil
}

func (f *fakeBans) UnbanUser(_ context.Context, _, _, userID string) error {
	f.mu.Lock()
	f.banned[userID] = false
	f.mu.Unlock()
	f.unbanned <- userID
	return nil
}

func (f *fakeBans) isBanned(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.banned[id]
}

type fakeUsers map[string]string

func (f fakeUsers) GetUserID(_ context.Context, login string) (string, error) {
	if id, ok := f[login]; ok {
		return id, nil
	}
	return "", errors.New("user not found")
}

type fakeIgnorer struct {
	mu      sync.Mutex
	ignored []string
}

func (f *fakeIgnorer) Ignore(scope, target string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ignored = append(f.ignored, scope+"/"+target)
}

func TestTempBanSchedulesUnban(t *testing.T) {
	bans := newFakeBans()
	say := &fakeSayer{}
	ign := &fakeIgnorer{}
	tm := newTestTimer(t, TempBanNamespace)
	tb := NewTempBan(bans, fakeUsers{"troll": "42"}, tm, say, ign, "bot")
	cmds := NewCommands("!")
	tb.Register(cmds)

	cmds.HandleMessage(context.Background(), modMsg("!tempban @Troll 1s being rude"))
	if !bans.isBanned("42") {
		t.Fatal("user not banned")
	}
	if len(ign.ignored) != 1 || ign.ignored[0] != "100/42" {
		t.Errorf("ignored = %v", ign.ignored)
	}
	if !strings.Contains(say.Last(), "troll banned for 1 second: being rude") {
		t.Errorf("reply = %q", say.Last())
	}

	// A second tempban while the first is pending is refused.
	cmds.HandleMessage(context.Background(), modMsg("!tempban troll 1h"))
	if !strings.Contains(say.Last(), "already temporarily banned") {
		t.Errorf("duplicate reply = %q", say.Last())
	}

	select {
	case id := <-bans.unbanned:
		if id != "42" {
			t.Errorf("unbanned %s", id)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("scheduled unban did not run")
	}
	tm.Wait()
	if bans.isBanned("42") {
		t.Error("user still banned")
	}
}

func TestUnbanAbortsScheduledUnban(t *testing.T) {
	bans := newFakeBans()
	say := &fakeSayer{}
	tm := newTestTimer(t, TempBanNamespace)
	tb := NewTempBan(bans, fakeUsers{"troll": "42"}, tm, say, nil, "bot")
	cmds := NewCommands("!")
	tb.Register(cmds)

	cmds.HandleMessage(context.Background(), modMsg("!tempban troll 1h"))
	cmds.HandleMessage(context.Background(), modMsg("!unban troll"))

	if tm.Pending("100:42") {
		t.Error("scheduled unban still pending")
	}
	if bans.isBanned("42") {
		t.Error("user still banned")
	}
	if !strings.Contains(say.Last(), "troll has been unbanned") {
		t.Errorf("reply = %q", say.Last())
	}
}

func TestTempBanArgumentErrors(t *testing.T) {
	tm := newTestTimer(t, TempBanNamespace)
	say := &fakeSayer{}
	tb := NewTempBan(newFakeBans(), fakeUsers{}, tm, say, nil, "bot")
	cmds := NewCommands("!")
	tb.Register(cmds)

	tests := []struct{ in, want string }{
		{"!tempban troll", "Usage"},
		{"!tempban troll forever", "Invalid duration"},
		{"!tempban ghost 1h", "Unknown user ghost"},
		{"!unban", "Usage"},
	}
	for _, tt := range tests {
		cmds.HandleMessage(context.Background(), modMsg(tt.in))
		if !strings.Contains(say.Last(), tt.want) {
			t.Errorf("%q reply = %q, want %q", tt.in, say.Last(), tt.want)
		}
	}
	if tm.Len() != 0 {
		t.Error("failed commands scheduled work")
	}
}

package moderation

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestRemindersFire(t *testing.T) {
	say := &fakeSayer{}
	tm := newTestTimer(t, ReminderNamespace)
	r := NewReminders(tm, say)

	key := r.Add("8", "viewer", "chan", "stretch", 10*time.Millisecond)
	if key != "8.1" {
		t.Errorf("key = %q, want 8.1", key)
	}

	deadline := time.Now().Add(2 * time.Second)
	for tm.Pending(key) && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	tm.Wait()

	if say.Last() != "chan: @viewer your reminder has arrived: stretch" {
		t.Errorf("reminder message = %q", say.Last())
	}
	if len(r.List("8")) != 0 {
		t.Error("fired reminder still listed")
	}
}

func TestRemindersCommands(t *testing.T) {
	say := &fakeSayer{}
	tm := newTestTimer(t, ReminderNamespace)
	r := NewReminders(tm, say)
	cmds := NewCommands("!")
	r.Register(cmds)

	cmds.HandleMessage(context.Background(), viewerMsg("!remind 1h drink water"))
	cmds.HandleMessage(context.Background(), viewerMsg("!remind 2h stand up"))
	if tm.Len() != 2 {
		t.Fatalf("scheduled %d reminders, want 2", tm.Len())
	}

	cmds.HandleMessage(context.Background(), viewerMsg("!reminders"))
	if !strings.Contains(say.Last(), "1) in 1 hour: drink water | 2) in 2 hours: stand up") {
		t.Errorf("list = %q", say.Last())
	}

	cmds.HandleMessage(context.Background(), viewerMsg("!unremind 1"))
	if tm.Pending("8.1") || !tm.Pending("8.2") {
		t.Error("wrong reminder cancelled")
	}

	// Sequence numbers keep growing so keys never collide with live reminders.
	cmds.HandleMessage(context.Background(), viewerMsg("!remind 3h third"))
	if !tm.Pending("8.3") {
		t.Error("new reminder did not get a fresh key")
	}

	cmds.HandleMessage(context.Background(), viewerMsg("!unremind 9"))
	if !strings.Contains(say.Last(), "maximum ID: 2") {
		t.Errorf("out of range reply = %q", say.Last())
	}
}

func TestRemindersRejectBadDurations(t *testing.T) {
	say := &fakeSayer{}
	tm := newTestTimer(t, ReminderNamespace)
	r := NewReminders(tm, say)
	cmds := NewCommands("!")
	r.Register(cmds)

	for _, in := range []string{"!remind 0 nothing", "!remind never ok"} {
		cmds.HandleMessage(context.Background(), viewerMsg(in))
		if !strings.Contains(say.Last(), "positive, finite") {
			t.Errorf("%q reply = %q", in, say.Last())
		}
	}
	cmds.HandleMessage(context.Background(), viewerMsg("!unremind 1"))
	if !strings.Contains(say.Last(), "don't have any active reminders") {
		t.Errorf("reply = %q", say.Last())
	}
	if tm.Len() != 0 {
		t.Error("rejected reminders were scheduled")
	}
}

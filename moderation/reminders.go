package moderation

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/mod-tender/timer"
)

// ReminderNamespace is the timer namespace for reminders.
const ReminderNamespace = "reminder"

type reminder struct {
	key     string
	channel string
	message string
	due     time.Time
}

// Reminders lets viewers schedule a message to themselves.
type Reminders struct {
	timer *timer.Timer
	say   Sayer
	now   func() time.Time

	mu     sync.Mutex
	active map[string][]reminder // by user id, in creation order
	seq    map[string]int
}

func NewReminders(tm *timer.Timer, say Sayer) *Reminders {
	return &Reminders{
		timer:  tm,
		say:    say,
		now:    time.Now,
		active: make(map[string][]reminder),
		seq:    make(map[string]int),
	}
}

// Register adds !remind, !reminders and !unremind.
func (r *Reminders) Register(c *Commands) {
	c.Register("remind", false, r.handleAdd, "reminder")
	c.Register("reminders", false, r.handleList)
	c.Register("unremind", false, r.handleRemove)
}

// Add schedules message for userID after d and returns the reminder's key.
func (r *Reminders) Add(userID, login, channel, message string, d time.Duration) string {
	r.mu.Lock()
	r.seq[userID]++
	key := userID + "." + strconv.Itoa(r.seq[userID])
	r.active[userID] = append(r.active[userID], reminder{key: key, channel: channel, message: message, due: r.now().Add(d)})
	r.mu.Unlock()

	r.timer.Delay(d, key, timer.Func(func(context.Context) error {
		r.drop(userID, key)
		r.say.Say(channel, fmt.Sprintf("@%s your reminder has arrived: %s", login, message))
		return nil
	}))
	return key
}

// Remove cancels the n-th (1-based) active reminder of userID.
func (r *Reminders) Remove(userID string, n int) error {
	r.mu.Lock()
	list := r.active[userID]
	if len(list) == 0 {
		r.mu.Unlock()
		return fmt.Errorf("you don't have any active reminders")
	}
	if n < 1 || n > len(list) {
		r.mu.Unlock()
		return fmt.Errorf("you don't have reminder with this ID (maximum ID: %d)", len(list))
	}
	key := list[n-1].key
	r.mu.Unlock()

	r.drop(userID, key)
	r.timer.Abort(key)
	return nil
}

// List returns userID's active reminders in creation order.
func (r *Reminders) List(userID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	out := make([]string, 0, len(r.active[userID]))
	for i, rem := range r.active[userID] {
		out = append(out, fmt.Sprintf("%d) in %s: %s", i+1, HumanDuration(rem.due.Sub(now).Round(time.Second)), rem.message))
	}
	return out
}

func (r *Reminders) drop(userID, key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.active[userID]
	for i, rem := range list {
		if rem.key == key {
			r.active[userID] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(r.active[userID]) == 0 {
		delete(r.active, userID)
	}
}

func (r *Reminders) handleAdd(_ context.Context, inv Invocation) {
	msg := inv.Message
	if len(inv.Args) < 2 {
		r.say.Say(msg.Channel, "Usage: !remind <duration> <message>")
		return
	}
	d, err := ParseDuration(inv.Args[0])
	if err != nil || d <= 0 {
		r.say.Say(msg.Channel, "❌ Duration must be a positive, finite time such as 30m or 2h.")
		return
	}
	message := inv.Rest(1)
	r.Add(msg.UserID, msg.Login, msg.Channel, message, d)
	r.say.Say(msg.Channel, fmt.Sprintf("@%s you'll be reminded in %s: %s.", msg.Login, HumanDuration(d), message))
}

func (r *Reminders) handleList(_ context.Context, inv Invocation) {
	msg := inv.Message
	list := r.List(msg.UserID)
	if len(list) == 0 {
		r.say.Say(msg.Channel, fmt.Sprintf("@%s you don't have any active reminders.", msg.Login))
		return
	}
	r.say.Say(msg.Channel, fmt.Sprintf("@%s %s", msg.Login, strings.Join(list, " | ")))
}

func (r *Reminders) handleRemove(_ context.Context, inv Invocation) {
	msg := inv.Message
	if len(inv.Args) < 1 {
		r.say.Say(msg.Channel, "Usage: !unremind <id>")
		return
	}
	n, err := strconv.Atoi(inv.Args[0])
	if err != nil {
		r.say.Say(msg.Channel, "❌ Reminder ID must be a number.")
		return
	}
	if err := r.Remove(msg.UserID, n); err != nil {
		r.say.Say(msg.Channel, fmt.Sprintf("❌ Sorry, %v.", err))
		return
	}
	r.say.Say(msg.Channel, fmt.Sprintf("@%s reminder %d has been cancelled.", msg.Login, n))
}

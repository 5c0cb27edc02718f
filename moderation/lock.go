package moderation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/mod-tender/telemetry"
	"github.com/onnwee/mod-tender/timer"
	"github.com/onnwee/mod-tender/twitchapi"
)

// LockNamespace is the timer namespace for scheduled unlocks.
const LockNamespace = "channel_lock"

// LockStatus is the result of locking a channel.
type LockStatus int

const (
	Locked LockStatus = iota
	AlreadyLocked
	LockedManually
)

// UnlockStatus is the result of unlocking a channel.
type UnlockStatus int

const (
	Unlocked UnlockStatus = iota
	NotLocked
	UnlockedManually
	StillLockedManually
)

// ChatSettingsAPI reads and changes chat settings.
type ChatSettingsAPI interface {
	GetChatSettings(ctx context.Context, broadcasterID string) (*twitchapi.ChatSettings, error)
	UpdateChatSettings(ctx context.Context, broadcasterID, moderatorID string, patch twitchapi.ChatSettingsPatch) (*twitchapi.ChatSettings, error)
}

type lockedChannel struct {
	channel string
	since   time.Time
	reason  string
}

// Lock restricts a channel to emote-only chat, optionally for a limited time.
// Only locks made by the bot are tracked; a channel someone put in emote-only
// mode by hand is left to them.
type Lock struct {
	api         ChatSettingsAPI
	timer       *timer.Timer
	say         Sayer
	moderatorID string
	maxDuration time.Duration
	logger      *slog.Logger

	mu     sync.Mutex
	locked map[string]lockedChannel // by broadcaster id
}

// NewLock returns a Lock. moderatorID is the bot's user id; a positive
// maxDuration caps timed locks.
func NewLock(api ChatSettingsAPI, tm *timer.Timer, say Sayer, moderatorID string, maxDuration time.Duration) *Lock {
	return &Lock{
		api:         api,
		timer:       tm,
		say:         say,
		moderatorID: moderatorID,
		maxDuration: maxDuration,
		logger:      slog.Default().With(slog.String("component", "lock")),
		locked:      make(map[string]lockedChannel),
	}
}

func lockKey(broadcasterID string) string { return "chan:" + broadcasterID }

// Register adds !lock and !unlock.
func (l *Lock) Register(c *Commands) {
	c.Register("lock", true, l.handleLock, "silence")
	c.Register("unlock", true, l.handleUnlock, "unsilence")
}

func (l *Lock) setEmoteMode(ctx context.Context, broadcasterID string, on bool) error {
	_, err := l.api.UpdateChatSettings(ctx, broadcasterID, l.moderatorID, twitchapi.ChatSettingsPatch{EmoteMode: &on})
	return err
}

// LockChannel puts the channel in emote-only mode.
func (l *Lock) LockChannel(ctx context.Context, broadcasterID, channel, reason string) (LockStatus, error) {
	settings, err := l.api.GetChatSettings(ctx, broadcasterID)
	if err != nil {
		return 0, fmt.Errorf("get chat settings: %w", err)
	}

	l.mu.Lock()
	_, tracked := l.locked[broadcasterID]
	l.mu.Unlock()

	switch {
	case tracked && settings.EmoteMode:
		l.logger.Warn("tried to lock already locked channel", slog.String("channel", channel))
		return AlreadyLocked, nil
	case settings.EmoteMode:
		l.logger.Warn("tried to lock manually locked channel", slog.String("channel", channel))
		return LockedManually, nil
	}

	if err := l.setEmoteMode(ctx, broadcasterID, true); err != nil {
		return 0, fmt.Errorf("enable emote-only: %w", err)
	}
	l.mu.Lock()
	l.locked[broadcasterID] = lockedChannel{channel: channel, since: time.Now(), reason: reason}
	l.mu.Unlock()
	return Locked, nil
}

// UnlockChannel reverts a lock made by LockChannel.
func (l *Lock) UnlockChannel(ctx context.Context, broadcasterID string) (UnlockStatus, error) {
	settings, err := l.api.GetChatSettings(ctx, broadcasterID)
	if err != nil {
		return 0, fmt.Errorf("get chat settings: %w", err)
	}

	l.mu.Lock()
	lc, tracked := l.locked[broadcasterID]
	l.mu.Unlock()

	switch {
	case tracked && !settings.EmoteMode:
		l.logger.Warn("tried to unlock already manually unlocked channel", slog.String("channel", lc.channel))
		l.forget(broadcasterID)
		return UnlockedManually, nil
	case !settings.EmoteMode:
		return NotLocked, nil
	case !tracked:
		l.logger.Warn("tried to unlock manually locked channel", slog.String("broadcaster_id", broadcasterID))
		return StillLockedManually, nil
	}

	if err := l.setEmoteMode(ctx, broadcasterID, false); err != nil {
		return 0, fmt.Errorf("disable emote-only: %w", err)
	}
	l.forget(broadcasterID)
	return Unlocked, nil
}

func (l *Lock) forget(broadcasterID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.locked, broadcasterID)
}

// LockedChannels returns the broadcaster ids the bot currently holds locked.
func (l *Lock) LockedChannels() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.locked))
	for id := range l.locked {
		out = append(out, id)
	}
	return out
}

func (l *Lock) handleLock(ctx context.Context, inv Invocation) {
	msg := inv.Message
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "lock"), slog.String("channel", msg.Channel))

	var duration time.Duration
	reasonFrom := 0
	if len(inv.Args) > 0 {
		if d, err := ParseDuration(inv.Args[0]); err == nil && d > 0 {
			duration = d
			reasonFrom = 1
		}
	}
	reason := inv.Rest(reasonFrom)
	if reason == "" {
		reason = "No reason specified"
	}
	if l.maxDuration > 0 && duration > l.maxDuration {
		l.say.Say(msg.Channel, fmt.Sprintf("❌ Locks are limited to %s.", HumanDuration(l.maxDuration)))
		return
	}

	status, err := l.LockChannel(ctx, msg.RoomID, msg.Channel, reason)
	if err != nil {
		log.Error("lock failed", slog.Any("err", err))
		l.say.Say(msg.Channel, "❌ Failed to lock the channel.")
		return
	}
	switch status {
	case AlreadyLocked:
		l.say.Say(msg.Channel, "❌ This channel is already locked.")
		return
	case LockedManually:
		l.say.Say(msg.Channel, "❌ This channel was already put in emote-only mode manually.")
		return
	}
	log.Debug("channel locked", slog.String("by", msg.Login), slog.Duration("duration", duration))
	// A lock lifted by hand can leave the previous auto-unlock scheduled.
	l.abortScheduled(msg.RoomID)

	if duration == 0 {
		l.say.Say(msg.Channel, fmt.Sprintf("🔒 Channel locked indefinitely: %s.", reason))
		return
	}
	l.say.Say(msg.Channel, fmt.Sprintf("🔒 Channel locked for %s: %s.", HumanDuration(duration), reason))
	l.timer.Delay(duration, lockKey(msg.RoomID), &autoUnlock{lock: l, broadcasterID: msg.RoomID, channel: msg.Channel})
}

func (l *Lock) handleUnlock(ctx context.Context, inv Invocation) {
	msg := inv.Message
	status, err := l.UnlockChannel(ctx, msg.RoomID)
	if err != nil {
		telemetry.LoggerWithCorr(ctx).Error("unlock failed", slog.String("component", "lock"), slog.String("channel", msg.Channel), slog.Any("err", err))
		l.say.Say(msg.Channel, "❌ Failed to unlock the channel.")
		return
	}
	switch status {
	case Unlocked:
		l.abortScheduled(msg.RoomID)
		l.say.Say(msg.Channel, "🔓 Channel unlocked.")
	case NotLocked:
		l.say.Say(msg.Channel, "❌ This channel isn't locked.")
	case UnlockedManually:
		l.abortScheduled(msg.RoomID)
		l.say.Say(msg.Channel, "❌ This channel was already unlocked manually, no action taken.")
	case StillLockedManually:
		l.say.Say(msg.Channel, "❌ This channel was put in emote-only mode manually, you'll need to turn it off manually.")
	}
}

func (l *Lock) abortScheduled(broadcasterID string) {
	if key := lockKey(broadcasterID); l.timer.Pending(key) {
		l.timer.Abort(key)
	}
}

// Shutdown cancels scheduled unlocks and reverts every lock the bot still
// holds, posting a notice in each affected channel.
func (l *Lock) Shutdown(ctx context.Context) {
	l.timer.AbortAll()

	l.mu.Lock()
	held := make(map[string]lockedChannel, len(l.locked))
	for id, lc := range l.locked {
		held[id] = lc
	}
	l.mu.Unlock()

	for id, lc := range held {
		l.logger.Info("channel was left locked at shutdown, performing automatic unlock", slog.String("channel", lc.channel))
		l.say.Say(lc.channel, "⚠️ This channel was left locked while the bot shuts down, performing automatic unlock.")
		if _, err := l.UnlockChannel(ctx, id); err != nil {
			l.logger.Error("automatic unlock failed", slog.String("channel", lc.channel), slog.Any("err", err))
		}
	}
	l.timer.Wait()
}

// autoUnlock is the scheduled end of a timed lock. It must not abort its own
// key: the timer frees the key once Run returns.
type autoUnlock struct {
	lock          *Lock
	broadcasterID string
	channel       string
}

func (u *autoUnlock) Run(ctx context.Context) error {
	status, err := u.lock.UnlockChannel(ctx, u.broadcasterID)
	if err != nil {
		return err
	}
	switch status {
	case Unlocked:
		u.lock.say.Say(u.channel, "🔓 Channel unlocked.")
	case UnlockedManually:
		u.lock.say.Say(u.channel, "❌ This channel was already unlocked manually, no action taken.")
	}
	return nil
}

func (u *autoUnlock) Discard() {
	u.lock.logger.Debug("scheduled unlock dropped before it fired", slog.String("channel", u.channel))
}

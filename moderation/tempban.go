package moderation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/onnwee/mod-tender/telemetry"
	"github.com/onnwee/mod-tender/timer"
)

// TempBanNamespace is the timer namespace for scheduled unbans.
const TempBanNamespace = "tempban"

// BanAPI bans and unbans users.
type BanAPI interface {
	BanUser(ctx context.Context, broadcasterID, moderatorID, userID string, duration time.Duration, reason string) error
	UnbanUser(ctx context.Context, broadcasterID, moderatorID, userID string) error
}

// UserLookup resolves login names.
type UserLookup interface {
	GetUserID(ctx context.Context, login string) (string, error)
}

// Ignorer suppresses the mod-log entry for an action the bot performs itself.
type Ignorer interface {
	Ignore(scope, target string)
}

// TempBan bans users for a limited time. Twitch timeouts cap at two weeks,
// so a temporary ban is a permanent ban plus a scheduled unban.
type TempBan struct {
	api         BanAPI
	users       UserLookup
	timer       *timer.Timer
	say         Sayer
	ignore      Ignorer
	moderatorID string
}

func NewTempBan(api BanAPI, users UserLookup, tm *timer.Timer, say Sayer, ignore Ignorer, moderatorID string) *TempBan {
	return &TempBan{api: api, users: users, timer: tm, say: say, ignore: ignore, moderatorID: moderatorID}
}

func tempBanKey(broadcasterID, userID string) string { return broadcasterID + ":" + userID }

// Register adds !tempban and !unban.
func (b *TempBan) Register(c *Commands) {
	c.Register("tempban", true, b.handleTempBan)
	c.Register("unban", true, b.handleUnban)
}

// Ban bans userID now and schedules the unban after d.
func (b *TempBan) Ban(ctx context.Context, broadcasterID, channel, userID, login string, d time.Duration, reason string) error {
	key := tempBanKey(broadcasterID, userID)
	if b.timer.Pending(key) {
		return fmt.Errorf("%s is already temporarily banned", login)
	}
	if b.ignore != nil {
		b.ignore.Ignore(broadcasterID, userID)
	}
	if err := b.api.BanUser(ctx, broadcasterID, b.moderatorID, userID, 0, reason); err != nil {
		return fmt.Errorf("ban %s: %w", login, err)
	}
	b.timer.Delay(d, key, &scheduledUnban{ban: b, broadcasterID: broadcasterID, channel: channel, userID: userID, login: login})
	return nil
}

// Unban lifts a ban now and cancels a pending scheduled unban.
func (b *TempBan) Unban(ctx context.Context, broadcasterID, userID string) error {
	if key := tempBanKey(broadcasterID, userID); b.timer.Pending(key) {
		b.timer.Abort(key)
	}
	return b.api.UnbanUser(ctx, broadcasterID, b.moderatorID, userID)
}

func (b *TempBan) handleTempBan(ctx context.Context, inv Invocation) {
	msg := inv.Message
	if len(inv.Args) < 2 {
		b.say.Say(msg.Channel, "Usage: !tempban <user> <duration> [reason]")
		return
	}
	login := strings.ToLower(strings.TrimPrefix(inv.Args[0], "@"))
	d, err := ParseDuration(inv.Args[1])
	if err != nil || d <= 0 {
		b.say.Say(msg.Channel, fmt.Sprintf("❌ Invalid duration %q.", inv.Args[1]))
		return
	}
	reason := inv.Rest(2)
	if reason == "" {
		reason = fmt.Sprintf("Temporary ban by %s", msg.Login)
	}

	userID, err := b.users.GetUserID(ctx, login)
	if err != nil {
		b.say.Say(msg.Channel, fmt.Sprintf("❌ Unknown user %s.", login))
		return
	}
	if err := b.Ban(ctx, msg.RoomID, msg.Channel, userID, login, d, reason); err != nil {
		telemetry.LoggerWithCorr(ctx).Warn("tempban failed", slog.String("component", "tempban"), slog.String("target", login), slog.Any("err", err))
		b.say.Say(msg.Channel, fmt.Sprintf("❌ %v", err))
		return
	}
	b.say.Say(msg.Channel, fmt.Sprintf("🔨 %s banned for %s: %s.", login, HumanDuration(d), reason))
}

func (b *TempBan) handleUnban(ctx context.Context, inv Invocation) {
	msg := inv.Message
	if len(inv.Args) < 1 {
		b.say.Say(msg.Channel, "Usage: !unban <user>")
		return
	}
	login := strings.ToLower(strings.TrimPrefix(inv.Args[0], "@"))
	userID, err := b.users.GetUserID(ctx, login)
	if err != nil {
		b.say.Say(msg.Channel, fmt.Sprintf("❌ Unknown user %s.", login))
		return
	}
	if err := b.Unban(ctx, msg.RoomID, userID); err != nil {
		telemetry.LoggerWithCorr(ctx).Warn("unban failed", slog.String("component", "tempban"), slog.String("target", login), slog.Any("err", err))
		b.say.Say(msg.Channel, fmt.Sprintf("❌ Failed to unban %s.", login))
		return
	}
	b.say.Say(msg.Channel, fmt.Sprintf("%s has been unbanned.", login))
}

type scheduledUnban struct {
	ban           *TempBan
	broadcasterID string
	channel       string
	userID        string
	login         string
}

func (u *scheduledUnban) Run(ctx context.Context) error {
	if err := u.ban.api.UnbanUser(ctx, u.broadcasterID, u.ban.moderatorID, u.userID); err != nil {
		return fmt.Errorf("scheduled unban of %s: %w", u.login, err)
	}
	u.ban.say.Say(u.channel, fmt.Sprintf("%s's temporary ban has expired.", u.login))
	return nil
}

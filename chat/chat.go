package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"
	"github.com/google/uuid"

	"github.com/onnwee/mod-tender/telemetry"
)

// ClearChat is a ban, a timeout, or (with an empty TargetUserID) a full chat clear.
type ClearChat struct {
	Channel        string
	RoomID         string
	TargetUserID   string
	TargetUsername string
	// Duration is zero for permanent bans and chat clears.
	Duration time.Duration
	At       time.Time
}

// Ban reports whether the event is a permanent ban.
func (c ClearChat) Ban() bool { return c.TargetUserID != "" && c.Duration == 0 }

// Message is a chat line.
type Message struct {
	ID          string
	Channel     string
	RoomID      string
	UserID      string
	Login       string
	DisplayName string
	Text        string
	Moderator   bool
	Broadcaster bool
	At          time.Time
}

// Privileged reports whether the sender may run moderation commands.
func (m Message) Privileged() bool { return m.Moderator || m.Broadcaster }

// ClearChatHandler receives ban and timeout events.
type ClearChatHandler interface {
	HandleClearChat(ctx context.Context, ev ClearChat)
}

// MessageHandler receives chat lines.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg Message)
}

// ircClient is the subset of *twitch.Client the bot drives.
type ircClient interface {
	OnConnect(func())
	OnPrivateMessage(func(twitch.PrivateMessage))
	OnClearChatMessage(func(twitch.ClearChatMessage))
	Join(channels ...string)
	Say(channel, text string)
	Connect() error
	Disconnect() error
}

// Bot owns the IRC connection.
type Bot struct {
	client   ircClient
	channels []string
	logger   *slog.Logger

	mu            sync.RWMutex
	clearHandlers []ClearChatHandler
	msgHandlers   []MessageHandler
	ctx           context.Context

	wg sync.WaitGroup
}

// NewBot creates a bot for username/oauth that will join channels. The
// token is accepted with or without its "oauth:" prefix.
func NewBot(username, oauth string, channels []string) *Bot {
	return newBot(twitch.NewClient(username, ircPassword(oauth)), channels)
}

func ircPassword(token string) string {
	if strings.HasPrefix(token, "oauth:") {
		return token
	}
	return "oauth:" + token
}

func newBot(client ircClient, channels []string) *Bot {
	b := &Bot{
		client: client,
		logger: slog.Default().With(slog.String("component", "chat")),
		ctx:    context.Background(),
	}
	for _, c := range channels {
		if c = normalizeChannel(c); c != "" {
			b.channels = append(b.channels, c)
		}
	}
	client.OnConnect(func() {
		b.logger.Info("connected to twitch chat", slog.Any("channels", b.channels))
	})
	client.OnClearChatMessage(func(m twitch.ClearChatMessage) { b.dispatchClearChat(FromClearChat(m)) })
	client.OnPrivateMessage(func(m twitch.PrivateMessage) { b.dispatchMessage(FromPrivateMessage(m)) })
	return b
}

// Channels returns the joined channel names.
func (b *Bot) Channels() []string { return append([]string(nil), b.channels...) }

// OnClearChat registers h for ban and timeout events.
func (b *Bot) OnClearChat(h ClearChatHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clearHandlers = append(b.clearHandlers, h)
}

// OnMessage registers h for chat lines.
func (b *Bot) OnMessage(h MessageHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgHandlers = append(b.msgHandlers, h)
}

// Say sends text to channel.
func (b *Bot) Say(channel, text string) {
	channel = normalizeChannel(channel)
	if channel == "" || text == "" {
		return
	}
	b.client.Say(channel, text)
}

// Start joins the channels and blocks until ctx is cancelled or the
// connection fails. In-flight handlers are waited for before returning.
func (b *Bot) Start(ctx context.Context) error {
	b.mu.Lock()
	b.ctx = ctx
	b.mu.Unlock()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			if err := b.client.Disconnect(); err != nil {
				b.logger.Debug("twitch chat disconnect", slog.Any("err", err))
			}
		case <-done:
		}
	}()

	b.client.Join(b.channels...)
	err := b.client.Connect()
	b.wg.Wait()
	if ctx.Err() != nil || errors.Is(err, twitch.ErrClientDisconnected) {
		return nil
	}
	return err
}

func (b *Bot) eventContext() context.Context {
	b.mu.RLock()
	parent := b.ctx
	b.mu.RUnlock()
	return telemetry.WithCorrelation(parent, uuid.NewString())
}

func (b *Bot) dispatchClearChat(ev ClearChat) {
	kind := "clearchat"
	switch {
	case ev.TargetUserID == "":
	case ev.Duration > 0:
		kind = "timeout"
	default:
		kind = "ban"
	}
	telemetry.ChatEvent(kind)

	b.mu.RLock()
	handlers := append([]ClearChatHandler(nil), b.clearHandlers...)
	b.mu.RUnlock()
	for _, h := range handlers {
		b.run(func(ctx context.Context) { h.HandleClearChat(ctx, ev) })
	}
}

func (b *Bot) dispatchMessage(msg Message) {
	telemetry.ChatEvent("privmsg")

	b.mu.RLock()
	handlers := append([]MessageHandler(nil), b.msgHandlers...)
	b.mu.RUnlock()
	for _, h := range handlers {
		b.run(func(ctx context.Context) { h.HandleMessage(ctx, msg) })
	}
}

func (b *Bot) run(fn func(ctx context.Context)) {
	ctx := b.eventContext()
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				telemetry.LoggerWithCorr(ctx).Error("chat handler panicked", slog.String("component", "chat"), slog.Any("panic", r))
			}
		}()
		fn(ctx)
	}()
}

// FromClearChat converts an IRC CLEARCHAT notice.
func FromClearChat(m twitch.ClearChatMessage) ClearChat {
	return ClearChat{
		Channel:        m.Channel,
		RoomID:         m.RoomID,
		TargetUserID:   m.TargetUserID,
		TargetUsername: m.TargetUsername,
		Duration:       time.Duration(m.BanDuration) * time.Second,
		At:             m.Time,
	}
}

// FromPrivateMessage converts an IRC PRIVMSG.
func FromPrivateMessage(m twitch.PrivateMessage) Message {
	_, mod := m.User.Badges["moderator"]
	_, owner := m.User.Badges["broadcaster"]
	return Message{
		ID:          m.ID,
		Channel:     m.Channel,
		RoomID:      m.RoomID,
		UserID:      m.User.ID,
		Login:       m.User.Name,
		DisplayName: m.User.DisplayName,
		Text:        m.Message,
		Moderator:   mod || m.Tags["mod"] == "1",
		Broadcaster: owner || (m.RoomID != "" && m.RoomID == m.User.ID),
		At:          m.Time,
	}
}

func normalizeChannel(c string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(c), "#"))
}

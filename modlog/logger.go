// Package modlog writes an audit-annotated log of bans, timeouts and chat
// clears. Each event seen in chat is matched against the moderation feed to
// find who did it and why.
package modlog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/mod-tender/audit"
	"github.com/onnwee/mod-tender/chat"
	"github.com/onnwee/mod-tender/telemetry"
)

// DefaultIgnoreWindow bounds how long an Ignore call waits for its event.
const DefaultIgnoreWindow = 30 * time.Second

// Finder looks up the audit record behind an event.
type Finder interface {
	FindMatching(ctx context.Context, q audit.Query) audit.Result
}

// Sayer posts to a chat channel.
type Sayer interface {
	Say(channel, text string)
}

type ignoreKey struct{ scope, target string }

// Logger turns CLEARCHAT events into mod-log entries.
type Logger struct {
	finder       Finder
	store        Store
	say          Sayer
	cache        audit.Cache
	channel      string
	maxAge       time.Duration
	ignoreWindow time.Duration
	logger       *slog.Logger
	now          func() time.Time

	mu      sync.Mutex
	ignored map[ignoreKey]time.Time
}

// Option configures a Logger.
type Option func(*Logger)

// WithChannel sends announcements and failure notices to one channel instead
// of the channel the event happened in.
func WithChannel(channel string) Option {
	return func(l *Logger) { l.channel = channel }
}

// WithCache sets the dedup cache passed to every lookup.
func WithCache(c audit.Cache) Option {
	return func(l *Logger) { l.cache = c }
}

// WithMaxAge overrides the correlator's default freshness window.
func WithMaxAge(d time.Duration) Option {
	return func(l *Logger) { l.maxAge = d }
}

func WithLogger(lg *slog.Logger) Option {
	return func(l *Logger) {
		if lg != nil {
			l.logger = lg
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Logger) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLogger returns a Logger. store and say may be nil.
func NewLogger(finder Finder, store Store, say Sayer, opts ...Option) *Logger {
	l := &Logger{
		finder:       finder,
		store:        store,
		say:          say,
		cache:        audit.NewMemoryCache(),
		ignoreWindow: DefaultIgnoreWindow,
		logger:       slog.Default(),
		now:          time.Now,
		ignored:      make(map[ignoreKey]time.Time),
	}
	for _, o := range opts {
		o(l)
	}
	l.logger = l.logger.With(slog.String("component", "modlog"))
	return l
}

// Ignore skips the next event for target in scope. The bot calls it before
// acting itself so its own actions are not logged twice. Entries whose action
// never produced an event are dropped once they fall outside the window.
func (l *Logger) Ignore(scope, target string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for k, at := range l.ignored {
		if now.Sub(at) > l.ignoreWindow {
			delete(l.ignored, k)
		}
	}
	l.ignored[ignoreKey{scope, target}] = now
}

func (l *Logger) consumeIgnore(scope, target string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := ignoreKey{scope, target}
	at, ok := l.ignored[k]
	if !ok {
		return false
	}
	delete(l.ignored, k)
	return l.now().Sub(at) <= l.ignoreWindow
}

// HandleClearChat implements chat.ClearChatHandler.
func (l *Logger) HandleClearChat(ctx context.Context, ev chat.ClearChat) {
	log := l.logger.With(slog.String("channel", ev.Channel))
	if corr := telemetry.GetCorrelation(ctx); corr != "" {
		log = log.With(slog.String("corr", corr))
	}

	at := ev.At
	if at.IsZero() {
		at = l.now()
	}
	e := Entry{
		ID:            uuid.NewString(),
		Channel:       ev.Channel,
		BroadcasterID: ev.RoomID,
		TargetID:      ev.TargetUserID,
		TargetLogin:   ev.TargetUsername,
		Duration:      ev.Duration,
		CreatedAt:     at,
	}

	switch {
	case ev.TargetUserID == "":
		e.Kind = KindClear
		l.record(ctx, log, e)
		return
	case l.consumeIgnore(ev.RoomID, ev.TargetUserID):
		log.Debug("skipping event caused by the bot", slog.String("target", ev.TargetUsername))
		return
	case ev.Ban():
		e.Kind = KindBan
	default:
		e.Kind = KindTimeout
	}

	action := audit.ActionTimeout
	if e.Kind == KindBan {
		action = audit.ActionBan
	}
	res := l.finder.FindMatching(ctx, audit.Query{
		Scope:   ev.RoomID,
		Actions: []audit.Action{action},
		Target:  ev.TargetUserID,
		MaxAge:  l.maxAge,
		Cache:   l.cache,
		Report:  l.reporter(ev.Channel),
	})
	if r := res.Found(); r != nil {
		e.ModeratorID = r.Actor
		e.ModeratorName = r.ActorName
		e.Reason = r.Reason
		if e.TargetLogin == "" {
			e.TargetLogin = r.TargetName
		}
	} else {
		log.Debug("no audit record for event", slog.String("target", ev.TargetUsername), slog.String("outcome", res.Outcome.String()))
	}
	l.record(ctx, log, e)
}

func (l *Logger) record(ctx context.Context, log *slog.Logger, e Entry) {
	if l.store != nil {
		if err := l.store.Insert(ctx, e); err != nil {
			log.Error("persist mod-log entry", slog.String("kind", string(e.Kind)), slog.Any("err", err))
		}
	}
	log.Info("mod-log entry", slog.String("kind", string(e.Kind)), slog.String("target", e.TargetLogin), slog.String("moderator", e.ModeratorName))
	if l.say != nil {
		l.say.Say(l.target(e.Channel), e.Line())
	}
}

func (l *Logger) target(channel string) string {
	if l.channel != "" {
		return l.channel
	}
	return channel
}

// reporter posts permission failures to the mod-log channel and keeps them
// for the admin API.
func (l *Logger) reporter(channel string) audit.Reporter {
	return audit.ReporterFunc(func(ctx context.Context, f audit.Failure) {
		l.logger.Warn("audit lookup refused", slog.String("scope", f.Scope), slog.Any("err", f.Err))
		if l.say != nil {
			l.say.Say(l.target(channel), "⚠️ "+f.Message())
		}
		if l.store != nil {
			if err := l.store.InsertFailure(ctx, f); err != nil {
				l.logger.Error("persist audit failure", slog.Any("err", err))
			}
		}
	})
}

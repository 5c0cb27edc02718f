// Command mod-tender is the moderation bot and its HTTP surface.
// It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Joins the configured Twitch channels and serves the chat commands
//     (!lock, !tempban, !remind and friends) backed by named timers.
//   - Writes a mod log for every ban, timeout and clear, attributed through
//     the audit correlator.
//   - Keeps the moderator OAuth token fresh and exposes /healthz, /status,
//     /modlog, /metrics and the admin endpoints.
//
// Shutdown is graceful on SIGINT/SIGTERM: scheduled work is aborted and
// channels the bot locked are unlocked before exit.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/onnwee/mod-tender/audit"
	"github.com/onnwee/mod-tender/audit/rediscache"
	"github.com/onnwee/mod-tender/chat"
	"github.com/onnwee/mod-tender/config"
	"github.com/onnwee/mod-tender/crypto"
	"github.com/onnwee/mod-tender/db"
	"github.com/onnwee/mod-tender/moderation"
	"github.com/onnwee/mod-tender/modlog"
	"github.com/onnwee/mod-tender/oauth"
	"github.com/onnwee/mod-tender/retention"
	"github.com/onnwee/mod-tender/server"
	"github.com/onnwee/mod-tender/telemetry"
	"github.com/onnwee/mod-tender/timer"
	"github.com/onnwee/mod-tender/twitchapi"
)

func setupLogging() {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT"))
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		format = "text"
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", format))
}

func main() {
	// Local dev convenience only; production relies on real env.
	_ = godotenv.Load(".env")
	setupLogging()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()
	shutdownTracing, err := telemetry.InitTracing("mod-tender", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdownTracing()

	database, err := db.Connect(cfg.DBDsn)
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()
	if err := db.Setup(database); err != nil {
		slog.Error("failed to migrate db", slog.Any("err", err))
		os.Exit(1)
	}

	var enc crypto.Encryptor
	if cfg.EncryptionKey != "" {
		aes, err := crypto.NewAESEncryptor(cfg.EncryptionKey)
		if err != nil {
			slog.Error("invalid ENCRYPTION_KEY", slog.Any("err", err))
			os.Exit(1)
		}
		enc = aes
	}
	tokens := db.NewTokenStore(database, enc)
	modLogStore := &db.ModLogStore{DB: database}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	oauth.StartRefresher(ctx, tokens, twitchapi.ProviderTwitch, 5*time.Minute, 15*time.Minute, func(rctx context.Context, refreshToken string) (string, string, time.Time, string, error) {
		res, err := twitchapi.RefreshToken(rctx, cfg.TwitchClientID, cfg.TwitchClientSecret, refreshToken)
		if err != nil {
			return "", "", time.Time{}, "", err
		}
		return res.AccessToken, res.RefreshToken, twitchapi.ComputeExpiry(res.ExpiresIn), strings.Join(res.Scope, " "), nil
	})

	go retention.Start(ctx, modLogStore, retention.Policy{
		KeepDays: cfg.RetentionKeepDays,
		DryRun:   cfg.RetentionDryRun,
		Interval: cfg.RetentionInterval,
	})

	helix := &twitchapi.HelixClient{
		AppTokenSource: &twitchapi.TokenSource{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret},
		UserToken:      (&twitchapi.UserTokenSource{Store: tokens, Provider: twitchapi.ProviderTwitch}).Token,
		ClientID:       cfg.TwitchClientID,
		Limiter:        rate.NewLimiter(rate.Limit(cfg.HelixRateLimit), cfg.HelixRateBurst),
	}

	cache, closeCache := newAuditCache(ctx, cfg, database)
	defer closeCache()
	correlator := audit.NewCorrelator(&twitchapi.AuditFeed{Helix: helix}, audit.WithDefaultMaxAge(cfg.AuditMaxAge))

	lockTimer := timer.New(moderation.LockNamespace)
	banTimer := timer.New(moderation.TempBanNamespace)
	reminderTimer := timer.New(moderation.ReminderNamespace)
	timers := []*timer.Timer{lockTimer, banTimer, reminderTimer}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.TwitchOAuthToken == "" {
		if access, _, _, _, err := tokens.GetOAuthToken(ctx, twitchapi.ProviderTwitch); err != nil {
			slog.Warn("could not read stored twitch token for chat", slog.Any("err", err))
		} else if access != "" {
			cfg.TwitchOAuthToken = access
			slog.Info("using stored moderator token for chat", slog.String("component", "chat"))
		}
	}

	var lock *moderation.Lock
	if err := cfg.ValidateChatReady(); err != nil {
		slog.Info("chat bot disabled", slog.Any("err", err))
	} else {
		bot := chat.NewBot(cfg.TwitchBotUsername, cfg.TwitchOAuthToken, cfg.TwitchChannels)

		modLogger := modlog.NewLogger(correlator, modLogStore, bot,
			modlog.WithChannel(cfg.ModLogChannel),
			modlog.WithCache(cache),
			modlog.WithMaxAge(cfg.AuditMaxAge))
		bot.OnClearChat(modLogger)

		commands := moderation.NewCommands(cfg.CommandPrefix)
		moderation.NewReminders(reminderTimer, bot).Register(commands)

		if err := cfg.ValidateHelixReady(); err != nil {
			slog.Warn("moderation commands disabled", slog.Any("err", err))
		} else if botID, err := resolveBotID(ctx, helix, cfg.TwitchBotUsername); err != nil {
			slog.Warn("moderation commands disabled, bot user lookup failed", slog.Any("err", err))
		} else {
			lock = moderation.NewLock(helix, lockTimer, bot, botID, cfg.LockMaxDuration)
			lock.Register(commands)
			moderation.NewTempBan(helix, helix, banTimer, bot, modLogger, botID).Register(commands)
		}
		bot.OnMessage(commands)
		slog.Info("chat commands registered", slog.Any("commands", commands.Names()))

		g.Go(func() error { return bot.Start(gctx) })
	}

	g.Go(func() error {
		return server.Start(gctx, server.Deps{
			Config:   cfg,
			DB:       database,
			Tokens:   tokens,
			ModLog:   modLogStore,
			Timers:   timers,
			Exchange: twitchapi.ExchangeAuthCode,
		})
	})

	if err := g.Wait(); err != nil {
		slog.Error("shutting down after error", slog.Any("err", err))
	}
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if lock != nil {
		lock.Shutdown(shutdownCtx)
	}
	for _, tm := range timers {
		tm.AbortAll()
		tm.Wait()
	}
}

func resolveBotID(ctx context.Context, helix *twitchapi.HelixClient, login string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return helix.GetUserID(ctx, login)
}

// newAuditCache builds the dedup cache named by AUDIT_CACHE and starts its
// pruning loop. The returned func releases its resources.
func newAuditCache(ctx context.Context, cfg *config.Config, database *sql.DB) (audit.Cache, func()) {
	switch cfg.AuditCache {
	case config.CacheRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		rc := rediscache.New(client, rediscache.DefaultPrefix, cfg.AuditCacheTTL)
		if err := rc.Ping(ctx); err != nil {
			slog.Warn("redis audit cache unreachable, lookups will not be deduplicated until it recovers", slog.Any("err", err))
		}
		return rc, func() { _ = client.Close() }
	case config.CachePostgres:
		pc := &db.AuditCache{DB: database}
		go pruneLoop(ctx, cfg.AuditCacheTTL, func(before time.Time) {
			if n, err := pc.Prune(ctx, before); err != nil {
				slog.Warn("audit cache prune failed", slog.String("component", "audit_cache"), slog.Any("err", err))
			} else if n > 0 {
				slog.Debug("audit cache pruned", slog.String("component", "audit_cache"), slog.Int64("removed", n))
			}
		})
		return pc, func() {}
	default:
		mc := audit.NewMemoryCache()
		go pruneLoop(ctx, cfg.AuditCacheTTL, func(before time.Time) { mc.Prune(before) })
		return mc, func() {}
	}
}

func pruneLoop(ctx context.Context, ttl time.Duration, prune func(before time.Time)) {
	if ttl <= 0 {
		ttl = rediscache.DefaultTTL
	}
	t := time.NewTicker(ttl / 4)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			prune(now.Add(-ttl))
		}
	}
}

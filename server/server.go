// Package server exposes the HTTP API: health, status, metrics, the mod log
// and admin task controls. It injects correlation IDs into request contexts
// for consistent logging.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/mod-tender/config"
	"github.com/onnwee/mod-tender/modlog"
	"github.com/onnwee/mod-tender/telemetry"
	"github.com/onnwee/mod-tender/timer"
	"github.com/onnwee/mod-tender/twitchapi"
)

// Pinger reports database reachability. *sql.DB satisfies it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// TokenStore reads and writes the moderator's OAuth token.
type TokenStore interface {
	GetOAuthToken(ctx context.Context, provider string) (access, refresh string, expiry time.Time, scope string, err error)
	UpsertOAuthToken(ctx context.Context, provider, access, refresh string, expiry time.Time, scope string) error
}

// ExchangeFunc trades an authorization code for tokens.
type ExchangeFunc func(ctx context.Context, clientID, clientSecret, code, redirectURI string) (*twitchapi.AuthCodeExchangeResult, error)

// Deps are the collaborators of the HTTP handlers. DB, Tokens and ModLog
// may be nil, which disables the checks and endpoints that need them.
type Deps struct {
	Config   *config.Config
	DB       Pinger
	Tokens   TokenStore
	ModLog   modlog.Store
	Timers   []*timer.Timer
	Exchange ExchangeFunc
}

// NewMux returns the HTTP handler with all routes.
// The provided context bounds the rate limiter cleanup goroutine.
func NewMux(ctx context.Context, deps Deps) http.Handler {
	if deps.Config == nil {
		deps.Config = &config.Config{}
	}
	if deps.Exchange == nil {
		deps.Exchange = twitchapi.ExchangeAuthCode
	}
	cfg := deps.Config
	if !cfg.AdminAuthEnabled() {
		slog.Warn("admin authentication not configured - admin endpoints are UNPROTECTED. Set ADMIN_USERNAME+ADMIN_PASSWORD or ADMIN_TOKEN for production", slog.String("component", "http"))
	}
	limiter := newIPRateLimiter(ctx, cfg.AdminRateLimit, 0)
	h := NewHandlers(deps)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/auth/twitch/start", h.HandleTwitchOAuthStart)
	mux.HandleFunc("/auth/twitch/callback", h.HandleTwitchOAuthCallback)

	mux.HandleFunc("/healthz", h.HandleHealthz)
	mux.HandleFunc("/readyz", h.HandleReadyz)
	mux.HandleFunc("/status", h.HandleStatus)
	mux.HandleFunc("/modlog", h.HandleModLog)

	admin := http.NewServeMux()
	admin.HandleFunc("/admin/tasks", h.HandleAdminTasks)
	mux.Handle("/admin/", adminAuth(rateLimitMiddleware(admin, limiter), cfg))

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Reuse corr header if provided else generate
		corr := r.Header.Get("X-Correlation-ID")
		if corr == "" {
			corr = uuid.NewString()
		}
		ctx := telemetry.WithCorrelation(r.Context(), corr)
		w.Header().Set("X-Correlation-ID", corr)

		ctx, span := telemetry.StartSpan(ctx, "http-server", r.Method+" "+r.URL.Path,
			telemetry.HTTPMethodAttr(r.Method),
			telemetry.HTTPRouteAttr(r.URL.Path),
			telemetry.HTTPURLAttr(r.URL.String()),
		)
		defer span.End()

		telemetry.LoggerWithCorr(ctx).Debug("request start", slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.String("component", "http"))

		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		mux.ServeHTTP(rec, r.WithContext(ctx))
		telemetry.SetSpanHTTPStatus(span, rec.statusCode)
	})
	return withCORS(handler, cfg.CORSOrigins)
}

// statusRecorder wraps ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// Start runs the HTTP server and shuts down gracefully on context cancellation.
func Start(ctx context.Context, deps Deps) error {
	addr := ":8080"
	if deps.Config != nil && strings.TrimSpace(deps.Config.HTTPAddr) != "" {
		addr = deps.Config.HTTPAddr
	}
	srv := &http.Server{
		Addr:         addr,
		Handler:      NewMux(ctx, deps),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		// WithoutCancel keeps context values but lets shutdown complete
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	slog.Info("http server listening", slog.String("addr", addr), slog.String("component", "http"))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}

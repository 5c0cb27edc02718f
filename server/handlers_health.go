package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/onnwee/mod-tender/twitchapi"
)

// HandleHealthz responds to liveness probe requests by checking database connectivity.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if h.deps.DB != nil {
		if err := h.deps.DB.PingContext(r.Context()); err != nil {
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz reports ready once the database answers and a moderator
// token is stored.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func(ctx context.Context) error
	}{
		{"database", func(ctx context.Context) error {
			if h.deps.DB == nil {
				return nil
			}
			return h.deps.DB.PingContext(ctx)
		}},
		{"credentials", func(ctx context.Context) error {
			if h.deps.Tokens == nil {
				return errors.New("no token store configured")
			}
			access, _, _, _, err := h.deps.Tokens.GetOAuthToken(ctx, twitchapi.ProviderTwitch)
			if err != nil {
				return err
			}
			if access == "" {
				return errors.New("missing moderator OAuth token, visit /auth/twitch/start")
			}
			return nil
		}},
	}

	for _, check := range checks {
		if err := check.fn(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

package twitchapi

import (
	"context"
	"fmt"
	"time"

	"github.com/onnwee/mod-tender/audit"
)

// ProviderTwitch is the oauth_tokens row holding the moderator's user token.
const ProviderTwitch = "twitch"

// ErrNoUserToken means no moderator has authorized the bot yet. Moderation
// reads fail the same way a missing scope does.
var ErrNoUserToken = fmt.Errorf("twitchapi: no moderator token stored: %w", audit.ErrPermissionDenied)

// TokenStore reads persisted OAuth tokens.
type TokenStore interface {
	GetOAuthToken(ctx context.Context, provider string) (access, refresh string, expiry time.Time, scope string, err error)
}

// UserTokenSource serves the moderator token written by the OAuth callback and
// kept fresh by the refresher.
type UserTokenSource struct {
	Store    TokenStore
	Provider string
}

// Token returns the stored access token.
func (u *UserTokenSource) Token(ctx context.Context) (string, error) {
	provider := u.Provider
	if provider == "" {
		provider = ProviderTwitch
	}
	access, _, _, _, err := u.Store.GetOAuthToken(ctx, provider)
	if err != nil {
		return "", fmt.Errorf("load %s token: %w", provider, err)
	}
	if access == "" {
		return "", ErrNoUserToken
	}
	return access, nil
}

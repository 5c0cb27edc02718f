// Package twitchapi contains helpers for the Twitch Helix moderation APIs and
// the OAuth flows that authorize them.
package twitchapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/onnwee/mod-tender/audit"
	"github.com/onnwee/mod-tender/telemetry"
)

// DefaultBaseURL is the Helix API root.
const DefaultBaseURL = "https://api.twitch.tv/helix"

var (
	// ErrUnauthorized is returned for 401 responses (bad or expired token).
	ErrUnauthorized = fmt.Errorf("twitchapi: unauthorized: %w", audit.ErrPermissionDenied)
	// ErrForbidden is returned for 403 responses (missing scope or not a moderator).
	ErrForbidden = fmt.Errorf("twitchapi: forbidden: %w", audit.ErrPermissionDenied)
	// ErrNotFound is returned when a lookup has no result.
	ErrNotFound = errors.New("twitchapi: not found")
)

// APIError is a non-2xx Helix response.
type APIError struct {
	Endpoint string
	Status   int
	Message  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("helix %s: %d %s", e.Endpoint, e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	}
	return nil
}

// HelixClient calls Helix with the app token for public reads and the
// moderator's user token for moderation endpoints.
type HelixClient struct {
	AppTokenSource *TokenSource
	UserToken      func(ctx context.Context) (string, error)
	ClientID       string
	HTTPClient     *http.Client
	BaseURL        string
	Limiter        *rate.Limiter
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

func (hc *HelixClient) baseURL() string {
	if hc.BaseURL != "" {
		return hc.BaseURL
	}
	return DefaultBaseURL
}

type tokenKind int

const (
	appToken tokenKind = iota
	userToken
)

func (hc *HelixClient) token(ctx context.Context, kind tokenKind) (string, error) {
	if kind == userToken {
		if hc.UserToken == nil {
			return "", ErrNoUserToken
		}
		return hc.UserToken(ctx)
	}
	if hc.AppTokenSource == nil {
		return "", errors.New("twitchapi: no app token source")
	}
	return hc.AppTokenSource.Get(ctx)
}

// do performs one Helix request and decodes the JSON response into out when
// out is non-nil.
func (hc *HelixClient) do(ctx context.Context, endpoint, method, path string, query url.Values, kind tokenKind, body, out any) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "twitchapi", "helix."+endpoint,
		attribute.String("http.method", method))
	defer func() {
		telemetry.RecordError(span, err)
		span.End()
	}()

	if hc.Limiter != nil {
		if err := hc.Limiter.Wait(ctx); err != nil {
			return fmt.Errorf("helix %s: rate limit wait: %w", endpoint, err)
		}
	}
	tok, err := hc.token(ctx, kind)
	if err != nil {
		return err
	}

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("helix %s: encode body: %w", endpoint, err)
		}
		rdr = bytes.NewReader(b)
	}
	u := hc.baseURL() + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := hc.http().Do(req)
	if err != nil {
		telemetry.HelixRequest(endpoint, 0)
		return fmt.Errorf("helix %s: %w", endpoint, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	telemetry.HelixRequest(endpoint, resp.StatusCode)
	telemetry.SetSpanHTTPStatus(span, resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var e struct {
			Message string `json:"message"`
		}
		msg := string(b)
		if json.Unmarshal(b, &e) == nil && e.Message != "" {
			msg = e.Message
		}
		return &APIError{Endpoint: endpoint, Status: resp.StatusCode, Message: msg}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("helix %s: decode: %w", endpoint, err)
	}
	return nil
}

// User is a Helix user.
type User struct {
	ID          string `json:"id"`
	Login       string `json:"login"`
	DisplayName string `json:"display_name"`
}

// GetUserID resolves a login name to its user ID.
func (hc *HelixClient) GetUserID(ctx context.Context, login string) (string, error) {
	if login == "" {
		return "", fmt.Errorf("login empty")
	}
	u, err := hc.getUser(ctx, url.Values{"login": {login}})
	if err != nil {
		return "", err
	}
	return u.ID, nil
}

// GetUser looks a user up by ID.
func (hc *HelixClient) GetUser(ctx context.Context, id string) (*User, error) {
	if id == "" {
		return nil, fmt.Errorf("id empty")
	}
	return hc.getUser(ctx, url.Values{"id": {id}})
}

func (hc *HelixClient) getUser(ctx context.Context, q url.Values) (*User, error) {
	var body struct {
		Data []User `json:"data"`
	}
	if err := hc.do(ctx, "users", http.MethodGet, "/users", q, appToken, nil, &body); err != nil {
		return nil, err
	}
	if len(body.Data) == 0 {
		return nil, fmt.Errorf("user not found: %w", ErrNotFound)
	}
	return &body.Data[0], nil
}

// BannedUser is one entry of the channel's banned users list. ExpiresAt is
// zero for permanent bans.
type BannedUser struct {
	UserID         string
	UserLogin      string
	UserName       string
	ExpiresAt      time.Time
	CreatedAt      time.Time
	Reason         string
	ModeratorID    string
	ModeratorLogin string
	ModeratorName  string
}

// GetBannedUsers lists users banned or timed out in a channel. userID filters
// to one user when set. Requires the moderation:read scope.
func (hc *HelixClient) GetBannedUsers(ctx context.Context, broadcasterID, userID string, first int) ([]BannedUser, error) {
	if broadcasterID == "" {
		return nil, fmt.Errorf("broadcasterID empty")
	}
	if first <= 0 || first > 100 {
		first = 100
	}
	q := url.Values{"broadcaster_id": {broadcasterID}, "first": {strconv.Itoa(first)}}
	if userID != "" {
		q.Set("user_id", userID)
	}
	var body struct {
		Data []struct {
			UserID         string `json:"user_id"`
			UserLogin      string `json:"user_login"`
			UserName       string `json:"user_name"`
			ExpiresAt      string `json:"expires_at"`
			CreatedAt      string `json:"created_at"`
			Reason         string `json:"reason"`
			ModeratorID    string `json:"moderator_id"`
			ModeratorLogin string `json:"moderator_login"`
			ModeratorName  string `json:"moderator_name"`
		} `json:"data"`
	}
	if err := hc.do(ctx, "banned_users", http.MethodGet, "/moderation/banned", q, userToken, nil, &body); err != nil {
		return nil, err
	}
	out := make([]BannedUser, 0, len(body.Data))
	for _, d := range body.Data {
		created, err := time.Parse(time.RFC3339, d.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("helix banned_users: created_at %q: %w", d.CreatedAt, err)
		}
		var expires time.Time
		if d.ExpiresAt != "" {
			if expires, err = time.Parse(time.RFC3339, d.ExpiresAt); err != nil {
				return nil, fmt.Errorf("helix banned_users: expires_at %q: %w", d.ExpiresAt, err)
			}
		}
		out = append(out, BannedUser{
			UserID:         d.UserID,
			UserLogin:      d.UserLogin,
			UserName:       d.UserName,
			ExpiresAt:      expires,
			CreatedAt:      created,
			Reason:         d.Reason,
			ModeratorID:    d.ModeratorID,
			ModeratorLogin: d.ModeratorLogin,
			ModeratorName:  d.ModeratorName,
		})
	}
	return out, nil
}

// ChatSettings is the subset of chat settings moderation features touch.
type ChatSettings struct {
	BroadcasterID    string `json:"broadcaster_id"`
	EmoteMode        bool   `json:"emote_mode"`
	FollowerMode     bool   `json:"follower_mode"`
	SlowMode         bool   `json:"slow_mode"`
	SubscriberMode   bool   `json:"subscriber_mode"`
	UniqueChatMode   bool   `json:"unique_chat_mode"`
	SlowModeWaitTime *int   `json:"slow_mode_wait_time"`
}

// ChatSettingsPatch holds the fields to change; nil fields are left alone.
type ChatSettingsPatch struct {
	EmoteMode      *bool `json:"emote_mode,omitempty"`
	FollowerMode   *bool `json:"follower_mode,omitempty"`
	SlowMode       *bool `json:"slow_mode,omitempty"`
	SubscriberMode *bool `json:"subscriber_mode,omitempty"`
}

// GetChatSettings returns the channel's chat settings.
func (hc *HelixClient) GetChatSettings(ctx context.Context, broadcasterID string) (*ChatSettings, error) {
	if broadcasterID == "" {
		return nil, fmt.Errorf("broadcasterID empty")
	}
	var body struct {
		Data []ChatSettings `json:"data"`
	}
	if err := hc.do(ctx, "chat_settings", http.MethodGet, "/chat/settings", url.Values{"broadcaster_id": {broadcasterID}}, appToken, nil, &body); err != nil {
		return nil, err
	}
	if len(body.Data) == 0 {
		return nil, fmt.Errorf("chat settings: %w", ErrNotFound)
	}
	return &body.Data[0], nil
}

// UpdateChatSettings applies patch and returns the resulting settings.
// Requires moderator:manage:chat_settings.
func (hc *HelixClient) UpdateChatSettings(ctx context.Context, broadcasterID, moderatorID string, patch ChatSettingsPatch) (*ChatSettings, error) {
	if broadcasterID == "" || moderatorID == "" {
		return nil, fmt.Errorf("broadcasterID and moderatorID required")
	}
	q := url.Values{"broadcaster_id": {broadcasterID}, "moderator_id": {moderatorID}}
	var body struct {
		Data []ChatSettings `json:"data"`
	}
	if err := hc.do(ctx, "update_chat_settings", http.MethodPatch, "/chat/settings", q, userToken, patch, &body); err != nil {
		return nil, err
	}
	if len(body.Data) == 0 {
		return nil, fmt.Errorf("chat settings: %w", ErrNotFound)
	}
	return &body.Data[0], nil
}

// BanUser bans userID, or times them out when duration is positive. Helix
// takes whole seconds. Requires moderator:manage:banned_users.
func (hc *HelixClient) BanUser(ctx context.Context, broadcasterID, moderatorID, userID string, duration time.Duration, reason string) error {
	if broadcasterID == "" || moderatorID == "" || userID == "" {
		return fmt.Errorf("broadcasterID, moderatorID and userID required")
	}
	type banData struct {
		UserID   string `json:"user_id"`
		Duration int    `json:"duration,omitempty"`
		Reason   string `json:"reason,omitempty"`
	}
	payload := struct {
		Data banData `json:"data"`
	}{banData{UserID: userID, Reason: reason}}
	if duration > 0 {
		payload.Data.Duration = max(int(duration/time.Second), 1)
	}
	q := url.Values{"broadcaster_id": {broadcasterID}, "moderator_id": {moderatorID}}
	return hc.do(ctx, "ban_user", http.MethodPost, "/moderation/bans", q, userToken, payload, nil)
}

// UnbanUser lifts a ban or timeout.
func (hc *HelixClient) UnbanUser(ctx context.Context, broadcasterID, moderatorID, userID string) error {
	if broadcasterID == "" || moderatorID == "" || userID == "" {
		return fmt.Errorf("broadcasterID, moderatorID and userID required")
	}
	q := url.Values{"broadcaster_id": {broadcasterID}, "moderator_id": {moderatorID}, "user_id": {userID}}
	return hc.do(ctx, "unban_user", http.MethodDelete, "/moderation/bans", q, userToken, nil, nil)
}

package twitchapi

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func TestBuildAuthorizeURL(t *testing.T) {
	tests := []struct {
		name        string
		clientID    string
		redirectURI string
		scopes      string
		state       string
		wantErr     bool
		wantParts   []string
	}{
		{
			name:        "valid request",
			clientID:    "test-client-id",
			redirectURI: "http://localhost/callback",
			scopes:      "moderation:read moderator:manage:banned_users",
			state:       "random-state",
			wantParts:   []string{"client_id=test-client-id", "state=random-state", "scope=", "response_type=code"},
		},
		{
			name:        "empty client ID",
			redirectURI: "http://localhost/callback",
			wantErr:     true,
		},
		{
			name:     "empty redirect URI",
			clientID: "client",
			wantErr:  true,
		},
		{
			name:        "comma separated scopes",
			clientID:    "client-id",
			redirectURI: "http://localhost/callback",
			scopes:      "chat:read,moderation:read",
			state:       "state-123",
			wantParts:   []string{"client_id=client-id", "scope=chat%3Aread+moderation%3Aread"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url, err := BuildAuthorizeURL(tt.clientID, tt.redirectURI, tt.scopes, tt.state)
			if tt.wantErr {
				if err == nil {
					t.Error("BuildAuthorizeURL() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("BuildAuthorizeURL() unexpected error = %v", err)
			}
			for _, part := range tt.wantParts {
				if !strings.Contains(url, part) {
					t.Errorf("URL missing expected part %q: %s", part, url)
				}
			}
			if !strings.HasPrefix(url, "https://id.twitch.tv/oauth2/authorize") {
				t.Errorf("URL doesn't start with Twitch auth endpoint: %s", url)
			}
		})
	}
}

func withTestEndpoint(t *testing.T, handler http.HandlerFunc) {
	t.Helper()
	server := httptest.NewServer(handler)
	prev := oauthEndpoint
	oauthEndpoint = oauth2.Endpoint{
		AuthURL:   server.URL + "/authorize",
		TokenURL:  server.URL + "/token",
		AuthStyle: oauth2.AuthStyleInParams,
	}
	t.Cleanup(func() {
		oauthEndpoint = prev
		server.Close()
	})
}

func TestExchangeAuthCode(t *testing.T) {
	withTestEndpoint(t, func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.Form.Get("grant_type") != "authorization_code" || r.Form.Get("code") != "the-code" {
			t.Errorf("unexpected form %v", r.Form)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"access_token":"at","refresh_token":"rt","token_type":"bearer","expires_in":14400,"scope":["moderation:read","chat:read"]}`)
	})

	res, err := ExchangeAuthCode(context.Background(), "id", "secret", "the-code", "http://localhost/cb")
	if err != nil {
		t.Fatalf("ExchangeAuthCode() error = %v", err)
	}
	if res.AccessToken != "at" || res.RefreshToken != "rt" {
		t.Errorf("tokens = %+v", res)
	}
	if res.ExpiresIn < 14000 || res.ExpiresIn > 14400 {
		t.Errorf("ExpiresIn = %d", res.ExpiresIn)
	}
	if len(res.Scope) != 2 || res.Scope[0] != "moderation:read" {
		t.Errorf("Scope = %v", res.Scope)
	}
}

func TestExchangeAuthCodeMissingParams(t *testing.T) {
	if _, err := ExchangeAuthCode(context.Background(), "", "s", "c", "r"); err == nil {
		t.Error("expected error for missing client id")
	}
}

func TestRefreshToken(t *testing.T) {
	withTestEndpoint(t, func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.Form.Get("grant_type") != "refresh_token" || r.Form.Get("refresh_token") != "old-rt" {
			t.Errorf("unexpected form %v", r.Form)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"access_token":"new-at","refresh_token":"new-rt","token_type":"bearer","expires_in":3600}`)
	})

	res, err := RefreshToken(context.Background(), "id", "secret", "old-rt")
	if err != nil {
		t.Fatalf("RefreshToken() error = %v", err)
	}
	if res.AccessToken != "new-at" || res.RefreshToken != "new-rt" {
		t.Errorf("result = %+v", res)
	}
}

func TestRefreshTokenRejected(t *testing.T) {
	withTestEndpoint(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":"invalid_grant"}`)
	})
	if _, err := RefreshToken(context.Background(), "id", "secret", "bad"); err == nil || !strings.Contains(err.Error(), "twitch refresh failed") {
		t.Errorf("err = %v", err)
	}
}

func TestComputeExpiry(t *testing.T) {
	tests := []struct {
		name      string
		expiresIn int
		wantAfter time.Duration
	}{
		{"4 hours", 14400, 4 * time.Hour},
		{"zero defaults to 60 minutes", 0, 60 * time.Minute},
		{"negative defaults to 60 minutes", -100, 60 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := time.Now()
			expiry := ComputeExpiry(tt.expiresIn)
			after := time.Now()
			if expiry.Before(before.Add(tt.wantAfter)) || expiry.After(after.Add(tt.wantAfter)) {
				t.Errorf("ComputeExpiry(%d) = %v, want about now+%v", tt.expiresIn, expiry, tt.wantAfter)
			}
		})
	}
}

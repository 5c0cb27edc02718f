// Package testutil provides shared fixtures: a fake Twitch API server and a
// Postgres test database helper.
package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// MockTwitchServer fakes the Helix API under /helix and the token endpoint
// under /oauth2/token. It records every request path.
type MockTwitchServer struct {
	*httptest.Server

	mu       sync.Mutex
	handlers map[string]http.HandlerFunc
	requests []Request
}

// Request is a recorded call.
type Request struct {
	Method string
	Path   string
	Query  string
	Body   string
	Auth   string
}

// NewMockTwitchServer creates a new mock Twitch API server.
func NewMockTwitchServer(t *testing.T) *MockTwitchServer {
	t.Helper()
	m := &MockTwitchServer{handlers: make(map[string]http.HandlerFunc)}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewReader(body))
		m.mu.Lock()
		m.requests = append(m.requests, Request{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Body: string(body), Auth: r.Header.Get("Authorization")})
		h, ok := m.handlers[r.Method+" "+r.URL.Path]
		if !ok {
			h, ok = m.handlers[r.URL.Path]
		}
		m.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		h(w, r)
	}))
	t.Cleanup(m.Close)
	return m
}

// HelixURL is the base URL to give a Helix client.
func (m *MockTwitchServer) HelixURL() string { return m.URL + "/helix" }

// TokenURL is the token endpoint to give a token source.
func (m *MockTwitchServer) TokenURL() string { return m.URL + "/oauth2/token" }

// Handle registers h for pattern, which is a path optionally prefixed with a
// method ("PATCH /helix/chat/settings").
func (m *MockTwitchServer) Handle(pattern string, h http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[pattern] = h
}

// Requests returns the recorded calls.
func (m *MockTwitchServer) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

func writeData(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"data": data}) //nolint:errcheck // test mock response
}

// MockUserResponse answers /helix/users with one user.
func (m *MockTwitchServer) MockUserResponse(userID, login string) {
	m.Handle("/helix/users", func(w http.ResponseWriter, r *http.Request) {
		writeData(w, []map[string]string{{"id": userID, "login": login, "display_name": login}})
	})
}

// BannedEntry is one row of the banned users list. A zero ExpiresAt is a
// permanent ban.
type BannedEntry struct {
	UserID, UserLogin    string
	ModeratorID, ModName string
	Reason               string
	CreatedAt, ExpiresAt time.Time
}

// MockBannedUsers answers GET /helix/moderation/banned with entries.
func (m *MockTwitchServer) MockBannedUsers(entries ...BannedEntry) {
	m.Handle("GET /helix/moderation/banned", func(w http.ResponseWriter, r *http.Request) {
		data := make([]map[string]string, 0, len(entries))
		for _, e := range entries {
			if uid := r.URL.Query().Get("user_id"); uid != "" && uid != e.UserID {
				continue
			}
			exp := ""
			if !e.ExpiresAt.IsZero() {
				exp = e.ExpiresAt.UTC().Format(time.RFC3339)
			}
			data = append(data, map[string]string{
				"user_id":         e.UserID,
				"user_login":      e.UserLogin,
				"user_name":       e.UserLogin,
				"created_at":      e.CreatedAt.UTC().Format(time.RFC3339),
				"expires_at":      exp,
				"reason":          e.Reason,
				"moderator_id":    e.ModeratorID,
				"moderator_login": e.ModName,
				"moderator_name":  e.ModName,
			})
		}
		writeData(w, data)
	})
}

// MockStatus answers pattern with an error status and Helix error body.
func (m *MockTwitchServer) MockStatus(pattern string, status int, message string) {
	m.Handle(pattern, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{"status": status, "message": message}) //nolint:errcheck // test mock response
	})
}

// MockChatSettings serves GET and PATCH /helix/chat/settings from an
// in-memory emote mode flag.
func (m *MockTwitchServer) MockChatSettings(broadcasterID string, emoteMode bool) {
	var mu sync.Mutex
	state := map[string]any{"broadcaster_id": broadcasterID, "emote_mode": emoteMode}
	m.Handle("GET /helix/chat/settings", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		writeData(w, []map[string]any{state})
	})
	m.Handle("PATCH /helix/chat/settings", func(w http.ResponseWriter, r *http.Request) {
		var patch map[string]any
		_ = json.NewDecoder(r.Body).Decode(&patch)
		mu.Lock()
		defer mu.Unlock()
		for k, v := range patch {
			state[k] = v
		}
		writeData(w, []map[string]any{state})
	})
}

// MockBans accepts POST and DELETE /helix/moderation/bans.
func (m *MockTwitchServer) MockBans() {
	ok := func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeData(w, []map[string]any{{"broadcaster_id": r.URL.Query().Get("broadcaster_id")}})
	}
	m.Handle("POST /helix/moderation/bans", ok)
	m.Handle("DELETE /helix/moderation/bans", ok)
}

// MockOAuthTokenResponse answers the token endpoint.
func (m *MockTwitchServer) MockOAuthTokenResponse(accessToken string, expiresIn int) {
	m.Handle("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck // test mock response
			"access_token": accessToken,
			"expires_in":   expiresIn,
			"token_type":   "bearer",
		})
	})
}

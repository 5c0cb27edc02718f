package twitchapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTokenServer(t *testing.T, handler func(n int32, w http.ResponseWriter, r *http.Request)) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler(calls.Add(1), w, r)
	}))
	t.Cleanup(server.Close)
	return server, &calls
}

func writeToken(w http.ResponseWriter, token string, expiresIn int) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"access_token": token,
		"expires_in":   expiresIn,
		"token_type":   "bearer",
	})
}

func TestTokenSource_GetCached(t *testing.T) {
	server, calls := newTokenServer(t, func(_ int32, w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.Form.Get("grant_type") != "client_credentials" || r.Form.Get("client_id") != "test-client" {
			t.Errorf("unexpected form %v", r.Form)
		}
		writeToken(w, "test-token-123", 3600)
	})
	ts := &TokenSource{ClientID: "test-client", ClientSecret: "test-secret", TokenURL: server.URL}

	token1, err := ts.Get(context.Background())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if token1 != "test-token-123" {
		t.Errorf("Get() = %s, want test-token-123", token1)
	}
	token2, err := ts.Get(context.Background())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if token2 != token1 {
		t.Errorf("cached token = %s, want %s", token2, token1)
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 API call, got %d", calls.Load())
	}
}

func TestTokenSource_RefreshInsideBuffer(t *testing.T) {
	server, calls := newTokenServer(t, func(n int32, w http.ResponseWriter, _ *http.Request) {
		// 30s is inside the 60s refresh buffer, so every Get refreshes.
		if n == 1 {
			writeToken(w, "test-token-1", 30)
			return
		}
		writeToken(w, "test-token-2", 3600)
	})
	ts := &TokenSource{ClientID: "c", ClientSecret: "s", TokenURL: server.URL}

	if tok, _ := ts.Get(context.Background()); tok != "test-token-1" {
		t.Errorf("first Get() = %s", tok)
	}
	if tok, _ := ts.Get(context.Background()); tok != "test-token-2" {
		t.Errorf("second Get() = %s, want refreshed token", tok)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 API calls, got %d", calls.Load())
	}
}

func TestTokenSource_GetMissingCredentials(t *testing.T) {
	_, err := (&TokenSource{}).Get(context.Background())
	if err == nil || !strings.Contains(err.Error(), "missing client id/secret") {
		t.Errorf("Get() error = %v, want error about missing credentials", err)
	}
}

func TestTokenSource_GetServerError(t *testing.T) {
	server, _ := newTokenServer(t, func(_ int32, w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid_client"}`))
	})
	ts := &TokenSource{ClientID: "bad", ClientSecret: "bad", TokenURL: server.URL}

	if _, err := ts.Get(context.Background()); err == nil {
		t.Error("Get() with server error should return error")
	}
}

func TestTokenSource_ConcurrentAccess(t *testing.T) {
	server, calls := newTokenServer(t, func(_ int32, w http.ResponseWriter, _ *http.Request) {
		time.Sleep(50 * time.Millisecond)
		writeToken(w, "test-token", 3600)
	})
	ts := &TokenSource{ClientID: "c", ClientSecret: "s", TokenURL: server.URL}

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tok, err := ts.Get(context.Background()); err != nil || tok != "test-token" {
				t.Errorf("Get() = %q, %v", tok, err)
			}
		}()
	}
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("expected a single token request, got %d", calls.Load())
	}
}

type stubTokenStore struct {
	access string
	err    error
}

func (s stubTokenStore) GetOAuthToken(context.Context, string) (string, string, time.Time, string, error) {
	return s.access, "", time.Time{}, "", s.err
}

func TestUserTokenSource(t *testing.T) {
	tok, err := (&UserTokenSource{Store: stubTokenStore{access: "abc"}}).Token(context.Background())
	if err != nil || tok != "abc" {
		t.Errorf("Token() = %q, %v", tok, err)
	}
	if _, err := (&UserTokenSource{Store: stubTokenStore{}}).Token(context.Background()); err != ErrNoUserToken {
		t.Errorf("empty store err = %v, want ErrNoUserToken", err)
	}
}

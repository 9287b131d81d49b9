package credential

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestTokenEndpointRefresher_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "api-key" {
			t.Errorf("unexpected authorization header: %q", r.Header.Get("Authorization"))
		}
		if got := r.URL.Query().Get("expires_in_seconds"); got != "600" {
			t.Errorf("unexpected expires_in_seconds: %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token":"tmp-token"}`))
	}))
	defer server.Close()

	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r := NewTokenEndpointRefresher(server.URL, "api-key", 10*time.Minute)
	r.now = func() time.Time { return fixed }

	creds, err := r.Refresh(context.Background())
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if creds.Token != "tmp-token" {
		t.Fatalf("unexpected token: %s", creds.Token)
	}
	if !creds.ExpiresAt.Equal(fixed.Add(10 * time.Minute)) {
		t.Fatalf("unexpected expiry: %v", creds.ExpiresAt)
	}
}

func TestTokenEndpointRefresher_ServerTTLWins(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"token":"tmp-token","expires_in_seconds":60}`))
	}))
	defer server.Close()

	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r := NewTokenEndpointRefresher(server.URL, "api-key", 10*time.Minute)
	r.now = func() time.Time { return fixed }

	creds, err := r.Refresh(context.Background())
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !creds.ExpiresAt.Equal(fixed.Add(time.Minute)) {
		t.Fatalf("unexpected expiry: %v", creds.ExpiresAt)
	}
}

func TestTokenEndpointRefresher_Non2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	r := NewTokenEndpointRefresher(server.URL, "bad-key", time.Minute)
	if _, err := r.Refresh(context.Background()); err == nil {
		t.Fatal("expected error for non-2xx response")
	}
}

func TestTokenEndpointRefresher_EmptyToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	r := NewTokenEndpointRefresher(server.URL, "api-key", time.Minute)
	if _, err := r.Refresh(context.Background()); err == nil {
		t.Fatal("expected error for empty token")
	}
}

package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bbielsa/interviewcall/internal/domain"
)

func TestHTTPProvider_SignIn(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/v1/token" || r.URL.Query().Get("grant_type") != "password" {
			t.Errorf("unexpected request %s", r.URL)
		}
		if r.Header.Get("apikey") != "anon" {
			t.Errorf("expected apikey header")
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["email"] != "a@example.com" {
			t.Errorf("unexpected body %v", body)
		}
		w.Write([]byte(`{"access_token":"at","refresh_token":"rt","expires_in":3600,"user":{"id":"u1","email":"a@example.com"}}`))
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, "anon")
	session, err := p.SignInWithPassword(t.Context(), "a@example.com", "pw")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if session.AccessToken != "at" || session.RefreshToken != "rt" || session.User.ID != "u1" {
		t.Errorf("unexpected session %+v", session)
	}
	if session.ExpiresAt.IsZero() {
		t.Error("expected expiry set")
	}
}

func TestHTTPProvider_InvalidRefreshToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant","error_description":"Invalid Refresh Token: Refresh Token Not Found"}`))
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, "anon")
	if _, err := p.Refresh(t.Context(), "stale"); !errors.Is(err, domain.ErrInvalidRefreshToken) {
		t.Errorf("expected ErrInvalidRefreshToken, got %v", err)
	}
	if _, err := p.Refresh(t.Context(), ""); !errors.Is(err, domain.ErrInvalidRefreshToken) {
		t.Errorf("expected ErrInvalidRefreshToken for empty token, got %v", err)
	}
}

func TestHTTPProvider_ServerErrorIsNotInvalidToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, "anon")
	_, err := p.Refresh(t.Context(), "rt")
	if err == nil || errors.Is(err, domain.ErrInvalidRefreshToken) {
		t.Errorf("expected transient error, got %v", err)
	}
}

func TestHTTPProvider_SignOut(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	if err := NewHTTPProvider(srv.URL, "anon").SignOut(t.Context(), "at"); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	if auth != "Bearer at" {
		t.Errorf("expected bearer token, got %q", auth)
	}
}

package auth

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/bbielsa/interviewcall/internal/domain"
)

// fakeProvider records calls and returns canned results.
type fakeProvider struct {
	signInErr  error
	refreshErr error
	signOuts   int
	refreshes  int
}

func (p *fakeProvider) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	if p.signInErr != nil {
		return nil, p.signInErr
	}
	return &Session{
		AccessToken:  "access-" + email,
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(time.Hour),
		User:         User{ID: "u1", Email: email},
	}, nil
}

func (p *fakeProvider) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	p.refreshes++
	if p.refreshErr != nil {
		return nil, p.refreshErr
	}
	return &Session{AccessToken: "access-2", RefreshToken: "refresh-2", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (p *fakeProvider) SignOut(ctx context.Context, accessToken string) error {
	p.signOuts++
	return nil
}

func nextEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for auth event")
		return Event{}
	}
}

func TestInit_NoStoredSession(t *testing.T) {
	c := New(&fakeProvider{}, NewFileStore(filepath.Join(t.TempDir(), "session.json")))
	events, unsubscribe := c.Subscribe()
	defer unsubscribe()

	if err := c.Init(t.Context()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	ev := nextEvent(t, events)
	if ev.Type != EventInitialSession || ev.Session != nil {
		t.Errorf("expected empty initial session, got %+v", ev)
	}
}

func TestSignIn_PersistsSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	c := New(&fakeProvider{}, NewFileStore(path))
	events, unsubscribe := c.Subscribe()
	defer unsubscribe()

	if _, err := c.SignIn(t.Context(), "a@example.com", "pw"); err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if ev := nextEvent(t, events); ev.Type != EventSignedIn {
		t.Errorf("expected SIGNED_IN, got %s", ev.Type)
	}

	// A new context restores the persisted session.
	restored := New(&fakeProvider{}, NewFileStore(path))
	if err := restored.Init(t.Context()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if s := restored.Session(); s == nil || s.AccessToken != "access-a@example.com" {
		t.Errorf("expected restored session, got %+v", s)
	}
}

func TestInit_InvalidRefreshTokenSignsOut(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	store := NewFileStore(path)
	store.Save(&Session{AccessToken: "old", RefreshToken: "stale", ExpiresAt: time.Now().Add(-time.Hour)})

	provider := &fakeProvider{refreshErr: domain.ErrInvalidRefreshToken}
	c := New(provider, store)
	events, unsubscribe := c.Subscribe()
	defer unsubscribe()

	if err := c.Init(t.Context()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if c.Session() != nil {
		t.Error("expected signed out")
	}
	if ev := nextEvent(t, events); ev.Type != EventSignedOut {
		t.Errorf("expected SIGNED_OUT, got %s", ev.Type)
	}
	if stored, _ := store.Load(); stored != nil {
		t.Error("expected stored session cleared")
	}
}

func TestInit_RefreshesExpiredSession(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "session.json"))
	store.Save(&Session{AccessToken: "old", RefreshToken: "refresh-1", ExpiresAt: time.Now().Add(-time.Minute)})

	provider := &fakeProvider{}
	c := New(provider, store)
	if err := c.Init(t.Context()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if provider.refreshes != 1 {
		t.Errorf("expected one refresh, got %d", provider.refreshes)
	}
	if s := c.Session(); s == nil || s.AccessToken != "access-2" {
		t.Errorf("expected refreshed session, got %+v", s)
	}
}

func TestInit_TransientRefreshErrorReturned(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "session.json"))
	store.Save(&Session{AccessToken: "old", RefreshToken: "refresh-1", ExpiresAt: time.Now().Add(-time.Minute)})

	c := New(&fakeProvider{refreshErr: errors.New("network down")}, store)
	if err := c.Init(t.Context()); err == nil {
		t.Fatal("expected error")
	}
	if stored, _ := store.Load(); stored == nil {
		t.Error("transient failure must keep the stored session")
	}
}

func TestSignOut(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "session.json"))
	provider := &fakeProvider{}
	c := New(provider, store)
	c.SignIn(t.Context(), "a@example.com", "pw")

	if err := c.SignOut(t.Context()); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	if provider.signOuts != 1 || c.Session() != nil {
		t.Errorf("expected remote sign out and cleared session")
	}
	if stored, _ := store.Load(); stored != nil {
		t.Error("expected stored session cleared")
	}
	if err := c.SignOut(t.Context()); err != nil || provider.signOuts != 1 {
		t.Errorf("expected second SignOut to be a no-op")
	}
}

func TestSubscribe_UnsubscribeAndDispose(t *testing.T) {
	c := New(&fakeProvider{}, NewFileStore(filepath.Join(t.TempDir(), "session.json")))

	first, unsubscribe := c.Subscribe()
	second, _ := c.Subscribe()
	unsubscribe()
	unsubscribe()

	if _, ok := <-first; ok {
		t.Error("expected unsubscribed channel closed")
	}

	c.Dispose()
	if _, ok := <-second; ok {
		t.Error("expected channel closed on dispose")
	}

	late, _ := c.Subscribe()
	if _, ok := <-late; ok {
		t.Error("expected subscription after dispose to be closed")
	}
}

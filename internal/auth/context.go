// Package auth holds the user's authentication session: sign-in, sign-out,
// refresh and a change stream for subscribers.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bbielsa/interviewcall/internal/domain"

	"go.opentelemetry.io/otel/codes"
)

// EventType names an auth state change.
type EventType string

const (
	EventInitialSession EventType = "INITIAL_SESSION"
	EventSignedIn       EventType = "SIGNED_IN"
	EventSignedOut      EventType = "SIGNED_OUT"
	EventTokenRefreshed EventType = "TOKEN_REFRESHED"
)

// Event carries the session after a change; Session is nil when signed out.
type Event struct {
	Type    EventType
	Session *Session
}

// Provider is the remote authentication service.
type Provider interface {
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)
	Refresh(ctx context.Context, refreshToken string) (*Session, error)
	SignOut(ctx context.Context, accessToken string) error
}

// TokenStore persists the session between runs.
type TokenStore interface {
	Load() (*Session, error)
	Save(session *Session) error
	Clear() error
}

const refreshSkew = 30 * time.Second

// Context owns the current session. Create with New, call Init once and
// Dispose when done.
type Context struct {
	provider Provider
	store    TokenStore
	now      func() time.Time

	mu          sync.Mutex
	session     *Session
	subscribers map[int]chan Event
	nextID      int
	disposed    bool
}

func New(provider Provider, store TokenStore) *Context {
	return &Context{
		provider:    provider,
		store:       store,
		now:         time.Now,
		subscribers: make(map[int]chan Event),
	}
}

// Init restores the persisted session, refreshing it when expired. An invalid
// refresh token clears the stored session and leaves the context signed out.
func (c *Context) Init(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "auth init")
	defer span.End()

	stored, err := c.store.Load()
	if err != nil {
		logger.WarnContext(ctx, "discarding unreadable session", "error", err)
		c.clearStore(ctx)
		stored = nil
	}

	if stored != nil && stored.Expired(c.now(), refreshSkew) {
		refreshed, err := c.refresh(ctx, stored.RefreshToken)
		switch {
		case errors.Is(err, domain.ErrInvalidRefreshToken):
			stored = nil
		case err != nil:
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		default:
			stored = refreshed
		}
	}

	c.setSession(stored)
	c.publish(Event{Type: EventInitialSession, Session: stored})
	return nil
}

// Session returns the current session, nil when signed out.
func (c *Context) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// SignIn authenticates with email and password and persists the session.
func (c *Context) SignIn(ctx context.Context, email, password string) (*Session, error) {
	ctx, span := tracer.Start(ctx, "auth sign in")
	defer span.End()

	session, err := c.provider.SignInWithPassword(ctx, email, password)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("sign in: %w", err)
	}
	if err := c.store.Save(session); err != nil {
		logger.WarnContext(ctx, "persist session failed", "error", err)
	}

	c.setSession(session)
	c.publish(Event{Type: EventSignedIn, Session: session})
	return session, nil
}

// SignOut revokes the session remotely (best effort) and clears it locally.
func (c *Context) SignOut(ctx context.Context) error {
	session := c.Session()
	if session == nil {
		return nil
	}

	var err error
	if session.AccessToken != "" {
		if err = c.provider.SignOut(ctx, session.AccessToken); err != nil {
			logger.WarnContext(ctx, "remote sign out failed", "error", err)
			err = fmt.Errorf("sign out: %w", err)
		}
	}
	c.clearStore(ctx)
	c.setSession(nil)
	c.publish(Event{Type: EventSignedOut})
	return err
}

// Refresh exchanges the refresh token for a new session.
func (c *Context) Refresh(ctx context.Context) (*Session, error) {
	session := c.Session()
	if session == nil {
		return nil, fmt.Errorf("refresh: %w", domain.ErrInvalidRefreshToken)
	}
	return c.refresh(ctx, session.RefreshToken)
}

func (c *Context) refresh(ctx context.Context, refreshToken string) (*Session, error) {
	ctx, span := tracer.Start(ctx, "auth refresh")
	defer span.End()

	session, err := c.provider.Refresh(ctx, refreshToken)
	if errors.Is(err, domain.ErrInvalidRefreshToken) {
		logger.InfoContext(ctx, "refresh token rejected, signing out")
		c.clearStore(ctx)
		c.setSession(nil)
		c.publish(Event{Type: EventSignedOut})
		return nil, err
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("refresh session: %w", err)
	}

	if err := c.store.Save(session); err != nil {
		logger.WarnContext(ctx, "persist session failed", "error", err)
	}
	c.setSession(session)
	c.publish(Event{Type: EventTokenRefreshed, Session: session})
	return session, nil
}

// Subscribe returns a stream of auth events and a function that ends the
// subscription.
func (c *Context) Subscribe() (<-chan Event, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan Event, 8)
	if c.disposed {
		close(ch)
		return ch, func() {}
	}

	id := c.nextID
	c.nextID++
	c.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if sub, ok := c.subscribers[id]; ok {
				delete(c.subscribers, id)
				close(sub)
			}
		})
	}
}

// Dispose closes every subscription. The context must not be used afterwards.
func (c *Context) Dispose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return
	}
	c.disposed = true
	for id, ch := range c.subscribers {
		close(ch)
		delete(c.subscribers, id)
	}
}

func (c *Context) setSession(session *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = session
}

func (c *Context) publish(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.subscribers {
		select {
		case ch <- ev:
		default:
			logger.Warn("auth subscriber is not draining events, dropping", "event", string(ev.Type))
		}
	}
}

func (c *Context) clearStore(ctx context.Context) {
	if err := c.store.Clear(); err != nil {
		logger.WarnContext(ctx, "clear stored session failed", "error", err)
	}
}

// Package conversation owns the single remote AI conversation backing a call.
package conversation

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bbielsa/interviewcall/internal/config"
	"github.com/bbielsa/interviewcall/internal/domain"

	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"
)

const defaultMaxCallDuration = 15 * time.Minute

// Resource resolves or creates the conversation for an interview and tears it
// down. At most one session is active at a time.
type Resource struct {
	api      domain.ConversationAPI
	personas *config.Personas
	now      func() time.Time

	enableRecording bool

	starts singleflight.Group

	mu     sync.Mutex
	active *domain.ConversationSession
	ended  map[string]bool
}

// Option configures a Resource.
type Option func(*Resource)

// WithClock overrides the time source used for creation timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Resource) { r.now = now }
}

// WithRecording asks the conversation service to record calls.
func WithRecording(enabled bool) Option {
	return func(r *Resource) { r.enableRecording = enabled }
}

// NewResource creates a Resource backed by api and the configured persona mappings.
func NewResource(api domain.ConversationAPI, personas *config.Personas, opts ...Option) *Resource {
	r := &Resource{
		api:      api,
		personas: personas,
		now:      time.Now,
		ended:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Active returns the active session, if any.
func (r *Resource) Active() *domain.ConversationSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active.Active() {
		return nil
	}
	s := *r.active
	return &s
}

// Start returns the active session or resolves a new one. Concurrent callers
// share a single in-flight creation.
func (r *Resource) Start(ctx context.Context, opts domain.StartOptions) (*domain.ConversationSession, error) {
	if s := r.Active(); s != nil {
		return s, nil
	}

	v, err, _ := r.starts.Do("start", func() (any, error) {
		if s := r.Active(); s != nil {
			return s, nil
		}

		session, err := r.resolve(ctx, opts)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.active = session
		delete(r.ended, session.ID)
		r.mu.Unlock()

		s := *session
		return &s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.ConversationSession), nil
}

func (r *Resource) resolve(ctx context.Context, opts domain.StartOptions) (*domain.ConversationSession, error) {
	if opts.ConversationURL != "" {
		session := r.fromURL(opts.ConversationURL)
		logger.InfoContext(ctx, "using pre-supplied conversation", "conversation_id", session.ID)
		return session, nil
	}

	ctx, span := tracer.Start(ctx, "start conversation")
	defer span.End()

	req, err := r.buildRequest(opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	conv, err := r.api.CreateConversation(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: %w", domain.ErrResourceCreationFailed, err)
	}

	createdAt, err := time.Parse(time.RFC3339, conv.CreatedAt)
	if err != nil {
		createdAt = r.now()
	}

	logger.InfoContext(ctx, "conversation started", "conversation_id", conv.ConversationID, "replica_id", req.ReplicaID, "persona_id", req.PersonaID)
	return &domain.ConversationSession{
		ID:        conv.ConversationID,
		URL:       conv.ConversationURL,
		PersonaID: req.PersonaID,
		Status:    domain.ConversationActive,
		CreatedAt: createdAt,
	}, nil
}

// fromURL builds a session from a pre-supplied conversation URL. The id is the
// trailing path segment; URLs without one get a time-based id.
func (r *Resource) fromURL(raw string) *domain.ConversationSession {
	now := r.now()
	return &domain.ConversationSession{
		ID:        conversationIDFromURL(raw, now),
		URL:       raw,
		Status:    domain.ConversationActive,
		CreatedAt: now,
		Synthetic: true,
	}
}

func conversationIDFromURL(raw string, now time.Time) string {
	path := raw
	if u, err := url.Parse(raw); err == nil {
		path = u.Path
	}
	path = strings.TrimRight(path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		path = path[i+1:]
	}
	if path == "" {
		return fmt.Sprintf("conv_%d", now.UnixMilli())
	}
	return path
}

func (r *Resource) buildRequest(opts domain.StartOptions) (domain.CreateConversationRequest, error) {
	mapping, err := r.mappingFor(opts.InterviewType)
	if err != nil {
		return domain.CreateConversationRequest{}, err
	}

	personaID := mapping.PersonaID
	if opts.PersonaID != "" {
		personaID = opts.PersonaID
	}
	if personaID == "" {
		return domain.CreateConversationRequest{}, fmt.Errorf("%w: no persona for interview type %q", domain.ErrConfiguration, opts.InterviewType)
	}

	maxDuration := opts.MaxCallDuration
	if maxDuration <= 0 {
		maxDuration = defaultMaxCallDuration
	}

	language := opts.Language
	applyGreenscreen := false
	if r.personas != nil {
		if language == "" {
			language = r.personas.Language
		}
		applyGreenscreen = r.personas.ApplyGreenscreen
	}

	req := domain.CreateConversationRequest{
		ReplicaID:        mapping.ReplicaID,
		PersonaID:        personaID,
		ConversationName: conversationName(opts),
		Properties: domain.ConversationProperties{
			MaxCallDuration:     int(maxDuration / time.Second),
			EnableRecording:     r.enableRecording,
			EnableTranscription: true,
			ApplyGreenscreen:    applyGreenscreen,
			Language:            language,
		},
	}
	// Custom context and greeting only apply to personas resolved from the mapping.
	if opts.PersonaID == "" {
		req.Properties.ConversationalContext = opts.ConversationalContext
		req.Properties.CustomGreeting = opts.CustomGreeting
	}
	return req, nil
}

// mappingFor picks the mapping for t, falling back to the first configured one.
func (r *Resource) mappingFor(t domain.InterviewType) (config.PersonaMapping, error) {
	if m, ok := r.personas.Lookup(t); ok {
		return m, nil
	}
	if m, ok := r.personas.First(); ok {
		logger.Warn("no persona mapping for interview type, using fallback", "interview_type", t, "fallback", m.Type)
		return m, nil
	}
	return config.PersonaMapping{}, fmt.Errorf("%w: interview type %q", domain.ErrConfiguration, t)
}

func conversationName(opts domain.StartOptions) string {
	kind := strings.ReplaceAll(string(opts.InterviewType), "_", " ")
	if kind == "" {
		kind = "mock"
	}
	name := kind + " interview"
	switch {
	case opts.Role != "" && opts.Company != "":
		name += fmt.Sprintf(" - %s at %s", opts.Role, opts.Company)
	case opts.Role != "":
		name += " - " + opts.Role
	case opts.Company != "":
		name += " - " + opts.Company
	}
	return name
}

// End ends session remotely and always clears local state. Failures are
// returned wrapped in domain.ErrTransientTeardown.
func (r *Resource) End(ctx context.Context, session *domain.ConversationSession) error {
	if session == nil {
		return nil
	}

	r.mu.Lock()
	alreadyEnded := r.ended[session.ID]
	r.ended[session.ID] = true
	if r.active != nil && r.active.ID == session.ID {
		r.active = nil
	}
	session.Status = domain.ConversationEnded
	r.mu.Unlock()

	if alreadyEnded {
		return nil
	}

	ctx, span := tracer.Start(ctx, "end conversation")
	defer span.End()

	if err := r.api.EndConversation(ctx, session.ID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.WarnContext(ctx, "ending conversation failed", "conversation_id", session.ID, "error", err)
		return fmt.Errorf("%w: %w", domain.ErrTransientTeardown, err)
	}
	return nil
}

// Teardown ends the active session for automatic cleanup. It never fails.
func (r *Resource) Teardown(ctx context.Context) {
	defer func() {
		if p := recover(); p != nil {
			logger.ErrorContext(ctx, "conversation teardown panicked", "panic", p)
		}
	}()

	r.mu.Lock()
	active := r.active
	r.mu.Unlock()

	// End logs its own failures.
	_ = r.End(ctx, active)
}

// DeletePersona removes a persona that was generated for one interview.
func (r *Resource) DeletePersona(ctx context.Context, personaID string) error {
	if personaID == "" {
		return nil
	}
	if err := r.api.DeletePersona(ctx, personaID); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrTransientTeardown, err)
	}
	return nil
}

// Package orchestrator runs one interview call: it composes media access, the
// remote conversation, the call room and a countdown into a single lifecycle.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bbielsa/interviewcall/internal/domain"
	"github.com/bbielsa/interviewcall/internal/metrics"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var (
	ErrInvalidState = errors.New("invalid call state")
	ErrClosed       = errors.New("call closed")
)

const (
	defaultMinDuration  = 20 * time.Second
	defaultCallDuration = 15 * time.Minute
	defaultTickInterval = time.Second
)

// Media is the local camera/microphone owner.
type Media interface {
	RequestPermissions(ctx context.Context) domain.MediaPermissionState
	State() domain.MediaPermissionState
	ToggleVideo() bool
	ToggleAudio() bool
	StartRecording()
	StopRecording() []byte
	Cleanup()
}

// Conversations owns the remote AI conversation.
type Conversations interface {
	Start(ctx context.Context, opts domain.StartOptions) (*domain.ConversationSession, error)
	End(ctx context.Context, session *domain.ConversationSession) error
	Teardown(ctx context.Context)
}

// Room is the call room the candidate joins.
type Room interface {
	Join(ctx context.Context, url, participantName string) error
	Leave(ctx context.Context) error
	ToggleMicrophone() error
	ToggleVideo() error
	State() domain.RoomConnectionState
	OnEvent(fn func(domain.RoomEvent))
}

// Request describes the call to prepare.
type Request struct {
	InterviewID     string
	ParticipantName string
	Options         domain.StartOptions
}

// Snapshot is the user-visible state of the call.
type Snapshot struct {
	State   domain.LifecycleState
	Failure *domain.Failure
	Session *domain.ConversationSession
	Room    domain.RoomConnectionState
	Media   domain.MediaPermissionState
	Timer   domain.SessionTimer
	Outcome domain.Outcome
}

// Orchestrator is the call lifecycle state machine.
type Orchestrator struct {
	media         Media
	conversations Conversations
	room          Room
	store         domain.InterviewStore
	feedback      domain.FeedbackPipeline

	now             func() time.Time
	tickInterval    time.Duration
	minDuration     time.Duration
	defaultDuration time.Duration
	onState         func(Snapshot)
	onComplete      func(domain.Completion)

	mu           sync.Mutex
	state        domain.LifecycleState
	failure      *domain.Failure
	request      Request
	session      *domain.ConversationSession
	timer        *countdown
	lastTimer    domain.SessionTimer
	connectedAt  time.Time
	outcome      domain.Outcome
	recording    []byte
	initializing bool
	terminating  bool
	terminated   chan struct{}
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock replaces time.Now for measuring elapsed call time.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithTickInterval sets the real time between countdown ticks.
func WithTickInterval(d time.Duration) Option {
	return func(o *Orchestrator) { o.tickInterval = d }
}

// WithMinDuration sets the shortest call that is handed to feedback. The
// bound is inclusive.
func WithMinDuration(d time.Duration) Option {
	return func(o *Orchestrator) { o.minDuration = d }
}

// WithDefaultDuration sets the countdown length when the request has none.
func WithDefaultDuration(d time.Duration) Option {
	return func(o *Orchestrator) { o.defaultDuration = d }
}

// WithStore persists the conversation and the call outcome on the interview record.
func WithStore(store domain.InterviewStore) Option {
	return func(o *Orchestrator) { o.store = store }
}

// WithFeedback sets the pipeline that receives completed calls.
func WithFeedback(feedback domain.FeedbackPipeline) Option {
	return func(o *Orchestrator) { o.feedback = feedback }
}

// WithStateListener receives a snapshot after every transition and tick.
func WithStateListener(fn func(Snapshot)) Option {
	return func(o *Orchestrator) { o.onState = fn }
}

// WithCompletionHandler receives the single completion of a call that met
// the minimum duration.
func WithCompletionHandler(fn func(domain.Completion)) Option {
	return func(o *Orchestrator) { o.onComplete = fn }
}

// New creates an Orchestrator in the initializing state.
func New(media Media, conversations Conversations, room Room, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		media:           media,
		conversations:   conversations,
		room:            room,
		now:             time.Now,
		tickInterval:    defaultTickInterval,
		minDuration:     defaultMinDuration,
		defaultDuration: defaultCallDuration,
		state:           domain.StateInitializing,
		terminated:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	room.OnEvent(o.handleRoomEvent)
	return o
}

// Initialize acquires media and resolves the conversation concurrently. The
// call is ready once both succeeded.
func (o *Orchestrator) Initialize(ctx context.Context, req Request) error {
	o.mu.Lock()
	if o.state != domain.StateInitializing || o.initializing || o.terminating {
		state := o.state
		o.mu.Unlock()
		return fmt.Errorf("%w: initialize in %s", ErrInvalidState, state)
	}
	o.initializing = true
	o.request = req
	o.failure = nil
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.initializing = false
		o.mu.Unlock()
	}()

	ctx, span := tracer.Start(ctx, "initialize call", trace.WithAttributes(
		attribute.String("interview.id", req.InterviewID),
		attribute.String("interview.type", string(req.Options.InterviewType)),
	))
	defer span.End()
	o.notify()

	var (
		mediaErr error
		convErr  error
		session  *domain.ConversationSession
		g        errgroup.Group
	)
	g.Go(func() error {
		state := o.media.State()
		if !state.Granted() {
			state = o.media.RequestPermissions(ctx)
		}
		if state.Error != nil {
			mediaErr = state.Error
		} else if !state.Granted() {
			mediaErr = domain.ErrDeviceNotFound
		}
		return mediaErr
	})
	g.Go(func() error {
		session, convErr = o.conversations.Start(ctx, req.Options)
		return convErr
	})
	g.Wait()

	o.mu.Lock()
	if o.terminating {
		o.mu.Unlock()
		// Closed while resolving: release what arrived late.
		o.conversations.Teardown(context.WithoutCancel(ctx))
		o.media.Cleanup()
		return ErrClosed
	}
	if session != nil {
		o.session = session
	}
	var failure *domain.Failure
	switch {
	case mediaErr != nil:
		failure = &domain.Failure{Kind: domain.ClassifyFailure(mediaErr), Err: mediaErr}
	case convErr != nil:
		failure = &domain.Failure{Kind: domain.ClassifyFailure(convErr), Err: convErr}
	default:
		o.state = domain.StateReady
	}
	o.failure = failure
	o.mu.Unlock()
	o.notify()

	if failure != nil {
		metrics.CallFailed(string(failure.Kind))
		span.RecordError(failure.Err)
		span.SetStatus(codes.Error, failure.Err.Error())
		logger.WarnContext(ctx, "call initialization failed", "kind", string(failure.Kind), "error", failure.Err)
		return failure.Err
	}

	o.persistConversation(ctx, req.InterviewID, session)
	logger.InfoContext(ctx, "call ready", "conversation_id", session.ID)
	return nil
}

func (o *Orchestrator) persistConversation(ctx context.Context, interviewID string, session *domain.ConversationSession) {
	if o.store == nil || interviewID == "" || session.Synthetic {
		return
	}
	if err := o.store.SaveConversation(ctx, interviewID, session.PersonaID, session.URL); err != nil {
		logger.WarnContext(ctx, "persist conversation failed", "interview_id", interviewID, "error", err)
	}
}

// Retry clears a displayed failure and runs initialization again. Media that
// was already granted is kept.
func (o *Orchestrator) Retry(ctx context.Context) error {
	o.mu.Lock()
	if o.failure == nil || o.terminating {
		o.mu.Unlock()
		return fmt.Errorf("%w: nothing to retry", ErrInvalidState)
	}
	o.failure = nil
	o.state = domain.StateInitializing
	req := o.request
	o.mu.Unlock()

	logger.InfoContext(ctx, "retrying call setup")
	return o.Initialize(ctx, req)
}

// JoinCall joins the room. It is only valid in the ready state and returns
// once the call is connected or the join failed.
func (o *Orchestrator) JoinCall(ctx context.Context) error {
	o.mu.Lock()
	if o.state != domain.StateReady || o.terminating {
		state := o.state
		o.mu.Unlock()
		return fmt.Errorf("%w: join in %s", ErrInvalidState, state)
	}
	session := o.session
	if !session.Active() {
		o.mu.Unlock()
		return fmt.Errorf("%w: no active conversation", ErrInvalidState)
	}
	o.state = domain.StateConnecting
	o.failure = nil
	name := o.request.ParticipantName
	o.mu.Unlock()
	o.notify()

	ctx, span := tracer.Start(ctx, "join call", trace.WithAttributes(
		attribute.String("conversation.id", session.ID),
	))
	defer span.End()

	err := o.room.Join(ctx, session.URL, name)
	if err == nil {
		return nil
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	o.mu.Lock()
	if o.state != domain.StateConnecting {
		o.mu.Unlock()
		return err
	}
	o.state = domain.StateReady
	failure := &domain.Failure{Kind: domain.ClassifyFailure(err), Err: err}
	o.failure = failure
	o.mu.Unlock()

	metrics.CallFailed(string(failure.Kind))
	logger.WarnContext(ctx, "join call failed", "error", err)
	o.notify()
	return err
}

func (o *Orchestrator) handleRoomEvent(ev domain.RoomEvent) {
	switch ev.Type {
	case domain.EventConnected:
		o.onConnected()
	case domain.EventLeftMeeting:
		o.mu.Lock()
		connected := o.state == domain.StateConnected
		o.mu.Unlock()
		if connected {
			logger.Info("room left while connected, ending call")
			go o.terminate(context.Background(), domain.ReasonRoomLeft)
			return
		}
	case domain.EventError:
		logger.Warn("room error", "error", ev.Err)
	}
	o.notify()
}

func (o *Orchestrator) onConnected() {
	o.mu.Lock()
	if o.state != domain.StateConnecting {
		o.mu.Unlock()
		return
	}
	o.state = domain.StateConnected
	o.connectedAt = o.now()

	total := o.request.Options.MaxCallDuration
	if total <= 0 {
		total = o.defaultDuration
	}
	o.timer = startCountdown(int(total/time.Second), o.tickInterval, o.notify, func() {
		o.terminate(context.Background(), domain.ReasonTimer)
	})
	o.mu.Unlock()

	o.media.StartRecording()
	metrics.CallStarted()
	logger.Info("call connected", "duration", total.String())
	o.notify()
}

// EndCall ends the call at the user's request.
func (o *Orchestrator) EndCall(ctx context.Context) {
	o.terminate(ctx, domain.ReasonUser)
}

// Close tears the call down from any state and waits for the teardown to
// finish. It is safe to call more than once.
func (o *Orchestrator) Close(ctx context.Context) {
	o.terminate(ctx, domain.ReasonUnmount)
}

// Done is closed once termination completed.
func (o *Orchestrator) Done() <-chan struct{} {
	return o.terminated
}

// terminate runs the teardown sequence once. Concurrent callers wait for the
// first one to finish.
func (o *Orchestrator) terminate(ctx context.Context, reason domain.TerminationReason) {
	o.mu.Lock()
	if o.terminating {
		o.mu.Unlock()
		<-o.terminated
		return
	}
	o.terminating = true
	wasConnected := o.state == domain.StateConnected
	timer := o.timer
	o.timer = nil
	var session *domain.ConversationSession
	if o.session != nil {
		s := *o.session
		session = &s
	}
	connectedAt := o.connectedAt
	req := o.request
	o.mu.Unlock()
	defer close(o.terminated)

	ctx = context.WithoutCancel(ctx)
	ctx, span := tracer.Start(ctx, "terminate call", trace.WithAttributes(
		attribute.String("call.reason", string(reason)),
	))
	defer span.End()

	if timer != nil {
		timer.Stop()
	}

	o.mu.Lock()
	if timer != nil {
		o.lastTimer = timer.Snapshot()
	}
	o.state = domain.StateEnded
	o.mu.Unlock()
	o.notify()

	if err := o.room.Leave(ctx); err != nil {
		logger.WarnContext(ctx, "leave room failed", "error", err)
	}

	if session != nil {
		if err := o.conversations.End(ctx, session); err != nil {
			logger.WarnContext(ctx, "end conversation failed", "conversation_id", session.ID, "error", err)
		}
		o.mu.Lock()
		o.session = session
		o.mu.Unlock()
	} else {
		o.conversations.Teardown(ctx)
	}

	recording := o.media.StopRecording()
	o.media.Cleanup()

	outcome := domain.OutcomeNone
	if wasConnected {
		elapsed := int(o.now().Sub(connectedAt) / time.Second)
		metrics.CallTerminated(string(reason), elapsed)
		outcome = o.finish(ctx, req, session, elapsed, reason)
	}

	o.mu.Lock()
	o.recording = recording
	o.outcome = outcome
	o.mu.Unlock()

	logger.InfoContext(ctx, "call ended", "reason", string(reason), "outcome", string(outcome))
	o.notify()
}

// finish hands a call that met the minimum duration to feedback, or records
// it as too short.
func (o *Orchestrator) finish(ctx context.Context, req Request, session *domain.ConversationSession, elapsed int, reason domain.TerminationReason) domain.Outcome {
	minSeconds := int(o.minDuration / time.Second)
	if elapsed < minSeconds {
		metrics.CallTooShort()
		if o.store != nil && req.InterviewID != "" {
			msg := fmt.Sprintf("Interview ended after %d seconds, below the %d second minimum for feedback", elapsed, minSeconds)
			if err := o.store.MarkTooShort(ctx, req.InterviewID, elapsed, msg); err != nil {
				logger.WarnContext(ctx, "mark interview too short failed", "interview_id", req.InterviewID, "error", err)
			}
		}
		return domain.OutcomeTooShort
	}

	completion := domain.Completion{
		InterviewID:    req.InterviewID,
		ElapsedSeconds: elapsed,
		Reason:         reason,
		EndedAt:        o.now(),
	}
	if session != nil {
		completion.ConversationID = session.ID
	}

	if o.store != nil && req.InterviewID != "" {
		if err := o.store.MarkCompleted(ctx, req.InterviewID, elapsed); err != nil {
			logger.WarnContext(ctx, "mark interview completed failed", "interview_id", req.InterviewID, "error", err)
		}
	}
	if o.onComplete != nil {
		o.onComplete(completion)
	}
	if o.feedback != nil {
		feedbackReq := domain.FeedbackRequest{
			InterviewID:    completion.InterviewID,
			ConversationID: completion.ConversationID,
			InterviewMetadata: map[string]any{
				"elapsedSeconds": elapsed,
				"reason":         string(reason),
				"interviewType":  string(req.Options.InterviewType),
				"role":           req.Options.Role,
				"company":        req.Options.Company,
			},
		}
		go func() {
			err := o.feedback.RequestFeedback(ctx, feedbackReq)
			metrics.FeedbackRequested(err)
			if err != nil {
				logger.WarnContext(ctx, "feedback request failed", "interview_id", feedbackReq.InterviewID, "error", err)
			}
		}()
	}
	return domain.OutcomeCompleted
}

// ToggleMicrophone flips the microphone in the room and on the local track.
func (o *Orchestrator) ToggleMicrophone() error {
	if err := o.room.ToggleMicrophone(); err != nil {
		return err
	}
	o.media.ToggleAudio()
	o.notify()
	return nil
}

// ToggleVideo flips the camera in the room and on the local track.
func (o *Orchestrator) ToggleVideo() error {
	if err := o.room.ToggleVideo(); err != nil {
		return err
	}
	o.media.ToggleVideo()
	o.notify()
	return nil
}

// Recording returns the audio captured during the call, available once it ended.
func (o *Orchestrator) Recording() []byte {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.recording
}

// Snapshot returns the current user-visible state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	snap := Snapshot{
		State:   o.state,
		Failure: o.failure,
		Outcome: o.outcome,
		Timer:   o.lastTimer,
	}
	if o.session != nil {
		s := *o.session
		snap.Session = &s
	}
	timer := o.timer
	o.mu.Unlock()

	if timer != nil {
		snap.Timer = timer.Snapshot()
	}
	snap.Room = o.room.State()
	snap.Media = o.media.State()
	return snap
}

func (o *Orchestrator) notify() {
	if o.onState == nil {
		return
	}
	o.onState(o.Snapshot())
}

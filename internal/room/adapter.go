// Package room adapts a video room provider to the call lifecycle: guarded
// join/leave, explicit media enablement and participant presence.
package room

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bbielsa/interviewcall/internal/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const defaultSettleDelay = 3 * time.Second

// Adapter wraps a domain.Room.
type Adapter struct {
	room        domain.Room
	settleDelay time.Duration

	mu       sync.Mutex
	state    domain.RoomConnectionState
	joining  bool
	leaveCh  chan struct{}
	listener func(domain.RoomEvent)
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithSettleDelay sets how long local media may settle after a join before
// the connected signal is emitted.
func WithSettleDelay(d time.Duration) Option {
	return func(a *Adapter) {
		if d >= 0 {
			a.settleDelay = d
		}
	}
}

// NewAdapter creates an Adapter and subscribes to the room's events.
func NewAdapter(room domain.Room, opts ...Option) *Adapter {
	a := &Adapter{
		room:        room,
		settleDelay: defaultSettleDelay,
		state:       domain.RoomConnectionState{Phase: domain.RoomIdle},
	}
	for _, opt := range opts {
		opt(a)
	}
	room.OnEvent(a.handleEvent)
	return a
}

// OnEvent registers the listener for provider events and the connected signal.
func (a *Adapter) OnEvent(fn func(domain.RoomEvent)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listener = fn
}

// State returns the current connection state.
func (a *Adapter) State() domain.RoomConnectionState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Join joins the room at url. It returns once the connected signal has been
// emitted, i.e. after the settle delay.
func (a *Adapter) Join(ctx context.Context, url, participantName string) error {
	a.mu.Lock()
	switch {
	case a.joining:
		a.mu.Unlock()
		return domain.ErrRoomAlreadyJoining
	case a.state.Phase == domain.RoomJoined:
		a.mu.Unlock()
		// Already settled: repeat the signal for a caller that is waiting on it.
		a.emit(domain.RoomEvent{Type: domain.EventConnected})
		return nil
	case a.state.Phase == domain.RoomLeaving:
		a.mu.Unlock()
		return fmt.Errorf("%w: leave in progress", domain.ErrRoomJoinFailed)
	}
	a.joining = true
	leaveCh := make(chan struct{})
	a.leaveCh = leaveCh
	a.state = domain.RoomConnectionState{Phase: domain.RoomConnecting}
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.joining = false
		a.mu.Unlock()
	}()

	ctx, span := tracer.Start(ctx, "join room", trace.WithAttributes(attribute.String("room.url", url)))
	defer span.End()

	if err := a.joinProvider(ctx, url, participantName); err != nil {
		a.resetConnecting()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	a.mu.Lock()
	abandoned := a.state.Phase != domain.RoomConnecting
	if !abandoned {
		a.state.Phase = domain.RoomJoined
	}
	a.mu.Unlock()

	if abandoned {
		// The call was left while the provider was joining.
		if err := a.room.Leave(ctx); err != nil {
			logger.WarnContext(ctx, "leave after abandoned join failed", "error", err)
		}
		return fmt.Errorf("%w: left during join", domain.ErrRoomJoinFailed)
	}

	// Joining does not guarantee enabled tracks.
	a.enableLocalMedia(ctx)
	a.refreshPresence()

	timer := time.NewTimer(a.settleDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-leaveCh:
		return fmt.Errorf("%w: left while media was settling", domain.ErrRoomJoinFailed)
	case <-ctx.Done():
		a.abandonSettle(ctx)
		err := fmt.Errorf("%w: %w", domain.ErrRoomJoinFailed, ctx.Err())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	a.mu.Lock()
	joined := a.state.Phase == domain.RoomJoined
	a.mu.Unlock()
	if !joined {
		return fmt.Errorf("%w: room lost while media was settling", domain.ErrRoomJoinFailed)
	}

	logger.InfoContext(ctx, "room connected", "participant", participantName)
	a.emit(domain.RoomEvent{Type: domain.EventConnected})
	return nil
}

func (a *Adapter) joinProvider(ctx context.Context, url, participantName string) error {
	switch a.room.MeetingState() {
	case domain.MeetingJoined:
		logger.InfoContext(ctx, "room already joined, skipping provider join")
		return nil
	case domain.MeetingJoining:
		return domain.ErrRoomAlreadyJoining
	}

	if err := a.room.Join(ctx, url, participantName); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrRoomJoinFailed, err)
	}
	return nil
}

func (a *Adapter) enableLocalMedia(ctx context.Context) {
	audioErr := a.room.SetLocalAudio(true)
	if audioErr != nil {
		logger.WarnContext(ctx, "enable local audio failed", "error", audioErr)
	}
	videoErr := a.room.SetLocalVideo(true)
	if videoErr != nil {
		logger.WarnContext(ctx, "enable local video failed", "error", videoErr)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state.Phase == domain.RoomJoined {
		a.state.LocalMedia = domain.LocalMedia{Audio: audioErr == nil, Video: videoErr == nil}
	}
}

// abandonSettle leaves the provider after a cancelled join and returns the
// adapter to idle so the call can be joined again.
func (a *Adapter) abandonSettle(ctx context.Context) {
	a.mu.Lock()
	if a.state.Phase != domain.RoomJoined {
		a.mu.Unlock()
		return
	}
	a.state.Phase = domain.RoomLeaving
	a.leaveCh = nil
	a.mu.Unlock()

	if err := a.room.Leave(context.WithoutCancel(ctx)); err != nil {
		logger.WarnContext(ctx, "leave after cancelled join failed", "error", err)
	}

	a.mu.Lock()
	a.state = domain.RoomConnectionState{Phase: domain.RoomIdle}
	a.mu.Unlock()
}

func (a *Adapter) resetConnecting() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state.Phase == domain.RoomConnecting {
		a.state = domain.RoomConnectionState{Phase: domain.RoomIdle}
	}
}

// Leave leaves the room. It is safe to call in any phase and more than once.
func (a *Adapter) Leave(ctx context.Context) error {
	a.mu.Lock()
	switch a.state.Phase {
	case domain.RoomIdle, domain.RoomLeft, domain.RoomLeaving:
		a.mu.Unlock()
		return nil
	}
	a.state.Phase = domain.RoomLeaving
	if a.leaveCh != nil {
		close(a.leaveCh)
		a.leaveCh = nil
	}
	a.mu.Unlock()

	ctx, span := tracer.Start(ctx, "leave room")
	defer span.End()

	err := a.room.Leave(ctx)

	a.mu.Lock()
	a.state = domain.RoomConnectionState{Phase: domain.RoomLeft}
	a.mu.Unlock()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: leave room: %w", domain.ErrTransientTeardown, err)
	}
	return nil
}

// ToggleMicrophone flips local audio. It is rejected unless joined.
func (a *Adapter) ToggleMicrophone() error {
	return a.toggle(func(m *domain.LocalMedia) *bool { return &m.Audio }, a.room.SetLocalAudio)
}

// ToggleVideo flips local video. It is rejected unless joined.
func (a *Adapter) ToggleVideo() error {
	return a.toggle(func(m *domain.LocalMedia) *bool { return &m.Video }, a.room.SetLocalVideo)
}

func (a *Adapter) toggle(field func(*domain.LocalMedia) *bool, set func(bool) error) error {
	a.mu.Lock()
	if a.state.Phase != domain.RoomJoined {
		a.mu.Unlock()
		return domain.ErrRoomNotJoined
	}
	enabled := !*field(&a.state.LocalMedia)
	a.mu.Unlock()

	if err := set(enabled); err != nil {
		return fmt.Errorf("toggle local media: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state.Phase == domain.RoomJoined {
		*field(&a.state.LocalMedia) = enabled
	}
	return nil
}

func (a *Adapter) handleEvent(ev domain.RoomEvent) {
	present := len(a.room.RemoteParticipantIDs()) > 0

	a.mu.Lock()
	a.state.RemoteParticipantPresent = present
	if ev.Type == domain.EventLeftMeeting && a.state.Phase == domain.RoomJoined {
		a.state = domain.RoomConnectionState{Phase: domain.RoomLeft}
		// Wakes a join that is still settling.
		if a.leaveCh != nil {
			close(a.leaveCh)
			a.leaveCh = nil
		}
	}
	listener := a.listener
	a.mu.Unlock()

	if listener != nil {
		listener(ev)
	}
}

func (a *Adapter) refreshPresence() {
	present := len(a.room.RemoteParticipantIDs()) > 0

	a.mu.Lock()
	defer a.mu.Unlock()
	a.state.RemoteParticipantPresent = present
}

func (a *Adapter) emit(ev domain.RoomEvent) {
	a.mu.Lock()
	listener := a.listener
	a.mu.Unlock()

	if listener != nil {
		listener(ev)
	}
}

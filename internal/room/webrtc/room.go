// Package webrtc implements the video room provider on a Pion peer connection
// negotiated over a WebSocket signaling channel.
package webrtc

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/bbielsa/interviewcall/internal/domain"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const defaultPingInterval = 25 * time.Second

// Room implements domain.Room.
type Room struct {
	iceServers   []string
	videoSink    io.Writer
	pingInterval time.Duration
	newPeer      func() (peer, error)

	mu            sync.Mutex
	state         domain.MeetingState
	participantID string
	sig           *signalClient
	pc            peer
	remote        map[string]struct{}
	joined        chan error
	handler       func(domain.RoomEvent)
}

// Option configures a Room.
type Option func(*Room)

// WithICEServers sets the STUN/TURN URLs used by the peer connection.
func WithICEServers(urls []string) Option {
	return func(r *Room) {
		r.iceServers = urls
	}
}

// WithVideoSink writes the remote H264 stream to w as Annex B.
func WithVideoSink(w io.Writer) Option {
	return func(r *Room) {
		r.videoSink = w
	}
}

// WithPingInterval sets the signaling keepalive interval. Zero disables pings.
func WithPingInterval(d time.Duration) Option {
	return func(r *Room) {
		r.pingInterval = d
	}
}

// NewRoom creates a Room.
func NewRoom(opts ...Option) *Room {
	r := &Room{
		pingInterval: defaultPingInterval,
		state:        domain.MeetingNew,
		remote:       make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.newPeer == nil {
		r.newPeer = func() (peer, error) {
			return NewPeer(r.iceServers, r.videoSink)
		}
	}
	return r
}

// OnEvent registers the event handler.
func (r *Room) OnEvent(handler func(domain.RoomEvent)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handler = handler
}

// MeetingState returns the provider's meeting state.
func (r *Room) MeetingState() domain.MeetingState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// RemoteParticipantIDs returns the ids of the other participants, sorted.
func (r *Room) RemoteParticipantIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.remote))
	for id := range r.remote {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Join connects to the room at roomURL and negotiates media. It returns once
// the signaling server accepted the participant and the offer was sent.
func (r *Room) Join(ctx context.Context, roomURL, participantName string) error {
	r.mu.Lock()
	if r.state == domain.MeetingJoining || r.state == domain.MeetingJoined {
		state := r.state
		r.mu.Unlock()
		return fmt.Errorf("meeting already %s", state)
	}
	r.state = domain.MeetingJoining
	r.participantID = uuid.NewString()
	r.remote = make(map[string]struct{})
	joined := make(chan error, 1)
	r.joined = joined
	participantID := r.participantID
	r.mu.Unlock()

	ctx, span := tracer.Start(ctx, "webrtc join", trace.WithAttributes(
		attribute.String("room.participant_id", participantID),
	))
	defer span.End()

	if err := r.connect(ctx, roomURL, participantID, participantName, joined); err != nil {
		r.abortJoin()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	logger.InfoContext(ctx, "joined room", "participant_id", participantID)
	r.emit(domain.RoomEvent{Type: domain.EventJoinedMeeting, ParticipantID: participantID})
	return nil
}

func (r *Room) connect(ctx context.Context, roomURL, participantID, name string, joined <-chan error) error {
	signalURL, err := signalingURL(roomURL)
	if err != nil {
		return err
	}

	pc, err := r.newPeer()
	if err != nil {
		return err
	}
	pc.SetOnICECandidate(func(sdpMid string, sdpMLineIndex int, candidate string) {
		sig := r.signal()
		if sig == nil {
			return
		}
		if err := sig.sendICECandidate(sdpMid, sdpMLineIndex, candidate); err != nil {
			logger.Warn("send ICE candidate", "error", err)
		}
	})
	if !r.attach(pc, nil) {
		pc.Close()
		return fmt.Errorf("join abandoned")
	}

	sig, err := dialSignal(ctx, signalURL, participantID, r, r.pingInterval)
	if err != nil {
		return err
	}
	if !r.attach(nil, sig) {
		sig.Close()
		return fmt.Errorf("join abandoned")
	}

	if err := sig.sendJoin(name); err != nil {
		return err
	}

	select {
	case err := <-joined:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	r.mu.Lock()
	if r.state != domain.MeetingJoining {
		r.mu.Unlock()
		return fmt.Errorf("join abandoned")
	}
	r.state = domain.MeetingJoined
	r.mu.Unlock()

	offer, err := pc.CreateOffer()
	if err != nil {
		return err
	}
	return sig.sendSDPOffer(offer)
}

// attach stores the peer or signaling client unless the join was abandoned.
func (r *Room) attach(pc peer, sig *signalClient) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != domain.MeetingJoining && r.state != domain.MeetingJoined {
		return false
	}
	if pc != nil {
		r.pc = pc
	}
	if sig != nil {
		r.sig = sig
	}
	return true
}

func (r *Room) abortJoin() {
	r.mu.Lock()
	sig, pc := r.detach()
	if r.state != domain.MeetingLeft {
		r.state = domain.MeetingError
	}
	r.mu.Unlock()

	closeConnections(sig, pc)
}

// detach must be called with r.mu held.
func (r *Room) detach() (*signalClient, peer) {
	sig, pc := r.sig, r.pc
	r.sig, r.pc = nil, nil
	r.remote = make(map[string]struct{})
	r.joined = nil
	return sig, pc
}

func closeConnections(sig *signalClient, pc peer) {
	if sig != nil {
		sig.Close()
	}
	if pc != nil {
		pc.Close()
	}
}

// Leave announces the departure and closes the peer and signaling connections.
// It is a no-op when the room was never joined or was already left.
func (r *Room) Leave(ctx context.Context) error {
	r.mu.Lock()
	if r.state == domain.MeetingNew || r.state == domain.MeetingLeft {
		r.mu.Unlock()
		return nil
	}
	r.state = domain.MeetingLeft
	joined := r.joined
	sig, pc := r.detach()
	r.mu.Unlock()

	if joined != nil {
		select {
		case joined <- fmt.Errorf("left before join completed"):
		default:
		}
	}

	var err error
	if sig != nil {
		err = sig.sendLeave()
	}
	closeConnections(sig, pc)

	logger.InfoContext(ctx, "left room")
	r.emit(domain.RoomEvent{Type: domain.EventLeftMeeting})
	return err
}

// SetLocalAudio announces the local microphone state to the room.
func (r *Room) SetLocalAudio(enabled bool) error {
	return r.setTrackState(domain.TrackAudio, enabled)
}

// SetLocalVideo announces the local camera state to the room.
func (r *Room) SetLocalVideo(enabled bool) error {
	return r.setTrackState(domain.TrackVideo, enabled)
}

func (r *Room) setTrackState(kind domain.TrackKind, enabled bool) error {
	r.mu.Lock()
	if r.state != domain.MeetingJoined || r.sig == nil {
		r.mu.Unlock()
		return domain.ErrRoomNotJoined
	}
	sig := r.sig
	r.mu.Unlock()

	return sig.sendTrackState(kind, enabled)
}

func (r *Room) signal() *signalClient {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sig
}

func (r *Room) currentPeer() peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pc
}

func (r *Room) emit(ev domain.RoomEvent) {
	r.mu.Lock()
	handler := r.handler
	r.mu.Unlock()

	if handler != nil {
		handler(ev)
	}
}

// OnJoined records the participants already present.
func (r *Room) OnJoined(participants []string) {
	r.mu.Lock()
	for _, id := range participants {
		if id != r.participantID {
			r.remote[id] = struct{}{}
		}
	}
	joined := r.joined
	r.mu.Unlock()

	if joined != nil {
		select {
		case joined <- nil:
		default:
		}
	}
}

func (r *Room) OnParticipantJoined(id string) {
	r.mu.Lock()
	r.remote[id] = struct{}{}
	r.mu.Unlock()

	logger.Info("participant joined", "participant_id", id)
	r.emit(domain.RoomEvent{Type: domain.EventParticipantJoined, ParticipantID: id})
}

func (r *Room) OnParticipantLeft(id string) {
	r.mu.Lock()
	delete(r.remote, id)
	r.mu.Unlock()

	logger.Info("participant left", "participant_id", id)
	r.emit(domain.RoomEvent{Type: domain.EventParticipantLeft, ParticipantID: id})
}

func (r *Room) OnParticipantTrackState(id, kind string, enabled bool) {
	logger.Debug("participant track state", "participant_id", id, "kind", kind, "enabled", enabled)
	r.emit(domain.RoomEvent{Type: domain.EventParticipantUpdated, ParticipantID: id})
}

func (r *Room) OnSDPAnswer(sdp domain.SDPPayload) {
	pc := r.currentPeer()
	if pc == nil {
		return
	}
	if err := pc.SetRemoteDescription(sdp); err != nil {
		logger.Warn("set remote description", "error", err)
		r.emit(domain.RoomEvent{Type: domain.EventError, Err: err})
	}
}

func (r *Room) OnRemoteICECandidate(candidate domain.ICECandidatePayload) {
	pc := r.currentPeer()
	if pc == nil {
		return
	}
	go func() {
		if err := pc.AddRemoteICECandidate(candidate); err != nil {
			logger.Debug("add remote ICE candidate", "error", err)
		}
	}()
}

// OnSignalError fails a pending join or surfaces the error as an event.
func (r *Room) OnSignalError(err error) {
	r.mu.Lock()
	joined := r.joined
	joining := r.state == domain.MeetingJoining
	r.mu.Unlock()

	if joining && joined != nil {
		select {
		case joined <- err:
		default:
		}
		return
	}
	logger.Warn("signaling error", "error", err)
	r.emit(domain.RoomEvent{Type: domain.EventError, Err: err})
}

// OnDisconnect handles the signaling connection dropping without a local leave.
func (r *Room) OnDisconnect(err error) {
	r.mu.Lock()
	switch r.state {
	case domain.MeetingJoining:
		joined := r.joined
		r.mu.Unlock()
		if joined != nil {
			select {
			case joined <- fmt.Errorf("%w: %w", errSignalClosed, err):
			default:
			}
		}
		return
	case domain.MeetingJoined:
		r.state = domain.MeetingLeft
		sig, pc := r.detach()
		r.mu.Unlock()

		closeConnections(sig, pc)
		logger.Warn("signaling connection lost", "error", err)
		r.emit(domain.RoomEvent{Type: domain.EventLeftMeeting, Err: err})
	default:
		r.mu.Unlock()
	}
}

// signalingURL maps the room URL onto its WebSocket endpoint.
func signalingURL(roomURL string) (string, error) {
	u, err := url.Parse(roomURL)
	if err != nil {
		return "", fmt.Errorf("parse room url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported room url scheme %q", u.Scheme)
	}
	return u.String(), nil
}

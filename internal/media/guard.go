package media

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bbielsa/interviewcall/internal/domain"

	"go.opentelemetry.io/otel/codes"
)

const defaultFlushInterval = time.Second

// Guard owns the local camera and microphone tracks.
type Guard struct {
	devices       domain.MediaDevices
	flushInterval time.Duration

	mu    sync.Mutex
	state domain.MediaPermissionState
	rec   *recorder
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithFlushInterval sets how often recorded audio is cut into a chunk.
func WithFlushInterval(d time.Duration) GuardOption {
	return func(g *Guard) {
		if d > 0 {
			g.flushInterval = d
		}
	}
}

// NewGuard creates a Guard that opens tracks through devices.
func NewGuard(devices domain.MediaDevices, opts ...GuardOption) *Guard {
	g := &Guard{
		devices:       devices,
		flushInterval: defaultFlushInterval,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// RequestPermissions opens camera and microphone. Failures are classified
// into the returned state instead of being returned as an error.
func (g *Guard) RequestPermissions(ctx context.Context) domain.MediaPermissionState {
	ctx, span := tracer.Start(ctx, "request media permissions")
	defer span.End()

	video, audio, err := g.open(ctx)

	g.mu.Lock()
	defer g.mu.Unlock()

	g.stopRecordingLocked()
	g.releaseLocked()

	if err != nil {
		permErr := classify(err)
		g.state = domain.MediaPermissionState{Error: permErr}

		span.RecordError(err)
		span.SetStatus(codes.Error, permErr.Message)
		logger.WarnContext(ctx, "media permission request failed", "kind", permErr.Kind, "error", err)
		return g.state
	}

	g.state = domain.MediaPermissionState{
		VideoGranted: video != nil,
		AudioGranted: audio != nil,
		Video:        video,
		Audio:        audio,
	}
	logger.InfoContext(ctx, "media permissions granted", "video", g.state.VideoGranted, "audio", g.state.AudioGranted)
	return g.state
}

func (g *Guard) open(ctx context.Context) (video domain.Track, audio domain.AudioTrack, err error) {
	defer func() {
		if r := recover(); r != nil {
			video, audio = nil, nil
			err = fmt.Errorf("media devices panicked: %v", r)
		}
	}()

	if g.devices == nil {
		return nil, nil, domain.ErrDeviceUnsupported
	}
	return g.devices.Open(ctx, domain.MediaConstraints{Video: true, Audio: true})
}

// State returns the current permission state.
func (g *Guard) State() domain.MediaPermissionState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// ToggleVideo flips camera enablement and returns the new value.
func (g *Guard) ToggleVideo() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return toggle(g.state.Video)
}

// ToggleAudio flips microphone enablement and returns the new value.
func (g *Guard) ToggleAudio() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return toggle(g.state.Audio)
}

func toggle(track domain.Track) bool {
	if track == nil {
		return false
	}
	enabled := !track.Enabled()
	track.SetEnabled(enabled)
	return enabled
}

// StartRecording captures microphone samples into one-second chunks.
func (g *Guard) StartRecording() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.rec != nil {
		return
	}
	if g.state.Audio == nil {
		logger.Warn("no audio stream available, recording not started")
		return
	}
	g.rec = startRecorder(g.state.Audio, g.flushInterval)
}

// IsRecording reports whether a recording is in progress.
func (g *Guard) IsRecording() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rec != nil
}

// StopRecording finalizes the recording and returns the captured audio.
// It returns nil when nothing is being recorded.
func (g *Guard) StopRecording() []byte {
	g.mu.Lock()
	rec := g.rec
	g.rec = nil
	g.mu.Unlock()

	if rec == nil {
		return nil
	}
	return rec.finish()
}

// Cleanup stops every track and resets the guard. Safe to call repeatedly.
func (g *Guard) Cleanup() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.stopRecordingLocked()
	g.releaseLocked()
	g.state = domain.MediaPermissionState{}
}

func (g *Guard) stopRecordingLocked() {
	if g.rec != nil {
		g.rec.finish()
		g.rec = nil
	}
}

func (g *Guard) releaseLocked() {
	if g.state.Video != nil {
		g.state.Video.Stop()
	}
	if g.state.Audio != nil {
		g.state.Audio.Stop()
	}
	g.state.Video = nil
	g.state.Audio = nil
	g.state.VideoGranted = false
	g.state.AudioGranted = false
}

func classify(err error) *domain.PermissionError {
	switch {
	case errors.Is(err, domain.ErrPermissionDenied):
		return &domain.PermissionError{
			Kind:    domain.PermissionDenied,
			Message: "Camera and microphone access was denied. Allow access and try again.",
			Err:     err,
		}
	case errors.Is(err, domain.ErrDeviceNotFound):
		return &domain.PermissionError{
			Kind:    domain.PermissionNotFound,
			Message: "No camera or microphone was found. Connect a device and try again.",
			Err:     err,
		}
	case errors.Is(err, domain.ErrDeviceUnsupported):
		return &domain.PermissionError{
			Kind:    domain.PermissionNotSupported,
			Message: "Camera and microphone capture is not supported on this system.",
			Err:     err,
		}
	default:
		return &domain.PermissionError{
			Kind:    domain.PermissionUnknown,
			Message: fmt.Sprintf("Could not access camera or microphone: %v", err),
			Err:     err,
		}
	}
}

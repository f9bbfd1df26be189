package media

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bbielsa/interviewcall/internal/domain"
)

// fakeTrack records enablement and stop calls.
type fakeTrack struct {
	mu      sync.Mutex
	kind    domain.TrackKind
	enabled bool
	stopped int
	sinks   map[int]func([]byte)
	nextID  int
}

func newFakeTrack(kind domain.TrackKind) *fakeTrack {
	return &fakeTrack{kind: kind, enabled: true, sinks: make(map[int]func([]byte))}
}

func (t *fakeTrack) ID() string             { return string(t.kind) + "-1" }
func (t *fakeTrack) Kind() domain.TrackKind { return t.kind }

func (t *fakeTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *fakeTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}

func (t *fakeTrack) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped++
}

func (t *fakeTrack) OnSamples(fn func([]byte)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID
	t.nextID++
	t.sinks[id] = fn
	return func() {
		t.mu.Lock()
		delete(t.sinks, id)
		t.mu.Unlock()
	}
}

func (t *fakeTrack) emit(samples []byte) {
	t.mu.Lock()
	sinks := make([]func([]byte), 0, len(t.sinks))
	for _, fn := range t.sinks {
		sinks = append(sinks, fn)
	}
	t.mu.Unlock()
	for _, fn := range sinks {
		fn(samples)
	}
}

func (t *fakeTrack) stopCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

type fakeDevices struct {
	video *fakeTrack
	audio *fakeTrack
	err   error
	calls int
}

func (d *fakeDevices) Open(ctx context.Context, c domain.MediaConstraints) (domain.Track, domain.AudioTrack, error) {
	d.calls++
	if d.err != nil {
		return nil, nil, d.err
	}
	var video domain.Track
	var audio domain.AudioTrack
	if d.video != nil {
		video = d.video
	}
	if d.audio != nil {
		audio = d.audio
	}
	return video, audio, nil
}

func grantedDevices() *fakeDevices {
	return &fakeDevices{video: newFakeTrack(domain.TrackVideo), audio: newFakeTrack(domain.TrackAudio)}
}

func TestRequestPermissions_Granted(t *testing.T) {
	g := NewGuard(grantedDevices())

	state := g.RequestPermissions(context.Background())

	if !state.VideoGranted || !state.AudioGranted {
		t.Fatalf("expected both grants, got video=%v audio=%v", state.VideoGranted, state.AudioGranted)
	}
	if state.Error != nil {
		t.Errorf("expected no error, got %v", state.Error)
	}
}

func TestRequestPermissions_Classification(t *testing.T) {
	cases := []struct {
		err  error
		kind domain.PermissionErrorKind
		is   error
	}{
		{domain.ErrPermissionDenied, domain.PermissionDenied, domain.ErrPermissionDenied},
		{domain.ErrDeviceNotFound, domain.PermissionNotFound, domain.ErrDeviceNotFound},
		{domain.ErrDeviceUnsupported, domain.PermissionNotSupported, domain.ErrDeviceUnsupported},
		{errors.New("driver exploded"), domain.PermissionUnknown, nil},
	}

	for _, tc := range cases {
		g := NewGuard(&fakeDevices{err: tc.err})
		state := g.RequestPermissions(context.Background())

		if state.Error == nil {
			t.Fatalf("%v: expected classified error", tc.err)
		}
		if state.Error.Kind != tc.kind {
			t.Errorf("%v: expected kind %s, got %s", tc.err, tc.kind, state.Error.Kind)
		}
		if state.Error.Message == "" {
			t.Errorf("%v: expected a message", tc.err)
		}
		if tc.is != nil && !errors.Is(state.Error, tc.is) {
			t.Errorf("%v: expected errors.Is to match sentinel", tc.err)
		}
		if state.VideoGranted || state.AudioGranted {
			t.Errorf("%v: expected no grants", tc.err)
		}
	}
}

type panickingDevices struct{}

func (panickingDevices) Open(context.Context, domain.MediaConstraints) (domain.Track, domain.AudioTrack, error) {
	panic("boom")
}

func TestRequestPermissions_PanicIsClassified(t *testing.T) {
	g := NewGuard(panickingDevices{})

	state := g.RequestPermissions(context.Background())

	if state.Error == nil || state.Error.Kind != domain.PermissionUnknown {
		t.Fatalf("expected unknown classification, got %+v", state.Error)
	}
}

func TestToggle_FlipsWithoutReRequest(t *testing.T) {
	devices := grantedDevices()
	g := NewGuard(devices)
	g.RequestPermissions(context.Background())

	if g.ToggleVideo() {
		t.Error("expected video disabled after first toggle")
	}
	if !g.ToggleVideo() {
		t.Error("expected video enabled after second toggle")
	}
	if g.ToggleAudio() {
		t.Error("expected audio disabled after toggle")
	}
	if devices.audio.Enabled() {
		t.Error("expected underlying audio track disabled")
	}
	if devices.calls != 1 {
		t.Errorf("expected one device request, got %d", devices.calls)
	}
}

func TestToggle_WithoutTracks(t *testing.T) {
	g := NewGuard(grantedDevices())

	if g.ToggleVideo() || g.ToggleAudio() {
		t.Error("expected toggles to report disabled without tracks")
	}
}

func TestCleanup_Idempotent(t *testing.T) {
	devices := grantedDevices()
	g := NewGuard(devices)
	g.RequestPermissions(context.Background())

	g.Cleanup()
	g.Cleanup()

	if devices.video.stopCount() != 1 || devices.audio.stopCount() != 1 {
		t.Errorf("expected each track stopped once, got video=%d audio=%d",
			devices.video.stopCount(), devices.audio.stopCount())
	}
	state := g.State()
	if state.VideoGranted || state.AudioGranted || state.Video != nil || state.Audio != nil {
		t.Errorf("expected initial state after cleanup, got %+v", state)
	}
}

func TestRequestPermissions_ReleasesPreviousTracks(t *testing.T) {
	first := grantedDevices()
	g := NewGuard(first)
	g.RequestPermissions(context.Background())

	g.devices = grantedDevices()
	g.RequestPermissions(context.Background())

	if first.video.stopCount() != 1 || first.audio.stopCount() != 1 {
		t.Error("expected previous tracks to be stopped")
	}
}

func TestStartRecording_NoAudioIsNoop(t *testing.T) {
	g := NewGuard(&fakeDevices{video: newFakeTrack(domain.TrackVideo)})
	g.RequestPermissions(context.Background())

	g.StartRecording()

	if g.IsRecording() {
		t.Error("expected recording not to start without audio")
	}
}

func TestStopRecording_NotRecordingReturnsNil(t *testing.T) {
	g := NewGuard(grantedDevices())

	if blob := g.StopRecording(); blob != nil {
		t.Errorf("expected nil, got %v", blob)
	}
}

func TestRecording_CollectsChunks(t *testing.T) {
	devices := grantedDevices()
	g := NewGuard(devices, WithFlushInterval(10*time.Millisecond))
	g.RequestPermissions(context.Background())

	g.StartRecording()
	devices.audio.emit([]byte{1, 2})
	time.Sleep(40 * time.Millisecond)
	devices.audio.emit([]byte{3})

	blob := g.StopRecording()

	expected := []byte{1, 2, 3}
	if string(blob) != string(expected) {
		t.Fatalf("expected %v, got %v", expected, blob)
	}
	if g.IsRecording() {
		t.Error("expected recording stopped")
	}

	// Samples after stop are not captured.
	devices.audio.emit([]byte{9})
	if blob := g.StopRecording(); blob != nil {
		t.Errorf("expected nil after stop, got %v", blob)
	}
}

func TestRecorder_FlushesOnInterval(t *testing.T) {
	track := newFakeTrack(domain.TrackAudio)
	r := startRecorder(track, 5*time.Millisecond)
	defer r.finish()

	track.emit([]byte{1})

	deadline := time.After(time.Second)
	for r.chunkCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for a flushed chunk")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

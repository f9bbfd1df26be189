package miniaudio

import (
	"fmt"
	"os"
	"sync"

	"github.com/bbielsa/interviewcall/internal/domain"

	"github.com/gen2brain/malgo"
	"github.com/google/uuid"
)

// cameraTrack holds the camera device node open while granted.
type cameraTrack struct {
	id   string
	file *os.File

	mu      sync.Mutex
	enabled bool
	stopped bool
}

func newCameraTrack(f *os.File) *cameraTrack {
	return &cameraTrack{id: uuid.NewString(), file: f, enabled: true}
}

func (t *cameraTrack) ID() string             { return t.id }
func (t *cameraTrack) Kind() domain.TrackKind { return domain.TrackVideo }

func (t *cameraTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled && !t.stopped
}

func (t *cameraTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}

func (t *cameraTrack) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.stopped = true
	t.file.Close()
}

// micTrack captures linear16 mono samples from the default microphone.
type micTrack struct {
	id            string
	audioContext  *malgo.AllocatedContext
	device        *malgo.Device
	bytesPerFrame int

	mu      sync.Mutex
	enabled bool
	stopped bool
	sinks   map[uint64]func([]byte)
	nextID  uint64
}

func openMicrophone(rate uint32) (*micTrack, error) {
	audioCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {})
	if err != nil {
		return nil, fmt.Errorf("init audio context: %v: %w", err, domain.ErrDeviceUnsupported)
	}

	t := &micTrack{
		id:            uuid.NewString(),
		audioContext:  audioCtx,
		bytesPerFrame: malgo.SampleSizeInBytes(malgo.FormatS16),
		enabled:       true,
		sinks:         make(map[uint64]func([]byte)),
	}

	config := malgo.DefaultDeviceConfig(malgo.Capture)
	config.SampleRate = rate
	config.Capture.Format = malgo.FormatS16
	config.Capture.Channels = 1
	config.Alsa.NoMMap = 1
	config.PerformanceProfile = malgo.LowLatency

	t.device, err = malgo.InitDevice(audioCtx.Context, config, malgo.DeviceCallbacks{
		Data: t.onData,
	})
	if err != nil {
		t.freeContext()
		return nil, fmt.Errorf("init capture device: %v: %w", err, domain.ErrDeviceNotFound)
	}

	if err := t.device.Start(); err != nil {
		t.device.Uninit()
		t.freeContext()
		return nil, fmt.Errorf("start capture device: %v: %w", err, domain.ErrPermissionDenied)
	}

	return t, nil
}

func (t *micTrack) onData(_, input []byte, frameCount uint32) {
	n := int(frameCount) * t.bytesPerFrame
	if n == 0 || len(input) < n {
		return
	}

	t.mu.Lock()
	if t.stopped || len(t.sinks) == 0 {
		t.mu.Unlock()
		return
	}
	samples := make([]byte, n)
	// A disabled track keeps delivering silence, like a muted browser track.
	if t.enabled {
		copy(samples, input[:n])
	}
	sinks := make([]func([]byte), 0, len(t.sinks))
	for _, fn := range t.sinks {
		sinks = append(sinks, fn)
	}
	t.mu.Unlock()

	for _, fn := range sinks {
		fn(samples)
	}
}

func (t *micTrack) ID() string             { return t.id }
func (t *micTrack) Kind() domain.TrackKind { return domain.TrackAudio }

func (t *micTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled && !t.stopped
}

func (t *micTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}

// OnSamples registers fn for captured samples until the returned cancel is called.
func (t *micTrack) OnSamples(fn func([]byte)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextID
	t.nextID++
	t.sinks[id] = fn

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.sinks, id)
	}
}

func (t *micTrack) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	t.sinks = make(map[uint64]func([]byte))
	t.mu.Unlock()

	if t.device != nil {
		_ = t.device.Stop()
		t.device.Uninit()
	}
	t.freeContext()
}

func (t *micTrack) freeContext() {
	if t.audioContext == nil {
		return
	}
	_ = t.audioContext.Uninit()
	t.audioContext.Free()
	t.audioContext = nil
}

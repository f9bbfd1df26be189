// Package miniaudio opens local capture devices for the media guard:
// the microphone through miniaudio and the camera as a V4L2 device node.
package miniaudio

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/bbielsa/interviewcall/internal/domain"
)

const sampleRate = 16000

// Devices implements domain.MediaDevices.
type Devices struct {
	videoDevice string
	sampleRate  uint32
}

// NewDevices creates platform devices using videoDevice as the camera node.
func NewDevices(videoDevice string) *Devices {
	return &Devices{
		videoDevice: videoDevice,
		sampleRate:  sampleRate,
	}
}

// Open opens the requested devices. A partially opened set is released on failure.
func (d *Devices) Open(ctx context.Context, c domain.MediaConstraints) (domain.Track, domain.AudioTrack, error) {
	var video domain.Track
	if c.Video {
		cam, err := openCamera(d.videoDevice)
		if err != nil {
			return nil, nil, err
		}
		video = cam
	}

	var audio domain.AudioTrack
	if c.Audio {
		mic, err := openMicrophone(d.sampleRate)
		if err != nil {
			if video != nil {
				video.Stop()
			}
			return nil, nil, err
		}
		audio = mic
	}

	return video, audio, nil
}

func openCamera(path string) (*cameraTrack, error) {
	if path == "" {
		return nil, fmt.Errorf("no camera device configured: %w", domain.ErrDeviceUnsupported)
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("open camera %s: %w", path, domain.ErrDeviceNotFound)
	case errors.Is(err, fs.ErrPermission):
		return nil, fmt.Errorf("open camera %s: %w", path, domain.ErrPermissionDenied)
	case err != nil:
		return nil, fmt.Errorf("open camera %s: %w", path, err)
	}

	return newCameraTrack(f), nil
}

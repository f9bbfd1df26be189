package domain

// TrackKind distinguishes camera and microphone tracks.
type TrackKind string

const (
	TrackVideo TrackKind = "video"
	TrackAudio TrackKind = "audio"
)

// PermissionErrorKind classifies a failed media request.
type PermissionErrorKind string

const (
	PermissionDenied       PermissionErrorKind = "denied"
	PermissionNotFound     PermissionErrorKind = "not_found"
	PermissionNotSupported PermissionErrorKind = "not_supported"
	PermissionUnknown      PermissionErrorKind = "unknown"
)

// PermissionError is the classified outcome of a failed media request.
type PermissionError struct {
	Kind    PermissionErrorKind
	Message string
	Err     error
}

func (e *PermissionError) Error() string { return e.Message }

// Unwrap exposes the taxonomy sentinel matching Kind.
func (e *PermissionError) Unwrap() []error {
	var sentinel error
	switch e.Kind {
	case PermissionDenied:
		sentinel = ErrPermissionDenied
	case PermissionNotFound:
		sentinel = ErrDeviceNotFound
	case PermissionNotSupported:
		sentinel = ErrDeviceUnsupported
	}
	errs := make([]error, 0, 2)
	if sentinel != nil {
		errs = append(errs, sentinel)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// MediaPermissionState is owned by the media guard.
type MediaPermissionState struct {
	VideoGranted bool
	AudioGranted bool
	Video        Track
	Audio        AudioTrack
	Error        *PermissionError
}

// Granted reports whether both camera and microphone are available.
func (s MediaPermissionState) Granted() bool {
	return s.VideoGranted && s.AudioGranted
}

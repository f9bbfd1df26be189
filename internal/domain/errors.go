package domain

import "errors"

var (
	ErrPermissionDenied       = errors.New("media permission denied")
	ErrDeviceNotFound         = errors.New("media device not found")
	ErrDeviceUnsupported      = errors.New("media device not supported")
	ErrConfiguration          = errors.New("no replica/persona mapping configured")
	ErrResourceCreationFailed = errors.New("conversation creation failed")
	ErrRoomJoinFailed         = errors.New("room join failed")
	ErrRoomAlreadyJoining     = errors.New("room join already in progress")
	ErrRoomNotJoined          = errors.New("room not joined")
	ErrTransientTeardown      = errors.New("teardown failed")
	ErrInvalidRefreshToken    = errors.New("invalid refresh token")
	ErrInterviewNotFound      = errors.New("interview not found")
)

// ClassifyFailure maps a component error to the way it is displayed.
func ClassifyFailure(err error) FailureKind {
	switch {
	case errors.Is(err, ErrPermissionDenied),
		errors.Is(err, ErrDeviceNotFound),
		errors.Is(err, ErrDeviceUnsupported):
		return FailurePermission
	default:
		return FailureConnection
	}
}

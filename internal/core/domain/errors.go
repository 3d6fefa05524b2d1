package domain

import "errors"

var (
	ErrCallNotFound        = errors.New("call not found")
	ErrCallArchived        = errors.New("call archived")
	ErrInvalidCallType     = errors.New("invalid call type")
	ErrNotParticipant      = errors.New("user is not a participant of the call")
	ErrSessionNotFound     = errors.New("call session not found")
	ErrSessionClosed       = errors.New("call session closed")
	ErrRecordingInProgress = errors.New("recording already in progress")
	ErrRecordingNotActive  = errors.New("recording not active")
	ErrRecordingNotFound   = errors.New("recording not found")
	ErrNoAudioTracks       = errors.New("no audio tracks to record")
	ErrVideoNotSupported   = errors.New("video is not available on voice calls")
	ErrPermissionDenied    = errors.New("media permission denied")
	ErrNoDevice            = errors.New("no media device available")
	ErrUploadFailed        = errors.New("recording upload failed")
)

// IsMediaUnavailable reports whether err means the call can go on without local media.
func IsMediaUnavailable(err error) bool {
	return errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrNoDevice)
}

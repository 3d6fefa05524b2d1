package ports

import (
	"context"
	"time"

	"greenearth/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

type Clock interface {
	Now() time.Time
}

// MediaDevices acquires a user's local media. GetUserMedia blocks until the
// media is available, acquisition fails or ctx is done.
type MediaDevices interface {
	GetUserMedia(ctx context.Context, callID domain.CallID, userID domain.UserID, constraints domain.MediaConstraints) (*domain.MediaStream, error)
}

// MediaRecorder captures the audio tracks of one stream into a single blob.
type MediaRecorder interface {
	Start(stream *domain.MediaStream) error
	Stop(ctx context.Context) ([]byte, error)
	MimeType() string
}

type MediaRecorderFactory interface {
	NewRecorder() MediaRecorder
}

// RecordingUploader persists a finished recording. Failures are returned to
// the caller; the uploader owns any retry policy.
type RecordingUploader interface {
	UploadRecording(ctx context.Context, callID domain.CallID, artifact *domain.RecordingArtifact, isGroupCall bool) error
}

// CallTransport tears down the media connection of a user leaving a call.
type CallTransport interface {
	Hangup(ctx context.Context, callID domain.CallID, userID domain.UserID) error
}

type EventPublisher interface {
	Publish(ctx context.Context, callID domain.CallID, event domain.CallEvent) error
}

// MediaIngest terminates the WebRTC connection a user publishes media on.
type MediaIngest interface {
	HandleOffer(ctx context.Context, callID domain.CallID, userID domain.UserID, offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
}

type CallMetrics interface {
	SetActiveCalls(n int)
	SetActiveSessions(n int)
	ParticipantEvent(eventType domain.CallEventType)
	StaleEvent()
	RecordingFinished(outcome string, duration time.Duration)
	UploadResult(result string, size int)
	MediaAcquisitionFailed(reason string)
}

type CallService interface {
	CreateCall(ctx context.Context, initiator domain.Profile, callType domain.CallType, isGroup bool) (*domain.GroupCall, error)
	GetCall(ctx context.Context, callID domain.CallID) (*domain.GroupCall, error)
	ListActiveCalls(ctx context.Context) ([]*domain.GroupCall, error)
	JoinCall(ctx context.Context, callID domain.CallID, profile domain.Profile) (*domain.CallViewState, error)
	LeaveCall(ctx context.Context, callID domain.CallID, userID domain.UserID) error
	State(ctx context.Context, callID domain.CallID, userID domain.UserID) (*domain.CallViewState, error)
	SetMuted(ctx context.Context, callID domain.CallID, userID domain.UserID, muted bool) (*domain.CallViewState, error)
	SetVideoOff(ctx context.Context, callID domain.CallID, userID domain.UserID, off bool) (*domain.CallViewState, error)
	SetFullscreen(ctx context.Context, callID domain.CallID, userID domain.UserID, fullscreen bool) (*domain.CallViewState, error)
	ToggleRecording(ctx context.Context, callID domain.CallID, userID domain.UserID) (*domain.CallViewState, error)
	ListRecordings(ctx context.Context, callID domain.CallID) ([]*domain.RecordingRecord, error)
	ApplyParticipantEvent(ctx context.Context, callID domain.CallID, userID domain.UserID, update domain.ParticipantUpdate) int
	PublishStream(ctx context.Context, callID domain.CallID, userID domain.UserID, stream *domain.MediaStream)
	Shutdown(ctx context.Context) error
}

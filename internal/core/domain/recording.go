package domain

import "time"

const RecordingMimeType = "audio/ogg"

type RecordingState string

const (
	RecordingIdle    RecordingState = "idle"
	RecordingActive  RecordingState = "recording"
	RecordingStopped RecordingState = "stopped"
)

type RecordingID string

// RecordingArtifact is the finalized output of one recording session.
type RecordingArtifact struct {
	ID        RecordingID
	CallID    CallID
	Blob      []byte
	MimeType  string
	Duration  time.Duration
	StartedAt time.Time
	Tracks    int
}

func (a *RecordingArtifact) Size() int {
	return len(a.Blob)
}

// RecordingRecord is the catalog entry for an uploaded recording.
type RecordingRecord struct {
	ID          RecordingID   `json:"id"`
	CallID      CallID        `json:"call_id"`
	ObjectKey   string        `json:"object_key"`
	SizeBytes   int64         `json:"size_bytes"`
	MimeType    string        `json:"mime_type"`
	Duration    time.Duration `json:"duration_ns"`
	IsGroupCall bool          `json:"is_group_call"`
	CreatedAt   time.Time     `json:"created_at"`
}

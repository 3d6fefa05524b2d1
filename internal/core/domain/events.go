package domain

import "time"

type CallEventType string

const (
	EventParticipantJoined CallEventType = "participant_joined"
	EventParticipantLeft   CallEventType = "participant_left"
	EventParticipantState  CallEventType = "participant_state"
	EventRecordingStarted  CallEventType = "recording_started"
	EventRecordingStopped  CallEventType = "recording_stopped"
	EventCallArchived      CallEventType = "call_archived"
)

// CallEvent is pushed to every client connected to a call.
type CallEvent struct {
	Type       CallEventType `json:"type"`
	CallID     CallID        `json:"call_id"`
	UserID     UserID        `json:"user_id,omitempty"`
	UserName   string        `json:"user_name,omitempty"`
	IsMuted    *bool         `json:"is_muted,omitempty"`
	IsVideoOff *bool         `json:"is_video_off,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
}

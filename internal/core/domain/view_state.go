package domain

import "time"

// ParticipantView is the render-ready projection of a Participant.
type ParticipantView struct {
	UserID     UserID `json:"user_id"`
	UserName   string `json:"user_name"`
	UserAvatar string `json:"user_avatar,omitempty"`
	Initial    string `json:"initial"`
	HasStream  bool   `json:"has_stream"`
	IsMuted    bool   `json:"is_muted"`
	IsVideoOff bool   `json:"is_video_off"`
}

func ViewOf(p Participant) ParticipantView {
	return ParticipantView{
		UserID:     p.UserID,
		UserName:   p.UserName,
		UserAvatar: p.UserAvatar,
		Initial:    p.Initial(),
		HasStream:  p.HasStream(),
		IsMuted:    p.IsMuted,
		IsVideoOff: p.IsVideoOff,
	}
}

// CallViewState is derived on every read and never persisted.
type CallViewState struct {
	CallID           CallID            `json:"call_id"`
	CallType         CallType          `json:"call_type"`
	IsGroupCall      bool              `json:"is_group_call"`
	LocalUserID      UserID            `json:"local_user_id"`
	Participants     []ParticipantView `json:"participants"`
	ParticipantCount int               `json:"participant_count"`
	IsMuted          bool              `json:"is_muted"`
	IsVideoOff       bool              `json:"is_video_off"`
	IsFullscreen     bool              `json:"is_fullscreen"`
	Duration         time.Duration     `json:"duration"`
	Recording        RecordingState    `json:"recording"`
	RecordingElapsed time.Duration     `json:"recording_elapsed"`
	Layout           GridLayout        `json:"layout"`
	HasLocalMedia    bool              `json:"has_local_media"`
	MediaError       string            `json:"media_error,omitempty"`
	Closed           bool              `json:"closed"`
}

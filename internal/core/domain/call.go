package domain

import (
	"fmt"
	"time"
)

type CallID string

// CallType is fixed for the lifetime of a call.
type CallType string

const (
	CallTypeVoice CallType = "voice"
	CallTypeVideo CallType = "video"
)

func ParseCallType(s string) (CallType, error) {
	switch CallType(s) {
	case CallTypeVoice, CallTypeVideo:
		return CallType(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidCallType, s)
	}
}

// HasVideo reports whether video operations are valid for the call type.
func (t CallType) HasVideo() bool {
	return t == CallTypeVideo
}

type CallStatus string

const (
	CallStatusActive   CallStatus = "active"
	CallStatusArchived CallStatus = "archived"
)

type GroupCall struct {
	ID             CallID     `json:"id"`
	Type           CallType   `json:"type"`
	IsGroup        bool       `json:"is_group"`
	InitiatorID    UserID     `json:"initiator_id"`
	Status         CallStatus `json:"status"`
	ParticipantIDs []UserID   `json:"participant_ids"`
	CreatedAt      time.Time  `json:"created_at"`
	ArchivedAt     *time.Time `json:"archived_at,omitempty"`
}

func NewGroupCall(id CallID, callType CallType, isGroup bool, initiator UserID, now time.Time) *GroupCall {
	return &GroupCall{
		ID:          id,
		Type:        callType,
		IsGroup:     isGroup,
		InitiatorID: initiator,
		Status:      CallStatusActive,
		CreatedAt:   now,
	}
}

func (c *GroupCall) Active() bool {
	return c.Status == CallStatusActive
}

func (c *GroupCall) HasParticipant(userID UserID) bool {
	for _, id := range c.ParticipantIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// AddParticipant returns false when the user already joined.
func (c *GroupCall) AddParticipant(userID UserID) bool {
	if c.HasParticipant(userID) {
		return false
	}
	c.ParticipantIDs = append(c.ParticipantIDs, userID)
	return true
}

func (c *GroupCall) RemoveParticipant(userID UserID) bool {
	for i, id := range c.ParticipantIDs {
		if id == userID {
			c.ParticipantIDs = append(c.ParticipantIDs[:i], c.ParticipantIDs[i+1:]...)
			return true
		}
	}
	return false
}

// Archive marks the call as finished. Archiving twice keeps the first timestamp.
func (c *GroupCall) Archive(now time.Time) {
	if c.Status == CallStatusArchived {
		return
	}
	c.Status = CallStatusArchived
	c.ArchivedAt = &now
}

// Clone returns a copy safe to hand out of a repository.
func (c *GroupCall) Clone() *GroupCall {
	cp := *c
	cp.ParticipantIDs = append([]UserID(nil), c.ParticipantIDs...)
	if c.ArchivedAt != nil {
		at := *c.ArchivedAt
		cp.ArchivedAt = &at
	}
	return &cp
}

package domain

type Participant struct {
	UserID     UserID
	UserName   string
	UserAvatar string
	// Stream is owned by the transport; nil renders as a placeholder avatar.
	Stream     *MediaStream
	IsMuted    bool
	IsVideoOff bool
}

func NewParticipant(profile Profile) Participant {
	return Participant{
		UserID:     profile.ID,
		UserName:   profile.Name,
		UserAvatar: profile.Avatar,
	}
}

func (p Participant) Initial() string {
	return Initial(p.UserName)
}

func (p Participant) HasStream() bool {
	return p.Stream != nil
}

// ParticipantUpdate is a partial update; nil fields are left untouched.
type ParticipantUpdate struct {
	IsMuted    *bool
	IsVideoOff *bool
	Stream     *MediaStream
}

func (u ParticipantUpdate) Empty() bool {
	return u.IsMuted == nil && u.IsVideoOff == nil && u.Stream == nil
}

func (u ParticipantUpdate) Apply(p *Participant) {
	if u.IsMuted != nil {
		p.IsMuted = *u.IsMuted
	}
	if u.IsVideoOff != nil {
		p.IsVideoOff = *u.IsVideoOff
	}
	if u.Stream != nil {
		p.Stream = u.Stream
	}
}

func MuteUpdate(muted bool) ParticipantUpdate {
	return ParticipantUpdate{IsMuted: &muted}
}

func VideoOffUpdate(off bool) ParticipantUpdate {
	return ParticipantUpdate{IsVideoOff: &off}
}

func StreamUpdate(stream *MediaStream) ParticipantUpdate {
	return ParticipantUpdate{Stream: stream}
}

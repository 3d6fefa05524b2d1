package domain

type TrackKind string

const (
	TrackKindAudio TrackKind = "audio"
	TrackKindVideo TrackKind = "video"
)

// MediaTrack is a single live audio or video track. Only the owner of a
// track stops it; everyone else holds a reference.
type MediaTrack interface {
	ID() string
	Kind() TrackKind
	Enabled() bool
	SetEnabled(enabled bool)
	Stop()
}

// MediaStream is an immutable set of tracks. A new stream value is built
// whenever the set of tracks changes.
type MediaStream struct {
	id     string
	tracks []MediaTrack
}

func NewMediaStream(id string, tracks ...MediaTrack) *MediaStream {
	return &MediaStream{
		id:     id,
		tracks: append([]MediaTrack(nil), tracks...),
	}
}

func (s *MediaStream) ID() string {
	if s == nil {
		return ""
	}
	return s.id
}

func (s *MediaStream) Tracks() []MediaTrack {
	if s == nil {
		return nil
	}
	return append([]MediaTrack(nil), s.tracks...)
}

func (s *MediaStream) AudioTracks() []MediaTrack {
	return s.tracksOfKind(TrackKindAudio)
}

func (s *MediaStream) VideoTracks() []MediaTrack {
	return s.tracksOfKind(TrackKindVideo)
}

func (s *MediaStream) tracksOfKind(kind TrackKind) []MediaTrack {
	if s == nil {
		return nil
	}
	var out []MediaTrack
	for _, t := range s.tracks {
		if t.Kind() == kind {
			out = append(out, t)
		}
	}
	return out
}

// WithTrack returns a stream with track added, replacing a track with the same ID.
func (s *MediaStream) WithTrack(id string, track MediaTrack) *MediaStream {
	var tracks []MediaTrack
	for _, t := range s.Tracks() {
		if t.ID() != track.ID() {
			tracks = append(tracks, t)
		}
	}
	return NewMediaStream(id, append(tracks, track)...)
}

// CombineAudio snapshots the audio tracks of the given streams into one
// stream. Nil streams are skipped and a track present in several streams
// is kept once.
func CombineAudio(id string, streams ...*MediaStream) *MediaStream {
	seen := make(map[string]struct{})
	var tracks []MediaTrack
	for _, s := range streams {
		for _, t := range s.AudioTracks() {
			if _, ok := seen[t.ID()]; ok {
				continue
			}
			seen[t.ID()] = struct{}{}
			tracks = append(tracks, t)
		}
	}
	return NewMediaStream(id, tracks...)
}

type MediaConstraints struct {
	Audio bool
	Video bool
}

func ConstraintsFor(callType CallType) MediaConstraints {
	return MediaConstraints{Audio: true, Video: callType.HasVideo()}
}

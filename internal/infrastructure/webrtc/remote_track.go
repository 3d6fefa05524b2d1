package webrtc

import (
	"sync"
	"sync/atomic"

	"greenearth/internal/core/domain"

	"github.com/pion/rtp"
)

const defaultTapBuffer = 256

// RemoteTrack adapts an incoming RTP track to domain.MediaTrack. A single
// reader goroutine pulls packets and fans them out to taps; packets read
// while the track is disabled are dropped, which is how mute reaches every
// consumer without renegotiation.
type RemoteTrack struct {
	id    string
	kind  domain.TrackKind
	codec string
	ssrc  uint32
	read  func() (*rtp.Packet, error)

	enabled atomic.Bool
	packets atomic.Uint64
	dropped atomic.Uint64

	mu      sync.Mutex
	taps    map[int]chan *rtp.Packet
	nextTap int
	stopped bool
	done    chan struct{}
}

func NewRemoteTrack(id string, kind domain.TrackKind, codec string, ssrc uint32, read func() (*rtp.Packet, error)) *RemoteTrack {
	t := &RemoteTrack{
		id:    id,
		kind:  kind,
		codec: codec,
		ssrc:  ssrc,
		read:  read,
		taps:  make(map[int]chan *rtp.Packet),
		done:  make(chan struct{}),
	}
	t.enabled.Store(true)
	return t
}

func (t *RemoteTrack) ID() string              { return t.id }
func (t *RemoteTrack) Kind() domain.TrackKind  { return t.kind }
func (t *RemoteTrack) Codec() string           { return t.codec }
func (t *RemoteTrack) SSRC() uint32            { return t.ssrc }
func (t *RemoteTrack) Enabled() bool           { return t.enabled.Load() }
func (t *RemoteTrack) SetEnabled(enabled bool) { t.enabled.Store(enabled) }

// Done is closed once the track is stopped or its source ends.
func (t *RemoteTrack) Done() <-chan struct{} {
	return t.done
}

// Run pumps packets until the source fails. Call it once, on its own goroutine.
func (t *RemoteTrack) Run() {
	defer t.Stop()

	for {
		pkt, err := t.read()
		if err != nil {
			return
		}
		t.packets.Add(1)
		if !t.Enabled() {
			continue
		}

		t.mu.Lock()
		if t.stopped {
			t.mu.Unlock()
			continue
		}
		for _, tap := range t.taps {
			select {
			case tap <- pkt:
			default:
				t.dropped.Add(1)
			}
		}
		t.mu.Unlock()
	}
}

// Subscribe returns a channel of packets and a function that cancels the
// subscription. The channel is closed on cancel and when the track stops.
func (t *RemoteTrack) Subscribe(buffer int) (<-chan *rtp.Packet, func()) {
	if buffer <= 0 {
		buffer = defaultTapBuffer
	}
	ch := make(chan *rtp.Packet, buffer)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		close(ch)
		return ch, func() {}
	}

	id := t.nextTap
	t.nextTap++
	t.taps[id] = ch

	return ch, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if tap, ok := t.taps[id]; ok {
			delete(t.taps, id)
			close(tap)
		}
	}
}

// Stop ends fan-out and closes every tap. The underlying connection is
// closed by the ingest, not here.
func (t *RemoteTrack) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return
	}
	t.stopped = true
	for id, tap := range t.taps {
		delete(t.taps, id)
		close(tap)
	}
	close(t.done)
}

// Stats returns the packets read and the packets dropped on full taps.
func (t *RemoteTrack) Stats() (read, dropped uint64) {
	return t.packets.Load(), t.dropped.Load()
}

package services

import (
	"context"
	"sync"

	"greenearth/internal/core/domain"
	"greenearth/internal/core/ports"
)

// MediaCapture owns the local user's media stream. Mute and video-off only
// flip the enabled flag of the local tracks; the connection is never
// renegotiated. The desired state is kept while media is still being
// acquired and applied once it arrives.
type MediaCapture struct {
	mu       sync.Mutex
	callType domain.CallType
	stream   *domain.MediaStream
	muted    bool
	videoOff bool
	mediaErr error
	released bool
	cancel   context.CancelFunc
}

func NewMediaCapture(callType domain.CallType) *MediaCapture {
	return &MediaCapture{callType: callType}
}

// Acquire requests local media and blocks until it arrives, fails or ctx is
// done. Video is only requested on video calls. A failed acquisition is kept
// as the media error and the capture stays usable without media.
func (m *MediaCapture) Acquire(ctx context.Context, devices ports.MediaDevices, callID domain.CallID, userID domain.UserID) error {
	m.mu.Lock()
	if m.released {
		m.mu.Unlock()
		return domain.ErrSessionClosed
	}
	if m.stream != nil {
		m.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.mu.Unlock()
	defer cancel()

	stream, err := devices.GetUserMedia(ctx, callID, userID, domain.ConstraintsFor(m.callType))

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancel = nil

	if m.released {
		stopTracks(stream)
		return domain.ErrSessionClosed
	}
	if err != nil {
		m.mediaErr = err
		return err
	}

	// A stream published while acquiring is newer than the acquired one.
	if m.stream == nil {
		m.stream = stream
	}
	m.mediaErr = nil
	m.applyLocked()
	return nil
}

// Replace adopts a republished local stream and applies the current mute and
// video-off state to it. Tracks of the old stream missing from the new one
// are stopped. It reports false once the capture is released.
func (m *MediaCapture) Replace(stream *domain.MediaStream) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.released {
		return false
	}
	if m.stream != nil && m.stream != stream {
		kept := make(map[domain.MediaTrack]struct{})
		for _, t := range stream.Tracks() {
			kept[t] = struct{}{}
		}
		for _, t := range m.stream.Tracks() {
			if _, ok := kept[t]; !ok {
				t.Stop()
			}
		}
	}
	m.stream = stream
	m.mediaErr = nil
	m.applyLocked()
	return true
}

func (m *MediaCapture) SetMuted(muted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.muted = muted
	m.applyLocked()
}

// SetVideoOff fails with ErrVideoNotSupported on voice calls and leaves the
// state untouched.
func (m *MediaCapture) SetVideoOff(off bool) error {
	if !m.callType.HasVideo() {
		return domain.ErrVideoNotSupported
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.videoOff = off
	m.applyLocked()
	return nil
}

func (m *MediaCapture) applyLocked() {
	for _, t := range m.stream.AudioTracks() {
		t.SetEnabled(!m.muted)
	}
	for _, t := range m.stream.VideoTracks() {
		t.SetEnabled(!m.videoOff)
	}
}

// Release stops the local tracks and cancels a pending acquisition. Only
// the capture stops local tracks.
func (m *MediaCapture) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.released {
		return
	}
	m.released = true
	if m.cancel != nil {
		m.cancel()
	}
	stopTracks(m.stream)
	m.stream = nil
}

func (m *MediaCapture) Stream() *domain.MediaStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stream
}

func (m *MediaCapture) IsMuted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.muted
}

func (m *MediaCapture) IsVideoOff() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.videoOff
}

func (m *MediaCapture) MediaError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mediaErr
}

func stopTracks(stream *domain.MediaStream) {
	for _, t := range stream.Tracks() {
		t.Stop()
	}
}

package webrtc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"greenearth/internal/core/domain"
	"greenearth/internal/core/ports"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media/oggwriter"
	"go.uber.org/zap"
)

var errRecorderState = errors.New("recorder is not running")

// RecorderConfig describes the Opus streams written into the Ogg container.
type RecorderConfig struct {
	SampleRate  uint32
	Channels    uint16
	TapBuffer   int
	// MaxDuration caps the captured audio. Packets after the cap are dropped
	// until the recording is stopped. Zero means no cap.
	MaxDuration time.Duration
}

func DefaultRecorderConfig() RecorderConfig {
	return RecorderConfig{SampleRate: 48000, Channels: 2, TapBuffer: defaultTapBuffer}
}

// packetSource is the part of RemoteTrack the recorder reads from.
type packetSource interface {
	ID() string
	Codec() string
	Subscribe(buffer int) (<-chan *rtp.Packet, func())
}

type OggRecorderFactory struct {
	cfg    RecorderConfig
	logger *zap.SugaredLogger
}

func NewOggRecorderFactory(cfg RecorderConfig, logger *zap.SugaredLogger) *OggRecorderFactory {
	return &OggRecorderFactory{cfg: cfg, logger: logger}
}

func (f *OggRecorderFactory) NewRecorder() ports.MediaRecorder {
	return &OggRecorder{cfg: f.cfg, logger: f.logger}
}

// OggRecorder writes every snapshotted audio track as its own logical Opus
// stream of one grouped Ogg file. The BOS pages of all streams come first,
// then their comment headers, then the interleaved audio pages.
type OggRecorder struct {
	cfg    RecorderConfig
	logger *zap.SugaredLogger

	mu      sync.Mutex
	buf     bytes.Buffer
	running bool
	done    bool
	// headers holds each stream's header pages until all streams exist.
	headers [][][]byte

	writers  []*oggwriter.OggWriter
	unsubs   []func()
	wg       sync.WaitGroup
	deadline time.Time
}

// pageWriter serializes whole Ogg pages from concurrent track writers.
// oggwriter emits each page with a single Write call.
type pageWriter struct {
	r      *OggRecorder
	stream int
}

func (w pageWriter) Write(p []byte) (int, error) {
	w.r.mu.Lock()
	defer w.r.mu.Unlock()
	if w.r.done {
		return 0, errRecorderState
	}
	if w.r.headers != nil {
		w.r.headers[w.stream] = append(w.r.headers[w.stream], bytes.Clone(p))
		return len(p), nil
	}
	return w.r.buf.Write(p)
}

// flushHeadersLocked writes every stream's first page, then the remaining
// header pages, and switches pageWriter to direct writes.
func (r *OggRecorder) flushHeadersLocked() {
	for _, pages := range r.headers {
		if len(pages) > 0 {
			r.buf.Write(pages[0])
		}
	}
	for _, pages := range r.headers {
		for _, page := range pages[min(1, len(pages)):] {
			r.buf.Write(page)
		}
	}
	r.headers = nil
}

func (r *OggRecorder) MimeType() string {
	return domain.RecordingMimeType
}

func (r *OggRecorder) Start(stream *domain.MediaStream) error {
	r.mu.Lock()
	if r.running || r.done {
		r.mu.Unlock()
		return fmt.Errorf("recorder already used")
	}
	r.mu.Unlock()

	var sources []packetSource
	for _, t := range stream.AudioTracks() {
		src, ok := t.(packetSource)
		if !ok {
			continue
		}
		if codec := src.Codec(); codec != "" && !strings.EqualFold(codec, webrtc.MimeTypeOpus) {
			r.logger.Warnw("Skipping non-Opus audio track", "track_id", src.ID(), "codec", codec)
			continue
		}
		sources = append(sources, src)
	}
	if len(sources) == 0 {
		return fmt.Errorf("%w: none of %d audio tracks can be recorded", domain.ErrNoAudioTracks, len(stream.AudioTracks()))
	}

	r.mu.Lock()
	r.headers = make([][][]byte, len(sources))
	r.mu.Unlock()

	writers := make([]*oggwriter.OggWriter, 0, len(sources))
	for i, src := range sources {
		w, err := oggwriter.NewWith(pageWriter{r: r, stream: i}, r.cfg.SampleRate, r.cfg.Channels)
		if err != nil {
			r.mu.Lock()
			r.headers = nil
			r.mu.Unlock()
			return fmt.Errorf("failed to create ogg stream for track %s: %w", src.ID(), err)
		}
		writers = append(writers, w)
	}

	r.mu.Lock()
	r.flushHeadersLocked()
	r.running = true
	r.writers = writers
	if r.cfg.MaxDuration > 0 {
		r.deadline = time.Now().Add(r.cfg.MaxDuration)
	}
	r.mu.Unlock()

	for i, src := range sources {
		packets, unsubscribe := src.Subscribe(r.cfg.TapBuffer)
		r.unsubs = append(r.unsubs, unsubscribe)
		r.wg.Add(1)
		go r.capture(src.ID(), writers[i], packets)
	}

	r.logger.Debugw("Ogg recorder started", "tracks", len(sources))
	return nil
}

func (r *OggRecorder) capture(trackID string, w *oggwriter.OggWriter, packets <-chan *rtp.Packet) {
	defer r.wg.Done()

	capped := false
	for pkt := range packets {
		if capped {
			continue
		}
		if !r.deadline.IsZero() && time.Now().After(r.deadline) {
			capped = true
			r.logger.Warnw("Recording reached maximum duration, dropping further audio", "track_id", trackID, "max_duration", r.cfg.MaxDuration)
			continue
		}
		if err := w.WriteRTP(pkt); err != nil {
			if errors.Is(err, errRecorderState) {
				return
			}
			r.logger.Warnw("Failed to write RTP packet to recording", "track_id", trackID, "error", err)
		}
	}
}

// Stop detaches from the tracks, waits for pending packets to be written and
// returns the finished file.
func (r *OggRecorder) Stop(ctx context.Context) ([]byte, error) {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil, errRecorderState
	}
	r.running = false
	r.mu.Unlock()

	for _, unsubscribe := range r.unsubs {
		unsubscribe()
	}

	drained := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-ctx.Done():
		r.mu.Lock()
		r.done = true
		r.mu.Unlock()
		return nil, fmt.Errorf("failed to drain recording: %w", ctx.Err())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.done = true
	for _, w := range r.writers {
		_ = w.Close()
	}
	return bytes.Clone(r.buf.Bytes()), nil
}

package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"greenearth/internal/core/domain"
	"greenearth/internal/core/ports"

	"github.com/google/uuid"
)

// RecordingController runs at most one recording session at a time:
// idle -> recording -> stopped. Starting again after a stop opens a new
// session with a fresh recorder.
type RecordingController struct {
	mu        sync.Mutex
	callID    domain.CallID
	factory   ports.MediaRecorderFactory
	clock     ports.Clock
	state     domain.RecordingState
	recorder  ports.MediaRecorder
	startedAt time.Time
	duration  time.Duration
	tracks    int
}

func NewRecordingController(callID domain.CallID, factory ports.MediaRecorderFactory, clock ports.Clock) *RecordingController {
	return &RecordingController{
		callID:  callID,
		factory: factory,
		clock:   clock,
		state:   domain.RecordingIdle,
	}
}

// Start snapshots the audio tracks of local and mixed and begins capturing
// them. Tracks added to either stream afterwards are not recorded. On any
// failure the controller keeps its previous state.
func (c *RecordingController) Start(ctx context.Context, local, mixed *domain.MediaStream) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == domain.RecordingActive {
		return domain.ErrRecordingInProgress
	}

	combined := domain.CombineAudio(uuid.NewString(), local, mixed)
	tracks := len(combined.Tracks())
	if tracks == 0 {
		return domain.ErrNoAudioTracks
	}

	recorder := c.factory.NewRecorder()
	if err := recorder.Start(combined); err != nil {
		return fmt.Errorf("failed to start recorder: %w", err)
	}

	c.recorder = recorder
	c.state = domain.RecordingActive
	c.startedAt = c.clock.Now()
	c.duration = 0
	c.tracks = tracks
	return nil
}

// Stop finalizes the running session. The state moves to stopped before the
// recorder is drained, so a failed finalization loses the recording rather
// than leaving the controller stuck in recording.
func (c *RecordingController) Stop(ctx context.Context) (*domain.RecordingArtifact, error) {
	c.mu.Lock()
	if c.state != domain.RecordingActive {
		c.mu.Unlock()
		return nil, domain.ErrRecordingNotActive
	}
	recorder := c.recorder
	startedAt := c.startedAt
	tracks := c.tracks
	c.duration = c.clock.Now().Sub(startedAt)
	duration := c.duration
	c.state = domain.RecordingStopped
	c.recorder = nil
	c.mu.Unlock()

	blob, err := recorder.Stop(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to finalize recording: %w", err)
	}

	return &domain.RecordingArtifact{
		ID:        domain.RecordingID(uuid.NewString()),
		CallID:    c.callID,
		Blob:      blob,
		MimeType:  recorder.MimeType(),
		Duration:  duration,
		StartedAt: startedAt,
		Tracks:    tracks,
	}, nil
}

func (c *RecordingController) State() domain.RecordingState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Elapsed grows while recording and is frozen once stopped.
func (c *RecordingController) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case domain.RecordingActive:
		return c.clock.Now().Sub(c.startedAt)
	case domain.RecordingStopped:
		return c.duration
	default:
		return 0
	}
}

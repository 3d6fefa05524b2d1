package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"greenearth/internal/core/domain"
	"greenearth/internal/core/ports"

	"go.uber.org/zap"
)

// SessionDeps are the collaborators shared by every session of a process.
type SessionDeps struct {
	Recorders ports.MediaRecorderFactory
	Uploader  ports.RecordingUploader
	Transport ports.CallTransport
	Clock     ports.Clock
	Logger    *zap.SugaredLogger
}

// CallSession is the state of one call as seen by one local user. It is
// created when the user joins and closed by Leave.
type CallSession struct {
	callID    domain.CallID
	callType  domain.CallType
	isGroup   bool
	local     domain.Profile
	createdAt time.Time

	registry  *ParticipantRegistry
	recording *RecordingController
	capture   *MediaCapture

	uploader  ports.RecordingUploader
	transport ports.CallTransport
	clock     ports.Clock
	logger    *zap.SugaredLogger

	// ops serializes recording toggles with Leave.
	ops sync.Mutex

	mu         sync.Mutex
	fullscreen bool
	closed     bool
}

func NewCallSession(call *domain.GroupCall, local domain.Profile, deps SessionDeps) *CallSession {
	clock := deps.Clock
	if clock == nil {
		clock = SystemClock()
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return &CallSession{
		callID:    call.ID,
		callType:  call.Type,
		isGroup:   call.IsGroup,
		local:     local,
		createdAt: clock.Now(),
		registry:  NewParticipantRegistry(),
		recording: NewRecordingController(call.ID, deps.Recorders, clock),
		capture:   NewMediaCapture(call.Type),
		uploader:  deps.Uploader,
		transport: deps.Transport,
		clock:     clock,
		logger:    logger.With("call_id", call.ID, "user_id", local.ID),
	}
}

func (s *CallSession) CallID() domain.CallID {
	return s.callID
}

func (s *CallSession) LocalUser() domain.Profile {
	return s.local
}

func (s *CallSession) AddParticipant(p domain.Participant) bool {
	if !s.registry.Add(p) {
		s.logger.Warnw("Duplicate participant join ignored", "participant_id", p.UserID)
		return false
	}
	return true
}

func (s *CallSession) RemoveParticipant(userID domain.UserID) bool {
	return s.registry.Remove(userID)
}

func (s *CallSession) UpdateParticipant(userID domain.UserID, update domain.ParticipantUpdate) bool {
	if !s.registry.Update(userID, update) {
		s.logger.Debugw("Stale participant update ignored", "participant_id", userID)
		return false
	}
	return true
}

func (s *CallSession) Participants() []domain.Participant {
	return s.registry.List()
}

func (s *CallSession) ParticipantCount() int {
	return s.registry.Count()
}

// AcquireMedia blocks until local media is available; run it on its own goroutine.
func (s *CallSession) AcquireMedia(ctx context.Context, devices ports.MediaDevices) error {
	return s.capture.Acquire(ctx, devices, s.callID, s.local.ID)
}

// ReplaceLocalStream hands a republished stream to the local capture.
func (s *CallSession) ReplaceLocalStream(stream *domain.MediaStream) bool {
	if s.isClosed() {
		return false
	}
	return s.capture.Replace(stream)
}

func (s *CallSession) LocalStream() *domain.MediaStream {
	return s.capture.Stream()
}

func (s *CallSession) IsMuted() bool {
	return s.capture.IsMuted()
}

func (s *CallSession) IsVideoOff() bool {
	return s.capture.IsVideoOff()
}

func (s *CallSession) SetMuted(muted bool) error {
	if s.isClosed() {
		return domain.ErrSessionClosed
	}
	s.capture.SetMuted(muted)
	return nil
}

func (s *CallSession) ToggleMute() (bool, error) {
	muted := !s.capture.IsMuted()
	return muted, s.SetMuted(muted)
}

func (s *CallSession) SetVideoOff(off bool) error {
	if s.isClosed() {
		return domain.ErrSessionClosed
	}
	return s.capture.SetVideoOff(off)
}

func (s *CallSession) ToggleVideo() (bool, error) {
	off := !s.capture.IsVideoOff()
	if err := s.SetVideoOff(off); err != nil {
		return s.capture.IsVideoOff(), err
	}
	return off, nil
}

func (s *CallSession) SetFullscreen(fullscreen bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return domain.ErrSessionClosed
	}
	s.fullscreen = fullscreen
	return nil
}

func (s *CallSession) RecordingState() domain.RecordingState {
	return s.recording.State()
}

// ToggleRecording starts a recording of the local stream plus the audio of
// every participant present right now, or stops the running one and hands
// the artifact to the uploader. A failed upload is reported with
// ErrUploadFailed and leaves the session running; the artifact is returned
// alongside so the caller can tell the user what was lost.
func (s *CallSession) ToggleRecording(ctx context.Context) (*domain.RecordingArtifact, error) {
	s.ops.Lock()
	defer s.ops.Unlock()

	if s.isClosed() {
		return nil, domain.ErrSessionClosed
	}

	if s.recording.State() == domain.RecordingActive {
		return s.stopRecording(ctx)
	}

	mixed := domain.CombineAudio(string(s.callID)+"-mix", s.registry.Streams()...)
	if err := s.recording.Start(ctx, s.capture.Stream(), mixed); err != nil {
		return nil, err
	}
	s.logger.Infow("Recording started", "participants", s.registry.Count())
	return nil, nil
}

func (s *CallSession) stopRecording(ctx context.Context) (*domain.RecordingArtifact, error) {
	artifact, err := s.recording.Stop(ctx)
	if err != nil {
		return nil, err
	}

	s.logger.Infow("Recording stopped",
		"recording_id", artifact.ID,
		"duration", artifact.Duration,
		"size", artifact.Size(),
	)

	if err := s.uploader.UploadRecording(ctx, s.callID, artifact, s.isGroup); err != nil {
		s.logger.Errorw("Recording upload failed", "recording_id", artifact.ID, "error", err)
		return artifact, fmt.Errorf("%w: %w", domain.ErrUploadFailed, err)
	}
	return artifact, nil
}

// Leave finalizes and uploads a running recording, hangs up the transport and
// releases local media. Every step runs even if an earlier one fails. The
// finalized artifact is returned when a recording was running, also when its
// upload failed.
func (s *CallSession) Leave(ctx context.Context) (*domain.RecordingArtifact, error) {
	s.ops.Lock()
	defer s.ops.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, domain.ErrSessionClosed
	}
	s.closed = true
	s.mu.Unlock()

	var (
		artifact *domain.RecordingArtifact
		errs     []error
	)
	if s.recording.State() == domain.RecordingActive {
		var err error
		if artifact, err = s.stopRecording(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	if s.transport != nil {
		if err := s.transport.Hangup(ctx, s.callID, s.local.ID); err != nil {
			errs = append(errs, fmt.Errorf("failed to hang up: %w", err))
		}
	}

	s.capture.Release()
	s.logger.Infow("Left call", "duration", s.clock.Now().Sub(s.createdAt))
	return artifact, errors.Join(errs...)
}

func (s *CallSession) Closed() bool {
	return s.isClosed()
}

func (s *CallSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// State derives the view state from the current components.
func (s *CallSession) State() *domain.CallViewState {
	s.mu.Lock()
	fullscreen := s.fullscreen
	closed := s.closed
	s.mu.Unlock()

	participants := s.registry.List()
	views := make([]domain.ParticipantView, 0, len(participants))
	for _, p := range participants {
		views = append(views, domain.ViewOf(p))
	}

	count := len(participants) + 1
	state := &domain.CallViewState{
		CallID:           s.callID,
		CallType:         s.callType,
		IsGroupCall:      s.isGroup,
		LocalUserID:      s.local.ID,
		Participants:     views,
		ParticipantCount: count,
		IsMuted:          s.capture.IsMuted(),
		IsVideoOff:       s.capture.IsVideoOff(),
		IsFullscreen:     fullscreen,
		Duration:         s.clock.Now().Sub(s.createdAt),
		Recording:        s.recording.State(),
		RecordingElapsed: s.recording.Elapsed(),
		Layout:           domain.GridLayoutFor(count),
		HasLocalMedia:    s.capture.Stream() != nil,
		Closed:           closed,
	}
	if err := s.capture.MediaError(); err != nil {
		state.MediaError = err.Error()
	}
	return state
}

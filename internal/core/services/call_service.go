package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"greenearth/internal/core/domain"
	"greenearth/internal/core/ports"
	"greenearth/pkg/tracing"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultMediaTimeout = 30 * time.Second

type CallServiceOptions struct {
	// MediaTimeout bounds how long a joined user's media acquisition may stay pending.
	MediaTimeout time.Duration
	// Locker guards call membership updates shared with other instances.
	// Nil leaves it to the service mutex.
	Locker ports.CallLocker
}

type callService struct {
	calls     ports.CallRepository
	catalog   ports.RecordingCatalog
	devices   ports.MediaDevices
	publisher ports.EventPublisher
	metrics   ports.CallMetrics
	deps      SessionDeps
	clock     ports.Clock
	logger    *zap.SugaredLogger
	opts      CallServiceOptions

	baseCtx context.Context
	cancel  context.CancelFunc

	mu       sync.Mutex
	sessions map[domain.CallID]map[domain.UserID]*CallSession
}

// NewCallService wires call lifetimes to per-user sessions. devices and
// publisher may be nil: sessions then run without local media or without
// pushing events.
func NewCallService(
	calls ports.CallRepository,
	catalog ports.RecordingCatalog,
	devices ports.MediaDevices,
	publisher ports.EventPublisher,
	metrics ports.CallMetrics,
	deps SessionDeps,
	opts CallServiceOptions,
) ports.CallService {
	if deps.Clock == nil {
		deps.Clock = SystemClock()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop().Sugar()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if opts.MediaTimeout <= 0 {
		opts.MediaTimeout = defaultMediaTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &callService{
		calls:     calls,
		catalog:   catalog,
		devices:   devices,
		publisher: publisher,
		metrics:   metrics,
		deps:      deps,
		clock:     deps.Clock,
		logger:    deps.Logger,
		opts:      opts,
		baseCtx:   ctx,
		cancel:    cancel,
		sessions:  make(map[domain.CallID]map[domain.UserID]*CallSession),
	}
}

func (s *callService) CreateCall(ctx context.Context, initiator domain.Profile, callType domain.CallType, isGroup bool) (*domain.GroupCall, error) {
	ctx, span := tracing.TraceCallOperation(ctx, "create", "", initiator.ID)
	defer span.End()

	if _, err := domain.ParseCallType(string(callType)); err != nil {
		return nil, err
	}

	call := domain.NewGroupCall(domain.CallID(uuid.NewString()), callType, isGroup, initiator.ID, s.clock.Now())
	if err := s.calls.Create(ctx, call); err != nil {
		tracing.RecordError(ctx, err)
		return nil, fmt.Errorf("failed to create call: %w", err)
	}

	s.logger.Infow("Call created", "call_id", call.ID, "type", callType, "group", isGroup, "initiator", initiator.ID)

	if _, err := s.JoinCall(ctx, call.ID, initiator); err != nil {
		s.abandonCall(ctx, call)
		return nil, err
	}
	return s.calls.GetByID(ctx, call.ID)
}

// abandonCall archives a call whose initiator never got in.
func (s *callService) abandonCall(ctx context.Context, call *domain.GroupCall) {
	call.Archive(s.clock.Now())
	if err := s.calls.Update(ctx, call); err != nil {
		s.logger.Errorw("Failed to archive abandoned call", "call_id", call.ID, "error", err)
		return
	}
	s.logger.Warnw("Call archived after initiator failed to join", "call_id", call.ID, "initiator", call.InitiatorID)
}

func (s *callService) GetCall(ctx context.Context, callID domain.CallID) (*domain.GroupCall, error) {
	return s.calls.GetByID(ctx, callID)
}

func (s *callService) ListActiveCalls(ctx context.Context) ([]*domain.GroupCall, error) {
	return s.calls.ListActive(ctx)
}

// JoinCall opens a session for the user, populated with everyone already in
// the call, and announces the user to the other sessions. Joining twice
// returns the existing session's state.
func (s *callService) JoinCall(ctx context.Context, callID domain.CallID, profile domain.Profile) (*domain.CallViewState, error) {
	ctx, span := tracing.TraceCallOperation(ctx, "join", callID, profile.ID)
	defer span.End()

	unlock, err := s.lockCall(ctx, callID)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}
	defer unlock()

	s.mu.Lock()
	call, err := s.calls.GetByID(ctx, callID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if !call.Active() {
		s.mu.Unlock()
		return nil, domain.ErrCallArchived
	}

	members := s.sessions[callID]
	if existing, ok := members[profile.ID]; ok {
		s.mu.Unlock()
		return existing.State(), nil
	}

	session := NewCallSession(call, profile, s.deps)
	joined := domain.NewParticipant(profile)
	for _, other := range members {
		session.AddParticipant(participantOf(other))
		other.AddParticipant(joined)
	}

	call.AddParticipant(profile.ID)
	if err := s.calls.Update(ctx, call); err != nil {
		s.mu.Unlock()
		tracing.RecordError(ctx, err)
		return nil, fmt.Errorf("failed to update call: %w", err)
	}

	if members == nil {
		members = make(map[domain.UserID]*CallSession)
		s.sessions[callID] = members
	}
	members[profile.ID] = session
	s.reportGaugesLocked()
	s.mu.Unlock()

	s.logger.Infow("Participant joined", "call_id", callID, "user_id", profile.ID, "participants", session.ParticipantCount())
	s.publish(ctx, callID, domain.CallEvent{
		Type:     domain.EventParticipantJoined,
		UserID:   profile.ID,
		UserName: profile.Name,
	})

	if s.devices != nil {
		go s.acquireMedia(session)
	}
	return session.State(), nil
}

func (s *callService) acquireMedia(session *CallSession) {
	ctx, cancel := context.WithTimeout(s.baseCtx, s.opts.MediaTimeout)
	defer cancel()

	user := session.LocalUser()
	if err := session.AcquireMedia(ctx, s.devices); err != nil {
		if errors.Is(err, domain.ErrSessionClosed) {
			return
		}
		reason := "error"
		switch {
		case errors.Is(err, domain.ErrPermissionDenied):
			reason = "permission_denied"
		case errors.Is(err, domain.ErrNoDevice):
			reason = "no_device"
		case errors.Is(err, context.DeadlineExceeded):
			reason = "timeout"
		}
		s.metrics.MediaAcquisitionFailed(reason)
		s.logger.Warnw("Continuing call without local media",
			"call_id", session.CallID(),
			"user_id", user.ID,
			"reason", reason,
			"error", err,
		)
		return
	}

	s.PublishStream(ctx, session.CallID(), user.ID, session.LocalStream())
}

// LeaveCall closes the user's session and removes the user from the other
// sessions. The call is archived once its last participant has left.
func (s *callService) LeaveCall(ctx context.Context, callID domain.CallID, userID domain.UserID) error {
	ctx, span := tracing.TraceCallOperation(ctx, "leave", callID, userID)
	defer span.End()

	unlock, lockErr := s.lockCall(ctx, callID)
	if lockErr != nil {
		// Leaving never fails on the lock; the membership update may race.
		s.logger.Warnw("Leaving call without lock", "call_id", callID, "user_id", userID, "error", lockErr)
		unlock = func() {}
	}
	defer unlock()

	s.mu.Lock()
	session, ok := s.sessions[callID][userID]
	if !ok {
		s.mu.Unlock()
		return domain.ErrNotParticipant
	}
	delete(s.sessions[callID], userID)
	for _, other := range s.sessions[callID] {
		other.RemoveParticipant(userID)
	}
	if len(s.sessions[callID]) == 0 {
		delete(s.sessions, callID)
	}

	archived, err := s.removeFromCallLocked(ctx, callID, userID)
	s.reportGaugesLocked()
	s.mu.Unlock()

	if err != nil {
		s.logger.Errorw("Failed to update call on leave", "call_id", callID, "user_id", userID, "error", err)
	}

	artifact, leaveErr := session.Leave(ctx)
	s.recordRecordingOutcome(ctx, artifact, leaveErr)

	s.publish(ctx, callID, domain.CallEvent{Type: domain.EventParticipantLeft, UserID: userID})
	if archived {
		s.logger.Infow("Call archived", "call_id", callID)
		s.publish(ctx, callID, domain.CallEvent{Type: domain.EventCallArchived})
	}

	// The user is gone either way; a failed upload or hangup does not undo that.
	if leaveErr != nil {
		tracing.RecordError(ctx, leaveErr)
		s.logger.Warnw("Left call with errors", "call_id", callID, "user_id", userID, "error", leaveErr)
	}
	return err
}

func (s *callService) removeFromCallLocked(ctx context.Context, callID domain.CallID, userID domain.UserID) (bool, error) {
	call, err := s.calls.GetByID(ctx, callID)
	if err != nil {
		return false, err
	}
	call.RemoveParticipant(userID)
	archived := false
	if len(call.ParticipantIDs) == 0 && call.Active() {
		call.Archive(s.clock.Now())
		archived = true
	}
	if err := s.calls.Update(ctx, call); err != nil {
		return false, fmt.Errorf("failed to update call: %w", err)
	}
	return archived, nil
}

func (s *callService) recordRecordingOutcome(ctx context.Context, artifact *domain.RecordingArtifact, err error) {
	if artifact == nil {
		return
	}
	outcome, result := "uploaded", "success"
	if errors.Is(err, domain.ErrUploadFailed) {
		outcome, result = "upload_failed", "failure"
	}
	tracing.AnnotateRecording(ctx, string(artifact.ID), outcome, artifact.Duration, artifact.Size())
	s.metrics.RecordingFinished(outcome, artifact.Duration)
	s.metrics.UploadResult(result, artifact.Size())
}

func (s *callService) State(ctx context.Context, callID domain.CallID, userID domain.UserID) (*domain.CallViewState, error) {
	session, err := s.session(callID, userID)
	if err != nil {
		return nil, err
	}
	return session.State(), nil
}

func (s *callService) SetMuted(ctx context.Context, callID domain.CallID, userID domain.UserID, muted bool) (*domain.CallViewState, error) {
	session, err := s.session(callID, userID)
	if err != nil {
		return nil, err
	}
	if err := session.SetMuted(muted); err != nil {
		return nil, err
	}

	s.ApplyParticipantEvent(ctx, callID, userID, domain.MuteUpdate(muted))
	s.publish(ctx, callID, domain.CallEvent{Type: domain.EventParticipantState, UserID: userID, IsMuted: &muted})
	return session.State(), nil
}

func (s *callService) SetVideoOff(ctx context.Context, callID domain.CallID, userID domain.UserID, off bool) (*domain.CallViewState, error) {
	session, err := s.session(callID, userID)
	if err != nil {
		return nil, err
	}
	if err := session.SetVideoOff(off); err != nil {
		return nil, err
	}

	s.ApplyParticipantEvent(ctx, callID, userID, domain.VideoOffUpdate(off))
	s.publish(ctx, callID, domain.CallEvent{Type: domain.EventParticipantState, UserID: userID, IsVideoOff: &off})
	return session.State(), nil
}

func (s *callService) SetFullscreen(ctx context.Context, callID domain.CallID, userID domain.UserID, fullscreen bool) (*domain.CallViewState, error) {
	session, err := s.session(callID, userID)
	if err != nil {
		return nil, err
	}
	if err := session.SetFullscreen(fullscreen); err != nil {
		return nil, err
	}
	return session.State(), nil
}

// ToggleRecording starts or stops the user's recording. When an upload fails
// the returned state is still valid and the error wraps ErrUploadFailed.
func (s *callService) ToggleRecording(ctx context.Context, callID domain.CallID, userID domain.UserID) (*domain.CallViewState, error) {
	ctx, span := tracing.TraceCallOperation(ctx, "recording.toggle", callID, userID)
	defer span.End()

	session, err := s.session(callID, userID)
	if err != nil {
		return nil, err
	}

	artifact, err := session.ToggleRecording(ctx)
	if err != nil && artifact == nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}

	if artifact == nil {
		s.publish(ctx, callID, domain.CallEvent{Type: domain.EventRecordingStarted, UserID: userID})
		return session.State(), nil
	}

	if err != nil {
		tracing.RecordError(ctx, err)
	}
	s.recordRecordingOutcome(ctx, artifact, err)
	s.publish(ctx, callID, domain.CallEvent{Type: domain.EventRecordingStopped, UserID: userID})
	return session.State(), err
}

func (s *callService) ListRecordings(ctx context.Context, callID domain.CallID) ([]*domain.RecordingRecord, error) {
	if _, err := s.calls.GetByID(ctx, callID); err != nil {
		return nil, err
	}
	return s.catalog.ListByCall(ctx, callID)
}

// ApplyParticipantEvent applies a state change of userID to every other
// session of the call and returns how many sessions accepted it. Sessions
// that no longer know the user drop the update as stale.
func (s *callService) ApplyParticipantEvent(ctx context.Context, callID domain.CallID, userID domain.UserID, update domain.ParticipantUpdate) int {
	if update.Empty() {
		return 0
	}

	s.mu.Lock()
	var targets []*CallSession
	for id, session := range s.sessions[callID] {
		if id != userID {
			targets = append(targets, session)
		}
	}
	s.mu.Unlock()

	applied := 0
	for _, session := range targets {
		if session.UpdateParticipant(userID, update) {
			applied++
		} else {
			s.metrics.StaleEvent()
		}
	}
	s.metrics.ParticipantEvent(domain.EventParticipantState)
	return applied
}

// PublishStream makes stream the user's local stream, so mute and video-off
// follow a republish, and hands it to the other sessions.
func (s *callService) PublishStream(ctx context.Context, callID domain.CallID, userID domain.UserID, stream *domain.MediaStream) {
	if stream == nil {
		return
	}
	if own, err := s.session(callID, userID); err == nil {
		own.ReplaceLocalStream(stream)
	}
	applied := s.ApplyParticipantEvent(ctx, callID, userID, domain.StreamUpdate(stream))
	s.logger.Debugw("Stream published", "call_id", callID, "user_id", userID, "stream_id", stream.ID(), "sessions", applied)
}

// Shutdown leaves every open session.
func (s *callService) Shutdown(ctx context.Context) error {
	s.cancel()

	s.mu.Lock()
	type member struct {
		callID domain.CallID
		userID domain.UserID
	}
	var members []member
	for callID, sessions := range s.sessions {
		for userID := range sessions {
			members = append(members, member{callID, userID})
		}
	}
	s.mu.Unlock()

	var errs []error
	for _, m := range members {
		if err := s.LeaveCall(ctx, m.callID, m.userID); err != nil && !errors.Is(err, domain.ErrNotParticipant) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *callService) lockCall(ctx context.Context, callID domain.CallID) (func(), error) {
	if s.opts.Locker == nil {
		return func() {}, nil
	}
	unlock, err := s.opts.Locker.LockCall(ctx, callID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock call %s: %w", callID, err)
	}
	return unlock, nil
}

func (s *callService) session(callID domain.CallID, userID domain.UserID) (*CallSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[callID]; !ok {
		return nil, domain.ErrSessionNotFound
	}
	session, ok := s.sessions[callID][userID]
	if !ok {
		return nil, domain.ErrNotParticipant
	}
	return session, nil
}

func (s *callService) publish(ctx context.Context, callID domain.CallID, event domain.CallEvent) {
	s.metrics.ParticipantEvent(event.Type)
	if s.publisher == nil {
		return
	}
	event.CallID = callID
	event.Timestamp = s.clock.Now()
	if err := s.publisher.Publish(ctx, callID, event); err != nil {
		s.logger.Warnw("Failed to publish call event", "call_id", callID, "type", event.Type, "error", err)
	}
}

func (s *callService) reportGaugesLocked() {
	total := 0
	for _, sessions := range s.sessions {
		total += len(sessions)
	}
	s.metrics.SetActiveCalls(len(s.sessions))
	s.metrics.SetActiveSessions(total)
}

func participantOf(session *CallSession) domain.Participant {
	p := domain.NewParticipant(session.LocalUser())
	p.Stream = session.LocalStream()
	p.IsMuted = session.IsMuted()
	p.IsVideoOff = session.IsVideoOff()
	return p
}

type noopMetrics struct{}

func (noopMetrics) SetActiveCalls(int)                      {}
func (noopMetrics) SetActiveSessions(int)                   {}
func (noopMetrics) ParticipantEvent(domain.CallEventType)   {}
func (noopMetrics) StaleEvent()                             {}
func (noopMetrics) RecordingFinished(string, time.Duration) {}
func (noopMetrics) UploadResult(string, int)                {}
func (noopMetrics) MediaAcquisitionFailed(string)           {}

package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"greenearth/internal/core/domain"
	"greenearth/internal/core/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type serviceFixture struct {
	svc       ports.CallService
	calls     *memoryCalls
	devices   *fakeDevices
	publisher *MockPublisher
	uploader  *MockUploader
	transport *MockTransport
	metrics   *fakeMetrics
	clock     *fakeClock
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		calls:     newMemoryCalls(),
		devices:   newFakeDevices(),
		publisher: &MockPublisher{},
		uploader:  &MockUploader{},
		transport: &MockTransport{},
		metrics:   &fakeMetrics{},
		clock:     newFakeClock(),
	}
	f.publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.transport.On("Hangup", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	f.svc = NewCallService(f.calls, emptyCatalog{}, f.devices, f.publisher, f.metrics, SessionDeps{
		Recorders: &fakeRecorderFactory{},
		Uploader:  f.uploader,
		Transport: f.transport,
		Clock:     f.clock,
	}, CallServiceOptions{MediaTimeout: time.Second})
	t.Cleanup(func() { _ = f.svc.Shutdown(context.Background()) })
	return f
}

func (f *serviceFixture) publishedTypes() []domain.CallEventType {
	var out []domain.CallEventType
	for _, c := range f.publisher.Calls {
		out = append(out, c.Arguments.Get(2).(domain.CallEvent).Type)
	}
	return out
}

func TestCallService_CreateJoinsInitiator(t *testing.T) {
	f := newServiceFixture(t)
	f.devices.streams["alice"] = audioStream("alice")

	call, err := f.svc.CreateCall(context.Background(), domain.Profile{ID: "alice", Name: "Alice"}, domain.CallTypeVoice, true)

	require.NoError(t, err)
	assert.Equal(t, []domain.UserID{"alice"}, call.ParticipantIDs)
	assert.True(t, call.Active())

	state, err := f.svc.State(context.Background(), call.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, state.ParticipantCount)
}

func TestCallService_CreateRejectsUnknownType(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.svc.CreateCall(context.Background(), domain.Profile{ID: "alice"}, domain.CallType("hologram"), true)

	assert.ErrorIs(t, err, domain.ErrInvalidCallType)
}

func TestCallService_JoinFansOutParticipants(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.devices.streams["alice"] = audioStream("alice")
	f.devices.streams["bob"] = audioStream("bob")

	call, err := f.svc.CreateCall(ctx, domain.Profile{ID: "alice", Name: "Alice"}, domain.CallTypeVideo, true)
	require.NoError(t, err)

	bobState, err := f.svc.JoinCall(ctx, call.ID, domain.Profile{ID: "bob", Name: "Bob"})
	require.NoError(t, err)
	assert.Equal(t, 2, bobState.ParticipantCount)
	assert.Equal(t, domain.UserID("alice"), bobState.Participants[0].UserID)

	aliceState, err := f.svc.State(ctx, call.ID, "alice")
	require.NoError(t, err)
	require.Len(t, aliceState.Participants, 1)
	assert.Equal(t, "Bob", aliceState.Participants[0].UserName)

	require.Eventually(t, func() bool {
		s, _ := f.svc.State(ctx, call.ID, "alice")
		return len(s.Participants) == 1 && s.Participants[0].HasStream
	}, time.Second, 5*time.Millisecond, "bob's stream reaches alice once acquired")

	again, err := f.svc.JoinCall(ctx, call.ID, domain.Profile{ID: "bob", Name: "Bob"})
	require.NoError(t, err)
	assert.Equal(t, 2, again.ParticipantCount)
	assert.Contains(t, f.publishedTypes(), domain.EventParticipantJoined)
}

func TestCallService_MuteIsVisibleToOthers(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	call, err := f.svc.CreateCall(ctx, domain.Profile{ID: "alice"}, domain.CallTypeVideo, true)
	require.NoError(t, err)
	_, err = f.svc.JoinCall(ctx, call.ID, domain.Profile{ID: "bob"})
	require.NoError(t, err)

	state, err := f.svc.SetMuted(ctx, call.ID, "bob", true)
	require.NoError(t, err)
	assert.True(t, state.IsMuted)

	_, err = f.svc.SetVideoOff(ctx, call.ID, "bob", true)
	require.NoError(t, err)

	aliceState, err := f.svc.State(ctx, call.ID, "alice")
	require.NoError(t, err)
	assert.True(t, aliceState.Participants[0].IsMuted)
	assert.True(t, aliceState.Participants[0].IsVideoOff)
	assert.False(t, aliceState.IsMuted)
}

func TestCallService_VoiceCallRejectsVideoOff(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	call, err := f.svc.CreateCall(ctx, domain.Profile{ID: "alice"}, domain.CallTypeVoice, false)
	require.NoError(t, err)

	_, err = f.svc.SetVideoOff(ctx, call.ID, "alice", true)

	assert.ErrorIs(t, err, domain.ErrVideoNotSupported)
}

func TestCallService_LeaveArchivesWhenEmpty(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	call, err := f.svc.CreateCall(ctx, domain.Profile{ID: "alice"}, domain.CallTypeVoice, true)
	require.NoError(t, err)
	_, err = f.svc.JoinCall(ctx, call.ID, domain.Profile{ID: "bob"})
	require.NoError(t, err)

	require.NoError(t, f.svc.LeaveCall(ctx, call.ID, "alice"))

	stored, err := f.svc.GetCall(ctx, call.ID)
	require.NoError(t, err)
	assert.True(t, stored.Active())
	bobState, err := f.svc.State(ctx, call.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, bobState.ParticipantCount)

	require.NoError(t, f.svc.LeaveCall(ctx, call.ID, "bob"))

	stored, err = f.svc.GetCall(ctx, call.ID)
	require.NoError(t, err)
	assert.False(t, stored.Active())
	assert.Empty(t, stored.ParticipantIDs)
	assert.Contains(t, f.publishedTypes(), domain.EventCallArchived)

	_, err = f.svc.JoinCall(ctx, call.ID, domain.Profile{ID: "carol"})
	assert.ErrorIs(t, err, domain.ErrCallArchived)
	assert.ErrorIs(t, f.svc.LeaveCall(ctx, call.ID, "bob"), domain.ErrNotParticipant)
}

func TestCallService_StaleEventAfterLeaveDoesNotResurrect(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	call, err := f.svc.CreateCall(ctx, domain.Profile{ID: "alice"}, domain.CallTypeVideo, true)
	require.NoError(t, err)
	_, err = f.svc.JoinCall(ctx, call.ID, domain.Profile{ID: "bob"})
	require.NoError(t, err)
	require.NoError(t, f.svc.LeaveCall(ctx, call.ID, "bob"))

	applied := f.svc.ApplyParticipantEvent(ctx, call.ID, "bob", domain.MuteUpdate(true))

	assert.Equal(t, 0, applied)
	state, err := f.svc.State(ctx, call.ID, "alice")
	require.NoError(t, err)
	assert.Empty(t, state.Participants)
}

func TestCallService_LeaveWhileRecordingUploads(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.devices.streams["alice"] = audioStream("alice")
	f.uploader.On("UploadRecording", mock.Anything, mock.Anything, mock.Anything, false).Return(nil).Once()

	call, err := f.svc.CreateCall(ctx, domain.Profile{ID: "alice"}, domain.CallTypeVoice, false)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		s, _ := f.svc.State(ctx, call.ID, "alice")
		return s.HasLocalMedia
	}, time.Second, 5*time.Millisecond)

	state, err := f.svc.ToggleRecording(ctx, call.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.RecordingActive, state.Recording)

	require.NoError(t, f.svc.LeaveCall(ctx, call.ID, "alice"))

	f.uploader.AssertExpectations(t)
	f.transport.AssertCalled(t, "Hangup", mock.Anything, call.ID, domain.UserID("alice"))
}

func TestCallService_LeaveSucceedsWhenFinalUploadFails(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.devices.streams["alice"] = audioStream("alice")
	f.uploader.On("UploadRecording", mock.Anything, mock.Anything, mock.Anything, false).Return(errBoom).Once()

	call, err := f.svc.CreateCall(ctx, domain.Profile{ID: "alice"}, domain.CallTypeVoice, false)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		s, _ := f.svc.State(ctx, call.ID, "alice")
		return s.HasLocalMedia
	}, time.Second, 5*time.Millisecond)
	_, err = f.svc.ToggleRecording(ctx, call.ID, "alice")
	require.NoError(t, err)

	require.NoError(t, f.svc.LeaveCall(ctx, call.ID, "alice"))

	stored, err := f.svc.GetCall(ctx, call.ID)
	require.NoError(t, err)
	assert.False(t, stored.Active())
	recordings, uploads := f.metrics.outcomes()
	assert.Equal(t, []string{"upload_failed"}, recordings)
	assert.Equal(t, []string{"failure"}, uploads)
	f.uploader.AssertExpectations(t)
}

func TestCallService_LeaveCountsUploadedRecording(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.devices.streams["alice"] = audioStream("alice")
	f.uploader.On("UploadRecording", mock.Anything, mock.Anything, mock.Anything, true).Return(nil).Once()

	call, err := f.svc.CreateCall(ctx, domain.Profile{ID: "alice"}, domain.CallTypeVoice, true)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		s, _ := f.svc.State(ctx, call.ID, "alice")
		return s.HasLocalMedia
	}, time.Second, 5*time.Millisecond)
	_, err = f.svc.ToggleRecording(ctx, call.ID, "alice")
	require.NoError(t, err)

	require.NoError(t, f.svc.LeaveCall(ctx, call.ID, "alice"))

	recordings, uploads := f.metrics.outcomes()
	assert.Equal(t, []string{"uploaded"}, recordings)
	assert.Equal(t, []string{"success"}, uploads)
}

func TestCallService_RepublishedStreamFollowsMute(t *testing.T) {
	f := newServiceFixture(t)
	f.svc = NewCallService(f.calls, emptyCatalog{}, nil, f.publisher, f.metrics, SessionDeps{
		Recorders: &fakeRecorderFactory{},
		Uploader:  f.uploader,
		Transport: f.transport,
		Clock:     f.clock,
	}, CallServiceOptions{MediaTimeout: time.Second})
	ctx := context.Background()

	call, err := f.svc.CreateCall(ctx, domain.Profile{ID: "alice"}, domain.CallTypeVideo, true)
	require.NoError(t, err)
	_, err = f.svc.JoinCall(ctx, call.ID, domain.Profile{ID: "bob"})
	require.NoError(t, err)

	first := audioStream("alice")
	f.svc.PublishStream(ctx, call.ID, "alice", first)
	state, err := f.svc.State(ctx, call.ID, "alice")
	require.NoError(t, err)
	assert.True(t, state.HasLocalMedia)

	stale := first.AudioTracks()[0].(*fakeTrack)
	audio := newTrack("alice-audio-2", domain.TrackKindAudio)
	video := newTrack("alice-video-2", domain.TrackKindVideo)
	f.svc.PublishStream(ctx, call.ID, "alice", domain.NewMediaStream("alice-2", audio, video))

	_, err = f.svc.SetMuted(ctx, call.ID, "alice", true)
	require.NoError(t, err)
	_, err = f.svc.SetVideoOff(ctx, call.ID, "alice", true)
	require.NoError(t, err)

	assert.False(t, audio.Enabled(), "the live audio track is muted")
	assert.False(t, video.Enabled(), "the late video track is covered by video-off")
	assert.True(t, stale.Stopped())

	bobState, err := f.svc.State(ctx, call.ID, "bob")
	require.NoError(t, err)
	require.Len(t, bobState.Participants, 1)
	assert.True(t, bobState.Participants[0].IsMuted)
	assert.True(t, bobState.Participants[0].HasStream)
}

func TestCallService_MediaFailureKeepsCallAlive(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.devices.errs["alice"] = domain.ErrPermissionDenied

	call, err := f.svc.CreateCall(ctx, domain.Profile{ID: "alice"}, domain.CallTypeVideo, true)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		s, _ := f.svc.State(ctx, call.ID, "alice")
		return s.MediaError != ""
	}, time.Second, 5*time.Millisecond)

	state, err := f.svc.SetMuted(ctx, call.ID, "alice", true)
	require.NoError(t, err)
	assert.True(t, state.IsMuted)
	assert.False(t, state.HasLocalMedia)
}

func TestCallService_UnknownSession(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.svc.State(context.Background(), "missing", "alice")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	_, err = f.svc.JoinCall(context.Background(), "missing", domain.Profile{ID: "alice"})
	assert.ErrorIs(t, err, domain.ErrCallNotFound)
}

type fakeLocker struct {
	mu     sync.Mutex
	locked map[domain.CallID]bool
	calls  int
	err    error
}

func (l *fakeLocker) LockCall(ctx context.Context, id domain.CallID) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	if l.locked[id] {
		return nil, errors.New("already locked")
	}
	l.locked[id] = true
	l.calls++
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.locked, id)
	}, nil
}

func newLockedFixture(t *testing.T, locker *fakeLocker) *serviceFixture {
	t.Helper()
	f := newServiceFixture(t)
	f.svc = NewCallService(f.calls, emptyCatalog{}, nil, f.publisher, f.metrics, SessionDeps{
		Recorders: &fakeRecorderFactory{},
		Uploader:  f.uploader,
		Transport: f.transport,
		Clock:     f.clock,
	}, CallServiceOptions{MediaTimeout: time.Second, Locker: locker})
	return f
}

func TestCallService_LocksMembershipUpdates(t *testing.T) {
	locker := &fakeLocker{locked: make(map[domain.CallID]bool)}
	f := newLockedFixture(t, locker)
	ctx := context.Background()

	call, err := f.svc.CreateCall(ctx, domain.Profile{ID: "alice", Name: "Alice"}, domain.CallTypeVoice, true)
	require.NoError(t, err)
	_, err = f.svc.JoinCall(ctx, call.ID, domain.Profile{ID: "bob", Name: "Bob"})
	require.NoError(t, err)
	require.NoError(t, f.svc.LeaveCall(ctx, call.ID, "bob"))

	assert.Equal(t, 3, locker.calls)
	assert.Empty(t, locker.locked, "every lock is released")
}

func TestCallService_JoinFailsWhenLockUnavailable(t *testing.T) {
	locker := &fakeLocker{locked: make(map[domain.CallID]bool)}
	f := newLockedFixture(t, locker)
	ctx := context.Background()

	call, err := f.svc.CreateCall(ctx, domain.Profile{ID: "alice", Name: "Alice"}, domain.CallTypeVoice, true)
	require.NoError(t, err)

	locker.err = errors.New("redis down")
	_, err = f.svc.JoinCall(ctx, call.ID, domain.Profile{ID: "bob", Name: "Bob"})
	assert.Error(t, err)

	assert.NoError(t, f.svc.LeaveCall(ctx, call.ID, "alice"), "leave proceeds without the lock")
}

func TestCallService_CreateArchivesCallWhenInitiatorCannotJoin(t *testing.T) {
	locker := &fakeLocker{locked: make(map[domain.CallID]bool), err: errors.New("redis down")}
	f := newLockedFixture(t, locker)
	ctx := context.Background()

	_, err := f.svc.CreateCall(ctx, domain.Profile{ID: "alice", Name: "Alice"}, domain.CallTypeVoice, true)
	require.Error(t, err)

	active, err := f.svc.ListActiveCalls(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	f.calls.mu.Lock()
	defer f.calls.mu.Unlock()
	require.Len(t, f.calls.calls, 1)
	for _, c := range f.calls.calls {
		assert.False(t, c.Active())
	}
}

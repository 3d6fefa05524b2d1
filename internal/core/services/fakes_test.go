package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"greenearth/internal/core/domain"
	"greenearth/internal/core/ports"

	"github.com/stretchr/testify/mock"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 4, 22, 18, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeTrack struct {
	mu      sync.Mutex
	id      string
	kind    domain.TrackKind
	enabled bool
	stopped bool
}

func newTrack(id string, kind domain.TrackKind) *fakeTrack {
	return &fakeTrack{id: id, kind: kind, enabled: true}
}

func (t *fakeTrack) ID() string             { return t.id }
func (t *fakeTrack) Kind() domain.TrackKind { return t.kind }

func (t *fakeTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *fakeTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}

func (t *fakeTrack) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}

func (t *fakeTrack) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

func audioStream(id string) *domain.MediaStream {
	return domain.NewMediaStream(id, newTrack(id+"-audio", domain.TrackKindAudio))
}

type fakeRecorder struct {
	startErr error
	stopErr  error
	stream   *domain.MediaStream
	stopped  bool
}

func (r *fakeRecorder) Start(stream *domain.MediaStream) error {
	if r.startErr != nil {
		return r.startErr
	}
	r.stream = stream
	return nil
}

func (r *fakeRecorder) Stop(ctx context.Context) ([]byte, error) {
	if r.stopErr != nil {
		return nil, r.stopErr
	}
	r.stopped = true
	return []byte(fmt.Sprintf("OggS:%d", len(r.stream.Tracks()))), nil
}

func (r *fakeRecorder) MimeType() string {
	return domain.RecordingMimeType
}

type fakeRecorderFactory struct {
	mu        sync.Mutex
	startErr  error
	recorders []*fakeRecorder
}

func (f *fakeRecorderFactory) NewRecorder() ports.MediaRecorder {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := &fakeRecorder{startErr: f.startErr}
	f.recorders = append(f.recorders, r)
	return r
}

func (f *fakeRecorderFactory) last() *fakeRecorder {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.recorders) == 0 {
		return nil
	}
	return f.recorders[len(f.recorders)-1]
}

type MockUploader struct {
	mock.Mock
}

func (m *MockUploader) UploadRecording(ctx context.Context, callID domain.CallID, artifact *domain.RecordingArtifact, isGroupCall bool) error {
	args := m.Called(ctx, callID, artifact, isGroupCall)
	return args.Error(0)
}

type MockTransport struct {
	mock.Mock
}

func (m *MockTransport) Hangup(ctx context.Context, callID domain.CallID, userID domain.UserID) error {
	args := m.Called(ctx, callID, userID)
	return args.Error(0)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, callID domain.CallID, event domain.CallEvent) error {
	args := m.Called(ctx, callID, event)
	return args.Error(0)
}

// fakeDevices hands out a stream per user, or blocks until ctx is done
// when the user has no entry.
type fakeDevices struct {
	mu      sync.Mutex
	streams map[domain.UserID]*domain.MediaStream
	errs    map[domain.UserID]error
	asked   []domain.MediaConstraints
}

func newFakeDevices() *fakeDevices {
	return &fakeDevices{
		streams: make(map[domain.UserID]*domain.MediaStream),
		errs:    make(map[domain.UserID]error),
	}
}

func (d *fakeDevices) GetUserMedia(ctx context.Context, callID domain.CallID, userID domain.UserID, constraints domain.MediaConstraints) (*domain.MediaStream, error) {
	d.mu.Lock()
	d.asked = append(d.asked, constraints)
	stream, ok := d.streams[userID]
	err := d.errs[userID]
	d.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if ok {
		return stream, nil
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

// memoryCalls is a minimal call repository for service tests.
type memoryCalls struct {
	mu    sync.Mutex
	calls map[domain.CallID]*domain.GroupCall
}

func newMemoryCalls() *memoryCalls {
	return &memoryCalls{calls: make(map[domain.CallID]*domain.GroupCall)}
}

func (r *memoryCalls) Create(ctx context.Context, call *domain.GroupCall) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[call.ID] = call.Clone()
	return nil
}

func (r *memoryCalls) GetByID(ctx context.Context, id domain.CallID) (*domain.GroupCall, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	call, ok := r.calls[id]
	if !ok {
		return nil, domain.ErrCallNotFound
	}
	return call.Clone(), nil
}

func (r *memoryCalls) Update(ctx context.Context, call *domain.GroupCall) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.calls[call.ID]; !ok {
		return domain.ErrCallNotFound
	}
	r.calls[call.ID] = call.Clone()
	return nil
}

func (r *memoryCalls) Delete(ctx context.Context, id domain.CallID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.calls, id)
	return nil
}

func (r *memoryCalls) ListActive(ctx context.Context) ([]*domain.GroupCall, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.GroupCall
	for _, c := range r.calls {
		if c.Active() {
			out = append(out, c.Clone())
		}
	}
	return out, nil
}

type emptyCatalog struct{}

func (emptyCatalog) Save(ctx context.Context, record *domain.RecordingRecord) error { return nil }

func (emptyCatalog) GetByID(ctx context.Context, id domain.RecordingID) (*domain.RecordingRecord, error) {
	return nil, domain.ErrRecordingNotFound
}

func (emptyCatalog) ListByCall(ctx context.Context, callID domain.CallID) ([]*domain.RecordingRecord, error) {
	return nil, nil
}

// fakeMetrics keeps recording and upload outcomes; the rest is ignored.
type fakeMetrics struct {
	mu         sync.Mutex
	recordings []string
	uploads    []string
}

func (m *fakeMetrics) SetActiveCalls(int)                    {}
func (m *fakeMetrics) SetActiveSessions(int)                 {}
func (m *fakeMetrics) ParticipantEvent(domain.CallEventType) {}
func (m *fakeMetrics) StaleEvent()                           {}
func (m *fakeMetrics) MediaAcquisitionFailed(string)         {}

func (m *fakeMetrics) RecordingFinished(outcome string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordings = append(m.recordings, outcome)
}

func (m *fakeMetrics) UploadResult(result string, size int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploads = append(m.uploads, result)
}

func (m *fakeMetrics) outcomes() ([]string, []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.recordings...), append([]string(nil), m.uploads...)
}

var errBoom = errors.New("boom")

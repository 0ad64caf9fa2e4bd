package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"roomrec/internal/core/domain"
	"roomrec/internal/core/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

type MockRecordingBackend struct {
	mock.Mock
}

func (m *MockRecordingBackend) RequestStart(ctx context.Context, key domain.SessionKey) (domain.JobID, error) {
	args := m.Called(ctx, key)
	return args.Get(0).(domain.JobID), args.Error(1)
}

func (m *MockRecordingBackend) RequestStop(ctx context.Context, jobID domain.JobID) error {
	args := m.Called(ctx, jobID)
	return args.Error(0)
}

type fakeSession struct {
	mu        sync.Mutex
	key       domain.SessionKey
	listeners map[int]ports.SessionListener
	next      int
	state     domain.SessionState
	gone      bool
}

func newFakeSession(room string) *fakeSession {
	return &fakeSession{
		key:       domain.SessionKey{RoomName: room, Token: "tok"},
		listeners: make(map[int]ports.SessionListener),
		state:     domain.SessionState{Connected: true},
	}
}

func (s *fakeSession) Key() domain.SessionKey { return s.key }

func (s *fakeSession) Subscribe(l ports.SessionListener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	s.listeners[id] = l
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *fakeSession) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *fakeSession) Disconnect() { s.fireDisconnected() }

func (s *fakeSession) snapshot() []ports.SessionListener {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ports.SessionListener, 0, len(s.listeners))
	for _, l := range s.listeners {
		out = append(out, l)
	}
	return out
}

func (s *fakeSession) fireConnected() {
	for _, l := range s.snapshot() {
		l.OnConnected()
	}
}

func (s *fakeSession) fireDisconnected() {
	s.mu.Lock()
	if s.gone {
		s.mu.Unlock()
		return
	}
	s.gone = true
	s.state.Connected = false
	s.state.Closed = true
	s.mu.Unlock()

	for _, l := range s.snapshot() {
		l.OnDisconnected()
	}
}

func (s *fakeSession) listenerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

type fakeGuard struct {
	ok       bool
	err      error
	released int
	mu       sync.Mutex
}

func (g *fakeGuard) Acquire(ctx context.Context, key domain.SessionKey) (func(), bool, error) {
	if g.err != nil || !g.ok {
		return nil, g.ok, g.err
	}
	return func() {
		g.mu.Lock()
		g.released++
		g.mu.Unlock()
	}, true, nil
}

type recordedMetrics struct {
	mu          sync.Mutex
	requests    []string
	transitions []domain.RecordingStatus
}

func (m *recordedMetrics) ObserveRequest(op, outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, op+":"+outcome)
}

func (m *recordedMetrics) ObserveTransition(_, to domain.RecordingStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions = append(m.transitions, to)
}

func newTestController(t *testing.T, session ports.ConferencingSession, backend ports.RecordingBackend, opts ...ControllerOption) *RecordingController {
	t.Helper()
	opts = append([]ControllerOption{
		WithLogger(zaptest.NewLogger(t).Sugar()),
		WithRequestTimeout(time.Second),
	}, opts...)
	return NewRecordingController(session, backend, opts...)
}

func waitDone(t *testing.T, c *RecordingController) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("controller did not finish")
	}
}

func TestRecordingController_InitialState(t *testing.T) {
	session := newFakeSession("standup")
	c := newTestController(t, session, new(MockRecordingBackend))

	snap := c.Snapshot()
	assert.Equal(t, domain.StatusIdle, snap.Status)
	assert.Empty(t, snap.JobID)
	assert.Equal(t, "standup", snap.Room)
	assert.Equal(t, "Start Recording", snap.Label())
	assert.Equal(t, 1, session.listenerCount())
}

func TestRecordingController_StartSuccess(t *testing.T) {
	defer goleak.VerifyNone(t)

	session := newFakeSession("standup")
	backend := new(MockRecordingBackend)
	backend.On("RequestStart", mock.Anything, session.key).Return(domain.JobID("job-1"), nil).Once()

	c := newTestController(t, session, backend)
	require.True(t, c.Start())
	c.Wait()

	snap := c.Snapshot()
	assert.Equal(t, domain.StatusRecording, snap.Status)
	assert.Equal(t, domain.JobID("job-1"), snap.JobID)
	assert.Equal(t, "Stop Recording", snap.Label())
	backend.AssertExpectations(t)
}

func TestRecordingController_DoubleStartIssuesOneRequest(t *testing.T) {
	defer goleak.VerifyNone(t)

	session := newFakeSession("standup")
	backend := new(MockRecordingBackend)
	release := make(chan struct{})
	backend.On("RequestStart", mock.Anything, session.key).
		Run(func(mock.Arguments) { <-release }).
		Return(domain.JobID("job-1"), nil).Once()

	c := newTestController(t, session, backend)
	require.True(t, c.Start())
	assert.Equal(t, domain.StatusStarting, c.Status())
	assert.Equal(t, "...", c.Snapshot().Label())

	assert.False(t, c.Start())
	assert.False(t, c.Toggle())
	assert.False(t, c.Stop())

	close(release)
	c.Wait()

	assert.Equal(t, domain.StatusRecording, c.Status())
	backend.AssertNumberOfCalls(t, "RequestStart", 1)
}

func TestRecordingController_StartFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"unreachable", domain.Unreachable("start", errors.New("dial tcp: refused")), domain.ErrBackendUnreachable},
		{"rejected", domain.Rejected("start", 500, "egress failed"), domain.ErrBackendRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := newFakeSession("standup")
			backend := new(MockRecordingBackend)
			backend.On("RequestStart", mock.Anything, session.key).Return(domain.JobID(""), tt.err).Once()

			c := newTestController(t, session, backend)
			require.True(t, c.Start())
			c.Wait()

			snap := c.Snapshot()
			assert.Equal(t, domain.StatusIdle, snap.Status)
			assert.Empty(t, snap.JobID)
			assert.NotEmpty(t, snap.LastError)
			assert.ErrorIs(t, tt.err, tt.want)

			// a failed start leaves the controller usable
			backend.On("RequestStart", mock.Anything, session.key).Return(domain.JobID("job-2"), nil).Once()
			require.True(t, c.Start())
			c.Wait()
			assert.Equal(t, domain.StatusRecording, c.Status())
			assert.Empty(t, c.Snapshot().LastError)
		})
	}
}

func TestRecordingController_EmptyJobIDIsRejected(t *testing.T) {
	session := newFakeSession("standup")
	backend := new(MockRecordingBackend)
	backend.On("RequestStart", mock.Anything, session.key).Return(domain.JobID(""), nil).Once()
	metrics := &recordedMetrics{}

	c := newTestController(t, session, backend, WithMetrics(metrics))
	require.True(t, c.Start())
	c.Wait()

	assert.Equal(t, domain.StatusIdle, c.Status())
	assert.Contains(t, c.Snapshot().LastError, "empty job id")
	assert.Equal(t, []string{"start:rejected"}, metrics.requests)
}

func startRecording(t *testing.T, c *RecordingController, backend *MockRecordingBackend, key domain.SessionKey, jobID domain.JobID) {
	t.Helper()
	backend.On("RequestStart", mock.Anything, key).Return(jobID, nil).Once()
	require.True(t, c.Start())
	c.Wait()
	require.Equal(t, domain.StatusRecording, c.Status())
}

func TestRecordingController_StopSuccess(t *testing.T) {
	defer goleak.VerifyNone(t)

	session := newFakeSession("standup")
	backend := new(MockRecordingBackend)
	c := newTestController(t, session, backend)
	startRecording(t, c, backend, session.key, "job-1")

	release := make(chan struct{})
	backend.On("RequestStop", mock.Anything, domain.JobID("job-1")).
		Run(func(mock.Arguments) { <-release }).
		Return(nil).Once()

	require.True(t, c.Stop())
	snap := c.Snapshot()
	assert.Equal(t, domain.StatusStopping, snap.Status)
	assert.Equal(t, domain.JobID("job-1"), snap.JobID)
	assert.False(t, c.Stop())
	assert.False(t, c.Start())

	close(release)
	c.Wait()

	snap = c.Snapshot()
	assert.Equal(t, domain.StatusIdle, snap.Status)
	assert.Empty(t, snap.JobID)
	backend.AssertExpectations(t)
}

func TestRecordingController_StopFailureKeepsRecording(t *testing.T) {
	session := newFakeSession("standup")
	backend := new(MockRecordingBackend)
	c := newTestController(t, session, backend)
	startRecording(t, c, backend, session.key, "job-1")

	backend.On("RequestStop", mock.Anything, domain.JobID("job-1")).
		Return(domain.Unreachable("stop", context.DeadlineExceeded)).Once()

	require.True(t, c.Stop())
	c.Wait()

	snap := c.Snapshot()
	assert.Equal(t, domain.StatusRecording, snap.Status)
	assert.Equal(t, domain.JobID("job-1"), snap.JobID)
	assert.NotEmpty(t, snap.LastError)

	// the user may retry
	backend.On("RequestStop", mock.Anything, domain.JobID("job-1")).Return(nil).Once()
	require.True(t, c.Toggle())
	c.Wait()
	assert.Equal(t, domain.StatusIdle, c.Status())
}

func TestRecordingController_StopWhileIdleIsNoop(t *testing.T) {
	session := newFakeSession("standup")
	backend := new(MockRecordingBackend)
	c := newTestController(t, session, backend)

	assert.False(t, c.Stop())
	assert.Equal(t, domain.StatusIdle, c.Status())
	backend.AssertNotCalled(t, "RequestStop", mock.Anything, mock.Anything)
}

func TestRecordingController_Toggle(t *testing.T) {
	session := newFakeSession("standup")
	backend := new(MockRecordingBackend)
	backend.On("RequestStart", mock.Anything, session.key).Return(domain.JobID("job-7"), nil).Once()
	backend.On("RequestStop", mock.Anything, domain.JobID("job-7")).Return(nil).Once()

	c := newTestController(t, session, backend)

	require.True(t, c.Toggle())
	c.Wait()
	assert.Equal(t, domain.StatusRecording, c.Status())

	require.True(t, c.Toggle())
	c.Wait()
	assert.Equal(t, domain.StatusIdle, c.Status())
	backend.AssertExpectations(t)
}

func TestRecordingController_DisconnectWhileRecording(t *testing.T) {
	defer goleak.VerifyNone(t)

	session := newFakeSession("standup")
	backend := new(MockRecordingBackend)
	c := newTestController(t, session, backend)
	startRecording(t, c, backend, session.key, "job-42")

	called := make(chan struct{})
	release := make(chan struct{})
	backend.On("RequestStop", mock.Anything, domain.JobID("job-42")).
		Run(func(mock.Arguments) {
			close(called)
			<-release
		}).
		Return(nil).Once()

	returned := make(chan struct{})
	go func() {
		session.fireDisconnected()
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("disconnect handler blocked on the backend")
	}
	<-called

	assert.Equal(t, domain.StatusStopping, c.Status())
	assert.Equal(t, 0, session.listenerCount())
	assert.False(t, c.Start())
	assert.False(t, c.Stop())

	close(release)
	waitDone(t, c)

	assert.Equal(t, domain.StatusIdle, c.Status())
	backend.AssertExpectations(t)
}

func TestRecordingController_DisconnectStopFailureStillIdle(t *testing.T) {
	session := newFakeSession("standup")
	backend := new(MockRecordingBackend)
	c := newTestController(t, session, backend)
	startRecording(t, c, backend, session.key, "job-42")

	backend.On("RequestStop", mock.Anything, domain.JobID("job-42")).
		Return(domain.Rejected("stop", 404, "egress not found")).Once()

	session.fireDisconnected()
	waitDone(t, c)

	snap := c.Snapshot()
	assert.Equal(t, domain.StatusIdle, snap.Status)
	assert.Empty(t, snap.JobID)
	assert.Contains(t, snap.LastError, "egress not found")
}

func TestRecordingController_DisconnectWhileIdle(t *testing.T) {
	session := newFakeSession("standup")
	backend := new(MockRecordingBackend)
	c := newTestController(t, session, backend)

	session.fireDisconnected()
	waitDone(t, c)

	assert.Equal(t, domain.StatusIdle, c.Status())
	assert.False(t, c.Start())
	backend.AssertNotCalled(t, "RequestStart", mock.Anything, mock.Anything)
	backend.AssertNotCalled(t, "RequestStop", mock.Anything, mock.Anything)
}

func TestRecordingController_SessionClosedBeforeSubscribe(t *testing.T) {
	defer goleak.VerifyNone(t)

	session := newFakeSession("standup")
	session.fireDisconnected()

	backend := new(MockRecordingBackend)
	c := newTestController(t, session, backend, WithAutoStart(true))
	waitDone(t, c)

	assert.Equal(t, 0, session.listenerCount())
	assert.False(t, c.Start())
	assert.False(t, c.Toggle())
	assert.Equal(t, domain.StatusIdle, c.Status())

	feed, cancel := c.Subscribe()
	defer cancel()
	snap, ok := <-feed
	require.True(t, ok)
	assert.Equal(t, domain.StatusIdle, snap.Status)
	_, ok = <-feed
	assert.False(t, ok)

	backend.AssertNotCalled(t, "RequestStart", mock.Anything, mock.Anything)
}

func TestRecordingController_DisconnectWhileStopping(t *testing.T) {
	tests := []struct {
		name    string
		stopErr error
	}{
		{"stop succeeds", nil},
		{"stop fails", domain.Unreachable("stop", context.DeadlineExceeded)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer goleak.VerifyNone(t)

			session := newFakeSession("standup")
			backend := new(MockRecordingBackend)
			c := newTestController(t, session, backend)
			startRecording(t, c, backend, session.key, "job-9")

			called := make(chan struct{})
			release := make(chan struct{})
			backend.On("RequestStop", mock.Anything, domain.JobID("job-9")).
				Run(func(mock.Arguments) {
					close(called)
					<-release
				}).
				Return(tt.stopErr)

			require.True(t, c.Stop())
			<-called
			require.Equal(t, domain.StatusStopping, c.Status())

			session.fireDisconnected()
			assert.Equal(t, domain.StatusStopping, c.Status())
			assert.False(t, c.Stop())

			close(release)
			waitDone(t, c)

			snap := c.Snapshot()
			assert.Equal(t, domain.StatusIdle, snap.Status)
			assert.Empty(t, snap.JobID)
			backend.AssertNumberOfCalls(t, "RequestStop", 1)
		})
	}
}

func TestRecordingController_TransitionRefusesInconsistentJob(t *testing.T) {
	session := newFakeSession("standup")
	backend := new(MockRecordingBackend)
	metrics := &recordedMetrics{}
	c := newTestController(t, session, backend, WithMetrics(metrics))

	c.mu.Lock()
	assert.NotPanics(t, func() {
		assert.False(t, c.transition(domain.StatusRecording, "", ""))
		assert.False(t, c.transition(domain.StatusIdle, "job-1", ""))
	})
	c.mu.Unlock()

	snap := c.Snapshot()
	assert.Equal(t, domain.StatusIdle, snap.Status)
	assert.Empty(t, snap.JobID)
	metrics.mu.Lock()
	assert.Empty(t, metrics.transitions)
	metrics.mu.Unlock()
}

func TestRecordingController_NeverReportsFailed(t *testing.T) {
	session := newFakeSession("standup")
	backend := new(MockRecordingBackend)
	metrics := &recordedMetrics{}
	c := newTestController(t, session, backend, WithMetrics(metrics))

	backend.On("RequestStart", mock.Anything, session.key).
		Return(domain.JobID(""), domain.Rejected("start", 500, "no workers")).Once()
	require.True(t, c.Start())
	c.Wait()
	assert.Equal(t, domain.StatusIdle, c.Status())
	assert.Contains(t, c.Snapshot().LastError, "no workers")

	startRecording(t, c, backend, session.key, "job-3")
	backend.On("RequestStop", mock.Anything, domain.JobID("job-3")).
		Return(domain.Rejected("stop", 409, "egress busy")).Once()
	require.True(t, c.Stop())
	c.Wait()
	assert.Equal(t, domain.StatusRecording, c.Status())

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	assert.NotEmpty(t, metrics.transitions)
	assert.NotContains(t, metrics.transitions, domain.StatusFailed)
}

func TestRecordingController_LateStartAfterTeardownIsStopped(t *testing.T) {
	defer goleak.VerifyNone(t)

	session := newFakeSession("standup")
	backend := new(MockRecordingBackend)
	release := make(chan struct{})
	backend.On("RequestStart", mock.Anything, session.key).
		Run(func(mock.Arguments) { <-release }).
		Return(domain.JobID("job-late"), nil).Once()
	backend.On("RequestStop", mock.Anything, domain.JobID("job-late")).Return(nil).Once()

	c := newTestController(t, session, backend)
	require.True(t, c.Start())

	session.fireDisconnected()
	assert.Equal(t, domain.StatusStarting, c.Status())

	select {
	case <-c.Done():
		t.Fatal("controller finished with a start in flight")
	default:
	}

	close(release)
	waitDone(t, c)

	assert.Equal(t, domain.StatusIdle, c.Status())
	backend.AssertExpectations(t)
}

func TestRecordingController_FailedStartAfterTeardown(t *testing.T) {
	session := newFakeSession("standup")
	backend := new(MockRecordingBackend)
	release := make(chan struct{})
	backend.On("RequestStart", mock.Anything, session.key).
		Run(func(mock.Arguments) { <-release }).
		Return(domain.JobID(""), domain.Unreachable("start", errors.New("timeout"))).Once()

	c := newTestController(t, session, backend)
	require.True(t, c.Start())
	session.fireDisconnected()

	close(release)
	waitDone(t, c)

	assert.Equal(t, domain.StatusIdle, c.Status())
	backend.AssertNotCalled(t, "RequestStop", mock.Anything, mock.Anything)
}

func TestRecordingController_TeardownIsIdempotent(t *testing.T) {
	session := newFakeSession("standup")
	backend := new(MockRecordingBackend)
	c := newTestController(t, session, backend)
	startRecording(t, c, backend, session.key, "job-1")

	backend.On("RequestStop", mock.Anything, domain.JobID("job-1")).Return(nil).Once()

	c.Close()
	c.OnSessionDisconnected()
	session.fireDisconnected()
	waitDone(t, c)

	backend.AssertNumberOfCalls(t, "RequestStop", 1)
}

func TestRecordingController_AutoStartOnConnected(t *testing.T) {
	session := newFakeSession("standup")
	backend := new(MockRecordingBackend)
	backend.On("RequestStart", mock.Anything, session.key).Return(domain.JobID("job-auto"), nil).Once()

	c := newTestController(t, session, backend, WithAutoStart(true))
	session.fireConnected()
	c.Wait()

	assert.Equal(t, domain.StatusRecording, c.Status())

	// reconnect while recording does not issue another start
	session.fireConnected()
	c.Wait()
	backend.AssertNumberOfCalls(t, "RequestStart", 1)
}

func TestRecordingController_ConnectedWithoutAutoStart(t *testing.T) {
	session := newFakeSession("standup")
	backend := new(MockRecordingBackend)

	c := newTestController(t, session, backend)
	session.fireConnected()
	c.Wait()

	assert.Equal(t, domain.StatusIdle, c.Status())
	backend.AssertNotCalled(t, "RequestStart", mock.Anything, mock.Anything)
}

func TestRecordingController_StartGuard(t *testing.T) {
	t.Run("held elsewhere", func(t *testing.T) {
		session := newFakeSession("standup")
		backend := new(MockRecordingBackend)

		c := newTestController(t, session, backend, WithStartGuard(&fakeGuard{ok: false}))
		require.True(t, c.Start())
		c.Wait()

		assert.Equal(t, domain.StatusIdle, c.Status())
		assert.NotEmpty(t, c.Snapshot().LastError)
		backend.AssertNotCalled(t, "RequestStart", mock.Anything, mock.Anything)
	})

	t.Run("guard error", func(t *testing.T) {
		session := newFakeSession("standup")
		backend := new(MockRecordingBackend)

		c := newTestController(t, session, backend, WithStartGuard(&fakeGuard{err: errors.New("redis down")}))
		require.True(t, c.Start())
		c.Wait()

		assert.Equal(t, domain.StatusIdle, c.Status())
		assert.Contains(t, c.Snapshot().LastError, "redis down")
	})

	t.Run("acquired", func(t *testing.T) {
		session := newFakeSession("standup")
		backend := new(MockRecordingBackend)
		backend.On("RequestStart", mock.Anything, session.key).Return(domain.JobID("job-1"), nil).Once()
		guard := &fakeGuard{ok: true}

		c := newTestController(t, session, backend, WithStartGuard(guard))
		require.True(t, c.Start())
		c.Wait()

		assert.Equal(t, domain.StatusRecording, c.Status())
		assert.Equal(t, 1, guard.released)
	})
}

func TestRecordingController_Subscribe(t *testing.T) {
	session := newFakeSession("standup")
	backend := new(MockRecordingBackend)
	backend.On("RequestStart", mock.Anything, session.key).Return(domain.JobID("job-1"), nil).Once()
	backend.On("RequestStop", mock.Anything, domain.JobID("job-1")).Return(nil).Once()

	c := newTestController(t, session, backend)
	feed, cancel := c.Subscribe()
	defer cancel()

	first := <-feed
	assert.Equal(t, domain.StatusIdle, first.Status)

	require.True(t, c.Start())
	c.Wait()
	c.Close()
	waitDone(t, c)

	var seen []domain.RecordingStatus
	for snap := range feed {
		assert.True(t, snap.Valid(), "snapshot %+v violates job id invariant", snap)
		seen = append(seen, snap.Status)
	}
	assert.Equal(t, []domain.RecordingStatus{
		domain.StatusStarting,
		domain.StatusRecording,
		domain.StatusStopping,
		domain.StatusIdle,
	}, seen)

	late, _ := c.Subscribe()
	snap, ok := <-late
	require.True(t, ok)
	assert.Equal(t, domain.StatusIdle, snap.Status)
	_, ok = <-late
	assert.False(t, ok)
}

func TestRecordingController_SubscribeCancel(t *testing.T) {
	session := newFakeSession("standup")
	c := newTestController(t, session, new(MockRecordingBackend))

	feed, cancel := c.Subscribe()
	<-feed
	cancel()
	cancel()

	_, ok := <-feed
	assert.False(t, ok)
}

func TestRecordingController_Metrics(t *testing.T) {
	session := newFakeSession("standup")
	backend := new(MockRecordingBackend)
	metrics := &recordedMetrics{}
	c := newTestController(t, session, backend, WithMetrics(metrics))
	startRecording(t, c, backend, session.key, "job-1")

	backend.On("RequestStop", mock.Anything, domain.JobID("job-1")).
		Return(domain.Rejected("stop", 409, "already stopped")).Once()
	require.True(t, c.Stop())
	c.Wait()

	assert.Equal(t, []string{"start:ok", "stop:rejected"}, metrics.requests)
	assert.Equal(t, []domain.RecordingStatus{
		domain.StatusStarting,
		domain.StatusRecording,
		domain.StatusStopping,
		domain.StatusRecording,
	}, metrics.transitions)
}

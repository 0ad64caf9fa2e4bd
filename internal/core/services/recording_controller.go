package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"roomrec/internal/core/domain"
	"roomrec/internal/core/ports"

	"go.uber.org/zap"
)

const (
	opStart = "start"
	opStop  = "stop"

	defaultRequestTimeout = 15 * time.Second
	feedBuffer            = 8
)

// ControllerMetrics is the metrics half of the controller's observability sink.
type ControllerMetrics interface {
	ObserveRequest(op, outcome string, d time.Duration)
	ObserveTransition(from, to domain.RecordingStatus)
}

type noopMetrics struct{}

func (noopMetrics) ObserveRequest(string, string, time.Duration) {}

func (noopMetrics) ObserveTransition(domain.RecordingStatus, domain.RecordingStatus) {}

type ControllerOption func(*RecordingController)

func WithLogger(l *zap.SugaredLogger) ControllerOption {
	return func(c *RecordingController) { c.logger = l }
}

func WithMetrics(m ControllerMetrics) ControllerOption {
	return func(c *RecordingController) { c.metrics = m }
}

func WithRequestTimeout(d time.Duration) ControllerOption {
	return func(c *RecordingController) {
		if d > 0 {
			c.requestTimeout = d
		}
	}
}

// WithAutoStart makes the controller call Start on every connected event.
func WithAutoStart(enabled bool) ControllerOption {
	return func(c *RecordingController) { c.autoStart = enabled }
}

func WithStartGuard(g ports.StartGuard) ControllerOption {
	return func(c *RecordingController) { c.guard = g }
}

// RecordingController owns the recording job of one conferencing session.
//
// Start/Stop never block on the backend: the request runs in its own goroutine
// and the result is applied as a state transition. The Starting and Stopping
// states reject further requests in the same direction, so at most one start
// and one stop are ever in flight.
type RecordingController struct {
	key     domain.SessionKey
	backend ports.RecordingBackend
	guard   ports.StartGuard
	logger  *zap.SugaredLogger
	metrics ControllerMetrics

	requestTimeout time.Duration
	autoStart      bool

	mu       sync.Mutex
	state    domain.RecordingSession
	torndown bool
	finished bool
	pending  int
	feeds    map[int]chan domain.RecordingSession
	nextFeed int

	inflight     sync.WaitGroup
	done         chan struct{}
	unsubscribe  func()
	teardownOnce sync.Once
}

// NewRecordingController binds a controller to session. The session
// subscription is held until the session disconnects or Close is called.
func NewRecordingController(session ports.ConferencingSession, backend ports.RecordingBackend, opts ...ControllerOption) *RecordingController {
	key := session.Key()
	c := &RecordingController{
		key:            key,
		backend:        backend,
		logger:         zap.NewNop().Sugar(),
		metrics:        noopMetrics{},
		requestTimeout: defaultRequestTimeout,
		state: domain.RecordingSession{
			Status:    domain.StatusIdle,
			Room:      key.RoomName,
			UpdatedAt: time.Now(),
		},
		feeds: make(map[int]chan domain.RecordingSession),
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("room", key.RoomName)
	c.unsubscribe = session.Subscribe(sessionListener{c})
	// a disconnect delivered before Subscribe would otherwise never reach us
	if session.State().Closed {
		c.logger.Infow("session already closed, tearing down")
		c.OnSessionDisconnected()
	}
	return c
}

type sessionListener struct{ c *RecordingController }

func (l sessionListener) OnConnected()    { l.c.onSessionConnected() }
func (l sessionListener) OnDisconnected() { l.c.OnSessionDisconnected() }

func (c *RecordingController) Key() domain.SessionKey { return c.key }

func (c *RecordingController) Status() domain.RecordingStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Status
}

func (c *RecordingController) Snapshot() domain.RecordingSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start requests a new recording job. It is a no-op unless the status is Idle.
func (c *RecordingController) Start() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.torndown || c.state.Status != domain.StatusIdle {
		c.logger.Debugw("start ignored", "status", c.state.Status, "torndown", c.torndown)
		return false
	}
	c.transition(domain.StatusStarting, "", "")
	c.launch(c.runStart)
	return true
}

// Stop requests the recording job to stop. It is a no-op unless the status is
// Recording.
func (c *RecordingController) Stop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.torndown || c.state.Status != domain.StatusRecording {
		c.logger.Debugw("stop ignored", "status", c.state.Status, "torndown", c.torndown)
		return false
	}
	jobID := c.state.JobID
	c.transition(domain.StatusStopping, jobID, "")
	c.launch(func() { c.runStop(jobID) })
	return true
}

// Toggle stops a running recording, otherwise starts one.
func (c *RecordingController) Toggle() bool {
	if c.Status() == domain.StatusRecording {
		return c.Stop()
	}
	return c.Start()
}

// OnSessionDisconnected tears the controller down. A running job gets a
// best-effort stop whose result is only logged; the call itself never waits
// for the backend.
func (c *RecordingController) OnSessionDisconnected() {
	c.teardownOnce.Do(func() {
		if c.unsubscribe != nil {
			c.unsubscribe()
		}

		c.mu.Lock()
		defer c.mu.Unlock()

		c.torndown = true
		switch c.state.Status {
		case domain.StatusRecording:
			jobID := c.state.JobID
			c.logger.Infow("session disconnected while recording, stopping job", "job_id", jobID)
			c.transition(domain.StatusStopping, jobID, "")
			c.launch(func() { c.runStop(jobID) })
		case domain.StatusStarting, domain.StatusStopping:
			c.logger.Infow("session disconnected with request in flight", "status", c.state.Status)
		}
		c.maybeFinish()
	})
}

// Close releases the session subscription and tears the controller down as if
// the session had disconnected.
func (c *RecordingController) Close() {
	c.OnSessionDisconnected()
}

// Wait blocks until every in-flight backend request has been applied.
func (c *RecordingController) Wait() {
	c.inflight.Wait()
}

// Done is closed once the controller is torn down and no request is in flight.
func (c *RecordingController) Done() <-chan struct{} {
	return c.done
}

// Subscribe returns a feed of snapshots starting with the current one. Slow
// readers lose intermediate snapshots but always observe the latest. The
// channel is closed by cancel or when the controller is done.
func (c *RecordingController) Subscribe() (<-chan domain.RecordingSession, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan domain.RecordingSession, feedBuffer)
	ch <- c.state
	if c.finished {
		close(ch)
		return ch, func() {}
	}

	id := c.nextFeed
	c.nextFeed++
	c.feeds[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if feed, ok := c.feeds[id]; ok {
				delete(c.feeds, id)
				close(feed)
			}
		})
	}
}

func (c *RecordingController) onSessionConnected() {
	c.mu.Lock()
	auto := c.autoStart && !c.torndown
	c.mu.Unlock()

	c.logger.Debugw("session connected", "auto_start", auto)
	if auto {
		c.Start()
	}
}

func (c *RecordingController) runStart() {
	ctx, cancel := context.WithTimeout(context.Background(), c.requestTimeout)
	defer cancel()

	if c.guard != nil {
		release, ok, err := c.guard.Acquire(ctx, c.key)
		if err != nil || !ok {
			c.mu.Lock()
			defer c.mu.Unlock()
			if err != nil {
				c.logger.Warnw("start guard unavailable", "error", err)
				c.transition(domain.StatusIdle, "", err.Error())
				return
			}
			c.logger.Infow("start already in flight on another instance")
			c.transition(domain.StatusIdle, "", "start already in flight")
			return
		}
		defer release()
	}

	begin := time.Now()
	jobID, err := c.backend.RequestStart(ctx, c.key)
	if err == nil && jobID == "" {
		err = domain.Rejected(opStart, 0, "empty job id")
	}
	c.metrics.ObserveRequest(opStart, domain.FailureKind(err), time.Since(begin))

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.logger.Warnw("start recording failed", "error", err, "kind", domain.FailureKind(err))
		c.transition(domain.StatusIdle, "", err.Error())
		return
	}

	if c.torndown {
		c.logger.Infow("start confirmed after teardown, stopping job", "job_id", jobID)
		c.transition(domain.StatusStopping, jobID, "")
		c.launch(func() { c.runStop(jobID) })
		return
	}

	c.logger.Infow("recording started", "job_id", jobID)
	c.transition(domain.StatusRecording, jobID, "")
}

func (c *RecordingController) runStop(jobID domain.JobID) {
	ctx, cancel := context.WithTimeout(context.Background(), c.requestTimeout)
	defer cancel()

	begin := time.Now()
	err := c.backend.RequestStop(ctx, jobID)
	c.metrics.ObserveRequest(opStop, domain.FailureKind(err), time.Since(begin))

	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.torndown:
		if err != nil {
			c.logger.Warnw("best-effort stop failed", "job_id", jobID, "error", err)
		} else {
			c.logger.Infow("recording stopped on teardown", "job_id", jobID)
		}
		c.transition(domain.StatusIdle, "", errString(err))
	case err != nil:
		c.logger.Warnw("stop recording failed, job presumed running", "job_id", jobID, "error", err)
		c.transition(domain.StatusRecording, jobID, err.Error())
	default:
		c.logger.Infow("recording stopped", "job_id", jobID)
		c.transition(domain.StatusIdle, "", "")
	}
}

// launch runs fn as a tracked in-flight request. Caller holds c.mu.
func (c *RecordingController) launch(fn func()) {
	c.pending++
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		defer func() {
			c.mu.Lock()
			c.pending--
			c.maybeFinish()
			c.mu.Unlock()
		}()
		fn()
	}()
}

// transition applies a new state and publishes it. A status/job id pair that
// breaks the HoldsJob invariant is logged and refused, leaving the current
// state in place. Caller holds c.mu.
func (c *RecordingController) transition(status domain.RecordingStatus, jobID domain.JobID, lastErr string) bool {
	if status.HoldsJob() != (jobID != "") {
		c.logger.Errorw("refusing recording transition",
			"error", fmt.Errorf("%w: status %s with job id %q", domain.ErrInvalidState, status, jobID),
			"from", c.state.Status,
		)
		return false
	}

	prev := c.state.Status
	c.state.Status = status
	c.state.JobID = jobID
	c.state.LastError = lastErr
	c.state.UpdatedAt = time.Now()

	c.metrics.ObserveTransition(prev, status)
	c.logger.Debugw("recording transition", "from", prev, "to", status)

	for _, ch := range c.feeds {
		publishLatest(ch, c.state)
	}
	return true
}

// maybeFinish closes feeds and Done once torn down and idle. Caller holds c.mu.
func (c *RecordingController) maybeFinish() {
	if !c.torndown || c.pending > 0 || c.finished {
		return
	}
	c.finished = true
	for id, ch := range c.feeds {
		delete(c.feeds, id)
		close(ch)
	}
	close(c.done)
}

// publishLatest delivers s, evicting the oldest queued snapshot when full.
// Only the publisher sends, and it holds c.mu, so the second send cannot block.
func publishLatest(ch chan domain.RecordingSession, s domain.RecordingSession) {
	select {
	case ch <- s:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	ch <- s
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"roomrec/internal/core/domain"
	"roomrec/internal/core/ports"
	"roomrec/pkg/utils"
	"roomrec/pkg/validation"

	"go.uber.org/zap"
)

type SessionServiceConfig struct {
	RequestTimeout time.Duration
	AutoStart      bool
	// Instance tags persisted records with the owning replica.
	Instance string
}

type sessionService struct {
	connector ports.SessionConnector
	backend   ports.RecordingBackend
	repo      ports.SessionRepository
	events    ports.EventPublisher
	guard     ports.StartGuard
	metrics   ControllerMetrics
	logger    *zap.SugaredLogger
	cfg       SessionServiceConfig

	mu       sync.RWMutex
	sessions map[domain.SessionID]*liveSession
	closed   bool
	wg       sync.WaitGroup
}

type liveSession struct {
	id         domain.SessionID
	identity   string
	autoRecord bool
	openedAt   time.Time
	session    ports.ConferencingSession
	controller *RecordingController
}

// SessionServiceOption configures optional collaborators.
type SessionServiceOption func(*sessionService)

func WithEventPublisher(p ports.EventPublisher) SessionServiceOption {
	return func(s *sessionService) { s.events = p }
}

func WithSessionStartGuard(g ports.StartGuard) SessionServiceOption {
	return func(s *sessionService) { s.guard = g }
}

func WithControllerMetrics(m ControllerMetrics) SessionServiceOption {
	return func(s *sessionService) { s.metrics = m }
}

// SessionService is ports.SessionService plus process lifecycle hooks.
type SessionService interface {
	ports.SessionService
	Shutdown(ctx context.Context) error
	Count() int
}

func NewSessionService(
	connector ports.SessionConnector,
	backend ports.RecordingBackend,
	repo ports.SessionRepository,
	cfg SessionServiceConfig,
	logger *zap.SugaredLogger,
	opts ...SessionServiceOption,
) SessionService {
	s := &sessionService{
		connector: connector,
		backend:   backend,
		repo:      repo,
		metrics:   noopMetrics{},
		logger:    logger,
		cfg:       cfg,
		sessions:  make(map[domain.SessionID]*liveSession),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *sessionService) Open(ctx context.Context, req ports.OpenRequest) (*domain.SessionInfo, error) {
	if err := validation.ValidateRoomName(req.RoomName); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidSessionKey, err)
	}
	claims, err := validation.ParseParticipantToken(req.Token, req.RoomName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidSessionKey, err)
	}

	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, domain.ErrSessionClosed
	}

	key := domain.SessionKey{RoomName: req.RoomName, Token: req.Token}
	session, err := s.connector.Connect(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to connect session %s: %w", key, err)
	}

	live := &liveSession{
		id:         domain.SessionID(utils.NewSessionID()),
		identity:   claims.Identity,
		autoRecord: req.AutoRecord || s.cfg.AutoStart,
		openedAt:   time.Now(),
		session:    session,
	}
	controllerOpts := []ControllerOption{
		WithLogger(s.logger.With("session_id", live.id)),
		WithMetrics(s.metrics),
		WithRequestTimeout(s.cfg.RequestTimeout),
		WithAutoStart(live.autoRecord),
	}
	if s.guard != nil {
		controllerOpts = append(controllerOpts, WithStartGuard(s.guard))
	}
	live.controller = NewRecordingController(session, s.backend, controllerOpts...)
	select {
	case <-live.controller.Done():
		session.Disconnect()
		return nil, fmt.Errorf("room %s disconnected while opening: %w", key.RoomName, domain.ErrSessionClosed)
	default:
	}

	if err := s.repo.Save(ctx, s.record(live, live.controller.Snapshot())); err != nil {
		live.controller.Close()
		session.Disconnect()
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		live.controller.Close()
		session.Disconnect()
		return nil, domain.ErrSessionClosed
	}
	s.sessions[live.id] = live
	s.mu.Unlock()

	feed, cancel := live.controller.Subscribe()
	s.wg.Add(1)
	go s.mirror(live, feed, cancel)

	// sessions that joined before we subscribed still get their auto start
	if live.autoRecord && session.State().Connected {
		live.controller.Start()
	}

	s.logger.Infow("Session opened",
		"session_id", live.id,
		"room", req.RoomName,
		"identity", claims.Identity,
		"auto_record", live.autoRecord,
	)
	return s.info(live), nil
}

// mirror persists and publishes every snapshot until the controller is done,
// then drops the session.
func (s *sessionService) mirror(live *liveSession, feed <-chan domain.RecordingSession, cancel func()) {
	defer s.wg.Done()
	defer cancel()

	ctx := context.Background()
	prev := live.controller.Snapshot()
	for snap := range feed {
		if err := s.repo.Save(ctx, s.record(live, snap)); err != nil {
			s.logger.Warnw("Failed to persist recording state", "session_id", live.id, "error", err)
		}
		if s.events != nil && snap.Status != prev.Status {
			if err := s.events.PublishRecordingChanged(ctx, live.id, prev, snap); err != nil {
				s.logger.Warnw("Failed to publish recording event", "session_id", live.id, "error", err)
			}
		}
		prev = snap
	}

	s.mu.Lock()
	delete(s.sessions, live.id)
	s.mu.Unlock()

	if err := s.repo.Delete(ctx, live.id); err != nil {
		s.logger.Warnw("Failed to delete session record", "session_id", live.id, "error", err)
	}
	s.logger.Infow("Session closed", "session_id", live.id, "room", live.session.Key().RoomName)
}

func (s *sessionService) record(live *liveSession, snap domain.RecordingSession) *domain.SessionRecord {
	return &domain.SessionRecord{
		ID:        live.id,
		RoomName:  live.session.Key().RoomName,
		Identity:  live.identity,
		OpenedAt:  live.openedAt,
		Recording: snap,
		Instance:  s.cfg.Instance,
	}
}

func (s *sessionService) info(live *liveSession) *domain.SessionInfo {
	return &domain.SessionInfo{
		ID:         live.id,
		RoomName:   live.session.Key().RoomName,
		Identity:   live.identity,
		AutoRecord: live.autoRecord,
		OpenedAt:   live.openedAt,
		State:      live.session.State(),
		Recording:  live.controller.Snapshot(),
	}
}

func (s *sessionService) lookup(id domain.SessionID) (*liveSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	live, ok := s.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return live, nil
}

func (s *sessionService) Get(ctx context.Context, id domain.SessionID) (*domain.SessionInfo, error) {
	live, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return s.info(live), nil
}

func (s *sessionService) List(ctx context.Context) ([]*domain.SessionInfo, error) {
	s.mu.RLock()
	lives := make([]*liveSession, 0, len(s.sessions))
	for _, live := range s.sessions {
		lives = append(lives, live)
	}
	s.mu.RUnlock()

	infos := make([]*domain.SessionInfo, 0, len(lives))
	for _, live := range lives {
		infos = append(infos, s.info(live))
	}
	return infos, nil
}

// Close disconnects the conferencing session. The controller's best-effort
// stop continues in the background.
func (s *sessionService) Close(ctx context.Context, id domain.SessionID) error {
	live, err := s.lookup(id)
	if err != nil {
		return err
	}
	live.session.Disconnect()
	live.controller.Close()
	return nil
}

func (s *sessionService) Recording(ctx context.Context, id domain.SessionID) (domain.RecordingSession, error) {
	live, err := s.lookup(id)
	if err != nil {
		return domain.RecordingSession{}, err
	}
	return live.controller.Snapshot(), nil
}

func (s *sessionService) StartRecording(ctx context.Context, id domain.SessionID) (domain.RecordingSession, bool, error) {
	return s.apply(id, (*RecordingController).Start)
}

func (s *sessionService) StopRecording(ctx context.Context, id domain.SessionID) (domain.RecordingSession, bool, error) {
	return s.apply(id, (*RecordingController).Stop)
}

func (s *sessionService) ToggleRecording(ctx context.Context, id domain.SessionID) (domain.RecordingSession, bool, error) {
	return s.apply(id, (*RecordingController).Toggle)
}

func (s *sessionService) apply(id domain.SessionID, op func(*RecordingController) bool) (domain.RecordingSession, bool, error) {
	live, err := s.lookup(id)
	if err != nil {
		return domain.RecordingSession{}, false, err
	}
	issued := op(live.controller)
	return live.controller.Snapshot(), issued, nil
}

func (s *sessionService) Subscribe(ctx context.Context, id domain.SessionID) (<-chan domain.RecordingSession, func(), error) {
	live, err := s.lookup(id)
	if err != nil {
		return nil, nil, err
	}
	feed, cancel := live.controller.Subscribe()
	return feed, cancel, nil
}

func (s *sessionService) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Shutdown closes every session and waits for their controllers to finish
// or ctx to expire.
func (s *sessionService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	lives := make([]*liveSession, 0, len(s.sessions))
	for _, live := range s.sessions {
		lives = append(lives, live)
	}
	s.mu.Unlock()

	for _, live := range lives {
		live.session.Disconnect()
		live.controller.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Infow("All sessions closed", "count", len(lives))
		return nil
	case <-ctx.Done():
		s.logger.Warnw("Shutdown interrupted with sessions pending", "error", ctx.Err())
		return ctx.Err()
	}
}

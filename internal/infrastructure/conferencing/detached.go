package conferencing

import (
	"context"
	"sync"

	"roomrec/internal/core/domain"
	"roomrec/internal/core/ports"
)

// DetachedSession is a conferencing session without a media connection. It
// is connected from creation until Disconnect.
type DetachedSession struct {
	key       domain.SessionKey
	listeners listenerSet

	mu           sync.Mutex
	disconnected bool
	once         sync.Once
}

var _ ports.ConferencingSession = (*DetachedSession)(nil)

func NewDetachedSession(key domain.SessionKey) *DetachedSession {
	return &DetachedSession{key: key}
}

func (s *DetachedSession) Key() domain.SessionKey { return s.key }

func (s *DetachedSession) Subscribe(l ports.SessionListener) func() {
	return s.listeners.add(l)
}

func (s *DetachedSession) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.SessionState{Connected: !s.disconnected, Closed: s.disconnected}
}

// Disconnect emits OnDisconnected to current listeners the first time it is
// called.
func (s *DetachedSession) Disconnect() {
	s.once.Do(func() {
		s.mu.Lock()
		s.disconnected = true
		s.mu.Unlock()
		s.listeners.disconnected()
	})
}

// Listeners is the number of live subscriptions.
func (s *DetachedSession) Listeners() int { return s.listeners.len() }

// DetachedConnector opens DetachedSessions. Used when LiveKit is disabled.
type DetachedConnector struct{}

func (DetachedConnector) Connect(ctx context.Context, key domain.SessionKey) (ports.ConferencingSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return NewDetachedSession(key), nil
}

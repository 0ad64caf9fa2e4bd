package conferencing

import (
	"sync"

	"roomrec/internal/core/ports"
)

// listenerSet dispatches to a snapshot of its listeners so a listener may
// unsubscribe from inside a callback.
type listenerSet struct {
	mu        sync.Mutex
	listeners map[int]ports.SessionListener
	next      int
}

func (s *listenerSet) add(l ports.SessionListener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listeners == nil {
		s.listeners = make(map[int]ports.SessionListener)
	}
	id := s.next
	s.next++
	s.listeners[id] = l

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

func (s *listenerSet) snapshot() []ports.SessionListener {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ports.SessionListener, 0, len(s.listeners))
	for i := 0; i < s.next; i++ {
		if l, ok := s.listeners[i]; ok {
			out = append(out, l)
		}
	}
	return out
}

func (s *listenerSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

func (s *listenerSet) connected() {
	for _, l := range s.snapshot() {
		l.OnConnected()
	}
}

func (s *listenerSet) disconnected() {
	for _, l := range s.snapshot() {
		l.OnDisconnected()
	}
}

package conferencing

import (
	"sync"

	"roomrec/internal/core/domain"
	"roomrec/internal/core/ports"

	lksdk "github.com/livekit/server-sdk-go"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// room is the part of *lksdk.Room the session drives.
type room interface {
	Disconnect()
	GetParticipants() []*lksdk.RemoteParticipant
}

// LiveKitSession tracks a LiveKit room connection and reports its lifecycle
// to listeners. OnDisconnected is emitted once, whether the SDK dropped the
// connection or Disconnect was called.
type LiveKitSession struct {
	key       domain.SessionKey
	listeners listenerSet
	logger    *zap.SugaredLogger

	mu           sync.Mutex
	room         room
	connected    bool
	participants map[string]struct{}
	tracks       map[string]struct{}

	disconnectOnce sync.Once
	closed         bool
}

var _ ports.ConferencingSession = (*LiveKitSession)(nil)

func newLiveKitSession(key domain.SessionKey, logger *zap.SugaredLogger) *LiveKitSession {
	return &LiveKitSession{
		key:          key,
		logger:       logger,
		participants: make(map[string]struct{}),
		tracks:       make(map[string]struct{}),
	}
}

// callback wires SDK events to the session. It must be built before
// connecting since the SDK takes it at connect time.
func (s *LiveKitSession) callback() *lksdk.RoomCallback {
	return &lksdk.RoomCallback{
		OnDisconnected:            s.onDisconnected,
		OnReconnecting:            s.onReconnecting,
		OnReconnected:             s.onReconnected,
		OnParticipantConnected:    s.onParticipantConnected,
		OnParticipantDisconnected: s.onParticipantDisconnected,
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackSubscribed:   s.onTrackSubscribed,
			OnTrackUnsubscribed: s.onTrackUnsubscribed,
		},
	}
}

// attach records the joined room and seeds the participant set.
func (s *LiveKitSession) attach(r room) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		r.Disconnect()
		return
	}
	s.room = r
	s.connected = true
	for _, rp := range r.GetParticipants() {
		s.participants[rp.Identity()] = struct{}{}
	}
	s.mu.Unlock()

	s.listeners.connected()
}

func (s *LiveKitSession) Key() domain.SessionKey { return s.key }

func (s *LiveKitSession) Subscribe(l ports.SessionListener) func() {
	return s.listeners.add(l)
}

func (s *LiveKitSession) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.SessionState{
		Connected:    s.connected,
		Participants: len(s.participants),
		Tracks:       len(s.tracks),
		Closed:       s.closed,
	}
}

func (s *LiveKitSession) Disconnect() {
	s.mu.Lock()
	r := s.room
	s.closed = true
	s.mu.Unlock()

	if r != nil {
		r.Disconnect()
	}
	s.emitDisconnected("local")
}

func (s *LiveKitSession) emitDisconnected(reason string) {
	s.disconnectOnce.Do(func() {
		s.mu.Lock()
		s.connected = false
		s.closed = true
		s.mu.Unlock()

		s.logger.Infow("Left room", "room", s.key.RoomName, "reason", reason)
		s.listeners.disconnected()
	})
}

func (s *LiveKitSession) onDisconnected() {
	s.emitDisconnected("remote")
}

func (s *LiveKitSession) onReconnecting() {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	s.logger.Warnw("Room connection lost, reconnecting", "room", s.key.RoomName)
}

func (s *LiveKitSession) onReconnected() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.connected = true
	s.mu.Unlock()

	s.logger.Infow("Room reconnected", "room", s.key.RoomName)
	s.listeners.connected()
}

func (s *LiveKitSession) onParticipantConnected(rp *lksdk.RemoteParticipant) {
	s.addParticipant(rp.Identity())
}

func (s *LiveKitSession) onParticipantDisconnected(rp *lksdk.RemoteParticipant) {
	s.removeParticipant(rp.Identity())
}

func (s *LiveKitSession) addParticipant(identity string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.participants[identity] = struct{}{}
}

func (s *LiveKitSession) removeParticipant(identity string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.participants, identity)
}

func (s *LiveKitSession) onTrackSubscribed(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
	s.addTrack(pub.SID(), track.Kind(), rp.Identity())
}

func (s *LiveKitSession) onTrackUnsubscribed(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
	s.removeTrack(pub.SID())
}

func (s *LiveKitSession) addTrack(sid string, kind webrtc.RTPCodecType, identity string) {
	s.mu.Lock()
	s.tracks[sid] = struct{}{}
	s.mu.Unlock()
	s.logger.Debugw("Track subscribed", "room", s.key.RoomName, "track", sid, "kind", kind.String(), "participant", identity)
}

func (s *LiveKitSession) removeTrack(sid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tracks, sid)
}

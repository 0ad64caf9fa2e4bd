package ports

import (
	"context"

	"roomrec/internal/core/domain"
)

// RecordingBackend performs server-side recording. Neither call is assumed
// idempotent.
type RecordingBackend interface {
	RequestStart(ctx context.Context, key domain.SessionKey) (domain.JobID, error)
	RequestStop(ctx context.Context, jobID domain.JobID) error
}

// SessionListener receives conferencing session lifecycle events.
type SessionListener interface {
	OnConnected()
	OnDisconnected()
}

// ConferencingSession is an active room connection managed by the SDK.
// OnDisconnected is delivered at most once per session.
type ConferencingSession interface {
	Key() domain.SessionKey
	Subscribe(l SessionListener) (unsubscribe func())
	State() domain.SessionState
	Disconnect()
}

// SessionConnector opens conferencing sessions.
type SessionConnector interface {
	Connect(ctx context.Context, key domain.SessionKey) (ConferencingSession, error)
}

// StartGuard serializes start requests for a session key across service
// instances. Acquire returns ok=false when another holder has the key.
type StartGuard interface {
	Acquire(ctx context.Context, key domain.SessionKey) (release func(), ok bool, err error)
}

// EventPublisher fans recording status changes out to other instances.
type EventPublisher interface {
	PublishRecordingChanged(ctx context.Context, id domain.SessionID, prev, next domain.RecordingSession) error
}

type SessionService interface {
	Open(ctx context.Context, req OpenRequest) (*domain.SessionInfo, error)
	Get(ctx context.Context, id domain.SessionID) (*domain.SessionInfo, error)
	List(ctx context.Context) ([]*domain.SessionInfo, error)
	Close(ctx context.Context, id domain.SessionID) error

	Recording(ctx context.Context, id domain.SessionID) (domain.RecordingSession, error)
	StartRecording(ctx context.Context, id domain.SessionID) (domain.RecordingSession, bool, error)
	StopRecording(ctx context.Context, id domain.SessionID) (domain.RecordingSession, bool, error)
	ToggleRecording(ctx context.Context, id domain.SessionID) (domain.RecordingSession, bool, error)
	Subscribe(ctx context.Context, id domain.SessionID) (<-chan domain.RecordingSession, func(), error)
}

type OpenRequest struct {
	RoomName   string
	Token      string
	AutoRecord bool
}

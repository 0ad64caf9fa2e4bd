package domain

import "time"

// SessionState is the conferencing-side view reported by a ConferencingSession.
type SessionState struct {
	Connected    bool `json:"connected"`
	Participants int  `json:"participants"`
	Tracks       int  `json:"tracks"`
	// Closed is set once the session has disconnected for good. Connected
	// alone is false while a dropped signal connection is being resumed.
	Closed bool `json:"closed,omitempty"`
}

// SessionInfo is the service-level view of an open session.
type SessionInfo struct {
	ID         SessionID        `json:"id"`
	RoomName   string           `json:"room_name"`
	Identity   string           `json:"identity,omitempty"`
	AutoRecord bool             `json:"auto_record"`
	OpenedAt   time.Time        `json:"opened_at"`
	State      SessionState     `json:"state"`
	Recording  RecordingSession `json:"recording"`
}

// SessionRecord is the persisted form of SessionInfo. It never holds the token.
type SessionRecord struct {
	ID        SessionID        `json:"id"`
	RoomName  string           `json:"room_name"`
	Identity  string           `json:"identity,omitempty"`
	OpenedAt  time.Time        `json:"opened_at"`
	Recording RecordingSession `json:"recording"`
	Instance  string           `json:"instance,omitempty"`
}

// Active reports whether the record still refers to a live recording job.
func (r *SessionRecord) Active() bool {
	return r.Recording.Status.HoldsJob()
}

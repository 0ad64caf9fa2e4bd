package domain

import (
	"fmt"
	"time"
)

type SessionID string
type JobID string

// RecordingStatus is the lifecycle state of a recording job attached to a session.
type RecordingStatus string

const (
	StatusIdle      RecordingStatus = "idle"
	StatusStarting  RecordingStatus = "starting"
	StatusRecording RecordingStatus = "recording"
	StatusStopping  RecordingStatus = "stopping"
	// StatusFailed is never entered by a controller, so clients never observe
	// it. A failed request resolves to Idle or Recording with LastError set.
	StatusFailed RecordingStatus = "failed"
)

// Pending reports whether a backend request is outstanding in this state.
func (s RecordingStatus) Pending() bool {
	return s == StatusStarting || s == StatusStopping
}

// HoldsJob reports whether a job id must be present in this state.
func (s RecordingStatus) HoldsJob() bool {
	return s == StatusRecording || s == StatusStopping
}

// Label is the toggle control caption for the status.
func (s RecordingStatus) Label() string {
	switch {
	case s.Pending():
		return "..."
	case s == StatusRecording:
		return "Stop Recording"
	default:
		return "Start Recording"
	}
}

// SessionKey identifies the conferencing session a recording is attached to.
type SessionKey struct {
	RoomName string
	Token    string
}

// String never includes the participant token.
func (k SessionKey) String() string {
	if k.Token == "" {
		return k.RoomName
	}
	return fmt.Sprintf("%s/<token:%d>", k.RoomName, len(k.Token))
}

func (k SessionKey) IsZero() bool {
	return k.RoomName == "" && k.Token == ""
}

// RecordingSession is a point-in-time view of a controller's state.
type RecordingSession struct {
	Status    RecordingStatus `json:"status"`
	JobID     JobID           `json:"job_id,omitempty"`
	Room      string          `json:"room"`
	LastError string          `json:"last_error,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Label and Pending are what a UI renders for the toggle control.
func (r RecordingSession) Label() string { return r.Status.Label() }
func (r RecordingSession) Pending() bool { return r.Status.Pending() }

// Valid checks the job id / status invariant.
func (r RecordingSession) Valid() bool {
	return r.Status.HoldsJob() == (r.JobID != "")
}

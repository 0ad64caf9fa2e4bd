package domain

// RecordingView is a RecordingSession with the fields a UI renders for the
// toggle control.
type RecordingView struct {
	RecordingSession
	Label   string `json:"label"`
	Pending bool   `json:"pending"`
}

func NewRecordingView(r RecordingSession) RecordingView {
	return RecordingView{RecordingSession: r, Label: r.Label(), Pending: r.Pending()}
}

const (
	StatusMessageUpdate = "status"
	StatusMessageClosed = "closed"
	StatusMessageError  = "error"
)

// StatusMessage is one frame of the recording status stream.
type StatusMessage struct {
	Type      string         `json:"type"`
	SessionID SessionID      `json:"session_id"`
	Recording *RecordingView `json:"recording,omitempty"`
	Error     string         `json:"error,omitempty"`
}

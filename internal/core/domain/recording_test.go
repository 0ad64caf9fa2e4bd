package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecordingStatus_Label(t *testing.T) {
	tests := []struct {
		status  RecordingStatus
		label   string
		pending bool
	}{
		{StatusIdle, "Start Recording", false},
		{StatusStarting, "...", true},
		{StatusRecording, "Stop Recording", false},
		{StatusStopping, "...", true},
		{StatusFailed, "Start Recording", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.label, tt.status.Label())
			assert.Equal(t, tt.pending, tt.status.Pending())
		})
	}
}

func TestRecordingSession_Valid(t *testing.T) {
	assert.True(t, RecordingSession{Status: StatusIdle}.Valid())
	assert.True(t, RecordingSession{Status: StatusRecording, JobID: "EG_1"}.Valid())
	assert.True(t, RecordingSession{Status: StatusStopping, JobID: "EG_1"}.Valid())
	assert.False(t, RecordingSession{Status: StatusRecording}.Valid())
	assert.False(t, RecordingSession{Status: StatusStarting, JobID: "EG_1"}.Valid())
}

func TestSessionKey_StringRedactsToken(t *testing.T) {
	key := SessionKey{RoomName: "standup", Token: "eyJhbGciOiJIUzI1NiJ9.e30.sig"}
	s := key.String()

	assert.NotContains(t, s, key.Token)
	assert.Contains(t, s, "standup")
	assert.Equal(t, "standup", SessionKey{RoomName: "standup"}.String())
	assert.True(t, SessionKey{}.IsZero())
}

func TestBackendError(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("start: %w", Unreachable("start", cause))

	assert.ErrorIs(t, err, ErrBackendUnreachable)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrBackendRejected)
	assert.Equal(t, "unreachable", FailureKind(err))

	rejected := Rejected("stop", 500, "egress not found")
	assert.ErrorIs(t, rejected, ErrBackendRejected)
	assert.Contains(t, rejected.Error(), "http 500")
	assert.Contains(t, rejected.Error(), "egress not found")
	assert.Equal(t, "rejected", FailureKind(rejected))

	var be *BackendError
	assert.True(t, errors.As(err, &be))
	assert.Equal(t, "start", be.Op)

	assert.Equal(t, "ok", FailureKind(nil))
	assert.Equal(t, "error", FailureKind(errors.New("other")))
}

package utils

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewSessionID returns a new random session id
func NewSessionID() string {
	return uuid.NewString()
}

// GenerateRequestID generates a unique request ID
func GenerateRequestID() string {
	return "req_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// RecordingFilepath builds the output path of a recording file for room,
// e.g. "recordings/standup-20240102-150405.mp4".
func RecordingFilepath(prefix, room string, startedAt time.Time) string {
	return fmt.Sprintf("%s%s-%s.mp4", prefix, SanitizeFileComponent(room), startedAt.UTC().Format("20060102-150405"))
}

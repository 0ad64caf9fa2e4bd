package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// RoomNameRegex matches LiveKit room names as issued by the meeting pages
	RoomNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_.\-]+$`)

	// JobIDRegex matches egress ids ("EG_xxxx") and other opaque backend ids
	JobIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_\-:.]+$`)
)

const (
	maxRoomNameLen = 128
	maxJobIDLen    = 256
	maxTokenLen    = 8192
)

// ValidateRoomName validates a conferencing room name
func ValidateRoomName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("room name is required")
	}
	if len(name) > maxRoomNameLen {
		return fmt.Errorf("room name is too long (max %d characters)", maxRoomNameLen)
	}
	if !RoomNameRegex.MatchString(name) {
		return fmt.Errorf("room name contains invalid characters (only letters, numbers, _, -, . allowed)")
	}
	return nil
}

// ValidateJobID validates an external recording job id
func ValidateJobID(id string) error {
	if id == "" {
		return fmt.Errorf("job ID is required")
	}
	if len(id) > maxJobIDLen {
		return fmt.Errorf("job ID is too long (max %d characters)", maxJobIDLen)
	}
	if !JobIDRegex.MatchString(id) {
		return fmt.Errorf("invalid job ID format")
	}
	return nil
}

// ValidateToken checks the shape of a participant access token. The signature
// is verified by the conferencing server, not here.
func ValidateToken(token string) error {
	if token == "" {
		return fmt.Errorf("token is required")
	}
	if len(token) > maxTokenLen {
		return fmt.Errorf("token is too long (max %d characters)", maxTokenLen)
	}
	if strings.Count(token, ".") != 2 {
		return fmt.Errorf("token is not a JWT")
	}
	return nil
}

// ValidateURL validates URL format
func ValidateURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid URL scheme (must be http, https, ws, or wss)")
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

// ValidateFilePrefix validates a recording output path prefix
func ValidateFilePrefix(prefix string) error {
	if !utf8.ValidString(prefix) {
		return fmt.Errorf("file prefix contains invalid characters")
	}
	if strings.Contains(prefix, "..") {
		return fmt.Errorf("file prefix must not contain '..'")
	}
	return nil
}

// VideoGrant is the subset of the LiveKit video grant the service reads.
type VideoGrant struct {
	Room     string `json:"room,omitempty"`
	RoomJoin bool   `json:"roomJoin,omitempty"`
	Hidden   bool   `json:"hidden,omitempty"`
}

type participantClaims struct {
	jwt.RegisteredClaims
	Name  string      `json:"name,omitempty"`
	Video *VideoGrant `json:"video,omitempty"`
}

// ParticipantToken holds the claims of an unverified participant token.
type ParticipantToken struct {
	Identity  string
	Name      string
	Room      string
	ExpiresAt time.Time
}

// ParseParticipantToken decodes a participant access token without verifying
// its signature and checks it is usable for room.
func ParseParticipantToken(token, room string) (*ParticipantToken, error) {
	if err := ValidateToken(token); err != nil {
		return nil, err
	}

	claims := &participantClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	out := &ParticipantToken{
		Identity: claims.Subject,
		Name:     claims.Name,
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
		if out.ExpiresAt.Before(time.Now()) {
			return nil, fmt.Errorf("token expired at %s", out.ExpiresAt.Format(time.RFC3339))
		}
	}
	if claims.Video != nil {
		out.Room = claims.Video.Room
	}
	if out.Room != "" && room != "" && out.Room != room {
		return nil, fmt.Errorf("token grants room %q, not %q", out.Room, room)
	}
	return out, nil
}

package conferencing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"roomrec/internal/core/domain"
	"roomrec/internal/core/ports"
	"roomrec/pkg/retry"
	"roomrec/pkg/tracing"
	"roomrec/pkg/utils"

	"github.com/google/uuid"
	lksdk "github.com/livekit/server-sdk-go"
	"go.uber.org/zap"
)

type LiveKitConfig struct {
	URL       string
	APIKey    string
	APISecret string
	// IdentityPrefix names the recorder participant when joining with API
	// credentials.
	IdentityPrefix string
	Retry          retry.Config
}

// dialFunc joins a room and returns the connected SDK room.
type dialFunc func(cb *lksdk.RoomCallback, key domain.SessionKey) (room, error)

// LiveKitConnector joins rooms with the LiveKit SDK, retrying failed joins
// with exponential backoff.
type LiveKitConnector struct {
	cfg    LiveKitConfig
	dial   dialFunc
	logger *zap.SugaredLogger
}

var _ ports.SessionConnector = (*LiveKitConnector)(nil)

func NewLiveKitConnector(cfg LiveKitConfig, logger *zap.SugaredLogger) *LiveKitConnector {
	c := &LiveKitConnector{cfg: cfg, logger: logger}
	c.dial = c.join
	if cfg.APIKey != "" {
		logger.Infow("LiveKit connector joins with API credentials",
			"url", cfg.URL,
			"api_key", utils.MaskSensitive(cfg.APIKey, 4),
		)
	} else {
		logger.Infow("LiveKit connector joins with participant tokens", "url", cfg.URL)
	}
	return c
}

func (c *LiveKitConnector) join(cb *lksdk.RoomCallback, key domain.SessionKey) (room, error) {
	if c.cfg.APIKey != "" {
		return lksdk.ConnectToRoom(c.cfg.URL, lksdk.ConnectInfo{
			APIKey:              c.cfg.APIKey,
			APISecret:           c.cfg.APISecret,
			RoomName:            key.RoomName,
			ParticipantIdentity: c.identity(),
			ParticipantName:     "Recorder",
		}, cb)
	}
	return lksdk.ConnectToRoomWithToken(c.cfg.URL, key.Token, cb)
}

func (c *LiveKitConnector) identity() string {
	prefix := c.cfg.IdentityPrefix
	if prefix == "" {
		prefix = "recorder"
	}
	return prefix + "-" + strings.SplitN(uuid.NewString(), "-", 2)[0]
}

func (c *LiveKitConnector) Connect(ctx context.Context, key domain.SessionKey) (_ ports.ConferencingSession, err error) {
	ctx, span := tracing.TraceSessionConnect(ctx, key.RoomName)
	defer func() { tracing.End(span, err) }()

	cfg := c.cfg.Retry
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		c.logger.Warnw("Room join failed, retrying",
			"room", key.RoomName,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
	}

	start := time.Now()
	session, err := retry.DoWithResult(ctx, cfg, func(ctx context.Context) (*LiveKitSession, error) {
		session := newLiveKitSession(key, c.logger)
		r, err := c.dial(session.callback(), key)
		if err != nil {
			return nil, err
		}
		session.attach(r)
		return session, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to join room %s: %w", key.RoomName, err)
	}

	c.logger.Infow("Joined room",
		"room", key.RoomName,
		"participants", session.State().Participants,
		"duration", time.Since(start),
	)
	return session, nil
}

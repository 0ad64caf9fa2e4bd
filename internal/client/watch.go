package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"roomrec/internal/core/domain"

	"github.com/gorilla/websocket"
)

// ErrStopWatch may be returned by a Watch handler to end the watch cleanly.
var ErrStopWatch = errors.New("stop watching")

func (c *Client) streamURL(id domain.SessionID) string {
	u := *c.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	return u.String() + "/api/v1" + sessionPath(id, "/recording/stream")
}

// Watch streams status messages for a session to handle until the server
// closes the stream, ctx is done, or handle returns an error.
func (c *Client) Watch(ctx context.Context, id domain.SessionID, handle func(domain.StatusMessage) error) error {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.streamURL(id), header)
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			return &APIError{StatusCode: resp.StatusCode, Message: err.Error()}
		}
		return fmt.Errorf("failed to open status stream: %w", err)
	}
	defer conn.Close()

	// unblock ReadJSON when ctx is done
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		var msg domain.StatusMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("status stream: %w", err)
		}
		if err := handle(msg); err != nil {
			if errors.Is(err, ErrStopWatch) {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return nil
			}
			return err
		}
		if msg.Type == domain.StatusMessageClosed {
			return nil
		}
	}
}

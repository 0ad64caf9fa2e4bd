package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"roomrec/internal/core/domain"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(Config{BaseURL: srv.URL + "/", Token: "api-token"}, nil)
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNew_RejectsBadURL(t *testing.T) {
	_, err := New(Config{BaseURL: "localhost:8080"}, nil)
	assert.Error(t, err)
	_, err = New(Config{BaseURL: "ftp://host"}, nil)
	assert.Error(t, err)
}

func TestOpen(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/sessions", r.URL.Path)
		assert.Equal(t, "Bearer api-token", r.Header.Get("Authorization"))

		var req OpenRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, OpenRequest{RoomName: "standup", Token: "tok", AutoRecord: true}, req)

		writeJSON(w, http.StatusCreated, map[string]interface{}{
			"session": domain.SessionInfo{ID: "s1", RoomName: "standup", AutoRecord: true},
		})
	}))

	info, err := c.Open(context.Background(), OpenRequest{RoomName: "standup", Token: "tok", AutoRecord: true})
	require.NoError(t, err)
	assert.Equal(t, domain.SessionID("s1"), info.ID)
	assert.True(t, info.AutoRecord)
}

func TestCommandsAndRecording(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/sessions/s1/recording/toggle", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"recording": domain.NewRecordingView(domain.RecordingSession{Status: domain.StatusStarting, Room: "standup"}),
			"issued":    true,
		})
	})
	mux.HandleFunc("/api/v1/sessions/s1/recording", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"recording": domain.NewRecordingView(domain.RecordingSession{Status: domain.StatusRecording, JobID: "EG_1"}),
		})
	})
	c := newTestClient(t, mux)

	res, err := c.Toggle(context.Background(), "s1")
	require.NoError(t, err)
	assert.True(t, res.Issued)
	assert.Equal(t, domain.StatusStarting, res.Recording.Status)
	assert.Equal(t, "...", res.Recording.Label)
	assert.True(t, res.Recording.Pending)

	view, err := c.Recording(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobID("EG_1"), view.JobID)
	assert.Equal(t, "Stop Recording", view.Label)
}

func TestAPIError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "NOT_FOUND", "message": "session not found"})
	}))

	_, err := c.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "session not found")

	err = c.Close(context.Background(), "missing")
	assert.True(t, IsNotFound(err))
}

func TestWatch(t *testing.T) {
	upgrader := websocket.Upgrader{}
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/sessions/s1/recording/stream", r.URL.Path)
		assert.Equal(t, "Bearer api-token", r.Header.Get("Authorization"))

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for _, status := range []domain.RecordingStatus{domain.StatusIdle, domain.StatusStarting, domain.StatusRecording} {
			view := domain.NewRecordingView(domain.RecordingSession{Status: status})
			_ = conn.WriteJSON(domain.StatusMessage{Type: domain.StatusMessageUpdate, SessionID: "s1", Recording: &view})
		}
		_ = conn.WriteJSON(domain.StatusMessage{Type: domain.StatusMessageClosed, SessionID: "s1"})
	}))

	var seen []string
	err := c.Watch(context.Background(), "s1", func(msg domain.StatusMessage) error {
		if msg.Recording != nil {
			seen = append(seen, msg.Recording.Label)
		} else {
			seen = append(seen, msg.Type)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Start Recording", "...", "Stop Recording", "closed"}, seen)
}

func TestWatch_StopAndCancel(t *testing.T) {
	upgrader := websocket.Upgrader{}
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		view := domain.NewRecordingView(domain.RecordingSession{Status: domain.StatusIdle})
		_ = conn.WriteJSON(domain.StatusMessage{Type: domain.StatusMessageUpdate, Recording: &view})
		// hold the stream open until the client leaves
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))

	err := c.Watch(context.Background(), "s1", func(domain.StatusMessage) error { return ErrStopWatch })
	assert.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = c.Watch(ctx, "s1", func(domain.StatusMessage) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWatch_NotFound(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "session not found", http.StatusNotFound)
	}))

	err := c.Watch(context.Background(), "missing", func(domain.StatusMessage) error { return nil })
	assert.True(t, IsNotFound(err))
}

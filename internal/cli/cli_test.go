package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"roomrec/internal/core/domain"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, server string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	deps := &Dependencies{
		Config: &Config{Server: server, Token: "api-token", Timeout: 5 * time.Second},
		Out:    &out,
	}
	root := NewRootCmd(deps, "test")
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(&out)
	err := root.Execute()
	return out.String(), err
}

func respond(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	info := domain.SessionInfo{
		ID:        "s1",
		RoomName:  "standup",
		State:     domain.SessionState{Connected: true, Participants: 3},
		Recording: domain.RecordingSession{Status: domain.StatusRecording, JobID: "EG_1", Room: "standup"},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			var body map[string]interface{}
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["token"] != "p-token" || body["auto_record"] != true {
				respond(w, http.StatusBadRequest, map[string]string{"error": "INVALID_INPUT", "message": "bad body"})
				return
			}
			respond(w, http.StatusCreated, map[string]interface{}{"session": info})
			return
		}
		respond(w, http.StatusOK, map[string]interface{}{"sessions": []domain.SessionInfo{info}, "count": 1})
	})
	mux.HandleFunc("/api/v1/sessions/s1", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			respond(w, http.StatusAccepted, map[string]string{"session_id": "s1", "status": "closing"})
			return
		}
		respond(w, http.StatusOK, map[string]interface{}{"session": info})
	})
	mux.HandleFunc("/api/v1/sessions/s1/recording/stop", func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusAccepted, map[string]interface{}{
			"recording": domain.NewRecordingView(domain.RecordingSession{Status: domain.StatusStopping, JobID: "EG_1"}),
			"issued":    true,
		})
	})
	mux.HandleFunc("/api/v1/sessions/s1/recording/start", func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusAccepted, map[string]interface{}{
			"recording": domain.NewRecordingView(domain.RecordingSession{Status: domain.StatusRecording, JobID: "EG_1"}),
			"issued":    false,
		})
	})
	mux.HandleFunc("/api/v1/sessions/s1/recording/stream", func(w http.ResponseWriter, r *http.Request) {
		conn, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, s := range []domain.RecordingStatus{domain.StatusIdle, domain.StatusStarting, domain.StatusRecording, domain.StatusStopping, domain.StatusIdle} {
			view := domain.NewRecordingView(domain.RecordingSession{Status: s})
			_ = conn.WriteJSON(domain.StatusMessage{Type: domain.StatusMessageUpdate, SessionID: "s1", Recording: &view})
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusNotFound, map[string]string{"error": "NOT_FOUND", "message": "session not found"})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestCommands(t *testing.T) {
	srv := newServer(t)

	out, err := run(t, srv.URL, "open", "standup", "--participant-token", "p-token", "--auto-record")
	require.NoError(t, err)
	assert.Contains(t, out, "Session:   s1")
	assert.Contains(t, out, "Recording: recording [Stop Recording] job=EG_1")

	out, err = run(t, srv.URL, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "ROOM")
	assert.Contains(t, out, "standup")

	out, err = run(t, srv.URL, "status", "s1")
	require.NoError(t, err)
	assert.Contains(t, out, "3 participants")

	out, err = run(t, srv.URL, "stop", "s1")
	require.NoError(t, err)
	assert.Contains(t, out, "stop requested")
	assert.Contains(t, out, "[...]")

	out, err = run(t, srv.URL, "start", "s1")
	require.NoError(t, err)
	assert.Contains(t, out, "start not issued in state recording")

	out, err = run(t, srv.URL, "close", "s1")
	require.NoError(t, err)
	assert.Contains(t, out, "Session s1 closing")
}

func TestCommandErrors(t *testing.T) {
	srv := newServer(t)

	_, err := run(t, srv.URL, "status", "nope")
	assert.ErrorContains(t, err, "session not found")

	_, err = run(t, srv.URL, "open", "standup")
	assert.ErrorContains(t, err, "--participant-token")

	_, err = run(t, srv.URL, "start")
	assert.Error(t, err)

	_, err = run(t, "not a url", "list")
	assert.Error(t, err)
}

func TestWatchUntilIdle(t *testing.T) {
	srv := newServer(t)

	out, err := run(t, srv.URL, "watch", "s1", "--until-idle")
	require.NoError(t, err)
	assert.Contains(t, out, "[Start Recording]")
	assert.Contains(t, out, "[Stop Recording]")
	assert.Equal(t, 2, bytes.Count([]byte(out), []byte("[...]")))
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
server = "https://rec.example.com"
token = "from-file"
timeout = "5s"
`), 0o600))

	t.Setenv("RECORDCTL_TOKEN", "from-env")
	cfg, err := loadConfigFrom(path)
	require.NoError(t, err)
	assert.Equal(t, "https://rec.example.com", cfg.Server)
	assert.Equal(t, "from-env", cfg.Token)
	assert.Equal(t, 5*time.Second, cfg.Timeout)

	cfg, err = loadConfigFrom("")
	require.NoError(t, err)
	assert.Equal(t, DefaultServer, cfg.Server)

	require.NoError(t, os.WriteFile(path, []byte(`timeout = "soon"`), 0o600))
	_, err = loadConfigFrom(path)
	assert.Error(t, err)

	t.Setenv("RECORDCTL_TIMEOUT", "later")
	_, err = loadConfigFrom("")
	assert.Error(t, err)
}

func TestConfigFilePath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	assert.Equal(t, "", configFilePath())

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "recordctl"), 0o755))
	path := filepath.Join(dir, "recordctl", "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(""), 0o600))
	assert.Equal(t, path, configFilePath())
}

package signal

import (
	"context"
	"net/http"
	"time"

	"roomrec/internal/core/domain"
	"roomrec/internal/core/ports"
	"roomrec/internal/infrastructure/middleware"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type StreamConfig struct {
	PingInterval time.Duration
	PongTimeout  time.Duration
	WriteTimeout time.Duration
	// AllowedOrigins lists accepted Origin headers; empty accepts any.
	AllowedOrigins []string
}

// StatusStreamServer pushes recording snapshots of one session to WebSocket
// clients until the session is closed or the client goes away.
type StatusStreamServer struct {
	service  ports.SessionService
	cfg      StreamConfig
	upgrader websocket.Upgrader
	logger   *zap.SugaredLogger
}

var _ ports.StatusStreamHandler = (*StatusStreamServer)(nil)

func NewStatusStreamServer(service ports.SessionService, cfg StreamConfig, logger *zap.SugaredLogger) *StatusStreamServer {
	s := &StatusStreamServer{
		service: service,
		cfg:     cfg,
		logger:  logger,
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin:     s.checkOrigin,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	return s
}

func (s *StatusStreamServer) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (s *StatusStreamServer) ServeStatus(w http.ResponseWriter, r *http.Request, sessionID string) {
	id := domain.SessionID(sessionID)
	feed, cancel, err := s.service.Subscribe(r.Context(), id)
	if err != nil {
		appErr := middleware.MapError(err)
		http.Error(w, appErr.Message, appErr.HTTPStatus)
		return
	}
	defer cancel()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("websocket upgrade failed", "session_id", id, "error", err)
		return
	}
	defer conn.Close()

	s.logger.Debugw("status stream opened", "session_id", id, "remote", r.RemoteAddr)

	ctx, stop := context.WithCancel(r.Context())
	defer stop()
	go s.readLoop(ctx, conn, stop)

	pingTicker := time.NewTicker(s.cfg.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case snap, ok := <-feed:
			if !ok {
				s.write(conn, domain.StatusMessage{Type: domain.StatusMessageClosed, SessionID: id})
				s.closeConn(conn, websocket.CloseNormalClosure, "session closed")
				s.logger.Debugw("status stream finished", "session_id", id)
				return
			}
			view := domain.NewRecordingView(snap)
			if err := s.write(conn, domain.StatusMessage{Type: domain.StatusMessageUpdate, SessionID: id, Recording: &view}); err != nil {
				s.logger.Debugw("status write failed", "session_id", id, "error", err)
				return
			}

		case <-pingTicker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Debugw("ping failed", "session_id", id, "error", err)
				return
			}

		case <-ctx.Done():
			s.logger.Debugw("status stream client left", "session_id", id)
			return
		}
	}
}

// readLoop consumes client frames so pongs and close frames are processed.
// It cancels the stream when the connection fails or the peer stops
// answering pings.
func (s *StatusStreamServer) readLoop(ctx context.Context, conn *websocket.Conn, stop context.CancelFunc) {
	defer stop()

	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	})

	for ctx.Err() == nil {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debugw("status stream read error", "error", err)
			}
			return
		}
	}
}

func (s *StatusStreamServer) write(conn *websocket.Conn, msg domain.StatusMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return conn.WriteJSON(msg)
}

func (s *StatusStreamServer) closeConn(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(s.cfg.WriteTimeout)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
}

package http

import (
	"context"
	"net/http"

	"roomrec/internal/core/domain"
	"roomrec/internal/core/ports"
	"roomrec/pkg/errors"

	"github.com/gin-gonic/gin"
)

type SessionHandler struct {
	sessionService ports.SessionService
	statusStream   ports.StatusStreamHandler
}

var _ ports.HTTPHandler = (*SessionHandler)(nil)

func NewSessionHandler(sessionService ports.SessionService, statusStream ports.StatusStreamHandler) *SessionHandler {
	return &SessionHandler{
		sessionService: sessionService,
		statusStream:   statusStream,
	}
}

// RouteGuards are extra handlers run before mutating routes and before the
// status stream. Nil entries are skipped.
type RouteGuards struct {
	Write  gin.HandlerFunc
	Stream gin.HandlerFunc
}

func chain(guard gin.HandlerFunc, h gin.HandlerFunc) []gin.HandlerFunc {
	if guard == nil {
		return []gin.HandlerFunc{h}
	}
	return []gin.HandlerFunc{guard, h}
}

func (h *SessionHandler) SetupRoutes(api *gin.RouterGroup, guards RouteGuards) {
	sessions := api.Group("/sessions")
	{
		sessions.POST("", chain(guards.Write, h.OpenSession)...)
		sessions.GET("", h.ListSessions)
		sessions.GET("/:id", h.GetSession)
		sessions.DELETE("/:id", chain(guards.Write, h.CloseSession)...)

		sessions.GET("/:id/recording", h.GetRecording)
		sessions.POST("/:id/recording/start", chain(guards.Write, h.StartRecording)...)
		sessions.POST("/:id/recording/stop", chain(guards.Write, h.StopRecording)...)
		sessions.POST("/:id/recording/toggle", chain(guards.Write, h.ToggleRecording)...)
		sessions.GET("/:id/recording/stream", chain(guards.Stream, h.StreamRecording)...)
	}
}

type openSessionRequest struct {
	RoomName   string `json:"room_name" binding:"required,max=128"`
	Token      string `json:"token" binding:"required"`
	AutoRecord bool   `json:"auto_record"`
}

func (h *SessionHandler) OpenSession(c *gin.Context) {
	var req openSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	info, err := h.sessionService.Open(c.Request.Context(), ports.OpenRequest{
		RoomName:   req.RoomName,
		Token:      req.Token,
		AutoRecord: req.AutoRecord,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"session": info,
	})
}

func (h *SessionHandler) GetSession(c *gin.Context) {
	info, err := h.sessionService.Get(c.Request.Context(), domain.SessionID(c.Param("id")))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session": info,
	})
}

func (h *SessionHandler) ListSessions(c *gin.Context) {
	infos, err := h.sessionService.List(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sessions": infos,
		"count":    len(infos),
	})
}

// CloseSession requests teardown; a running recording is stopped in the
// background.
func (h *SessionHandler) CloseSession(c *gin.Context) {
	id := domain.SessionID(c.Param("id"))
	if err := h.sessionService.Close(c.Request.Context(), id); err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"session_id": id,
		"status":     "closing",
	})
}

func (h *SessionHandler) GetRecording(c *gin.Context) {
	rec, err := h.sessionService.Recording(c.Request.Context(), domain.SessionID(c.Param("id")))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"recording": domain.NewRecordingView(rec),
	})
}

func (h *SessionHandler) StartRecording(c *gin.Context) {
	h.command(c, h.sessionService.StartRecording)
}

func (h *SessionHandler) StopRecording(c *gin.Context) {
	h.command(c, h.sessionService.StopRecording)
}

func (h *SessionHandler) ToggleRecording(c *gin.Context) {
	h.command(c, h.sessionService.ToggleRecording)
}

type recordingCommand func(ctx context.Context, id domain.SessionID) (domain.RecordingSession, bool, error)

// command answers 202 whether or not a backend request was issued; the
// issued flag tells the caller which.
func (h *SessionHandler) command(c *gin.Context, op recordingCommand) {
	rec, issued, err := op(c.Request.Context(), domain.SessionID(c.Param("id")))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"recording": domain.NewRecordingView(rec),
		"issued":    issued,
	})
}

func (h *SessionHandler) StreamRecording(c *gin.Context) {
	h.statusStream.ServeStatus(c.Writer, c.Request, c.Param("id"))
}

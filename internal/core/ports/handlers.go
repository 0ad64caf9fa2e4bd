package ports

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type HTTPHandler interface {
	OpenSession(c *gin.Context)
	GetSession(c *gin.Context)
	ListSessions(c *gin.Context)
	CloseSession(c *gin.Context)
	GetRecording(c *gin.Context)
	StartRecording(c *gin.Context)
	StopRecording(c *gin.Context)
	ToggleRecording(c *gin.Context)
}

// StatusStreamHandler upgrades a request into a stream of recording snapshots.
type StatusStreamHandler interface {
	ServeStatus(w http.ResponseWriter, r *http.Request, sessionID string)
}

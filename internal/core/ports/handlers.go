package ports

import (
	"github.com/gin-gonic/gin"
)

type HTTPHandler interface {
	CreateCall(c *gin.Context)
	GetCall(c *gin.Context)
	ListCalls(c *gin.Context)
	JoinCall(c *gin.Context)
	LeaveCall(c *gin.Context)
	GetState(c *gin.Context)
	SetMuted(c *gin.Context)
	SetVideoOff(c *gin.Context)
	SetFullscreen(c *gin.Context)
	ToggleRecording(c *gin.Context)
	PublishMedia(c *gin.Context)
	ListRecordings(c *gin.Context)
}

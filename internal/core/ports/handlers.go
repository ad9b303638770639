package ports

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type RoomHTTPHandler interface {
	CreateRoom(c *gin.Context)
	GetRoom(c *gin.Context)
	ListRooms(c *gin.Context)
	DeleteRoom(c *gin.Context)
	IssueToken(c *gin.Context)
	GetRouterCapabilities(c *gin.Context)
}

type WebSocketHandler interface {
	HandleWebSocket(w http.ResponseWriter, r *http.Request)
}

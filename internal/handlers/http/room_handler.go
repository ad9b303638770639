package http

import (
	"net/http"
	"time"

	"roomsignal/internal/core/domain"
	"roomsignal/internal/core/ports"
	"roomsignal/pkg/errors"
	"roomsignal/pkg/utils"
	"roomsignal/pkg/validation"

	"github.com/gin-gonic/gin"
)

type RoomHandler struct {
	rooms                ports.RoomService
	auth                 ports.AuthService
	maxParticipantsLimit int
}

var _ ports.RoomHTTPHandler = (*RoomHandler)(nil)

func NewRoomHandler(rooms ports.RoomService, auth ports.AuthService, maxParticipantsLimit int) *RoomHandler {
	return &RoomHandler{
		rooms:                rooms,
		auth:                 auth,
		maxParticipantsLimit: maxParticipantsLimit,
	}
}

func (h *RoomHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1/rooms")
	{
		api.POST("", h.CreateRoom)
		api.GET("", h.ListRooms)
		api.GET("/:id", h.GetRoom)
		api.DELETE("/:id", h.DeleteRoom)
		api.POST("/:id/token", h.IssueToken)
		api.GET("/:id/router", h.GetRouterCapabilities)
	}
}

type CreateRoomRequest struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	MaxParticipants int    `json:"maxParticipants"`
}

func (h *RoomHandler) CreateRoom(c *gin.Context) {
	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	req.Title = utils.SanitizeString(req.Title)
	if err := validation.ValidateRoomTitle(req.Title); err != nil {
		_ = c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}
	if err := validation.ValidateMaxParticipants(req.MaxParticipants, h.maxParticipantsLimit); err != nil {
		_ = c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}
	if req.ID != "" {
		if err := validation.ValidateRoomID(req.ID); err != nil {
			_ = c.Error(errors.NewInvalidInputError(err.Error()))
			return
		}
	}

	room, err := h.rooms.CreateRoom(c.Request.Context(), req.Title, req.MaxParticipants, domain.RoomID(req.ID))
	if err != nil {
		_ = c.Error(err)
		return
	}

	info, err := h.rooms.RoomInfo(c.Request.Context(), room.ID)
	if err != nil {
		// reaped or deleted between the two calls
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, info)
}

func (h *RoomHandler) ListRooms(c *gin.Context) {
	rooms, err := h.rooms.ListRooms(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, rooms)
}

func (h *RoomHandler) GetRoom(c *gin.Context) {
	info, err := h.rooms.RoomInfo(c.Request.Context(), domain.RoomID(c.Param("id")))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *RoomHandler) DeleteRoom(c *gin.Context) {
	if err := h.rooms.DeleteRoom(c.Request.Context(), domain.RoomID(c.Param("id"))); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

type IssueTokenRequest struct {
	DisplayName string `json:"displayName"`
}

type IssueTokenResponse struct {
	Token     string        `json:"token"`
	RoomID    domain.RoomID `json:"roomId"`
	ExpiresAt time.Time     `json:"expiresAt"`
}

// IssueToken mints a join token for a room id. The room does not have to
// exist yet: joining provisions it.
func (h *RoomHandler) IssueToken(c *gin.Context) {
	if h.auth == nil {
		_ = c.Error(errors.NewServiceUnavailableError("join tokens are disabled"))
		return
	}

	roomID := c.Param("id")
	if err := validation.ValidateRoomID(roomID); err != nil {
		_ = c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	var req IssueTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}
	req.DisplayName = utils.SanitizeString(req.DisplayName)
	if err := validation.ValidateDisplayName(req.DisplayName); err != nil {
		_ = c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	token, expiresAt, err := h.auth.IssueJoinToken(domain.RoomID(roomID), req.DisplayName)
	if err != nil {
		_ = c.Error(errors.WrapError(err, errors.ErrCodeInternal, "failed to issue token", http.StatusInternalServerError))
		return
	}

	c.JSON(http.StatusOK, IssueTokenResponse{
		Token:     token,
		RoomID:    domain.RoomID(roomID),
		ExpiresAt: expiresAt,
	})
}

func (h *RoomHandler) GetRouterCapabilities(c *gin.Context) {
	room, err := h.rooms.GetRoom(c.Request.Context(), domain.RoomID(c.Param("id")))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rtpCapabilities": room.Router.RTPCapabilities})
}

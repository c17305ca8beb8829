// Room HTTP handlers - room lifecycle and conversation control
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/parleyhq/parley/pkg/models"
	"github.com/parleyhq/parley/pkg/service"
)

// RoomHandler handles room-related HTTP requests
type RoomHandler struct {
	roomService *service.RoomService
}

// NewRoomHandler creates a new room handler
func NewRoomHandler(roomService *service.RoomService) *RoomHandler {
	return &RoomHandler{
		roomService: roomService,
	}
}

// RegisterRoutes registers room routes
func (h *RoomHandler) RegisterRoutes(r *gin.RouterGroup) {
	rooms := r.Group("/rooms")
	{
		rooms.POST("", h.CreateRoom)
		rooms.GET("/:id", h.GetRoom)
		rooms.PUT("/:id/setup", h.UpdateSetup)
		rooms.POST("/:id/start", h.StartRoom)
		rooms.POST("/:id/pause", h.PauseRoom)
		rooms.POST("/:id/resume", h.ResumeRoom)
		rooms.POST("/:id/stop", h.StopRoom)
		rooms.POST("/:id/conclude", h.ConcludeRoom)
		rooms.PATCH("/:id/config", h.UpdateConfig)
		rooms.POST("/:id/messages", h.PostMessage)
	}
}

// roomError maps service errors to HTTP status codes: validation failures
// are 400, illegal state transitions are 409, unknown rooms are 404.
func roomError(c *gin.Context, err error) {
	var validation *models.ValidationError
	var invalidState *models.InvalidStateError
	switch {
	case errors.Is(err, models.ErrRoomNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": validation.Error()})
	case errors.As(err, &invalidState):
		c.JSON(http.StatusConflict, gin.H{"error": invalidState.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// CreateRoom creates a room with an auto-generated roster
// POST /api/v1/rooms
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	var req models.CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	snapshot, err := h.roomService.CreateRoom(&req)
	if err != nil {
		roomError(c, err)
		return
	}
	c.JSON(http.StatusCreated, snapshot)
}

// GetRoom returns the full room snapshot
// GET /api/v1/rooms/:id
func (h *RoomHandler) GetRoom(c *gin.Context) {
	snapshot, err := h.roomService.Snapshot(c.Param("id"))
	if err != nil {
		roomError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// UpdateSetup edits the pre-start roster and subject
// PUT /api/v1/rooms/:id/setup
func (h *RoomHandler) UpdateSetup(c *gin.Context) {
	var req models.UpdateSetupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	snapshot, err := h.roomService.UpdateSetup(c.Param("id"), &req)
	if err != nil {
		roomError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// StartRoom starts the conversation loop
// POST /api/v1/rooms/:id/start
func (h *RoomHandler) StartRoom(c *gin.Context) {
	var req models.StartRoomRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	if err := h.roomService.Start(c.Param("id"), &req); err != nil {
		roomError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "started"})
}

// PauseRoom freezes the loop between turns
// POST /api/v1/rooms/:id/pause
func (h *RoomHandler) PauseRoom(c *gin.Context) {
	if err := h.roomService.Pause(c.Param("id")); err != nil {
		roomError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "paused"})
}

// ResumeRoom resumes a paused loop
// POST /api/v1/rooms/:id/resume
func (h *RoomHandler) ResumeRoom(c *gin.Context) {
	if err := h.roomService.Resume(c.Param("id")); err != nil {
		roomError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "resumed"})
}

// StopRoom stops the room immediately, without summaries
// POST /api/v1/rooms/:id/stop
func (h *RoomHandler) StopRoom(c *gin.Context) {
	if err := h.roomService.Stop(c.Param("id")); err != nil {
		roomError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

// ConcludeRoom requests a graceful wrap-up with closing summaries
// POST /api/v1/rooms/:id/conclude
func (h *RoomHandler) ConcludeRoom(c *gin.Context) {
	if err := h.roomService.Conclude(c.Param("id")); err != nil {
		roomError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "concluding"})
}

// UpdateConfig adjusts room configuration; the turn interval may change
// live, mode and instruction only while stopped
// PATCH /api/v1/rooms/:id/config
func (h *RoomHandler) UpdateConfig(c *gin.Context) {
	var req models.UpdateConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	snapshot, err := h.roomService.UpdateConfig(c.Param("id"), &req)
	if err != nil {
		roomError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// PostMessage injects a user message, prioritized for the next speaker
// POST /api/v1/rooms/:id/messages
func (h *RoomHandler) PostMessage(c *gin.Context) {
	var req models.UserMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	message, err := h.roomService.PostUserMessage(c.Param("id"), req.Content)
	if err != nil {
		roomError(c, err)
		return
	}
	c.JSON(http.StatusCreated, message)
}

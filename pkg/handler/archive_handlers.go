// Archive HTTP handlers - browsing concluded rooms
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/parleyhq/parley/pkg/service"
)

// ArchiveHandler handles archive-related HTTP requests
type ArchiveHandler struct {
	archiveService *service.ArchiveService
}

// NewArchiveHandler creates a new archive handler
func NewArchiveHandler(archiveService *service.ArchiveService) *ArchiveHandler {
	return &ArchiveHandler{
		archiveService: archiveService,
	}
}

// RegisterRoutes registers archive routes
func (h *ArchiveHandler) RegisterRoutes(r *gin.RouterGroup) {
	archives := r.Group("/archives")
	{
		archives.GET("", h.ListArchives)
		archives.GET("/:id", h.GetArchive)
		archives.DELETE("/:id", h.DeleteArchive)
	}
}

// ListArchives returns all archived rooms
// GET /api/v1/archives
func (h *ArchiveHandler) ListArchives(c *gin.Context) {
	archives, err := h.archiveService.ListArchives()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"archives": archives})
}

// GetArchive returns one archived room with its transcript
// GET /api/v1/archives/:id
func (h *ArchiveHandler) GetArchive(c *gin.Context) {
	archive, messages, err := h.archiveService.GetArchive(c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrArchiveNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "archive not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"archive": archive, "messages": messages})
}

// DeleteArchive removes an archived room
// DELETE /api/v1/archives/:id
func (h *ArchiveHandler) DeleteArchive(c *gin.Context) {
	if err := h.archiveService.DeleteArchive(c.Param("id")); err != nil {
		if errors.Is(err, service.ErrArchiveNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "archive not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/parleyhq/parley/pkg/models"
)

// GetPresets HTTP handler to return the provider preset catalog
func GetPresets(c *gin.Context) {
	config, err := models.LoadPresets()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load presets: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, config)
}

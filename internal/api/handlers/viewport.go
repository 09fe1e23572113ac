package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"tourflow/internal/models"
	"tourflow/pkg/database"
	"tourflow/pkg/response"
)

// Viewports are seeded from the built-in presets and are read-only over
// the API; the emulation parameters live in pkg/chrome and a row with no
// matching preset could never be replayed faithfully.

func GetViewports(c *gin.Context) {
	var viewports []models.Viewport
	err := database.DB.Where("status = ?", 1).Order("is_default DESC, id ASC").Find(&viewports).Error
	if err != nil {
		response.InternalServerError(c, "获取视口列表失败")
		return
	}

	response.Success(c, viewports)
}

func GetViewport(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "无效的视口ID")
		return
	}

	var viewport models.Viewport
	err = database.DB.Where("status = ?", 1).First(&viewport, id).Error
	if err != nil {
		response.NotFound(c, "视口不存在")
		return
	}

	response.Success(c, viewport)
}

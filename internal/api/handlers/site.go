package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"tourflow/internal/models"
	"tourflow/pkg/database"
	"tourflow/pkg/response"
)

func GetSites(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 10
	}

	var sites []models.Site
	var total int64

	database.DB.Model(&models.Site{}).Where("status = ?", 1).Count(&total)

	offset := (page - 1) * pageSize
	err := database.DB.Preload("User").Where("status = ?", 1).
		Offset(offset).Limit(pageSize).Find(&sites).Error
	if err != nil {
		response.InternalServerError(c, "获取站点列表失败")
		return
	}

	// Clear user passwords
	for i := range sites {
		sites[i].User.Password = ""
	}

	response.Page(c, sites, total, page, pageSize)
}

func CreateSite(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "用户未登录")
		return
	}

	var req struct {
		Name        string `json:"name" binding:"required,min=1,max=100"`
		Description string `json:"description" binding:"max=500"`
		BaseURL     string `json:"base_url" binding:"required,url"`
		StartURL    string `json:"start_url" binding:"omitempty,url"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	// Check if site name exists for this user
	var existingSite models.Site
	err := database.DB.Where("name = ? AND user_id = ? AND status = ?", req.Name, userID, 1).
		First(&existingSite).Error
	if err == nil {
		response.BadRequest(c, "站点名称已存在")
		return
	}

	// New recordings open on the start URL; default it to the base URL.
	if req.StartURL == "" {
		req.StartURL = req.BaseURL
	}

	site := models.Site{
		Name:        req.Name,
		Description: req.Description,
		BaseURL:     req.BaseURL,
		StartURL:    req.StartURL,
		UserID:      userID.(uint),
		Status:      1,
	}

	err = database.DB.Create(&site).Error
	if err != nil {
		response.InternalServerError(c, "创建站点失败")
		return
	}

	// Load user info
	database.DB.Preload("User").First(&site, site.ID)
	site.User.Password = ""

	response.SuccessWithMessage(c, "创建成功", site)
}

func GetSite(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "无效的站点ID")
		return
	}

	var site models.Site
	err = database.DB.Preload("User").Where("status = ?", 1).First(&site, id).Error
	if err != nil {
		response.NotFound(c, "站点不存在")
		return
	}

	site.User.Password = ""
	response.Success(c, site)
}

func UpdateSite(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "无效的站点ID")
		return
	}

	userID, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "用户未登录")
		return
	}

	var req struct {
		Name        string `json:"name" binding:"omitempty,min=1,max=100"`
		Description string `json:"description" binding:"max=500"`
		BaseURL     string `json:"base_url" binding:"omitempty,url"`
		StartURL    string `json:"start_url" binding:"omitempty,url"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	var site models.Site
	err = database.DB.Where("id = ? AND user_id = ? AND status = ?", id, userID, 1).
		First(&site).Error
	if err != nil {
		response.NotFound(c, "站点不存在或无权限")
		return
	}

	// Check name uniqueness if updating
	if req.Name != "" && req.Name != site.Name {
		var existingSite models.Site
		err := database.DB.Where("name = ? AND user_id = ? AND id != ? AND status = ?",
			req.Name, userID, id, 1).First(&existingSite).Error
		if err == nil {
			response.BadRequest(c, "站点名称已存在")
			return
		}
		site.Name = req.Name
	}

	if req.Description != "" {
		site.Description = req.Description
	}
	if req.BaseURL != "" {
		site.BaseURL = req.BaseURL
	}
	if req.StartURL != "" {
		site.StartURL = req.StartURL
	}

	err = database.DB.Save(&site).Error
	if err != nil {
		response.InternalServerError(c, "更新站点失败")
		return
	}

	database.DB.Preload("User").First(&site, site.ID)
	site.User.Password = ""

	response.SuccessWithMessage(c, "更新成功", site)
}

func DeleteSite(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "无效的站点ID")
		return
	}

	userID, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "用户未登录")
		return
	}

	var site models.Site
	err = database.DB.Where("id = ? AND user_id = ? AND status = ?", id, userID, 1).
		First(&site).Error
	if err != nil {
		response.NotFound(c, "站点不存在或无权限")
		return
	}

	// A site with live tours cannot be removed out from under them.
	var tourCount int64
	database.DB.Model(&models.Tour{}).Where("site_id = ? AND status = ?", id, 1).Count(&tourCount)
	if tourCount > 0 {
		response.BadRequest(c, "站点下存在导览，无法删除")
		return
	}

	// Soft delete by setting status to 0
	site.Status = 0
	err = database.DB.Save(&site).Error
	if err != nil {
		response.InternalServerError(c, "删除站点失败")
		return
	}

	response.SuccessWithMessage(c, "删除成功", nil)
}

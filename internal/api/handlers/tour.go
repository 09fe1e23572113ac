package handlers

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"tourflow/internal/models"
	"tourflow/internal/services"
	"tourflow/internal/steps"
	"tourflow/pkg/database"
	"tourflow/pkg/response"
	"tourflow/pkg/utils"
)

func GetTours(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 10
	}

	query := database.DB.Model(&models.Tour{}).Where("status = ?", 1)

	if siteID := c.Query("site_id"); siteID != "" {
		query = query.Where("site_id = ?", siteID)
	}
	if keyword := c.Query("keyword"); keyword != "" {
		query = query.Where("name LIKE ?", "%"+keyword+"%")
	}
	if health := c.Query("health"); health != "" {
		query = query.Where("health_status = ?", health)
	}

	var total int64
	query.Count(&total)

	var tours []models.Tour
	offset := (page - 1) * pageSize
	err := query.Preload("Site").Preload("Viewport").Preload("User").
		Order("updated_at DESC").
		Offset(offset).Limit(pageSize).Find(&tours).Error
	if err != nil {
		response.InternalServerError(c, "获取导览列表失败")
		return
	}

	for i := range tours {
		tours[i].User.Password = ""
		tours[i].Site.User.Password = ""
		if list, err := tours[i].GetSteps(); err == nil {
			tours[i].StepCount = len(list)
		}
	}

	response.Page(c, tours, total, page, pageSize)
}

func CreateTour(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "用户未登录")
		return
	}

	var req struct {
		Name        string       `json:"name" binding:"required,min=1,max=200"`
		Description string       `json:"description" binding:"max=1000"`
		SiteID      uint         `json:"site_id" binding:"required"`
		StartURL    string       `json:"start_url" binding:"omitempty,url"`
		ViewportID  uint         `json:"viewport_id"`
		Steps       []steps.Step `json:"steps"`
		Tags        string       `json:"tags" binding:"max=500"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if !utils.HasPermissionOnSite(userID.(uint), req.SiteID) {
		response.NotFound(c, "站点不存在或无权限")
		return
	}

	var site models.Site
	err := database.DB.Where("id = ? AND status = ?", req.SiteID, 1).First(&site).Error
	if err != nil {
		response.NotFound(c, "站点不存在")
		return
	}

	// Tours without their own start URL open on the site's.
	if req.StartURL == "" {
		req.StartURL = site.StartURL
	}
	if req.StartURL == "" {
		response.BadRequest(c, "导览和站点均未配置起始URL")
		return
	}

	viewport, err := resolveViewport(req.ViewportID)
	if err != nil {
		response.NotFound(c, "视口不存在")
		return
	}

	for i, st := range req.Steps {
		if err := st.Validate(); err != nil {
			response.BadRequest(c, fmt.Sprintf("步骤 %d 无效: %v", i+1, err))
			return
		}
	}

	tour := models.Tour{
		Name:         req.Name,
		Description:  req.Description,
		SiteID:       req.SiteID,
		StartURL:     req.StartURL,
		ViewportID:   viewport.ID,
		Tags:         req.Tags,
		HealthStatus: models.HealthUnknown,
		Status:       1,
		UserID:       userID.(uint),
	}
	if err := tour.SetSteps(req.Steps); err != nil {
		response.InternalServerError(c, "保存步骤数据失败")
		return
	}

	err = database.DB.Create(&tour).Error
	if err != nil {
		response.InternalServerError(c, "创建导览失败")
		return
	}

	database.DB.Preload("Site").Preload("Viewport").Preload("User").First(&tour, tour.ID)
	tour.User.Password = ""
	tour.Site.User.Password = ""
	tour.StepCount = len(req.Steps)

	response.SuccessWithMessage(c, "创建成功", tour)
}

func GetTour(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "无效的导览ID")
		return
	}

	var tour models.Tour
	err = database.DB.Preload("Site").Preload("Viewport").Preload("User").
		Where("status = ?", 1).First(&tour, id).Error
	if err != nil {
		response.NotFound(c, "导览不存在")
		return
	}

	tour.User.Password = ""
	tour.Site.User.Password = ""
	if list, err := tour.GetSteps(); err == nil {
		tour.StepCount = len(list)
	}

	response.Success(c, tour)
}

func UpdateTour(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "无效的导览ID")
		return
	}

	userID, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "用户未登录")
		return
	}

	if !utils.HasPermissionOnTour(userID.(uint), uint(id)) {
		response.NotFound(c, "导览不存在或无权限")
		return
	}

	var req struct {
		Name        string       `json:"name" binding:"omitempty,min=1,max=200"`
		Description string       `json:"description" binding:"max=1000"`
		StartURL    string       `json:"start_url" binding:"omitempty,url"`
		ViewportID  uint         `json:"viewport_id"`
		Steps       []steps.Step `json:"steps"`
		Tags        string       `json:"tags" binding:"max=500"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	var tour models.Tour
	err = database.DB.Where("id = ? AND status = ?", id, 1).First(&tour).Error
	if err != nil {
		response.NotFound(c, "导览不存在")
		return
	}

	if req.Name != "" {
		tour.Name = req.Name
	}
	if req.Description != "" {
		tour.Description = req.Description
	}
	if req.StartURL != "" {
		tour.StartURL = req.StartURL
	}
	if req.Tags != "" {
		tour.Tags = req.Tags
	}
	if req.ViewportID != 0 {
		viewport, err := resolveViewport(req.ViewportID)
		if err != nil {
			response.NotFound(c, "视口不存在")
			return
		}
		tour.ViewportID = viewport.ID
	}

	if req.Steps != nil {
		for i, st := range req.Steps {
			if err := st.Validate(); err != nil {
				response.BadRequest(c, fmt.Sprintf("步骤 %d 无效: %v", i+1, err))
				return
			}
		}
		if err := tour.SetSteps(req.Steps); err != nil {
			response.InternalServerError(c, "保存步骤数据失败")
			return
		}
		// Edited steps invalidate the last lint verdict.
		tour.HealthStatus = models.HealthUnknown
		tour.HealthDetail = ""
		tour.LintedAt = nil
	}

	err = database.DB.Save(&tour).Error
	if err != nil {
		response.InternalServerError(c, "更新导览失败")
		return
	}

	database.DB.Preload("Site").Preload("Viewport").Preload("User").First(&tour, tour.ID)
	tour.User.Password = ""
	tour.Site.User.Password = ""
	if list, err := tour.GetSteps(); err == nil {
		tour.StepCount = len(list)
	}

	response.SuccessWithMessage(c, "更新成功", tour)
}

func DeleteTour(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "无效的导览ID")
		return
	}

	userID, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "用户未登录")
		return
	}

	if !utils.HasPermissionOnTour(userID.(uint), uint(id)) {
		response.NotFound(c, "导览不存在或无权限")
		return
	}

	var tour models.Tour
	err = database.DB.Where("id = ? AND status = ?", id, 1).First(&tour).Error
	if err != nil {
		response.NotFound(c, "导览不存在")
		return
	}

	// Soft delete by setting status to 0
	tour.Status = 0
	err = database.DB.Save(&tour).Error
	if err != nil {
		response.InternalServerError(c, "删除导览失败")
		return
	}

	response.SuccessWithMessage(c, "删除成功", nil)
}

// ExportTour serves the tour's steps as pipe text (default) or as the
// rich JSON form when format=json is passed.
func ExportTour(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "无效的导览ID")
		return
	}

	var tour models.Tour
	err = database.DB.Where("status = ?", 1).First(&tour, id).Error
	if err != nil {
		response.NotFound(c, "导览不存在")
		return
	}

	list, err := tour.GetSteps()
	if err != nil {
		response.InternalServerError(c, "步骤数据损坏")
		return
	}

	stamp := time.Now().Format("20060102-150405")
	if c.DefaultQuery("format", "pipe") == "json" {
		filename := fmt.Sprintf("tour-%d-%s.json", tour.ID, stamp)
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
		c.Header("Content-Type", "application/json")
		c.JSON(200, list)
		return
	}

	filename := fmt.Sprintf("tour-%d-%s.txt", tour.ID, stamp)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.String(200, steps.EncodePipe(list))
}

// ImportTour creates a tour from pipe text, typically exported from
// another install or written by hand.
func ImportTour(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "用户未登录")
		return
	}

	var req struct {
		Name        string `json:"name" binding:"required,min=1,max=200"`
		Description string `json:"description" binding:"max=1000"`
		SiteID      uint   `json:"site_id" binding:"required"`
		StartURL    string `json:"start_url" binding:"omitempty,url"`
		ViewportID  uint   `json:"viewport_id"`
		Text        string `json:"text" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if !utils.HasPermissionOnSite(userID.(uint), req.SiteID) {
		response.NotFound(c, "站点不存在或无权限")
		return
	}

	var site models.Site
	err := database.DB.Where("id = ? AND status = ?", req.SiteID, 1).First(&site).Error
	if err != nil {
		response.NotFound(c, "站点不存在")
		return
	}

	list, err := steps.ParsePipe(req.Text)
	if err != nil {
		response.BadRequest(c, fmt.Sprintf("导入文本解析失败: %v", err))
		return
	}
	if len(list) == 0 {
		response.BadRequest(c, "导入文本不包含任何步骤")
		return
	}
	for i, st := range list {
		if err := st.Validate(); err != nil {
			response.BadRequest(c, fmt.Sprintf("步骤 %d 无效: %v", i+1, err))
			return
		}
	}

	if req.StartURL == "" {
		req.StartURL = site.StartURL
	}
	if req.StartURL == "" {
		response.BadRequest(c, "导览和站点均未配置起始URL")
		return
	}

	viewport, err := resolveViewport(req.ViewportID)
	if err != nil {
		response.NotFound(c, "视口不存在")
		return
	}

	tour := models.Tour{
		Name:         req.Name,
		Description:  req.Description,
		SiteID:       req.SiteID,
		StartURL:     req.StartURL,
		ViewportID:   viewport.ID,
		HealthStatus: models.HealthUnknown,
		Status:       1,
		UserID:       userID.(uint),
	}
	if err := tour.SetSteps(list); err != nil {
		response.InternalServerError(c, "保存步骤数据失败")
		return
	}

	err = database.DB.Create(&tour).Error
	if err != nil {
		response.InternalServerError(c, "导入导览失败")
		return
	}

	database.DB.Preload("Site").Preload("Viewport").Preload("User").First(&tour, tour.ID)
	tour.User.Password = ""
	tour.Site.User.Password = ""
	tour.StepCount = len(list)

	response.SuccessWithMessage(c, "导入成功", tour)
}

// LintTour runs the health check on demand instead of waiting for the
// nightly sweep.
func LintTour(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "无效的导览ID")
		return
	}

	var tour models.Tour
	err = database.DB.Where("status = ?", 1).First(&tour, id).Error
	if err != nil {
		response.NotFound(c, "导览不存在")
		return
	}

	if err := services.LintTour(&tour); err != nil {
		response.InternalServerError(c, "健康检查失败: "+err.Error())
		return
	}

	response.SuccessWithMessage(c, "健康检查完成", gin.H{
		"health_status": tour.HealthStatus,
		"health_detail": tour.HealthDetail,
		"linted_at":     tour.LintedAt,
	})
}

// resolveViewport maps 0 to the default viewport row.
func resolveViewport(id uint) (models.Viewport, error) {
	var viewport models.Viewport
	if id == 0 {
		err := database.DB.Where("is_default = ? AND status = ?", true, 1).First(&viewport).Error
		return viewport, err
	}
	err := database.DB.Where("id = ? AND status = ?", id, 1).First(&viewport).Error
	return viewport, err
}

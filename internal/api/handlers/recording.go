package handlers

import (
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"tourflow/internal/models"
	"tourflow/internal/recorder"
	"tourflow/internal/steps"
	"tourflow/pkg/chrome"
	"tourflow/pkg/database"
	"tourflow/pkg/response"
	"tourflow/pkg/utils"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func StartRecording(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "用户未登录")
		return
	}

	var req struct {
		SiteID        uint   `json:"site_id" binding:"required"`
		StartURL      string `json:"start_url" binding:"omitempty,url"`
		ViewportID    uint   `json:"viewport_id"`
		TestAttribute string `json:"test_attribute" binding:"max=100"`
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

	startURL := req.StartURL
	if startURL == "" {
		startURL = site.StartURL
	}
	if startURL == "" {
		startURL = site.BaseURL
	}

	viewport, err := resolveViewport(req.ViewportID)
	if err != nil {
		response.NotFound(c, "视口不存在")
		return
	}
	preset := chrome.PresetByName(viewport.Name)

	session, err := recorder.GlobalManager.StartSession(startURL, preset, req.TestAttribute)
	if err != nil {
		response.InternalServerError(c, "启动录制失败: "+err.Error())
		return
	}

	response.SuccessWithMessage(c, "录制已启动", gin.H{
		"session_id": session.ID,
		"state":      session.State(),
		"target_url": session.TargetURL,
		"viewport":   session.Viewport,
	})
}

func GetRecordingStatus(c *gin.Context) {
	sessionID := c.Param("id")

	session, ok := recorder.GlobalManager.Get(sessionID)
	if !ok {
		response.NotFound(c, "录制会话不存在")
		return
	}

	list := session.Steps()
	if list == nil {
		list = make([]steps.Step, 0)
	}

	response.Success(c, gin.H{
		"session_id": session.ID,
		"state":      session.State(),
		"target_url": session.TargetURL,
		"viewport":   session.Viewport,
		"steps":      list,
	})
}

func PauseRecording(c *gin.Context) {
	if err := recorder.GlobalManager.Pause(c.Param("id")); err != nil {
		response.BadRequest(c, "暂停录制失败: "+err.Error())
		return
	}
	response.SuccessWithMessage(c, "录制已暂停", nil)
}

func ResumeRecording(c *gin.Context) {
	if err := recorder.GlobalManager.Resume(c.Param("id")); err != nil {
		response.BadRequest(c, "恢复录制失败: "+err.Error())
		return
	}
	response.SuccessWithMessage(c, "录制已恢复", nil)
}

func StopRecording(c *gin.Context) {
	if err := recorder.GlobalManager.Stop(c.Param("id")); err != nil {
		response.BadRequest(c, "停止录制失败: "+err.Error())
		return
	}
	response.SuccessWithMessage(c, "录制已停止", nil)
}

// InsertRecordingStep adds an author-written step (a note, a manual
// highlight) into the recorded list. Index is 0-based; omitted means
// append.
func InsertRecordingStep(c *gin.Context) {
	session, ok := recorder.GlobalManager.Get(c.Param("id"))
	if !ok {
		response.NotFound(c, "录制会话不存在")
		return
	}

	var req struct {
		Index *int       `json:"index"`
		Step  steps.Step `json:"step" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	index := len(session.Steps())
	if req.Index != nil {
		index = *req.Index
	}

	if err := session.InsertStep(index, req.Step); err != nil {
		response.BadRequest(c, "插入步骤失败: "+err.Error())
		return
	}

	response.SuccessWithMessage(c, "步骤已插入", gin.H{"steps": session.Steps()})
}

func DeleteRecordingStep(c *gin.Context) {
	session, ok := recorder.GlobalManager.Get(c.Param("id"))
	if !ok {
		response.NotFound(c, "录制会话不存在")
		return
	}

	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		response.BadRequest(c, "无效的步骤序号")
		return
	}

	if err := session.DeleteStep(index); err != nil {
		response.BadRequest(c, "删除步骤失败: "+err.Error())
		return
	}

	response.SuccessWithMessage(c, "步骤已删除", gin.H{"steps": session.Steps()})
}

func ClearRecordingSteps(c *gin.Context) {
	session, ok := recorder.GlobalManager.Get(c.Param("id"))
	if !ok {
		response.NotFound(c, "录制会话不存在")
		return
	}

	session.ClearSteps()
	response.SuccessWithMessage(c, "步骤已清空", nil)
}

// CombineRecordingSteps folds the inclusive 0-based range into one
// composite step that replays as a unit.
func CombineRecordingSteps(c *gin.Context) {
	session, ok := recorder.GlobalManager.Get(c.Param("id"))
	if !ok {
		response.NotFound(c, "录制会话不存在")
		return
	}

	var req struct {
		FromIndex   int    `json:"from_index"`
		ToIndex     int    `json:"to_index" binding:"required"`
		Kind        string `json:"kind"`
		Description string `json:"description" binding:"max=500"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	kind := steps.ActionType(req.Kind)
	if req.Kind == "" {
		kind = steps.ActionMultiStep
	}

	if err := session.CombineSteps(req.FromIndex, req.ToIndex, kind, req.Description); err != nil {
		response.BadRequest(c, "合并步骤失败: "+err.Error())
		return
	}

	response.SuccessWithMessage(c, "步骤已合并", gin.H{"steps": session.Steps()})
}

// SaveRecording turns a stopped session's steps into a tour.
func SaveRecording(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "用户未登录")
		return
	}

	session, ok := recorder.GlobalManager.Get(c.Param("id"))
	if !ok {
		response.NotFound(c, "录制会话不存在")
		return
	}

	var req struct {
		Name        string `json:"name" binding:"required,min=1,max=200"`
		Description string `json:"description" binding:"max=1000"`
		SiteID      uint   `json:"site_id" binding:"required"`
		Tags        string `json:"tags" binding:"max=500"`
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

	if session.State() != recorder.StateStopped {
		response.BadRequest(c, "请先停止录制")
		return
	}

	list := session.Steps()
	if len(list) == 0 {
		response.BadRequest(c, "没有录制到任何操作步骤")
		return
	}

	// The tour inherits the session's viewport; a missing row falls back
	// to the default one.
	var viewport models.Viewport
	err = database.DB.Where("name = ? AND status = ?", session.Viewport, 1).First(&viewport).Error
	if err != nil {
		if viewport, err = resolveViewport(0); err != nil {
			response.InternalServerError(c, "视口配置缺失")
			return
		}
	}

	tour := models.Tour{
		Name:         req.Name,
		Description:  req.Description,
		SiteID:       req.SiteID,
		StartURL:     session.TargetURL,
		ViewportID:   viewport.ID,
		Tags:         req.Tags,
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
		response.InternalServerError(c, "保存导览失败")
		return
	}

	database.DB.Preload("Site").Preload("Viewport").Preload("User").First(&tour, tour.ID)
	tour.User.Password = ""
	tour.Site.User.Password = ""
	tour.StepCount = len(list)

	// The session has served its purpose.
	recorder.GlobalManager.Cleanup(session.ID)

	response.SuccessWithMessage(c, "导览保存成功", tour)
}

func CleanupRecording(c *gin.Context) {
	if err := recorder.GlobalManager.Cleanup(c.Param("id")); err != nil {
		response.InternalServerError(c, "清理录制会话失败: "+err.Error())
		return
	}
	response.SuccessWithMessage(c, "录制会话已清理", nil)
}

// RecordingWebSocket streams step events to the authoring UI while a
// session records. The session is created by an authenticated caller and
// its random ID serves as the capability here.
func RecordingWebSocket(c *gin.Context) {
	sessionID := c.Param("id")

	session, ok := recorder.GlobalManager.Get(sessionID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "recording session not found"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	session.SetWebSocket(conn)
	defer session.SetWebSocket(nil)

	// Keep connection alive until the client goes away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

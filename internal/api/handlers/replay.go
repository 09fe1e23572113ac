package handlers

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"tourflow/internal/config"
	"tourflow/internal/executor"
	"tourflow/internal/models"
	"tourflow/internal/page"
	"tourflow/pkg/chrome"
	"tourflow/pkg/database"
	"tourflow/pkg/response"
)

const (
	// hubBacklogLimit bounds how many progress events a late-attaching
	// websocket can replay.
	hubBacklogLimit = 256
	// hubLinger keeps a finished run's hub around so a reconnecting UI
	// still sees the final events.
	hubLinger = 5 * time.Minute
	// replayBrowserLinger leaves the page on screen after the run ends
	// instead of yanking the window away mid-read.
	replayBrowserLinger = 30 * time.Second
)

// replayHub fans progress events out to every websocket watching a run.
// Events arrive from the run loop; attaching replays the backlog first so
// a UI that connects after the first steps still renders them.
type replayHub struct {
	mu      sync.Mutex
	conns   map[*websocket.Conn]bool
	backlog []executor.Progress
}

func newReplayHub() *replayHub {
	return &replayHub{conns: make(map[*websocket.Conn]bool)}
}

func (h *replayHub) broadcast(p executor.Progress) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.backlog = append(h.backlog, p)
	if len(h.backlog) > hubBacklogLimit {
		h.backlog = h.backlog[len(h.backlog)-hubBacklogLimit:]
	}
	for conn := range h.conns {
		if err := conn.WriteJSON(p); err != nil {
			conn.Close()
			delete(h.conns, conn)
		}
	}
}

func (h *replayHub) attach(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, p := range h.backlog {
		if err := conn.WriteJSON(p); err != nil {
			conn.Close()
			return
		}
	}
	h.conns[conn] = true
}

func (h *replayHub) detach(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, conn)
}

func (h *replayHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns {
		conn.Close()
	}
	h.conns = make(map[*websocket.Conn]bool)
}

var (
	hubMu sync.Mutex
	hubs  = make(map[string]*replayHub)
)

func StartReplay(c *gin.Context) {
	var req struct {
		TourID    uint   `json:"tour_id" binding:"required"`
		Mode      string `json:"mode"`
		OnFailure string `json:"on_failure"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	var tour models.Tour
	err := database.DB.Preload("Viewport").Where("status = ?", 1).First(&tour, req.TourID).Error
	if err != nil {
		response.NotFound(c, "导览不存在")
		return
	}

	list, err := tour.GetSteps()
	if err != nil {
		response.InternalServerError(c, "步骤数据损坏")
		return
	}

	mode := executor.Mode(req.Mode)
	if req.Mode == "" {
		mode = executor.ModeAuto
	}

	plan, err := executor.NewPlan(list, mode)
	if err != nil {
		response.BadRequest(c, "导览无法回放: "+err.Error())
		return
	}

	cfg, _ := config.LoadConfig()

	// Each replay gets a dedicated browser so runs never share state.
	pg, err := page.NewSession(c.Request.Context(), page.Options{
		TargetURL:    tour.StartURL,
		Viewport:     chrome.PresetByName(tour.Viewport.Name),
		Headful:      !cfg.Chrome.Headless,
		Key:          "replay-" + uuid.New().String(),
		HighlightTTL: time.Duration(cfg.Replay.HighlightTTLSec) * time.Second,
	})
	if err != nil {
		response.InternalServerError(c, "打开回放浏览器失败: "+err.Error())
		return
	}

	hub := newReplayHub()
	run, err := executor.GlobalReplay.Start(plan, pg, executor.RunOptions{
		TourID:        tour.ID,
		ShowDelay:     time.Duration(cfg.Replay.ShowDelayMs) * time.Millisecond,
		StepDelay:     time.Duration(cfg.Replay.StepDelayMs) * time.Millisecond,
		GuidedTimeout: time.Duration(cfg.Replay.GuidedTimeoutSec) * time.Second,
		OnFailure:     executor.FailurePolicy(req.OnFailure),
		OnProgress:    hub.broadcast,
	})
	if err != nil {
		pg.Close()
		response.InternalServerError(c, "启动回放失败: "+err.Error())
		return
	}

	hubMu.Lock()
	hubs[run.ID] = hub
	hubMu.Unlock()

	go func() {
		<-run.Done()
		time.Sleep(replayBrowserLinger)
		if err := pg.Close(); err != nil {
			log.Printf("⚠️ Failed to close replay browser for run %s: %v", run.ID, err)
		}
		time.Sleep(hubLinger)
		hubMu.Lock()
		delete(hubs, run.ID)
		hubMu.Unlock()
		hub.closeAll()
	}()

	response.SuccessWithMessage(c, "回放已启动", gin.H{
		"run_id":  run.ID,
		"tour_id": tour.ID,
		"mode":    string(plan.Mode()),
		"total":   plan.Len(),
		"state":   run.State(),
	})
}

func GetReplayStatus(c *gin.Context) {
	run, ok := executor.GlobalReplay.Get(c.Param("id"))
	if !ok {
		response.NotFound(c, "回放不存在")
		return
	}

	payload := gin.H{
		"run_id":  run.ID,
		"tour_id": run.TourID,
		"state":   run.State(),
		"current": run.Cursor(),
		"total":   run.Total(),
	}
	if result := run.Result(); result != nil {
		payload["result"] = result
	}

	response.Success(c, payload)
}

// AdvanceReplay acknowledges the current guided step, as if the viewer
// had clicked the page. The UI's "next" button lands here.
func AdvanceReplay(c *gin.Context) {
	if !executor.GlobalReplay.Advance(c.Param("id")) {
		response.BadRequest(c, "回放不存在或未在等待操作")
		return
	}
	response.SuccessWithMessage(c, "已前进到下一步", nil)
}

func CancelReplay(c *gin.Context) {
	if !executor.GlobalReplay.Cancel(c.Param("id")) {
		response.NotFound(c, "回放不存在")
		return
	}
	response.SuccessWithMessage(c, "回放已取消", nil)
}

// ReplayWebSocket streams run progress to a watching UI.
func ReplayWebSocket(c *gin.Context) {
	runID := c.Param("id")

	hubMu.Lock()
	hub, ok := hubs[runID]
	hubMu.Unlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "replay run not found"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	hub.attach(conn)
	defer hub.detach(conn)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

package routes

import (
	"github.com/gin-gonic/gin"

	"tourflow/internal/api/handlers"
	"tourflow/internal/api/middleware"
	"tourflow/internal/config"
)

func SetupRoutes(cfg *config.Config) *gin.Engine {
	router := gin.Default()

	// Global middleware
	router.Use(middleware.CORSMiddleware())
	router.Use(gin.Recovery())

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		// Public routes (no auth required)
		auth := v1.Group("/auth")
		{
			auth.POST("/login", handlers.Login)
			auth.POST("/register", handlers.Register)
		}

		// Health check
		v1.GET("/health", handlers.HealthCheck)

		// WebSocket endpoints. No auth middleware here: sessions and runs
		// are created by authenticated callers and their random IDs act as
		// the capability.
		v1.GET("/ws/recording/:id", handlers.RecordingWebSocket)
		v1.GET("/ws/replay/:id", handlers.ReplayWebSocket)

		// Protected routes (auth required)
		protected := v1.Group("")
		protected.Use(middleware.AuthMiddleware())
		{
			// User management
			users := protected.Group("/users")
			{
				users.GET("/profile", handlers.GetProfile)
				users.PUT("/profile", handlers.UpdateProfile)
				users.GET("", handlers.GetUsers)
				users.PUT("/:id/password", handlers.AdminChangePassword) // Admin only
			}

			// Site management
			sites := protected.Group("/sites")
			{
				sites.GET("", handlers.GetSites)
				sites.POST("", handlers.CreateSite)
				sites.GET("/:id", handlers.GetSite)
				sites.PUT("/:id", handlers.UpdateSite)
				sites.DELETE("/:id", handlers.DeleteSite)
			}

			// Viewport presets (read-only)
			viewports := protected.Group("/viewports")
			{
				viewports.GET("", handlers.GetViewports)
				viewports.GET("/:id", handlers.GetViewport)
			}

			// Tour management
			tours := protected.Group("/tours")
			{
				tours.GET("", handlers.GetTours)
				tours.POST("", handlers.CreateTour)
				tours.POST("/import", handlers.ImportTour)
				tours.GET("/:id", handlers.GetTour)
				tours.PUT("/:id", handlers.UpdateTour)
				tours.DELETE("/:id", handlers.DeleteTour)
				tours.GET("/:id/export", handlers.ExportTour)
				tours.POST("/:id/lint", handlers.LintTour)
			}

			// Recording sessions
			recording := protected.Group("/recording")
			{
				recording.POST("/start", handlers.StartRecording)
				recording.GET("/:id/status", handlers.GetRecordingStatus)
				recording.POST("/:id/pause", handlers.PauseRecording)
				recording.POST("/:id/resume", handlers.ResumeRecording)
				recording.POST("/:id/stop", handlers.StopRecording)
				recording.POST("/:id/steps", handlers.InsertRecordingStep)
				recording.DELETE("/:id/steps", handlers.ClearRecordingSteps)
				recording.DELETE("/:id/steps/:index", handlers.DeleteRecordingStep)
				recording.POST("/:id/combine", handlers.CombineRecordingSteps)
				recording.POST("/:id/save", handlers.SaveRecording)
				recording.DELETE("/:id", handlers.CleanupRecording)
			}

			// Replay runs
			replay := protected.Group("/replay")
			{
				replay.POST("/start", handlers.StartReplay)
				replay.GET("/:id/status", handlers.GetReplayStatus)
				replay.POST("/:id/advance", handlers.AdvanceReplay)
				replay.POST("/:id/cancel", handlers.CancelReplay)
			}
		}
	}

	return router
}

package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"tourflow/internal/api/routes"
	"tourflow/internal/config"
	"tourflow/internal/executor"
	"tourflow/internal/recorder"
	"tourflow/internal/services"
	"tourflow/pkg/auth"
	"tourflow/pkg/chrome"
	"tourflow/pkg/database"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	// Initialize JWT
	auth.InitJWT(cfg.JWT.Secret)

	// Initialize database
	if err := database.InitDatabase(cfg); err != nil {
		log.Fatal("Failed to initialize database:", err)
	}

	// Point the chrome manager at its port range and profile directory
	chrome.Configure(cfg.Chrome.DebugPortMin, cfg.Chrome.DebugPortMax, cfg.Chrome.DataDir)

	// Initialize recording and replay managers
	recorder.InitManager(cfg.Recording.MaxSessions, cfg.Recording.CaptureAttribute,
		time.Duration(cfg.Recording.DrainIntervalMs)*time.Millisecond)
	executor.InitReplayManager(cfg.Replay.MaxWorkers)

	// Initialize scheduler service (nightly tour lint)
	if err := services.InitScheduler(cfg); err != nil {
		log.Fatal("Failed to initialize scheduler:", err)
	}

	// Initialize janitor service
	services.InitJanitor(cfg)

	// Set Gin mode
	gin.SetMode(cfg.Server.Mode)

	// Initialize router
	router := routes.SetupRoutes(cfg)

	// Setup graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-c
		log.Println("Shutting down server...")

		if services.GlobalScheduler != nil {
			services.GlobalScheduler.Stop()
		}

		if services.GlobalJanitor != nil {
			services.GlobalJanitor.Stop()
		}

		// Close every browser this process launched
		chrome.GlobalManager.CleanupAll()

		log.Println("Server shutdown complete")
		os.Exit(0)
	}()

	// Start server
	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	log.Printf("Server starting on %s", addr)

	if err := router.Run(addr); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}

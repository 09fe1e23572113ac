package services

import (
	"log"
	"time"

	"tourflow/internal/config"
	"tourflow/internal/executor"
	"tourflow/internal/recorder"
)

const janitorInterval = 30 * time.Second

// JanitorService evicts recording sessions nobody touched and finished
// replay runs nobody asked about. Both managers are in-memory, so without
// the sweep a crashed frontend would pin browser processes forever.
type JanitorService struct {
	ticker     *time.Ticker
	done       chan struct{}
	sessionTTL time.Duration
	runTTL     time.Duration
}

var GlobalJanitor *JanitorService

func NewJanitorService(cfg *config.Config) *JanitorService {
	return &JanitorService{
		sessionTTL: time.Duration(cfg.Recording.SessionTTLMinutes) * time.Minute,
		runTTL:     time.Duration(cfg.Replay.RunTTLMinutes) * time.Minute,
	}
}

func (s *JanitorService) Start() {
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(janitorInterval)
	s.done = make(chan struct{})

	go s.sweepLoop(s.ticker, s.done)
	log.Println("Janitor service started")
}

func (s *JanitorService) Stop() {
	if s.ticker == nil {
		return
	}

	s.ticker.Stop()
	close(s.done)
	s.ticker = nil
	log.Println("Janitor service stopped")
}

func (s *JanitorService) sweepLoop(ticker *time.Ticker, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *JanitorService) sweep() {
	if recorder.GlobalManager != nil {
		if n := recorder.GlobalManager.PruneStale(s.sessionTTL); n > 0 {
			log.Printf("🧹 Janitor closed %d idle recording sessions", n)
		}
	}
	if executor.GlobalReplay != nil {
		if n := executor.GlobalReplay.Prune(s.runTTL); n > 0 {
			log.Printf("🧹 Janitor dropped %d finished replay runs", n)
		}
	}
}

// InitJanitor initializes and starts the global janitor.
func InitJanitor(cfg *config.Config) {
	GlobalJanitor = NewJanitorService(cfg)
	GlobalJanitor.Start()
}

package services

import (
	"fmt"
	"log"

	"github.com/robfig/cron/v3"

	"tourflow/internal/config"
)

type SchedulerService struct {
	cron *cron.Cron
}

var GlobalScheduler *SchedulerService

// InitScheduler starts the cron runner and registers the nightly tour
// lint sweep.
func InitScheduler(cfg *config.Config) error {
	GlobalScheduler = &SchedulerService{
		cron: cron.New(cron.WithSeconds()),
	}

	if _, err := GlobalScheduler.cron.AddFunc(cfg.Maintenance.LintCron, SweepTourHealth); err != nil {
		return fmt.Errorf("schedule lint sweep: %w", err)
	}

	GlobalScheduler.cron.Start()
	log.Printf("Scheduler service initialized, lint sweep on %q", cfg.Maintenance.LintCron)
	return nil
}

func (s *SchedulerService) Stop() {
	if s.cron != nil {
		s.cron.Stop()
		log.Println("Scheduler service stopped")
	}
}

package backup

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pocketbase/pocketbase/core"
	"github.com/robfig/cron/v3"
)

// ArchiveRetention is how many nightly archives the weekly prune keeps.
// Infrastructure setting, not a business rule.
const ArchiveRetention = 14

// Scheduler manages cron-based backup scheduling
type Scheduler struct {
	app      core.App
	cron     *cron.Cron
	archiver *Archiver
	mu       sync.Mutex
	running  bool
}

// NewScheduler creates a new scheduler
func NewScheduler(app core.App) *Scheduler {
	return &Scheduler{
		app:      app,
		cron:     cron.New(),
		archiver: GetArchiver(app),
	}
}

// Start initializes and starts the scheduler
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	// Nightly backup at 02:00
	_, err := s.cron.AddFunc("0 2 * * *", func() {
		slog.Info("Starting scheduled nightly backup")
		s.runNightlyBackup()
	})
	if err != nil {
		return fmt.Errorf("adding nightly schedule: %w", err)
	}

	// Weekly prune of old archives, Sunday 04:00
	_, err = s.cron.AddFunc("0 4 * * 0", func() {
		slog.Info("Starting scheduled archive prune")
		if err := s.archiver.Prune(ArchiveRetention); err != nil {
			slog.Error("Archive prune failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("adding prune schedule: %w", err)
	}

	s.cron.Start()
	s.running = true

	slog.Info("Backup scheduler started")
	return nil
}

// Stop gracefully stops the scheduler
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	slog.Info("Stopping backup scheduler")
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.running = false
	slog.Info("Backup scheduler stopped")
}

// runNightlyBackup runs one full backup with a generous timeout.
func (s *Scheduler) runNightlyBackup() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Hour)
	defer cancel()

	if path, err := s.archiver.Run(ctx); err != nil {
		slog.Error("Nightly backup failed", "error", err)
	} else {
		slog.Info("Nightly backup completed", "path", path)
	}
}

// Global scheduler instance
var globalScheduler *Scheduler
var schedulerOnce sync.Once

// GetScheduler returns the global scheduler instance
func GetScheduler(app core.App) *Scheduler {
	schedulerOnce.Do(func() {
		globalScheduler = NewScheduler(app)
	})
	return globalScheduler
}

// StartBackupScheduler starts the global scheduler
func StartBackupScheduler(app core.App) error {
	return GetScheduler(app).Start()
}

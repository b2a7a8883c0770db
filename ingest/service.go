package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pocketbase/pocketbase/core"
)

const statusFailed = "failed"

// Service is one ingest job: CSV file, spreadsheet, or extracted PDF text.
type Service interface {
	Run(ctx context.Context) error
	Name() string
	GetStats() Stats
}

// Stats holds the aggregate counters for one ingest run. Row rejections and
// batch failures surface here, never as per-row errors.
type Stats struct {
	Processed  int `json:"processed"`
	Uploaded   int `json:"uploaded"`
	Duplicates int `json:"duplicates,omitempty"`
	Rejected   int `json:"rejected"`
	Failed     int `json:"failed"`
	Duration   int `json:"duration"` // seconds
}

// Status represents the lifecycle of one ingest job run.
type Status struct {
	Type      string     `json:"type"`
	Status    string     `json:"status"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Error     string     `json:"error,omitempty"`
	Summary   Stats      `json:"summary"`
}

// Runner owns the registered ingest services and tracks their runs. One
// writer per store at a time: services run sequentially, spaced out so the
// store gets breathing room between jobs.
type Runner struct {
	app                 core.App
	services            map[string]Service
	mu                  sync.RWMutex
	runningJobs         map[string]*Status
	lastCompletedStatus map[string]*Status
	jobSpacing          time.Duration
}

// NewRunner creates an empty runner.
func NewRunner(app core.App) *Runner {
	return &Runner{
		app:                 app,
		services:            make(map[string]Service),
		runningJobs:         make(map[string]*Status),
		lastCompletedStatus: make(map[string]*Status),
		jobSpacing:          2 * time.Second,
	}
}

// Register adds an ingest service under its name.
func (r *Runner) Register(service Service) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[service.Name()] = service
	slog.Info("Registered ingest service", "name", service.Name())
}

// ServiceNames returns the registered service names.
func (r *Runner) ServiceNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	return names
}

// IsRunning reports whether the named job is currently running.
func (r *Runner) IsRunning(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	status, exists := r.runningJobs[name]
	return exists && status.Status == "running"
}

// Start launches the named service in the background. It refuses to start a
// job that is already running.
func (r *Runner) Start(name string) error {
	r.mu.RLock()
	service, exists := r.services[name]
	r.mu.RUnlock()

	if !exists {
		return fmt.Errorf("ingest service not found: %s", name)
	}
	if r.IsRunning(name) {
		return fmt.Errorf("ingest already in progress: %s", name)
	}

	status := &Status{
		Type:      name,
		Status:    "running",
		StartTime: time.Now(),
	}

	r.mu.Lock()
	r.runningJobs[name] = status
	r.mu.Unlock()

	go func() {
		defer func() {
			if p := recover(); p != nil {
				slog.Error("Ingest panicked", "service", name, "panic", p)
				status.Status = statusFailed
				status.Error = fmt.Sprintf("panic: %v", p)
				endTime := time.Now()
				status.EndTime = &endTime
			}
		}()

		// Independent context so an HTTP handler timeout cannot cancel a
		// long-running import
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()

		err := service.Run(ctx)

		endTime := time.Now()
		status.EndTime = &endTime

		stats := service.GetStats()
		stats.Duration = int(endTime.Sub(status.StartTime).Seconds())
		status.Summary = stats

		if err != nil {
			status.Status = statusFailed
			status.Error = err.Error()
			slog.Error("Ingest failed", "service", name, "error", err)
		} else {
			status.Status = "success"
			slog.Info("Ingest completed", "service", name,
				"processed", stats.Processed, "uploaded", stats.Uploaded,
				"rejected", stats.Rejected, "failed", stats.Failed)
		}

		r.mu.Lock()
		r.lastCompletedStatus[name] = status
		delete(r.runningJobs, name)
		r.mu.Unlock()
	}()

	return nil
}

// RunAndWait starts the named service and blocks until it finishes.
func (r *Runner) RunAndWait(ctx context.Context, name string) error {
	if err := r.Start(name); err != nil {
		return err
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if r.IsRunning(name) {
				continue
			}
			r.mu.RLock()
			status := r.lastCompletedStatus[name]
			r.mu.RUnlock()
			if status != nil && status.Status == statusFailed {
				return fmt.Errorf("%s", status.Error)
			}
			return nil
		}
	}
}

// RunSequence runs the named services in order, spacing them out. A failing
// service is logged and the sequence continues.
func (r *Runner) RunSequence(ctx context.Context, names []string) error {
	for i, name := range names {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if i > 0 {
			slog.Info("Waiting before next ingest", "duration", r.jobSpacing)
			time.Sleep(r.jobSpacing)
		}

		slog.Info("Sequence: starting service", "service", name,
			"progress", fmt.Sprintf("%d/%d", i+1, len(names)))
		if err := r.RunAndWait(ctx, name); err != nil {
			slog.Error("Sequence: service failed", "service", name, "error", err)
		}
	}
	return nil
}

// GetStatus returns the running or last completed status for a job, nil if
// the job has never run.
func (r *Runner) GetStatus(name string) *Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if status, exists := r.runningJobs[name]; exists {
		statusCopy := *status
		return &statusCopy
	}
	if status, exists := r.lastCompletedStatus[name]; exists {
		statusCopy := *status
		return &statusCopy
	}
	return nil
}

// SetJobSpacing overrides the pause between sequenced jobs.
func (r *Runner) SetJobSpacing(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobSpacing = d
}

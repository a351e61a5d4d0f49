package services

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"paper-ingest-platform/internal/logger"
)

// Scheduler dispatches the periodic maintenance jobs: backups, retention,
// consistency and cleanup. Each job id runs at most one instance at a time,
// including manual force-runs.
type Scheduler struct {
	scheduler *gocron.Scheduler

	mu      sync.Mutex
	jobs    map[string]func() error
	running map[string]bool
	stopped bool
}

func NewScheduler() *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	s.TagsUnique()
	// Per-tag overlap protection lives in wrap(); gocron additionally keeps a
	// job from stacking on itself.
	s.SingletonModeAll()

	return &Scheduler{
		scheduler: s,
		jobs:      make(map[string]func() error),
		running:   make(map[string]bool),
	}
}

// Start begins firing scheduled jobs in the background.
func (s *Scheduler) Start() {
	s.scheduler.StartAsync()
	logger.Info("Scheduler started", "jobs", len(s.jobs))
}

// Stop waits for running jobs to finish and refuses new ones.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.scheduler.Stop()
	logger.Info("Scheduler stopped")
}

// wrap guards a job against overlap with itself and converts failures into
// log entries; a scheduler fire never propagates an error anywhere.
func (s *Scheduler) wrap(id string, fn func() error) func() {
	return func() {
		s.mu.Lock()
		if s.stopped || s.running[id] {
			s.mu.Unlock()
			return
		}
		s.running[id] = true
		s.mu.Unlock()

		defer func() {
			if r := recover(); r != nil {
				logger.Error("Scheduled job panicked", "job", id, "panic", fmt.Sprintf("%v", r))
			}
			s.mu.Lock()
			s.running[id] = false
			s.mu.Unlock()
		}()

		start := time.Now()
		if err := fn(); err != nil {
			logger.Error("Scheduled job failed", "job", id, "error", err, "elapsed", time.Since(start))
			return
		}
		logger.Debug("Scheduled job finished", "job", id, "elapsed", time.Since(start))
	}
}

// ScheduleCron registers a job with a cron expression. Re-registering an id
// replaces the previous schedule.
func (s *Scheduler) ScheduleCron(id, cronExpr string, fn func() error) error {
	s.mu.Lock()
	if _, exists := s.jobs[id]; exists {
		s.scheduler.RemoveByTag(id)
	}
	s.jobs[id] = fn
	s.mu.Unlock()

	_, err := s.scheduler.Cron(cronExpr).Tag(id).Do(s.wrap(id, fn))
	if err != nil {
		return fmt.Errorf("failed to schedule %s: %w", id, err)
	}
	return nil
}

// ScheduleInterval registers a job firing every duration.
func (s *Scheduler) ScheduleInterval(id string, every time.Duration, fn func() error) error {
	s.mu.Lock()
	if _, exists := s.jobs[id]; exists {
		s.scheduler.RemoveByTag(id)
	}
	s.jobs[id] = fn
	s.mu.Unlock()

	_, err := s.scheduler.Every(every).Tag(id).Do(s.wrap(id, fn))
	if err != nil {
		return fmt.Errorf("failed to schedule %s: %w", id, err)
	}
	return nil
}

// ForceRun triggers a registered job immediately, synchronously. Returns an
// error when the id is unknown or the job is already running.
func (s *Scheduler) ForceRun(id string) error {
	s.mu.Lock()
	fn, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("no scheduled job %q", id)
	}
	if s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("scheduler is stopped")
	}
	if s.running[id] {
		s.mu.Unlock()
		return fmt.Errorf("job %q is already running", id)
	}
	s.mu.Unlock()

	s.wrap(id, fn)()
	return nil
}

// JobIDs lists registered job ids.
func (s *Scheduler) JobIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	return ids
}

package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// JobFunc is the function signature for scheduled jobs
type JobFunc func(ctx context.Context)

type job struct {
	entryID  cron.EntryID
	schedule string
	fn       JobFunc
}

// Scheduler runs named jobs on cron schedules. A job that is still running
// when its next run is due is skipped for that run.
type Scheduler struct {
	cron   *cron.Cron
	jobs   map[string]*job // name -> job
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger
	mu     sync.RWMutex
}

// New creates a new scheduler
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron: cron.New(
			cron.WithParser(cron.NewParser(
				cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor,
			)),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		jobs:   make(map[string]*job),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
}

// Start begins the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", s.JobCount())
}

// Stop cancels the context passed to running jobs and returns a context
// that is done once they have returned
func (s *Scheduler) Stop() context.Context {
	s.cancel()
	return s.cron.Stop()
}

// AddJob schedules a job under name, replacing any job with the same name
func (s *Scheduler) AddJob(name, schedule string, fn JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, exists := s.jobs[name]; exists {
		s.cron.Remove(existing.entryID)
		delete(s.jobs, name)
	}

	wrappedJob := func() {
		start := time.Now()
		s.logger.Debug("running scheduled job", "job", name)
		fn(s.ctx)
		s.logger.Debug("scheduled job finished", "job", name, "duration", time.Since(start))
	}

	entryID, err := s.cron.AddFunc(schedule, wrappedJob)
	if err != nil {
		return fmt.Errorf("invalid schedule %q for job %s: %w", schedule, name, err)
	}

	s.jobs[name] = &job{entryID: entryID, schedule: schedule, fn: fn}
	s.logger.Debug("added scheduled job", "job", name, "schedule", schedule)

	return nil
}

// RemoveJob removes a scheduled job
func (s *Scheduler) RemoveJob(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, exists := s.jobs[name]; exists {
		s.cron.Remove(existing.entryID)
		delete(s.jobs, name)
		s.logger.Debug("removed scheduled job", "job", name)
	}
}

// RunNow runs a job once in the calling goroutine, outside its schedule
func (s *Scheduler) RunNow(name string) error {
	s.mu.RLock()
	existing, exists := s.jobs[name]
	s.mu.RUnlock()

	if !exists {
		return fmt.Errorf("no scheduled job named %s", name)
	}

	existing.fn(s.ctx)
	return nil
}

// HasJob checks if a job is scheduled under name
func (s *Scheduler) HasJob(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.jobs[name]
	return exists
}

// JobCount returns the number of scheduled jobs
func (s *Scheduler) JobCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.jobs)
}

// JobInfo contains information about a scheduled job
type JobInfo struct {
	Name     string
	Schedule string
	NextRun  time.Time
}

// ListJobs returns information about all scheduled jobs, sorted by name
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]JobInfo, 0, len(s.jobs))
	for name, j := range s.jobs {
		entry := s.cron.Entry(j.entryID)
		result = append(result, JobInfo{
			Name:     name,
			Schedule: j.schedule,
			NextRun:  entry.Next,
		})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})
	return result
}

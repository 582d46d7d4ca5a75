// Package scheduler runs Pixwave's periodic maintenance jobs, such as
// evicting idle sessions and pruning old generation receipts.
//
// Jobs are registered by name with a cron expression or a descriptor like
// "@hourly" or "@every 1m".
package scheduler

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	mu   sync.Mutex
	cron *cron.Cron
	jobs map[string]cron.EntryID
}

// JobInfo describes a registered job.
type JobInfo struct {
	Name string    `json:"name"`
	Next time.Time `json:"next"`
	Prev time.Time `json:"prev,omitempty"`
}

// NewScheduler creates a stopped scheduler. Call Start once jobs are added.
func NewScheduler() *Scheduler {
	// Standard 5-field cron (min, hour, dom, month, dow) plus @descriptors
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)))
	return &Scheduler{cron: c, jobs: make(map[string]cron.EntryID)}
}

// Every returns the descriptor for a fixed interval.
func Every(d time.Duration) string {
	return "@every " + d.String()
}

// AddJob schedules task under name using the provided cron expression.
// It returns an error if the expression is invalid or the name is taken.
func (s *Scheduler) AddJob(name, expr string, task func()) error {
	if task == nil {
		return fmt.Errorf("job %s: task is nil", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %s already scheduled", name)
	}
	id, err := s.cron.AddFunc(expr, func() {
		slog.Debug("Scheduler: running job", "job", name)
		task()
	})
	if err != nil {
		return fmt.Errorf("job %s: invalid schedule %q: %w", name, expr, err)
	}
	s.jobs[name] = id
	slog.Debug("Scheduler.AddJob: job scheduled", "job", name, "schedule", expr)
	return nil
}

// Jobs lists registered jobs by name.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobInfo, 0, len(s.jobs))
	for name, id := range s.jobs {
		entry := s.cron.Entry(id)
		out = append(out, JobInfo{Name: name, Next: entry.Next, Prev: entry.Prev})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	slog.Info("Scheduler.Start: maintenance jobs running", "count", len(s.Jobs()))
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	slog.Debug("Scheduler.Stop: stopped")
}

// Package progress tracks long-running document jobs so that callers can
// poll their state. Finished jobs are evicted once they have not been
// touched for longer than the configured maximum age.
package progress

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// State is the lifecycle position of a job.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Job is a snapshot of one tracked job.
type Job struct {
	ID        string    `json:"id" yaml:"id"`
	Kind      string    `json:"kind" yaml:"kind"`
	Subject   string    `json:"subject" yaml:"subject"`
	State     State     `json:"state" yaml:"state"`
	Stage     string    `json:"stage,omitempty" yaml:"stage,omitempty"`
	Done      int       `json:"done" yaml:"done"`
	Total     int       `json:"total" yaml:"total"`
	Message   string    `json:"message,omitempty" yaml:"message,omitempty"`
	Error     string    `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt time.Time `json:"startedAt" yaml:"startedAt"`
	UpdatedAt time.Time `json:"updatedAt" yaml:"updatedAt"`
}

// Finished reports whether the job reached a terminal state.
func (j Job) Finished() bool {
	return j.State == StateCompleted || j.State == StateFailed
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

const (
	DefaultMaxAge        = time.Hour
	DefaultSweepInterval = time.Minute
)

// Options configures a Tracker. Zero values select the defaults.
type Options struct {
	MaxAge        time.Duration
	SweepInterval time.Duration
	Clock         Clock
	Logger        *zap.Logger
}

// Tracker is a concurrency-safe registry of jobs.
type Tracker struct {
	mu   sync.RWMutex
	jobs map[string]*Job

	maxAge   time.Duration
	interval time.Duration
	clock    Clock
	log      *zap.Logger

	runMu sync.Mutex
	stop  chan struct{}
	done  chan struct{}
}

// NewTracker creates a Tracker. The sweeper is not running until Start.
func NewTracker(opts Options) *Tracker {
	tracker := &Tracker{
		jobs:     make(map[string]*Job),
		maxAge:   opts.MaxAge,
		interval: opts.SweepInterval,
		clock:    opts.Clock,
		log:      opts.Logger,
	}
	if tracker.maxAge <= 0 {
		tracker.maxAge = DefaultMaxAge
	}
	if tracker.interval <= 0 {
		tracker.interval = DefaultSweepInterval
	}
	if tracker.clock == nil {
		tracker.clock = SystemClock{}
	}
	if tracker.log == nil {
		tracker.log = zap.NewNop()
	}
	return tracker
}

// Begin registers a pending job and returns its ID.
func (tracker *Tracker) Begin(kind, subject string) string {
	now := tracker.clock.Now()
	job := &Job{
		ID:        uuid.NewString(),
		Kind:      kind,
		Subject:   subject,
		State:     StatePending,
		StartedAt: now,
		UpdatedAt: now,
	}

	tracker.mu.Lock()
	tracker.jobs[job.ID] = job
	tracker.mu.Unlock()

	tracker.log.Debug("Job registered", zap.String("id", job.ID), zap.String("kind", kind), zap.String("subject", subject))
	return job.ID
}

// Update moves a job into the running state and records its stage and
// counters. Updates to finished or unknown jobs are ignored.
func (tracker *Tracker) Update(id, stage string, done, total int) bool {
	return tracker.modify(id, func(job *Job) {
		job.State = StateRunning
		job.Stage = stage
		job.Done = done
		job.Total = total
	})
}

// Complete marks a job as completed.
func (tracker *Tracker) Complete(id, message string) bool {
	return tracker.modify(id, func(job *Job) {
		job.State = StateCompleted
		job.Message = message
		if job.Total > 0 {
			job.Done = job.Total
		}
	})
}

// Fail marks a job as failed with err.
func (tracker *Tracker) Fail(id string, err error) bool {
	return tracker.modify(id, func(job *Job) {
		job.State = StateFailed
		if err != nil {
			job.Error = err.Error()
		}
	})
}

func (tracker *Tracker) modify(id string, fn func(*Job)) bool {
	tracker.mu.Lock()
	defer tracker.mu.Unlock()

	job, ok := tracker.jobs[id]
	if !ok || job.Finished() {
		return false
	}
	fn(job)
	job.UpdatedAt = tracker.clock.Now()
	return true
}

// Get returns a snapshot of the job.
func (tracker *Tracker) Get(id string) (Job, bool) {
	tracker.mu.RLock()
	defer tracker.mu.RUnlock()

	job, ok := tracker.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// List returns snapshots of all jobs, oldest first.
func (tracker *Tracker) List() []Job {
	tracker.mu.RLock()
	jobs := make([]Job, 0, len(tracker.jobs))
	for _, job := range tracker.jobs {
		jobs = append(jobs, *job)
	}
	tracker.mu.RUnlock()

	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].StartedAt.Equal(jobs[j].StartedAt) {
			return jobs[i].StartedAt.Before(jobs[j].StartedAt)
		}
		return jobs[i].ID < jobs[j].ID
	})
	return jobs
}

// Len returns the number of tracked jobs.
func (tracker *Tracker) Len() int {
	tracker.mu.RLock()
	defer tracker.mu.RUnlock()
	return len(tracker.jobs)
}

// Sweep removes jobs not updated within the maximum age and returns how
// many were removed.
func (tracker *Tracker) Sweep() int {
	cutoff := tracker.clock.Now().Add(-tracker.maxAge)

	tracker.mu.Lock()
	defer tracker.mu.Unlock()

	removed := 0
	for id, job := range tracker.jobs {
		if job.UpdatedAt.Before(cutoff) {
			delete(tracker.jobs, id)
			removed++
		}
	}
	if removed > 0 {
		tracker.log.Debug("Evicted stale jobs", zap.Int("count", removed))
	}
	return removed
}

// Start launches the periodic sweeper. Calling Start on a running tracker
// does nothing.
func (tracker *Tracker) Start() {
	tracker.runMu.Lock()
	defer tracker.runMu.Unlock()

	if tracker.stop != nil {
		return
	}
	tracker.stop = make(chan struct{})
	tracker.done = make(chan struct{})
	go tracker.sweepLoop(tracker.stop, tracker.done)
}

// Stop halts the sweeper and waits for it to exit. Calling Stop on a
// stopped tracker does nothing.
func (tracker *Tracker) Stop() {
	tracker.runMu.Lock()
	defer tracker.runMu.Unlock()

	if tracker.stop == nil {
		return
	}
	close(tracker.stop)
	<-tracker.done
	tracker.stop = nil
	tracker.done = nil
}

func (tracker *Tracker) sweepLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(tracker.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			tracker.Sweep()
		}
	}
}

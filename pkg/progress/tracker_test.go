package progress

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestTracker_Lifecycle(t *testing.T) {
	clock := newFakeClock()
	tracker := NewTracker(Options{Clock: clock})

	id := tracker.Begin("ingest", "contract-a")
	job, ok := tracker.Get(id)
	require.True(t, ok)
	assert.Equal(t, StatePending, job.State)
	assert.Equal(t, "contract-a", job.Subject)

	clock.Advance(time.Second)
	require.True(t, tracker.Update(id, "scan", 1, 3))
	job, _ = tracker.Get(id)
	assert.Equal(t, StateRunning, job.State)
	assert.Equal(t, "scan", job.Stage)
	assert.Equal(t, clock.Now(), job.UpdatedAt)

	require.True(t, tracker.Complete(id, "42 entries"))
	job, _ = tracker.Get(id)
	assert.Equal(t, StateCompleted, job.State)
	assert.Equal(t, 3, job.Done)
	assert.True(t, job.Finished())

	// Finished jobs are frozen.
	assert.False(t, tracker.Update(id, "persist", 2, 3))
	assert.False(t, tracker.Fail(id, errors.New("late")))
	job, _ = tracker.Get(id)
	assert.Equal(t, StateCompleted, job.State)
}

func TestTracker_Fail(t *testing.T) {
	tracker := NewTracker(Options{Clock: newFakeClock()})
	id := tracker.Begin("ingest", "broken.pdf")

	require.True(t, tracker.Fail(id, errors.New("validating broken.pdf: bad xref")))
	job, ok := tracker.Get(id)
	require.True(t, ok)
	assert.Equal(t, StateFailed, job.State)
	assert.Equal(t, "validating broken.pdf: bad xref", job.Error)
}

func TestTracker_UnknownJob(t *testing.T) {
	tracker := NewTracker(Options{})
	assert.False(t, tracker.Update("missing", "scan", 0, 0))
	_, ok := tracker.Get("missing")
	assert.False(t, ok)
}

func TestTracker_GetReturnsSnapshot(t *testing.T) {
	tracker := NewTracker(Options{Clock: newFakeClock()})
	id := tracker.Begin("ingest", "a")

	job, _ := tracker.Get(id)
	job.State = StateFailed

	fresh, _ := tracker.Get(id)
	assert.Equal(t, StatePending, fresh.State)
}

func TestTracker_List(t *testing.T) {
	clock := newFakeClock()
	tracker := NewTracker(Options{Clock: clock})

	first := tracker.Begin("ingest", "a")
	clock.Advance(time.Second)
	second := tracker.Begin("ingest", "b")

	jobs := tracker.List()
	require.Len(t, jobs, 2)
	assert.Equal(t, first, jobs[0].ID)
	assert.Equal(t, second, jobs[1].ID)
}

func TestTracker_Sweep(t *testing.T) {
	clock := newFakeClock()
	tracker := NewTracker(Options{Clock: clock, MaxAge: 10 * time.Minute})

	stale := tracker.Begin("ingest", "old")
	tracker.Complete(stale, "")

	clock.Advance(8 * time.Minute)
	active := tracker.Begin("ingest", "new")

	clock.Advance(5 * time.Minute)
	assert.Equal(t, 1, tracker.Sweep())

	_, ok := tracker.Get(stale)
	assert.False(t, ok)
	_, ok = tracker.Get(active)
	assert.True(t, ok)

	// Touching a job keeps it alive.
	clock.Advance(9 * time.Minute)
	tracker.Update(active, "scan", 1, 2)
	clock.Advance(9 * time.Minute)
	assert.Equal(t, 0, tracker.Sweep())
	assert.Equal(t, 1, tracker.Len())
}

func TestTracker_StartStopIdempotent(t *testing.T) {
	tracker := NewTracker(Options{SweepInterval: time.Millisecond})

	tracker.Stop()
	tracker.Start()
	tracker.Start()
	tracker.Stop()
	tracker.Stop()
	tracker.Start()
	tracker.Stop()
}

func TestTracker_BackgroundSweep(t *testing.T) {
	clock := newFakeClock()
	tracker := NewTracker(Options{Clock: clock, MaxAge: time.Minute, SweepInterval: time.Millisecond})

	tracker.Begin("ingest", "a")
	clock.Advance(2 * time.Minute)

	tracker.Start()
	defer tracker.Stop()

	assert.Eventually(t, func() bool { return tracker.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestTracker_Concurrent(t *testing.T) {
	tracker := NewTracker(Options{})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := tracker.Begin("ingest", "x")
			for step := 0; step < 10; step++ {
				tracker.Update(id, "scan", step, 10)
				tracker.List()
			}
			tracker.Complete(id, "")
		}()
	}
	wg.Wait()

	assert.Equal(t, 16, tracker.Len())
	for _, job := range tracker.List() {
		assert.Equal(t, StateCompleted, job.State)
	}
}

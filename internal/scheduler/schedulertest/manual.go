// Package schedulertest provides a virtual-time domain.Scheduler for tests.
package schedulertest

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/genricoloni/presenced/internal/domain"
)

// Manual is a domain.Scheduler driven by virtual time. Advance fires every
// job whose period elapsed, in due order. It is meant for tests.
type Manual struct {
	mu   sync.Mutex
	now  time.Duration
	next int
	jobs map[int]*manualJob
}

type manualJob struct {
	name     string
	interval time.Duration
	due      time.Duration
	task     func()
}

// NewManual creates a scheduler at virtual time zero
func NewManual() *Manual {
	return &Manual{jobs: make(map[int]*manualJob)}
}

// SchedulePeriodic registers task; the first run is one interval from now
func (m *Manual) SchedulePeriodic(name string, interval time.Duration, task func()) (domain.CancelFunc, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("schedule %s: interval must be positive, got %s", name, interval)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.next
	m.next++
	m.jobs[id] = &manualJob{name: name, interval: interval, due: m.now + interval, task: task}

	return func() {
		m.mu.Lock()
		delete(m.jobs, id)
		m.mu.Unlock()
	}, nil
}

// Scheduled returns the names of the registered jobs, sorted
func (m *Manual) Scheduled() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.jobs))
	for _, j := range m.jobs {
		names = append(names, j.name)
	}
	sort.Strings(names)
	return names
}

// Advance moves virtual time forward by d. Tasks run on the caller's
// goroutine without the scheduler lock held, so they may cancel jobs.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now + d
	m.mu.Unlock()

	for {
		m.mu.Lock()
		job := m.earliestDue(target)
		if job == nil {
			m.now = target
			m.mu.Unlock()
			return
		}
		m.now = job.due
		job.due += job.interval
		task := job.task
		m.mu.Unlock()

		task()
	}
}

// earliestDue picks the job due first, breaking ties by registration order
func (m *Manual) earliestDue(limit time.Duration) *manualJob {
	bestID := -1
	var best *manualJob
	for id, j := range m.jobs {
		if j.due > limit {
			continue
		}
		if best == nil || j.due < best.due || (j.due == best.due && id < bestID) {
			bestID, best = id, j
		}
	}
	return best
}

// Package progress tracks unit-of-work completion during resolution and
// linking so a CLI can render a progress bar without either component
// needing to know about rendering.
package progress

import "sync"

// Tracker is a concurrency-safe total/completed counter. The zero value
// is ready to use.
type Tracker struct {
	mu        sync.Mutex
	total     int
	completed int
	done      bool
	onChange  func(total, completed int)
}

// New returns a Tracker that invokes onChange (if non-nil) after every
// Add or Tick.
func New(onChange func(total, completed int)) *Tracker {
	return &Tracker{onChange: onChange}
}

// Add registers n additional units of work.
func (t *Tracker) Add(n int) {
	t.mu.Lock()
	t.total += n
	total, completed := t.total, t.completed
	t.mu.Unlock()
	t.notify(total, completed)
}

// Tick marks one unit of work complete.
func (t *Tracker) Tick() {
	t.mu.Lock()
	t.completed++
	total, completed := t.total, t.completed
	t.mu.Unlock()
	t.notify(total, completed)
}

// Finish marks the tracker done; no further render should be issued after
// this call even if outstanding Tick calls arrive late.
func (t *Tracker) Finish() {
	t.mu.Lock()
	t.done = true
	t.mu.Unlock()
}

// Snapshot returns the current total and completed counts.
func (t *Tracker) Snapshot() (total, completed int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total, t.completed
}

func (t *Tracker) notify(total, completed int) {
	t.mu.Lock()
	done := t.done
	t.mu.Unlock()
	if done || t.onChange == nil {
		return
	}
	t.onChange(total, completed)
}

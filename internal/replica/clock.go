package replica

import (
	"sort"
	"sync"
	"time"
)

// CancelFunc stops a scheduled timer. Calling it more than once, or after
// the timer has already fired, is safe and reports false.
type CancelFunc func() bool

// Clock schedules one-shot callbacks. It exists so tests can drive
// resend/slow-path/recovery timers deterministically instead of
// sleeping on the wall clock.
type Clock interface {
	AfterFunc(d time.Duration, f func()) CancelFunc
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) CancelFunc {
	t := time.AfterFunc(d, f)
	return t.Stop
}

// RealClock schedules callbacks on the Go runtime timer wheel. A host
// process (cmd/epaxreplica) is responsible for funnelling the fired
// callback back onto its single dispatch goroutine alongside inbound
// messages, since Replica itself assumes serial entry and performs no
// internal synchronization.
var RealClock Clock = realClock{}

type pendingTimer struct {
	id       int
	fireAt   time.Duration
	f        func()
	fired    bool
	canceled bool
}

// ManualClock is a fake Clock for tests: nothing fires until Advance or
// Fire is called explicitly.
type ManualClock struct {
	mu      sync.Mutex
	now     time.Duration
	nextID  int
	pending []*pendingTimer
}

// NewManualClock returns a ManualClock starting at time zero.
func NewManualClock() *ManualClock {
	return &ManualClock{}
}

func (c *ManualClock) AfterFunc(d time.Duration, f func()) CancelFunc {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	t := &pendingTimer{id: c.nextID, fireAt: c.now + d, f: f}
	c.pending = append(c.pending, t)
	return func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if t.fired || t.canceled {
			return false
		}
		t.canceled = true
		return true
	}
}

// Advance moves the clock forward by d, firing every timer whose
// deadline has now passed, in deadline order.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	due := c.dueLocked()
	c.mu.Unlock()

	for _, t := range due {
		t.f()
	}
}

// Fire fires every timer currently pending, regardless of its nominal
// deadline. Useful in tests that care about ordering, not timing.
func (c *ManualClock) Fire() {
	c.mu.Lock()
	var all []*pendingTimer
	for _, t := range c.pending {
		if !t.fired && !t.canceled {
			all = append(all, t)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].fireAt < all[j].fireAt })
	for _, t := range all {
		t.fired = true
	}
	c.pending = nil
	c.mu.Unlock()

	for _, t := range all {
		t.f()
	}
}

func (c *ManualClock) dueLocked() []*pendingTimer {
	var due []*pendingTimer
	var rest []*pendingTimer
	for _, t := range c.pending {
		if t.canceled || t.fired {
			continue
		}
		if t.fireAt <= c.now {
			due = append(due, t)
		} else {
			rest = append(rest, t)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].fireAt < due[j].fireAt })
	for _, t := range due {
		t.fired = true
	}
	c.pending = rest
	return due
}

// Pending reports how many timers are armed and neither fired nor
// canceled, for test assertions about timer teardown.
func (c *ManualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.pending {
		if !t.fired && !t.canceled {
			n++
		}
	}
	return n
}

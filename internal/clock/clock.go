// Package clock abstracts time for the coordination core so delayed
// transitions (the execution grace period, the trigger tick) are
// deterministically testable with a fake clock.
package clock

import (
	"sort"
	"sync"
	"time"
)

// Clock is the time source injected into the session manager and trigger
// engine.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	NewTicker(d time.Duration) Ticker
}

// Ticker mirrors time.Ticker behind an interface.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Real is the wall-clock implementation.
type Real struct{}

// New returns the wall-clock implementation.
func New() Clock { return Real{} }

// Now implements Clock.
func (Real) Now() time.Time { return time.Now() }

// After implements Clock.
func (Real) After(d time.Duration) <-chan time.Time { return time.After(d) }

// NewTicker implements Clock.
func (Real) NewTicker(d time.Duration) Ticker {
	return realTicker{time.NewTicker(d)}
}

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// =============================================================================
// FAKE CLOCK (for tests)
// =============================================================================

// Fake is a manually advanced clock. Advance fires any timers and ticker
// ticks whose deadlines have passed, in deadline order.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	deadline time.Time
	ch       chan time.Time
	period   time.Duration // 0 for one-shot timers
	stopped  bool
}

// NewFake returns a fake clock anchored at a fixed instant.
func NewFake() *Fake {
	return &Fake{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

// Now implements Clock.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// After implements Clock.
func (f *Fake) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTimer{deadline: f.now.Add(d), ch: make(chan time.Time, 1)}
	f.timers = append(f.timers, t)
	return t.ch
}

// NewTicker implements Clock.
func (f *Fake) NewTicker(d time.Duration) Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTimer{deadline: f.now.Add(d), ch: make(chan time.Time, 1), period: d}
	f.timers = append(f.timers, t)
	return &fakeTickerHandle{clock: f, timer: t}
}

type fakeTickerHandle struct {
	clock *Fake
	timer *fakeTimer
}

func (h *fakeTickerHandle) C() <-chan time.Time { return h.timer.ch }

func (h *fakeTickerHandle) Stop() {
	h.clock.mu.Lock()
	defer h.clock.mu.Unlock()
	h.timer.stopped = true
}

// Advance moves the clock forward and fires due timers in deadline order.
// Ticker sends are non-blocking: a tick that finds the channel full is
// dropped, matching time.Ticker behavior.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	now := f.now

	due := make([]*fakeTimer, 0, len(f.timers))
	for _, t := range f.timers {
		if !t.stopped && !t.deadline.After(now) {
			due = append(due, t)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].deadline.Before(due[j].deadline) })

	remaining := f.timers[:0]
	for _, t := range f.timers {
		if t.stopped {
			continue
		}
		if t.deadline.After(now) || t.period > 0 {
			remaining = append(remaining, t)
		}
	}
	f.timers = remaining

	for _, t := range due {
		fire := t.deadline
		for !fire.After(now) {
			select {
			case t.ch <- fire:
			default:
			}
			if t.period == 0 {
				break
			}
			fire = fire.Add(t.period)
		}
		if t.period > 0 {
			t.deadline = fire
		}
	}
	f.mu.Unlock()
}

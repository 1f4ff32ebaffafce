package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake is a manually advanced Clock for tests. Callbacks fire synchronously
// from Advance, in deadline order, on the goroutine calling Advance.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

// NewFake returns a Fake clock starting at an arbitrary fixed instant.
func NewFake() *Fake {
	return &Fake{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

// Now returns the fake current time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// AfterFunc schedules fn to run when the fake clock is advanced past d.
func (f *Fake) AfterFunc(d time.Duration, fn func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTimer{clk: f, when: f.now.Add(d), fn: fn}
	f.timers = append(f.timers, t)
	return t
}

// Advance moves the fake time forward, firing due timers in deadline order.
// Callbacks may schedule further timers; those fire too if they fall within
// the advanced window.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	f.mu.Unlock()

	for {
		f.mu.Lock()
		sort.Slice(f.timers, func(i, j int) bool {
			return f.timers[i].when.Before(f.timers[j].when)
		})
		var next *fakeTimer
		for _, t := range f.timers {
			if !t.stopped && !t.when.After(target) {
				next = t
				break
			}
		}
		if next == nil {
			f.now = target
			f.mu.Unlock()
			return
		}
		next.stopped = true
		f.now = next.when
		f.remove(next)
		f.mu.Unlock()

		next.fn()
	}
}

// Pending returns the number of timers that have not fired or been stopped.
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

// NextDelay returns the duration until the earliest pending timer, or false
// when none is scheduled.
func (f *Fake) NextDelay() (time.Duration, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var best *fakeTimer
	for _, t := range f.timers {
		if t.stopped {
			continue
		}
		if best == nil || t.when.Before(best.when) {
			best = t
		}
	}
	if best == nil {
		return 0, false
	}
	return best.when.Sub(f.now), true
}

// remove must be called with f.mu held.
func (f *Fake) remove(target *fakeTimer) {
	for i, t := range f.timers {
		if t == target {
			f.timers = append(f.timers[:i], f.timers[i+1:]...)
			return
		}
	}
}

type fakeTimer struct {
	clk     *Fake
	when    time.Time
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.clk.mu.Lock()
	defer t.clk.mu.Unlock()
	if t.stopped {
		return false
	}
	t.stopped = true
	t.clk.remove(t)
	return true
}

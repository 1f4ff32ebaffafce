// Package syncutil provides the small synchronization primitives shared by
// the connection core.
package syncutil

import (
	"sync"
	"time"
)

// Forever disables the deadline on Flag.Wait.
const Forever time.Duration = -1

// Flag is a resettable boolean signal. Set releases every goroutine
// currently blocked in Wait; Clear rearms the flag without waking anyone.
// The zero value is not usable, call NewFlag.
type Flag struct {
	mu  sync.Mutex
	set bool
	ch  chan struct{}
}

// NewFlag returns an unset Flag.
func NewFlag() *Flag {
	return &Flag{ch: make(chan struct{})}
}

// Set marks the flag true and releases all current waiters. Setting an
// already-set flag is a no-op.
func (f *Flag) Set() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.set {
		return
	}
	f.set = true
	close(f.ch)
}

// Clear resets the flag to false. Clear never notifies waiters.
func (f *Flag) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.set {
		return
	}
	f.set = false
	f.ch = make(chan struct{})
}

// IsSet reports the current state without blocking.
func (f *Flag) IsSet() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.set
}

// Wait blocks until the flag is set or the timeout elapses and reports
// whether the flag was set when Wait stopped waiting. A timeout of Forever
// (any negative duration) waits indefinitely; a zero timeout polls the
// current state and returns immediately.
func (f *Flag) Wait(timeout time.Duration) bool {
	f.mu.Lock()
	if f.set {
		f.mu.Unlock()
		return true
	}
	ch := f.ch
	f.mu.Unlock()

	if timeout == 0 {
		return false
	}
	if timeout < 0 {
		<-ch
		return true
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-ch:
		return true
	case <-t.C:
		return false
	}
}

package syncutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlagWaitZeroPollsCurrentState(t *testing.T) {
	f := NewFlag()
	assert.False(t, f.Wait(0))

	f.Set()
	assert.True(t, f.Wait(0))
}

func TestFlagWaitTimesOutWithoutSet(t *testing.T) {
	f := NewFlag()

	start := time.Now()
	ok := f.Wait(50 * time.Millisecond)
	elapsed := time.Since(start)

	assert.False(t, ok)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
}

func TestFlagSetReturnsImmediatelyWhenAlreadySet(t *testing.T) {
	f := NewFlag()
	f.Set()
	f.Set() // idempotent

	start := time.Now()
	require.True(t, f.Wait(Forever))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestFlagSetReleasesAllWaiters(t *testing.T) {
	f := NewFlag()

	const waiters = 8
	results := make(chan bool, waiters)
	var started sync.WaitGroup
	started.Add(waiters)

	for i := 0; i < waiters; i++ {
		go func() {
			started.Done()
			results <- f.Wait(5 * time.Second)
		}()
	}

	started.Wait()
	time.Sleep(10 * time.Millisecond) // let everyone block
	f.Set()

	for i := 0; i < waiters; i++ {
		select {
		case ok := <-results:
			assert.True(t, ok)
		case <-time.After(time.Second):
			t.Fatal("waiter not released by Set")
		}
	}
}

func TestFlagClearRearms(t *testing.T) {
	f := NewFlag()
	f.Set()
	f.Clear()

	assert.False(t, f.IsSet())
	assert.False(t, f.Wait(0))

	// A second cycle still works.
	f.Set()
	assert.True(t, f.Wait(0))
}

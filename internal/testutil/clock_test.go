package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeClock_DefaultsToEpoch(t *testing.T) {
	clock := NewFakeClock(time.Time{}, time.Second)
	assert.Equal(t, Epoch, clock.Peek())
}

func TestFakeClock_NowAdvancesByStep(t *testing.T) {
	clock := NewFakeClock(Epoch, time.Second)

	assert.Equal(t, Epoch, clock.Now())
	assert.Equal(t, Epoch.Add(time.Second), clock.Now())
	assert.Equal(t, Epoch.Add(2*time.Second), clock.Now())
	assert.Equal(t, Epoch.Add(3*time.Second), clock.Peek())
}

func TestFakeClock_ZeroStepIsFrozen(t *testing.T) {
	clock := NewFakeClock(Epoch, 0)
	assert.Equal(t, clock.Now(), clock.Now())
}

func TestFakeClock_Advance(t *testing.T) {
	clock := NewFakeClock(Epoch, time.Second)
	clock.Advance(time.Minute)
	assert.Equal(t, Epoch.Add(time.Minute), clock.Now())
}

func TestFakeClock_Reset(t *testing.T) {
	clock := NewFakeClock(Epoch, time.Second)
	clock.Now()
	clock.Now()

	clock.Reset()
	assert.Equal(t, Epoch, clock.Now())
}

func TestFakeClock_ConcurrentNowIsUnique(t *testing.T) {
	clock := NewFakeClock(Epoch, time.Millisecond)

	const goroutines = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := map[time.Time]bool{}

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			now := clock.Now()
			mu.Lock()
			seen[now] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, goroutines)
	assert.Equal(t, Epoch.Add(goroutines*time.Millisecond), clock.Peek())
}

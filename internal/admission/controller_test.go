package admission

import (
	"sync"
	"sync/atomic"
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
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func TestControllerAdmitsUpToLimit(t *testing.T) {
	clock := newFakeClock()
	c := New(5, time.Minute, WithClock(clock.Now))

	for i := 0; i < 5; i++ {
		require.True(t, c.TryAdmit(), "attempt %d should be admitted", i+1)
		clock.Advance(time.Second)
	}

	decision := c.Admit()
	require.False(t, decision.Allowed, "sixth attempt inside the window should be denied")
	assert.Equal(t, 0, decision.Remaining)
	assert.Equal(t, 55*time.Second, decision.RetryAfter)
}

func TestControllerRemainingCountsDown(t *testing.T) {
	c := New(3, time.Minute, WithClock(newFakeClock().Now))

	assert.Equal(t, 2, c.Admit().Remaining)
	assert.Equal(t, 1, c.Admit().Remaining)
	assert.Equal(t, 0, c.Admit().Remaining)
}

func TestControllerAdmitsAgainAfterWindowPasses(t *testing.T) {
	clock := newFakeClock()
	c := New(3, time.Minute, WithClock(clock.Now))

	for i := 0; i < 3; i++ {
		require.True(t, c.TryAdmit())
	}
	require.False(t, c.TryAdmit())

	clock.Advance(30 * time.Second)
	require.False(t, c.TryAdmit(), "still inside the window at 30s")

	clock.Advance(30*time.Second + time.Millisecond)
	require.True(t, c.TryAdmit(), "oldest entries expired past 60s")
}

func TestControllerBoundaryTimestampStillCounts(t *testing.T) {
	clock := newFakeClock()
	c := New(1, time.Minute, WithClock(clock.Now))

	require.True(t, c.TryAdmit())

	clock.Advance(time.Minute)
	require.False(t, c.TryAdmit(), "entry exactly one window old is not older than the cutoff")

	clock.Advance(time.Nanosecond)
	require.True(t, c.TryAdmit())
}

func TestControllerGradualExpiry(t *testing.T) {
	clock := newFakeClock()
	c := New(2, time.Minute, WithClock(clock.Now))

	require.True(t, c.TryAdmit()) // t=0
	clock.Advance(40 * time.Second)
	require.True(t, c.TryAdmit()) // t=40
	require.False(t, c.TryAdmit())

	clock.Advance(21 * time.Second) // t=61, first entry evicted
	require.True(t, c.TryAdmit())
	require.False(t, c.TryAdmit())
}

func TestControllerDeniedAttemptsDoNotConsumeBudget(t *testing.T) {
	clock := newFakeClock()
	c := New(1, time.Minute, WithClock(clock.Now))

	require.True(t, c.TryAdmit())
	for i := 0; i < 10; i++ {
		clock.Advance(5 * time.Second)
		require.False(t, c.TryAdmit())
	}

	clock.Advance(11 * time.Second)
	require.True(t, c.TryAdmit())
	assert.Equal(t, 1, c.Stats().InUse)
}

func TestControllerStatsEvicts(t *testing.T) {
	clock := newFakeClock()
	c := New(4, time.Minute, WithClock(clock.Now), WithName("token"))

	c.TryAdmit()
	c.TryAdmit()

	stats := c.Stats()
	assert.Equal(t, "token", stats.Name)
	assert.Equal(t, 4, stats.Limit)
	assert.Equal(t, time.Minute, stats.Window)
	assert.Equal(t, 2, stats.InUse)

	clock.Advance(2 * time.Minute)
	assert.Equal(t, 0, c.Stats().InUse)
}

func TestControllerResize(t *testing.T) {
	clock := newFakeClock()
	c := New(3, time.Minute, WithClock(clock.Now))

	require.True(t, c.TryAdmit())
	require.True(t, c.TryAdmit())

	c.Resize(1, time.Minute)
	require.False(t, c.TryAdmit(), "count already exceeds the shrunk limit")

	c.Resize(5, 10*time.Second)
	require.True(t, c.TryAdmit())

	c.Resize(0, time.Minute)
	assert.Equal(t, 5, c.Stats().Limit, "invalid resize is ignored")
}

func TestNewAppliesDefaults(t *testing.T) {
	c := New(0, 0)
	stats := c.Stats()
	assert.Equal(t, DefaultLimit, stats.Limit)
	assert.Equal(t, DefaultWindow, stats.Window)
}

func TestControllerConcurrentAdmitsExactlyLimit(t *testing.T) {
	const limit = 60
	clock := newFakeClock()
	c := New(limit, time.Minute, WithClock(clock.Now))

	var (
		admitted atomic.Int64
		start    sync.WaitGroup
		done     sync.WaitGroup
	)
	start.Add(1)
	for i := 0; i < 2*limit; i++ {
		done.Add(1)
		go func() {
			defer done.Done()
			start.Wait()
			if c.TryAdmit() {
				admitted.Add(1)
			}
		}()
	}
	start.Done()
	done.Wait()

	assert.Equal(t, int64(limit), admitted.Load())
	assert.Equal(t, limit, c.Stats().InUse)
}

package ratelimit

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
)

func TestGlobalLimiter_AcquireRelease(t *testing.T) {
	limiter := NewGlobalLimiter(3)

	assert.True(t, limiter.Acquire())
	assert.True(t, limiter.Acquire())
	assert.True(t, limiter.Acquire())
	assert.Equal(t, int64(3), limiter.Current())

	// 4th acquire should fail
	assert.False(t, limiter.Acquire())

	limiter.Release()
	assert.Equal(t, int64(2), limiter.Current())
	assert.True(t, limiter.Acquire())
}

func TestGlobalLimiter_Concurrent(t *testing.T) {
	limiter := NewGlobalLimiter(100)
	var successCount, failCount int64

	// Barrier so all goroutines race the CAS loop at the same time
	start := make(chan struct{})
	var wg sync.WaitGroup

	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if limiter.Acquire() {
				atomic.AddInt64(&successCount, 1)
			} else {
				atomic.AddInt64(&failCount, 1)
			}
		}()
	}

	close(start)
	wg.Wait()

	assert.Equal(t, int64(100), atomic.LoadInt64(&successCount))
	assert.Equal(t, int64(100), atomic.LoadInt64(&failCount))
	assert.Equal(t, int64(100), limiter.Current())
}

func TestIPLimiter_AcquireRelease(t *testing.T) {
	limiter := NewIPLimiter(2)

	assert.True(t, limiter.Acquire("192.168.1.1"))
	assert.True(t, limiter.Acquire("192.168.1.1"))
	assert.Equal(t, 2, limiter.Count("192.168.1.1"))

	// IP1 is at its limit, IP2 is unaffected
	assert.False(t, limiter.Acquire("192.168.1.1"))
	assert.True(t, limiter.Acquire("192.168.1.2"))

	limiter.Release("192.168.1.1")
	assert.True(t, limiter.Acquire("192.168.1.1"))
}

func TestIPLimiter_ReleaseRemovesEmptyEntries(t *testing.T) {
	limiter := NewIPLimiter(2)

	limiter.Acquire("192.168.1.1")
	assert.Len(t, limiter.ips, 1)

	limiter.Release("192.168.1.1")
	assert.Empty(t, limiter.ips)

	// Releasing an unknown IP must not underflow
	limiter.Release("10.0.0.1")
	assert.Equal(t, 0, limiter.Count("10.0.0.1"))
}

func TestDialRateLimiter_BurstThenLimited(t *testing.T) {
	clock := clockwork.NewRealClock()
	limiter := NewDialRateLimiter(1, 3, clock)

	assert.True(t, limiter.Allow("192.168.1.1"))
	assert.True(t, limiter.Allow("192.168.1.1"))
	assert.True(t, limiter.Allow("192.168.1.1"))
	// Burst exhausted
	assert.False(t, limiter.Allow("192.168.1.1"))

	// Separate bucket per IP
	assert.True(t, limiter.Allow("192.168.1.2"))
	assert.Equal(t, 2, limiter.ActiveLimiters())
}

func TestAcceptGuard_RejectsOverGlobalCap(t *testing.T) {
	clock := clockwork.NewFakeClock()
	guard := NewAcceptGuard(2, 10, 100, 100, 100, NewWindows(clock), clock)

	ok, _ := guard.Acquire("192.168.1.1")
	assert.True(t, ok)
	ok, _ = guard.Acquire("192.168.1.2")
	assert.True(t, ok)

	ok, reason := guard.Acquire("192.168.1.3")
	assert.False(t, ok)
	assert.Equal(t, RejectReasonGlobal, reason)
}

func TestAcceptGuard_RejectsOverPerIPCap(t *testing.T) {
	clock := clockwork.NewFakeClock()
	guard := NewAcceptGuard(100, 1, 100, 100, 100, NewWindows(clock), clock)

	ok, _ := guard.Acquire("192.168.1.1")
	assert.True(t, ok)

	ok, reason := guard.Acquire("192.168.1.1")
	assert.False(t, ok)
	assert.Equal(t, RejectReasonPerIP, reason)

	// The global slot taken before the per-IP check must be rolled back.
	assert.Equal(t, int64(1), guard.Global().Current())
}

func TestAcceptGuard_RejectsOverDialQuota(t *testing.T) {
	clock := clockwork.NewFakeClock()
	guard := NewAcceptGuard(100, 100, 100, 100, 2, NewWindows(clock), clock)

	ok, _ := guard.Acquire("192.168.1.1")
	assert.True(t, ok)
	ok, _ = guard.Acquire("192.168.1.1")
	assert.True(t, ok)

	ok, reason := guard.Acquire("192.168.1.1")
	assert.False(t, ok)
	assert.Equal(t, RejectReasonQuota, reason)
}

func TestAcceptGuard_ReleaseFreesBothSlots(t *testing.T) {
	clock := clockwork.NewFakeClock()
	guard := NewAcceptGuard(1, 1, 100, 100, 100, NewWindows(clock), clock)

	ok, _ := guard.Acquire("192.168.1.1")
	assert.True(t, ok)

	guard.Release("192.168.1.1")
	assert.Equal(t, int64(0), guard.Global().Current())
	assert.Equal(t, 0, guard.PerIP().Count("192.168.1.1"))

	ok, _ = guard.Acquire("192.168.1.1")
	assert.True(t, ok)
}

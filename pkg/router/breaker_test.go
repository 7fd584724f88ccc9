package router

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testBreaker(clock *fakeClock) *breaker {
	return newBreaker(BreakerConfig{
		FailureThreshold: 3,
		FailureWindow:    10 * time.Second,
		Cooldown:         30 * time.Second,
	}, clock.Now)
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	clock := newFakeClock()
	b := testBreaker(clock)

	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.Allow())

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow())
}

func TestBreakerWindowExpiresFailures(t *testing.T) {
	clock := newFakeClock()
	b := testBreaker(clock)

	b.RecordFailure()
	b.RecordFailure()
	clock.Advance(11 * time.Second) // both fall out of the window

	b.RecordFailure()
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenSingleTrial(t *testing.T) {
	clock := newFakeClock()
	b := testBreaker(clock)

	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	assert.False(t, b.Allow())

	clock.Advance(31 * time.Second)
	assert.Equal(t, StateHalfOpen, b.State())

	assert.True(t, b.Allow(), "first trial admitted")
	assert.False(t, b.Allow(), "second concurrent trial rejected")

	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.Allow())
}

func TestBreakerFailedTrialExtendsCooldown(t *testing.T) {
	clock := newFakeClock()
	b := testBreaker(clock)

	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	clock.Advance(31 * time.Second)
	assert.True(t, b.Allow())

	b.RecordFailure() // failed trial: re-open with 2x cooldown

	clock.Advance(31 * time.Second)
	assert.False(t, b.Allow(), "still open inside extended cooldown")

	clock.Advance(30 * time.Second)
	assert.True(t, b.Allow(), "half-open after extended cooldown")
}

func TestBreakerReleaseTrial(t *testing.T) {
	clock := newFakeClock()
	b := testBreaker(clock)

	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	clock.Advance(31 * time.Second)

	assert.True(t, b.Allow())
	b.ReleaseTrial() // canceled call: no outcome recorded
	assert.True(t, b.Allow(), "trial slot free again")
}

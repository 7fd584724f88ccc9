package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/openswarm/swarm-go/pkg/swarmerr"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeClock lets tests advance time without sleeping.
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

func newTestRegistry() (*Registry, *fakeClock) {
	clock := newFakeClock()
	r := New(Options{
		SweepInterval:       time.Hour, // sweeps are driven manually
		StalenessThreshold:  10 * time.Second,
		DeregisterThreshold: 30 * time.Second,
	})
	r.now = clock.Now
	return r, clock
}

func memInstance(id, addr string) ServiceInstance {
	return ServiceInstance{ID: id, Role: "memory", Addr: addr}
}

func TestRegisterValidation(t *testing.T) {
	r, _ := newTestRegistry()

	tests := []struct {
		name string
		inst ServiceInstance
		kind swarmerr.Kind
	}{
		{"missing id", ServiceInstance{Role: "memory", Addr: "localhost:9001"}, swarmerr.KindMissingField},
		{"missing role", ServiceInstance{ID: "a", Addr: "localhost:9001"}, swarmerr.KindMissingField},
		{"missing addr", ServiceInstance{ID: "a", Role: "memory"}, swarmerr.KindMissingField},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Register(tt.inst)
			require.Error(t, err)
			assert.True(t, swarmerr.IsKind(err, tt.kind))
		})
	}
}

func TestRegisterStartsUnknown(t *testing.T) {
	r, _ := newTestRegistry()

	require.NoError(t, r.Register(memInstance("mem-1", "localhost:9001")))

	inst, err := r.Get("mem-1")
	require.NoError(t, err)
	assert.Equal(t, HealthUnknown, inst.Health)
	assert.False(t, inst.RegisteredAt.IsZero())
}

func TestRegisterConflictingAddr(t *testing.T) {
	r, _ := newTestRegistry()

	require.NoError(t, r.Register(memInstance("mem-1", "localhost:9001")))

	err := r.Register(memInstance("mem-1", "localhost:9999"))
	require.Error(t, err)
	assert.True(t, swarmerr.IsKind(err, swarmerr.KindInvalidInput))

	// Same id, same addr is a refresh, not a conflict.
	assert.NoError(t, r.Register(memInstance("mem-1", "localhost:9001")))
}

func TestDeregisterIdempotent(t *testing.T) {
	r, _ := newTestRegistry()

	require.NoError(t, r.Register(memInstance("mem-1", "localhost:9001")))
	r.Deregister("mem-1")
	r.Deregister("mem-1")
	r.Deregister("never-existed")

	assert.Empty(t, r.List(""))
}

func TestListFiltersByRole(t *testing.T) {
	r, _ := newTestRegistry()

	require.NoError(t, r.Register(memInstance("mem-1", "localhost:9001")))
	require.NoError(t, r.Register(ServiceInstance{ID: "rsn-1", Role: "reasoning", Addr: "localhost:9002"}))

	assert.Len(t, r.List(""), 2)
	mems := r.List("memory")
	require.Len(t, mems, 1)
	assert.Equal(t, "mem-1", mems[0].ID)
	assert.Empty(t, r.List("personality"))
}

func TestHeartbeat(t *testing.T) {
	r, clock := newTestRegistry()

	require.NoError(t, r.Register(memInstance("mem-1", "localhost:9001")))
	clock.Advance(3 * time.Second)

	require.NoError(t, r.Heartbeat("mem-1", HealthHealthy))

	inst, err := r.Get("mem-1")
	require.NoError(t, err)
	assert.Equal(t, HealthHealthy, inst.Health)
	assert.Equal(t, clock.Now(), inst.LastHeartbeat)
}

func TestHeartbeatRefreshesGauges(t *testing.T) {
	r, _ := newTestRegistry()

	require.NoError(t, r.Register(memInstance("mem-1", "localhost:9001")))
	require.NoError(t, r.Heartbeat("mem-1", HealthHealthy))

	healthy := testutil.ToFloat64(instanceGauge.WithLabelValues("memory", string(HealthHealthy)))
	unknown := testutil.ToFloat64(instanceGauge.WithLabelValues("memory", string(HealthUnknown)))
	assert.Equal(t, 1.0, healthy, "health change is visible without waiting for a sweep")
	assert.Equal(t, 0.0, unknown)
}

func TestHeartbeatUnknownInstance(t *testing.T) {
	r, _ := newTestRegistry()

	err := r.Heartbeat("ghost", HealthHealthy)
	require.Error(t, err)
	assert.True(t, swarmerr.IsKind(err, swarmerr.KindNotFound))
}

func TestHeartbeatRejectsUnknownStatus(t *testing.T) {
	r, _ := newTestRegistry()
	require.NoError(t, r.Register(memInstance("mem-1", "localhost:9001")))

	err := r.Heartbeat("mem-1", Health("on-fire"))
	require.Error(t, err)
	assert.True(t, swarmerr.IsKind(err, swarmerr.KindInvalidInput))
}

func TestSweepMarksStaleUnhealthy(t *testing.T) {
	r, clock := newTestRegistry()

	require.NoError(t, r.Register(memInstance("mem-1", "localhost:9001")))
	require.NoError(t, r.Heartbeat("mem-1", HealthHealthy))

	clock.Advance(11 * time.Second) // past staleness, before deregistration
	r.Sweep(context.Background())

	inst, err := r.Get("mem-1")
	require.NoError(t, err)
	assert.Equal(t, HealthUnhealthy, inst.Health)
}

func TestSweepDeregistersAfterThreshold(t *testing.T) {
	r, clock := newTestRegistry()

	require.NoError(t, r.Register(memInstance("mem-1", "localhost:9001")))

	clock.Advance(31 * time.Second)
	r.Sweep(context.Background())

	_, err := r.Get("mem-1")
	require.Error(t, err)
	assert.True(t, swarmerr.IsKind(err, swarmerr.KindNotFound))
}

func TestSweepKeepsFreshInstances(t *testing.T) {
	r, clock := newTestRegistry()

	require.NoError(t, r.Register(memInstance("mem-1", "localhost:9001")))
	require.NoError(t, r.Heartbeat("mem-1", HealthHealthy))

	clock.Advance(5 * time.Second)
	r.Sweep(context.Background())

	inst, err := r.Get("mem-1")
	require.NoError(t, err)
	assert.Equal(t, HealthHealthy, inst.Health)
}

func TestProbeSuccessCountsAsHeartbeat(t *testing.T) {
	clock := newFakeClock()
	r := New(Options{
		SweepInterval:       time.Hour,
		StalenessThreshold:  10 * time.Second,
		DeregisterThreshold: 30 * time.Second,
		Probe: func(ctx context.Context, addr string) error {
			return nil
		},
	})
	r.now = clock.Now

	require.NoError(t, r.Register(memInstance("mem-1", "localhost:9001")))

	clock.Advance(20 * time.Second)
	r.Sweep(context.Background())

	// The probe refreshed the heartbeat, so the instance survives and an
	// unknown instance is promoted to healthy.
	inst, err := r.Get("mem-1")
	require.NoError(t, err)
	assert.Equal(t, HealthHealthy, inst.Health)
}

func TestWatchObservesTransitions(t *testing.T) {
	r, clock := newTestRegistry()
	events := r.Watch()

	require.NoError(t, r.Register(memInstance("mem-1", "localhost:9001")))
	require.NoError(t, r.Heartbeat("mem-1", HealthHealthy))
	clock.Advance(31 * time.Second)
	r.Sweep(context.Background())

	var got []EventType
	for i := 0; i < 3; i++ {
		select {
		case ev := <-events:
			got = append(got, ev.Type)
		case <-time.After(time.Second):
			t.Fatalf("missing event %d", i)
		}
	}
	assert.Equal(t, []EventType{EventRegistered, EventHealthChange, EventDeregistered}, got)
}

func TestStartStopIsClean(t *testing.T) {
	r := New(Options{
		SweepInterval:       10 * time.Millisecond,
		StalenessThreshold:  time.Minute,
		DeregisterThreshold: 2 * time.Minute,
	})
	require.NoError(t, r.Register(memInstance("mem-1", "localhost:9001")))

	r.Start(context.Background())
	time.Sleep(35 * time.Millisecond)
	r.Stop()
}

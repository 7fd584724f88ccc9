// Package registry tracks the live worker instances of the swarm and their
// health.
//
// The registry owns the instance table exclusively: every mutation goes
// through Register, Deregister, Heartbeat, or the background health sweep.
// Callers always receive copies, never live references into the table.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/openswarm/swarm-go/pkg/swarmerr"
)

// Health is the registry's view of an instance's state.
type Health string

const (
	HealthUnknown   Health = "unknown"
	HealthHealthy   Health = "healthy"
	HealthDegraded  Health = "degraded"
	HealthUnhealthy Health = "unhealthy"
)

// ValidHealth reports whether s names a known health state.
func ValidHealth(s string) bool {
	switch Health(s) {
	case HealthUnknown, HealthHealthy, HealthDegraded, HealthUnhealthy:
		return true
	}
	return false
}

// ServiceInstance describes one registered worker.
type ServiceInstance struct {
	// ID uniquely identifies the instance across the swarm.
	ID string `json:"id"`

	// Role is the logical function this instance serves (memory, reasoning, ...).
	Role string `json:"role"`

	// Addr is the base address requests are forwarded to.
	Addr string `json:"addr"`

	// Capabilities is the ordered capability set the instance declared.
	Capabilities []string `json:"capabilities,omitempty"`

	// Health is the current health state.
	Health Health `json:"health"`

	// LastHeartbeat is the time of the most recent heartbeat or probe success.
	LastHeartbeat time.Time `json:"last_heartbeat"`

	// RegisteredAt is when the instance first registered.
	RegisteredAt time.Time `json:"registered_at"`
}

func (s *ServiceInstance) clone() ServiceInstance {
	out := *s
	out.Capabilities = append([]string(nil), s.Capabilities...)
	return out
}

// EventType labels a registry state transition.
type EventType string

const (
	EventRegistered   EventType = "registered"
	EventHealthChange EventType = "health-change"
	EventDeregistered EventType = "deregistered"
)

// Event is published on every observable state transition.
type Event struct {
	Type     EventType
	Instance ServiceInstance
}

// ProbeFunc checks a worker's liveness endpoint. A nil error counts as a
// heartbeat; a failure is equivalent to a missed one.
type ProbeFunc func(ctx context.Context, addr string) error

// Options configures a Registry.
type Options struct {
	// SweepInterval is how often the background health sweep runs.
	SweepInterval time.Duration

	// StalenessThreshold marks an instance unhealthy once its last heartbeat
	// is older than this.
	StalenessThreshold time.Duration

	// DeregisterThreshold removes an instance once its last heartbeat is
	// older than this. Must exceed StalenessThreshold.
	DeregisterThreshold time.Duration

	// Probe, when set, is consulted during the sweep; success refreshes the
	// instance's heartbeat.
	Probe ProbeFunc

	// ProbeTimeout bounds each probe call.
	ProbeTimeout time.Duration

	// Logger receives sweep transitions. Optional.
	Logger *logrus.Logger
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.SweepInterval <= 0 {
		out.SweepInterval = 5 * time.Second
	}
	if out.StalenessThreshold <= 0 {
		out.StalenessThreshold = 15 * time.Second
	}
	if out.DeregisterThreshold <= out.StalenessThreshold {
		out.DeregisterThreshold = 4 * out.StalenessThreshold
	}
	if out.ProbeTimeout <= 0 {
		out.ProbeTimeout = 2 * time.Second
	}
	return out
}

// Registry is the authoritative table of live worker instances.
//
// All methods are safe for concurrent use. The background sweep acquires the
// same lock as foreground calls but only for the duration of the table scan,
// never across probe calls.
type Registry struct {
	opts Options

	mu        sync.RWMutex
	instances map[string]*ServiceInstance

	subMu sync.Mutex
	subs  []chan Event

	cancel context.CancelFunc
	wg     sync.WaitGroup

	// now is swappable for tests.
	now func() time.Time
}

// New creates a Registry. Start must be called to run the health sweep.
func New(opts Options) *Registry {
	return &Registry{
		opts:      opts.withDefaults(),
		instances: make(map[string]*ServiceInstance),
		now:       time.Now,
	}
}

// Register inserts a new instance with health unknown.
//
// Re-registering an existing id with the same address refreshes the record
// (capabilities and heartbeat). An id already bound to a different address is
// rejected with a validation error.
func (r *Registry) Register(inst ServiceInstance) error {
	switch {
	case inst.ID == "":
		return swarmerr.New(swarmerr.KindMissingField, "instance id is required")
	case inst.Role == "":
		return swarmerr.New(swarmerr.KindMissingField, "instance role is required")
	case inst.Addr == "":
		return swarmerr.New(swarmerr.KindMissingField, "instance addr is required")
	}

	now := r.now()

	r.mu.Lock()
	existing, ok := r.instances[inst.ID]
	if ok && existing.Addr != inst.Addr {
		addr := existing.Addr
		r.mu.Unlock()
		return swarmerr.Newf(swarmerr.KindInvalidInput,
			"instance %q already registered at %s", inst.ID, addr).
			WithDetail("instance_id", inst.ID)
	}

	rec := &ServiceInstance{
		ID:            inst.ID,
		Role:          inst.Role,
		Addr:          inst.Addr,
		Capabilities:  append([]string(nil), inst.Capabilities...),
		Health:        HealthUnknown,
		LastHeartbeat: now,
		RegisteredAt:  now,
	}
	if ok {
		rec.RegisteredAt = existing.RegisteredAt
		rec.Health = existing.Health
	}
	r.instances[inst.ID] = rec
	snapshot := rec.clone()
	r.mu.Unlock()

	r.publish(Event{Type: EventRegistered, Instance: snapshot})
	r.observeGauges()
	return nil
}

// Deregister removes an instance. Removing an unknown id is not an error.
func (r *Registry) Deregister(id string) {
	r.mu.Lock()
	rec, ok := r.instances[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.instances, id)
	snapshot := rec.clone()
	r.mu.Unlock()

	r.publish(Event{Type: EventDeregistered, Instance: snapshot})
	r.observeGauges()
}

// List returns all instances, optionally filtered by role. Order is
// unspecified.
func (r *Registry) List(role string) []ServiceInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ServiceInstance, 0, len(r.instances))
	for _, rec := range r.instances {
		if role != "" && rec.Role != role {
			continue
		}
		out = append(out, rec.clone())
	}
	return out
}

// Get returns a single instance by id.
func (r *Registry) Get(id string) (ServiceInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.instances[id]
	if !ok {
		return ServiceInstance{}, swarmerr.Newf(swarmerr.KindNotFound,
			"instance %q is not registered", id)
	}
	return rec.clone(), nil
}

// Heartbeat records a worker-reported health status.
func (r *Registry) Heartbeat(id string, status Health) error {
	if !ValidHealth(string(status)) {
		return swarmerr.Newf(swarmerr.KindInvalidInput, "unknown health status %q", status)
	}

	r.mu.Lock()
	rec, ok := r.instances[id]
	if !ok {
		r.mu.Unlock()
		return swarmerr.Newf(swarmerr.KindNotFound, "instance %q is not registered", id)
	}
	changed := rec.Health != status
	rec.Health = status
	rec.LastHeartbeat = r.now()
	snapshot := rec.clone()
	r.mu.Unlock()

	if changed {
		r.publish(Event{Type: EventHealthChange, Instance: snapshot})
		r.observeGauges()
	}
	return nil
}

// Watch subscribes to registry state transitions. The returned channel is
// buffered; events are dropped rather than blocking a mutation, so consumers
// that need the full truth must re-query List.
func (r *Registry) Watch() <-chan Event {
	ch := make(chan Event, 64)
	r.subMu.Lock()
	r.subs = append(r.subs, ch)
	r.subMu.Unlock()
	return ch
}

func (r *Registry) publish(ev Event) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	for _, ch := range r.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Start launches the background health sweep. It returns immediately; call
// Stop for a clean shutdown.
func (r *Registry) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ticker := time.NewTicker(r.opts.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				r.sweep(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels the health sweep and waits for it to exit.
func (r *Registry) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

// Sweep runs one health pass: probe instances (when a probe is configured),
// mark stale instances unhealthy, and deregister those past the removal
// threshold. Exported so daemons and tests can force a pass.
func (r *Registry) Sweep(ctx context.Context) {
	r.sweep(ctx)
}

func (r *Registry) sweep(ctx context.Context) {
	// Probe outside the table lock.
	if r.opts.Probe != nil {
		for _, inst := range r.List("") {
			probeCtx, cancel := context.WithTimeout(ctx, r.opts.ProbeTimeout)
			err := r.opts.Probe(probeCtx, inst.Addr)
			cancel()
			if err != nil {
				continue // equivalent to a missed heartbeat
			}
			r.refreshHeartbeat(inst.ID)
		}
	}

	now := r.now()
	var unhealthy, removed []ServiceInstance

	r.mu.Lock()
	for id, rec := range r.instances {
		age := now.Sub(rec.LastHeartbeat)
		switch {
		case age > r.opts.DeregisterThreshold:
			delete(r.instances, id)
			removed = append(removed, rec.clone())
		case age > r.opts.StalenessThreshold && rec.Health != HealthUnhealthy:
			rec.Health = HealthUnhealthy
			unhealthy = append(unhealthy, rec.clone())
		}
	}
	r.mu.Unlock()

	for _, inst := range unhealthy {
		r.logf("instance %s (%s) marked unhealthy, last heartbeat %s", inst.ID, inst.Role, inst.LastHeartbeat.Format(time.RFC3339))
		r.publish(Event{Type: EventHealthChange, Instance: inst})
	}
	for _, inst := range removed {
		r.logf("instance %s (%s) deregistered after missing heartbeats", inst.ID, inst.Role)
		r.publish(Event{Type: EventDeregistered, Instance: inst})
	}
	if len(unhealthy)+len(removed) > 0 {
		r.observeGauges()
	}
}

func (r *Registry) refreshHeartbeat(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.instances[id]
	if !ok {
		return
	}
	rec.LastHeartbeat = r.now()
	if rec.Health == HealthUnknown {
		rec.Health = HealthHealthy
	}
}

func (r *Registry) logf(format string, args ...interface{}) {
	if r.opts.Logger != nil {
		r.opts.Logger.Infof(format, args...)
	}
}

// Package router load-balances requests across registered, healthy worker
// instances, with per-instance circuit breaking and a bounded retry policy.
//
// The router never leaks a component-specific error across its boundary:
// every outcome is reported through the swarmerr taxonomy.
package router

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/openswarm/swarm-go/pkg/registry"
	"github.com/openswarm/swarm-go/pkg/swarm"
	"github.com/openswarm/swarm-go/pkg/swarmerr"
)

// Config tunes the router.
type Config struct {
	// Breaker configures the per-instance circuit breakers.
	Breaker BreakerConfig

	// RetryBudget is the number of additional attempts (against different
	// instances) granted to transient failures.
	RetryBudget int

	// Logger receives breaker transitions and retry decisions. Optional.
	Logger *logrus.Logger
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.RetryBudget < 0 {
		out.RetryBudget = 0
	} else if out.RetryBudget == 0 {
		out.RetryBudget = 2
	}
	return out
}

// Router selects instances and forwards payloads.
type Router struct {
	cfg      Config
	registry *registry.Registry
	caller   Caller

	mu       sync.Mutex
	breakers map[string]*breaker
	rrIndex  map[string]int // per-role round-robin cursor

	now func() time.Time
}

// New creates a Router over the given registry and caller.
func New(reg *registry.Registry, caller Caller, cfg Config) *Router {
	return &Router{
		cfg:      cfg.withDefaults(),
		registry: reg,
		caller:   caller,
		breakers: make(map[string]*breaker),
		rrIndex:  make(map[string]int),
		now:      time.Now,
	}
}

// Route forwards payload to a healthy instance of the given role.
//
// Selection is round-robin among instances whose health is not unhealthy and
// whose circuit is not open. Transient failures are retried against a
// different instance up to the retry budget; non-transient failures surface
// immediately. When no candidate exists the call fails at once with
// service-unavailable — the router never blocks waiting for capacity.
func (r *Router) Route(ctx context.Context, role string, payload []byte) ([]byte, error) {
	if role == "" {
		return nil, r.fail(ctx, role, swarmerr.New(swarmerr.KindMissingField, "role is required"))
	}

	candidates := r.eligible(role)
	if len(candidates) == 0 {
		return nil, r.fail(ctx, role, swarmerr.Newf(swarmerr.KindUnavailable,
			"no healthy instances for role %q", role))
	}

	attempts := r.cfg.RetryBudget + 1
	tried := make(map[string]bool, len(candidates))
	var lastErr *swarmerr.Error

	for attempt := 0; attempt < attempts; attempt++ {
		if ctx.Err() != nil {
			// The caller gave up; abort any remaining retries.
			return nil, r.fail(ctx, role, swarmerr.From(ctx.Err()))
		}

		inst, ok := r.next(role, candidates, tried)
		if !ok {
			break // every eligible instance tried or breaker-rejected
		}
		tried[inst.ID] = true

		body, err := r.call(ctx, inst, payload)
		if err == nil {
			routeCounter.WithLabelValues(role, "ok").Inc()
			return body, nil
		}

		se := swarmerr.From(err).WithDetail("instance_id", inst.ID)
		lastErr = se

		if !swarmerr.IsTransient(se) {
			return nil, r.fail(ctx, role, se)
		}
		r.logf("transient failure from %s (%s), attempt %d/%d: %v",
			inst.ID, role, attempt+1, attempts, se)
	}

	if lastErr == nil {
		return nil, r.fail(ctx, role, swarmerr.Newf(swarmerr.KindUnavailable,
			"no routable instances for role %q", role))
	}

	// Retry budget exhausted on a transient failure: surface a dependency
	// failure and escalate a lingering timeout's severity.
	lastErr.Escalate()
	return nil, r.fail(ctx, role, swarmerr.Wrap(swarmerr.KindDependency,
		"retry budget exhausted for role "+role, lastErr))
}

// call runs one attempt through the instance's breaker with correct failure
// accounting: canceled calls release the breaker without recording.
func (r *Router) call(ctx context.Context, inst registry.ServiceInstance, payload []byte) ([]byte, error) {
	b := r.breakerFor(inst.ID)
	if !b.Allow() {
		return nil, swarmerr.Newf(swarmerr.KindUnavailable,
			"circuit open for instance %q", inst.ID)
	}

	before := b.State()
	body, err := r.caller.Call(ctx, inst, payload)
	if err == nil {
		b.RecordSuccess()
		r.observeTransition(inst.ID, before, b.State())
		return body, nil
	}

	if errors.Is(err, context.Canceled) && ctx.Err() == context.Canceled {
		// The caller gave up; the instance did not fail.
		b.ReleaseTrial()
		return nil, err
	}

	b.RecordFailure()
	r.observeTransition(inst.ID, before, b.State())
	return nil, err
}

// eligible returns the role's instances with health != unhealthy, ordered by
// id so the round-robin cursor is meaningful across calls.
func (r *Router) eligible(role string) []registry.ServiceInstance {
	all := r.registry.List(role)
	out := all[:0]
	for _, inst := range all {
		if inst.Health != registry.HealthUnhealthy {
			out = append(out, inst)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// next picks the round-robin successor among untried candidates whose
// breaker admits a call.
func (r *Router) next(role string, candidates []registry.ServiceInstance, tried map[string]bool) (registry.ServiceInstance, bool) {
	r.mu.Lock()
	start := r.rrIndex[role]
	r.mu.Unlock()

	for i := 0; i < len(candidates); i++ {
		inst := candidates[(start+i)%len(candidates)]
		if tried[inst.ID] {
			continue
		}
		if !r.breakerFor(inst.ID).CanAttempt() {
			continue
		}

		r.mu.Lock()
		r.rrIndex[role] = (start + i + 1) % len(candidates)
		r.mu.Unlock()
		return inst, true
	}
	return registry.ServiceInstance{}, false
}

func (r *Router) breakerFor(id string) *breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[id]
	if !ok {
		b = newBreaker(r.cfg.Breaker, r.now)
		r.breakers[id] = b
	}
	return b
}

// CircuitState exposes an instance's breaker state for tests and metrics.
func (r *Router) CircuitState(instanceID string) CircuitState {
	return r.breakerFor(instanceID).State()
}

func (r *Router) fail(ctx context.Context, role string, se *swarmerr.Error) *swarmerr.Error {
	if id := swarm.CorrelationIDFrom(ctx); id != "" && se.CorrelationID == "" {
		se.WithCorrelation(id)
	}
	routeCounter.WithLabelValues(role, "error").Inc()
	return se
}

func (r *Router) observeTransition(id string, before, after CircuitState) {
	if before == after {
		return
	}
	breakerTransitions.WithLabelValues(string(after)).Inc()
	r.logf("circuit for %s: %s -> %s", id, before, after)
}

func (r *Router) logf(format string, args ...interface{}) {
	if r.cfg.Logger != nil {
		r.cfg.Logger.Infof(format, args...)
	}
}

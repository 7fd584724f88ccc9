package registry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var instanceGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "swarm",
	Subsystem: "registry",
	Name:      "instances",
	Help:      "Registered instances by role and health state.",
}, []string{"role", "health"})

// observeGauges recomputes the per-role/health instance gauge from the
// current table.
func (r *Registry) observeGauges() {
	counts := make(map[[2]string]int)

	r.mu.RLock()
	for _, rec := range r.instances {
		counts[[2]string{rec.Role, string(rec.Health)}]++
	}
	r.mu.RUnlock()

	instanceGauge.Reset()
	for key, n := range counts {
		instanceGauge.WithLabelValues(key[0], key[1]).Set(float64(n))
	}
}

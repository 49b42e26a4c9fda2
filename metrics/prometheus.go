package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

/*
PrometheusSink maps cache events onto a Prometheus counter vector, which
is how the staging and production profiles ship cache behavior to the
existing dashboards.

Only event occurrence is exported. The per-event payloads (keys, ages)
stay out of the label set on purpose: cache keys are unbounded and would
blow up series cardinality.
*/
type PrometheusSink struct {
	events *prometheus.CounterVec
}

// NewPrometheusSink registers the cache event counter on the given
// registerer and returns the sink. Registration errors surface so a
// double-registration in a composition root fails loudly.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ajo",
		Subsystem: "cache",
		Name:      "events_total",
		Help:      "Cache events by type (hit, miss, stale_hit, eviction, invalidation, ...).",
	}, []string{"event"})

	if err := reg.Register(events); err != nil {
		return nil, err
	}
	return &PrometheusSink{events: events}, nil
}

func (s *PrometheusSink) Report(event string, payload Payload) {
	n := 1
	if c, ok := payload["count"].(int); ok && c > 0 {
		n = c
	}
	s.events.WithLabelValues(event).Add(float64(n))
}

package metrics

import "go.uber.org/zap"

// Event names reported to the sink. The sink decides what to do with
// them; the cache core never knows whether they end up in logs, a
// Prometheus registry, or nowhere.
const (
	EventHit              = "cache.hit"
	EventMiss             = "cache.miss"
	EventStaleHit         = "cache.stale_hit"
	EventEviction         = "cache.eviction"
	EventInvalidation     = "cache.invalidation"
	EventRefreshScheduled = "cache.refresh_scheduled"
	EventRefreshFailed    = "cache.refresh_failed"
	EventCircuitState     = "fetch.circuit_state"
)

// Payload carries event-specific fields.
type Payload map[string]any

// Sink receives one call per cache event.
//
// Implementations must be cheap and must never block: Report is called on
// the hot read path while counters are being bumped.
type Sink interface {
	Report(event string, payload Payload)
}

/*
NoopSink ignores everything.

Nobody should be forced to stand up a metrics pipeline to use the cache,
and nobody should need nil checks around every Report call. Components
that accept a Sink default to this.
*/
type NoopSink struct{}

func (NoopSink) Report(string, Payload) {}

// LogSink writes every event to a zap logger at debug level. Useful in
// development profiles and in tests that want to see the event stream.
type LogSink struct {
	Log *zap.Logger
}

func (s LogSink) Report(event string, payload Payload) {
	if s.Log == nil {
		return
	}
	fields := make([]zap.Field, 0, len(payload)+1)
	for k, v := range payload {
		fields = append(fields, zap.Any(k, v))
	}
	s.Log.Debug(event, fields...)
}

// MultiSink fans one event out to several sinks, e.g. logs plus
// Prometheus in the production profile.
type MultiSink []Sink

func (m MultiSink) Report(event string, payload Payload) {
	for _, s := range m {
		s.Report(event, payload)
	}
}

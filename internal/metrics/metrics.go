// Package metrics exposes the dispatcher's operational counters and
// gauges through github.com/VictoriaMetrics/metrics, the same
// Prometheus-text metrics library used elsewhere in the gateway stack.
// Every metric here is observational: nothing in internal/dispatcher
// branches on a metric's value.
package metrics

import (
	"sync/atomic"

	"github.com/VictoriaMetrics/metrics"
)

// Set is a process-wide registry of dispatcher metrics, isolated from
// the package-level default set so tests can construct independent
// instances without cross-test interference. Gauges in this library are
// callback-sampled rather than settable, so each is backed by a
// sync/atomic value the dispatcher updates directly and the gauge
// reads from on scrape.
type Set struct {
	set *metrics.Set

	routerCount   atomic.Int64
	gatewayRetry  atomic.Uint32
	attached      atomic.Bool
	routingHeight atomic.Uint64
	regionHeight  atomic.Uint64

	UplinksDispatched *metrics.Counter
	UplinksUnmatched  *metrics.Counter
	StreamErrors      *metrics.Counter
	ConfigQueries     *metrics.Counter
	HeightQueries     *metrics.Counter
	RoutersSpawned    *metrics.Counter
	RoutersRetired    *metrics.Counter
	RouterSpawnErrors *metrics.Counter
}

// New constructs a Set with every metric registered under its own
// *metrics.Set, so it can be written out independently via
// WritePrometheus.
func New() *Set {
	s := &Set{set: metrics.NewSet()}

	s.set.NewGauge("gatewayd_router_count", func() float64 { return float64(s.routerCount.Load()) })
	s.set.NewGauge("gatewayd_gateway_retry", func() float64 { return float64(s.gatewayRetry.Load()) })
	s.set.NewGauge("gatewayd_attached", func() float64 {
		if s.attached.Load() {
			return 1
		}
		return 0
	})
	s.set.NewGauge("gatewayd_routing_height", func() float64 { return float64(s.routingHeight.Load()) })
	s.set.NewGauge("gatewayd_region_height", func() float64 { return float64(s.regionHeight.Load()) })

	s.UplinksDispatched = s.set.NewCounter("gatewayd_uplinks_dispatched_total")
	s.UplinksUnmatched = s.set.NewCounter("gatewayd_uplinks_unmatched_total")
	s.StreamErrors = s.set.NewCounter("gatewayd_stream_errors_total")
	s.ConfigQueries = s.set.NewCounter("gatewayd_config_queries_total")
	s.HeightQueries = s.set.NewCounter("gatewayd_height_queries_total")
	s.RoutersSpawned = s.set.NewCounter("gatewayd_routers_spawned_total")
	s.RoutersRetired = s.set.NewCounter("gatewayd_routers_retired_total")
	s.RouterSpawnErrors = s.set.NewCounter("gatewayd_router_spawn_errors_total")
	return s
}

// SetRouterCount records the current registry size.
func (s *Set) SetRouterCount(n int) { s.routerCount.Store(int64(n)) }

// SetGatewayRetry records the current backoff retry counter.
func (s *Set) SetGatewayRetry(n uint32) { s.gatewayRetry.Store(n) }

// SetAttached records whether a validator is currently attached.
func (s *Set) SetAttached(attached bool) { s.attached.Store(attached) }

// SetHeights records the current routing/region watermarks.
func (s *Set) SetHeights(routing, region uint64) {
	s.routingHeight.Store(routing)
	s.regionHeight.Store(region)
}

// WritePrometheus renders the set in Prometheus text exposition format.
func (s *Set) WritePrometheus(w interface{ Write([]byte) (int, error) }) {
	s.set.WritePrometheus(w)
}

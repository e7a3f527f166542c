// Package prometheus provides Prometheus implementations of the actor and
// transport metrics interfaces.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/salespaulo/fvi-actor-system/core/metrics"
)

func newTimer(h prometheus.Observer) metrics.Timer {
	return metrics.StartTimer(func(d time.Duration) { h.Observe(d.Seconds()) })
}

// namespace prefixes every metric of the runtime.
const namespace = "fvi"

// Default histogram buckets for latency metrics (in seconds).
var defaultBuckets = []float64{
	.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10,
}

// AllMetrics holds the Prometheus implementations for a System, ready to be
// passed to system.WithMetrics.
type AllMetrics struct {
	Actor     *actorMetrics
	Transport *transportMetrics
}

// NewAllMetrics creates and registers every metric of the runtime.
func NewAllMetrics(reg prometheus.Registerer) *AllMetrics {
	return &AllMetrics{
		Actor:     NewActorMetrics(reg).(*actorMetrics),
		Transport: NewTransportMetrics(reg).(*transportMetrics),
	}
}

func boolToStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// Package connmetrics wires connection lifecycle counters into
// Prometheus, grounded on nabbar-golib's use of
// github.com/prometheus/client_golang for exactly this kind of
// per-component counter/gauge instrumentation. Wiring a Collector is
// opt-in: a nil *Collector is safe to call and does nothing, so a caller
// that never asks for metrics pays nothing for them.
package connmetrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/relayhttp/httpconn/pkg/connstate"
	"github.com/relayhttp/httpconn/pkg/events"
)

// Collector holds the Prometheus instruments for one registry.
type Collector struct {
	transitions *prometheus.CounterVec
	eventsTotal *prometheus.CounterVec
	idleDisconn prometheus.Counter
	inUseGauge  prometheus.Gauge
}

// NewCollector registers a fresh set of instruments on reg and returns a
// Collector wrapping them.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "httpconn_state_transitions_total",
			Help: "Connection state machine transitions by from/to state.",
		}, []string{"from", "to"}),
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "httpconn_events_total",
			Help: "Transport events emitted during connection setup, by kind.",
		}, []string{"kind"}),
		idleDisconn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "httpconn_idle_disconnects_total",
			Help: "Connections disconnected by the idle timer.",
		}),
		inUseGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "httpconn_connections_in_use",
			Help: "Connections currently in the InUse state.",
		}),
	}
	reg.MustRegister(c.transitions, c.eventsTotal, c.idleDisconn, c.inUseGauge)
	return c
}

// NewNopCollector returns a Collector whose instruments are never
// registered anywhere; calling its methods is always safe and has no
// observable effect. Used as the default when a caller doesn't wire
// metrics.
func NewNopCollector() *Collector { return nil }

// ObserveTransition records a state machine edge. A from==to pair is not
// an edge and records nothing.
func (c *Collector) ObserveTransition(from, to connstate.State) {
	if c == nil || from == to {
		return
	}
	c.transitions.WithLabelValues(from.String(), to.String()).Inc()
	switch to {
	case connstate.InUse:
		c.inUseGauge.Inc()
	case connstate.Idle, connstate.Disconnected:
		if from == connstate.InUse {
			c.inUseGauge.Dec()
		}
	}
}

// ObserveEvent records an emitted transport event.
func (c *Collector) ObserveEvent(kind events.Kind) {
	if c == nil {
		return
	}
	c.eventsTotal.WithLabelValues(string(kind)).Inc()
}

// ObserveIdleDisconnect records a disconnect triggered by the idle timer.
func (c *Collector) ObserveIdleDisconnect() {
	if c == nil {
		return
	}
	c.idleDisconn.Inc()
}

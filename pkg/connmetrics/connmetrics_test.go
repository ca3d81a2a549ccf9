package connmetrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/relayhttp/httpconn/pkg/connstate"
	"github.com/relayhttp/httpconn/pkg/events"
)

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	c.ObserveTransition(connstate.New, connstate.Connecting)
	c.ObserveEvent(events.Connecting)
	c.ObserveIdleDisconnect()
}

func TestObserveTransitionIncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.ObserveTransition(connstate.Connecting, connstate.Idle)

	metricFamilies, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	if !hasCounterValue(metricFamilies, "httpconn_state_transitions_total", 1) {
		t.Error("expected one transition observation")
	}
}

func hasCounterValue(families []*dto.MetricFamily, name string, want float64) bool {
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, m := range fam.GetMetric() {
			if m.GetCounter().GetValue() == want {
				return true
			}
		}
	}
	return false
}

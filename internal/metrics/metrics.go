// Package metrics exposes node and collector counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"edgenode/internal/link"
	"edgenode/internal/reading"
	"edgenode/internal/telemetry"
)

const namespace = "edgenode"

// Node implements link.Observer and telemetry.Observer.
type Node struct {
	cycles       *prometheus.CounterVec
	cycleSeconds prometheus.Histogram
	linkAttempts *prometheus.CounterVec
	linkState    prometheus.Gauge
	lastValue    *prometheus.GaugeVec
}

var (
	_ link.Observer      = (*Node)(nil)
	_ telemetry.Observer = (*Node)(nil)
)

// NewNode registers the node collectors on reg.
func NewNode(reg prometheus.Registerer) *Node {
	n := &Node{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Telemetry cycles by outcome.",
		}, []string{"outcome"}),
		cycleSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Time from sample to send result, excluding the wait.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		linkAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "link_attempts_total",
			Help:      "Network association attempts by result.",
		}, []string{"result"}),
		linkState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "link_state",
			Help:      "0 disconnected, 1 connecting, 2 connected.",
		}),
		lastValue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_reading",
			Help:      "Most recent valid value per quantity.",
		}, []string{"quantity", "unit"}),
	}
	reg.MustRegister(n.cycles, n.cycleSeconds, n.linkAttempts, n.linkState, n.lastValue)
	return n
}

func (n *Node) ObserveCycle(res telemetry.CycleResult) {
	n.cycles.WithLabelValues(string(res.Outcome())).Inc()
	n.cycleSeconds.Observe(res.Duration.Seconds())
	for _, f := range res.Reading.Fields() {
		n.lastValue.WithLabelValues(string(f.Quantity), unitLabel(f.Unit)).Set(f.Value)
	}
}

func (n *Node) ObserveLinkAttempt(err error) {
	if err != nil {
		n.linkAttempts.WithLabelValues("failure").Inc()
		return
	}
	n.linkAttempts.WithLabelValues("success").Inc()
}

func (n *Node) ObserveLinkState(s link.State) {
	n.linkState.Set(float64(s))
}

func unitLabel(u reading.Unit) string {
	if u == reading.UnitRaw {
		return "raw"
	}
	return string(u)
}

// Collector counts what the collector receives.
type Collector struct {
	messages *prometheus.CounterVec
	stored   prometheus.Counter
}

func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "messages_total",
			Help:      "Received lines by transport and parse result.",
		}, []string{"transport", "result"}),
		stored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "stored_total",
			Help:      "Readings written to the journal.",
		}),
	}
	reg.MustRegister(c.messages, c.stored)
	return c
}

// ObserveMessage records one received line. result is "ok", "unrecognized" or "store_error".
func (c *Collector) ObserveMessage(transport, result string) {
	c.messages.WithLabelValues(transport, result).Inc()
	if result == "ok" {
		c.stored.Inc()
	}
}

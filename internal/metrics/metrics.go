// Package metrics exposes entry and occupancy counters for Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"entrytracker/internal/model"
)

// Metrics records tracking activity. It satisfies attendance.Recorder.
type Metrics struct {
	registry  *prometheus.Registry
	entries   *prometheus.CounterVec
	inside    *prometheus.GaugeVec
	anonymous *prometheus.GaugeVec
	clears    prometheus.Counter
}

// New registers the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		entries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "entrytracker",
			Name:      "entries_recorded_total",
			Help:      "Entry and exit events appended to the log.",
		}, []string{"type", "anonymous"}),
		inside: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "entrytracker",
			Name:      "people_inside",
			Help:      "Identified people currently inside, per owner.",
		}, []string{"owner"}),
		anonymous: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "entrytracker",
			Name:      "anonymous_inside",
			Help:      "Anonymous occupants currently counted, per owner.",
		}, []string{"owner"}),
		clears: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "entrytracker",
			Name:      "log_clears_total",
			Help:      "Administrative resets of an owner's entry log.",
		}),
	}
	m.registry.MustRegister(
		m.entries, m.inside, m.anonymous, m.clears,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) EntryRecorded(t model.EntryType, anonymous bool) {
	label := "false"
	if anonymous {
		label = "true"
	}
	m.entries.WithLabelValues(string(t), label).Inc()
}

func (m *Metrics) OccupancyChanged(ownerID string, inside, anonymous int) {
	m.inside.WithLabelValues(ownerID).Set(float64(inside))
	m.anonymous.WithLabelValues(ownerID).Set(float64(anonymous))
}

func (m *Metrics) OwnerCleared(ownerID string) {
	m.clears.Inc()
	m.inside.WithLabelValues(ownerID).Set(0)
	m.anonymous.WithLabelValues(ownerID).Set(0)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

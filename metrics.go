package idxmap

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts index bookkeeping activity. A nil *Metrics disables
// collection; register Collectors() with a prometheus.Registerer to export.
type Metrics struct {
	PrimaryWrites *prometheus.CounterVec
	IndexWrites   *prometheus.CounterVec
	Scans         *prometheus.CounterVec
	Corruptions   *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		PrimaryWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "idxmap",
			Name:      "primary_writes_total",
			Help:      "Primary table writes by operation (save, remove).",
		}, []string{"namespace", "op"}),
		IndexWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "idxmap",
			Name:      "index_writes_total",
			Help:      "Index entry writes by operation (save, remove).",
		}, []string{"namespace", "op"}),
		Scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "idxmap",
			Name:      "scans_total",
			Help:      "Range scans started per table or index namespace.",
		}, []string{"namespace"}),
		Corruptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "idxmap",
			Name:      "corruptions_total",
			Help:      "Index entries found to reference a missing primary record.",
		}, []string{"namespace"}),
	}
}

func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.PrimaryWrites, m.IndexWrites, m.Scans, m.Corruptions}
}

func (m *Metrics) primaryWrite(ns, op string) {
	if m != nil {
		m.PrimaryWrites.WithLabelValues(ns, op).Inc()
	}
}

func (m *Metrics) indexWrite(idx, op string) {
	if m != nil {
		m.IndexWrites.WithLabelValues(idx, op).Inc()
	}
}

func (m *Metrics) scan(ns, idx string) {
	if m != nil {
		if idx != "" {
			ns = idx
		}
		m.Scans.WithLabelValues(ns).Inc()
	}
}

func (m *Metrics) corruption(idx string) {
	if m != nil {
		m.Corruptions.WithLabelValues(idx).Inc()
	}
}

// Package metrics holds the Prometheus collectors shared by the greeter core
// and the transaction tracker.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "greeterd"

type Metrics struct {
	Reads        *prometheus.CounterVec
	ReadDuration prometheus.Histogram
	Writes       *prometheus.CounterVec
	TxOutcomes   *prometheus.CounterVec
	ReceiptPolls prometheus.Counter
	Inflight     prometheus.Gauge
}

// New registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Reads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "greeter",
			Name:      "reads_total",
			Help:      "Contract reads by result.",
		}, []string{"result"}),
		ReadDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "greeter",
			Name:      "read_duration_seconds",
			Help:      "Latency of greet() reads.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}),
		Writes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "greeter",
			Name:      "writes_total",
			Help:      "setGreet submissions by result.",
		}, []string{"result"}),
		TxOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "outcomes_total",
			Help:      "Terminal transaction states.",
		}, []string{"status"}),
		ReceiptPolls: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "receipt_polls_total",
			Help:      "Receipt poll attempts.",
		}),
		Inflight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "inflight",
			Help:      "Transactions currently being tracked.",
		}),
	}
}

// Discard returns collectors registered on a private registry.
func Discard() *Metrics {
	return New(prometheus.NewRegistry())
}

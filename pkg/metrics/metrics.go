// Package metrics exposes the counters of a rebuild in Prometheus form.
//
// A rebuild is a batch job, not a server, so metrics live in a private
// registry and are written once per run to a node_exporter textfile.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "skylog"

// Metrics holds the collectors of one run.
type Metrics struct {
	reg *prometheus.Registry

	RecordsRead    prometheus.Counter
	RecordsOrdered prometheus.Counter
	Anomalies      *prometheus.CounterVec
	Batches        *prometheus.CounterVec
	Tombstones     prometheus.Counter
	PeakInFlight   prometheus.Gauge
	BatchCapacity  prometheus.Gauge
	Universe       *prometheus.GaugeVec
	Overlap        *prometheus.GaugeVec
	Inversions     prometheus.Gauge
	DeletionRate   prometheus.Gauge
	PhaseDuration  *prometheus.GaugeVec
	LastSuccess    prometheus.Gauge
}

// New registers a fresh set of collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		RecordsRead: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_read_total",
			Help:      "Records read from shards, including skipped ones.",
		}),
		RecordsOrdered: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_ordered_total",
			Help:      "Records emitted by the reorder engine.",
		}),
		Anomalies: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomalies_total",
			Help:      "Skipped and counted inputs by error kind.",
		}, []string{"kind"}),
		Batches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_written_total",
			Help:      "Batch files written by stage.",
		}, []string{"stage"}),
		Tombstones: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tombstones_inserted_total",
			Help:      "Tombstones merged into the output.",
		}),
		PeakInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reorder_peak_in_flight",
			Help:      "Largest number of records held by the reorder engine.",
		}),
		BatchCapacity: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reorder_batch_capacity",
			Help:      "Configured batch capacity B.",
		}),
		Universe: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "universe_size",
			Help:      "Size of the entity sets after the scan.",
		}, []string{"set"}),
		Overlap: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "consistency_overlap",
			Help:      "Identifiers both known and dangling.",
		}, []string{"set"}),
		Inversions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ordering_inversions",
			Help:      "Records emitted behind the running time frontier.",
		}),
		DeletionRate: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "post_deletion_ratio",
			Help:      "Dangling posts over known plus dangling posts.",
		}),
		PhaseDuration: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "phase_duration_seconds",
			Help:      "Wall time of each pipeline phase.",
		}, []string{"phase"}),
		LastSuccess: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time the last successful rebuild finished.",
		}),
	}
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// ObservePhase records how long a phase took.
func (m *Metrics) ObservePhase(phase string, d time.Duration) {
	m.PhaseDuration.WithLabelValues(phase).Set(d.Seconds())
}

// WriteTextfile writes every metric to path in the text exposition format.
// The file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.reg)
}

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Engine metrics
	NexusTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nexd_nexus_total",
			Help: "Total number of nexuses by state",
		},
		[]string{"state"},
	)

	ChildrenTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nexd_children_total",
			Help: "Total number of replica children by state",
		},
		[]string{"state"},
	)

	PublishedTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nexd_published_total",
			Help: "Number of currently published nexuses",
		},
	)

	// I/O metrics
	IOTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexd_io_total",
			Help: "Total number of nexus I/O operations by op and result",
		},
		[]string{"op", "result"},
	)

	IODuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nexd_io_duration_seconds",
			Help:    "Nexus I/O operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// Health metrics
	ChildDemotions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nexd_child_demotions_total",
			Help: "Total number of children demoted after an I/O failure",
		},
	)

	ChildFaults = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nexd_child_faults_total",
			Help: "Total number of children faulted",
		},
	)

	ReadRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nexd_read_retries_total",
			Help: "Total number of reads retried against another child",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(NexusTotal)
	prometheus.MustRegister(ChildrenTotal)
	prometheus.MustRegister(PublishedTotal)
	prometheus.MustRegister(IOTotal)
	prometheus.MustRegister(IODuration)
	prometheus.MustRegister(ChildDemotions)
	prometheus.MustRegister(ChildFaults)
	prometheus.MustRegister(ReadRetries)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

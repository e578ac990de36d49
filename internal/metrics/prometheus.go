package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "nftwire"

var (
	once     sync.Once
	registry *Registry
)

// Registry holds all nftwire metrics.
type Registry struct {
	// Transactions
	BatchesTotal    *prometheus.CounterVec
	MessagesTotal   *prometheus.CounterVec
	RejectionsTotal *prometheus.CounterVec
	BatchBytes      prometheus.Histogram
	CommitDuration  prometheus.Histogram

	// Ruleset inventory, refreshed by the Collector
	Tables       *prometheus.GaugeVec
	Chains       *prometheus.GaugeVec
	Rules        *prometheus.GaugeVec
	SetElements  *prometheus.GaugeVec
	ScrapeErrors prometheus.Counter
	LastScrape   prometheus.Gauge
}

// Get returns the global metrics registry, registered with the default
// Prometheus registerer.
func Get() *Registry {
	once.Do(func() {
		registry = NewRegistry(prometheus.DefaultRegisterer, DefaultNamespace)
	})
	return registry
}

// NewRegistry creates the metrics and registers them with reg. Tests pass
// a fresh prometheus.NewRegistry().
func NewRegistry(reg prometheus.Registerer, namespace string) *Registry {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	f := promauto.With(reg)
	r := &Registry{}

	r.BatchesTotal = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "batches_total",
		Help:      "Batches committed, by result (ok, rejected, transport_error)",
	}, []string{"result"})

	r.MessagesTotal = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_total",
		Help:      "Messages sent in committed batches, by object kind and operation",
	}, []string{"kind", "op"})

	r.RejectionsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "kernel_rejections_total",
		Help:      "Messages rejected by the kernel, by object kind and errno",
	}, []string{"kind", "errno"})

	r.BatchBytes = f.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "batch_bytes",
		Help:      "Encoded size of committed batches",
		Buckets:   prometheus.ExponentialBuckets(256, 4, 8),
	})

	r.CommitDuration = f.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "commit_duration_seconds",
		Help:      "Time from sending a batch to its last ack",
		Buckets:   prometheus.DefBuckets,
	})

	r.Tables = f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "tables",
		Help:      "Number of tables, by family",
	}, []string{"family"})

	r.Chains = f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "chains",
		Help:      "Number of chains per table",
	}, []string{"family", "table"})

	r.Rules = f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "rules",
		Help:      "Number of rules per chain",
	}, []string{"family", "table", "chain"})

	r.SetElements = f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "set_elements",
		Help:      "Number of elements per set",
	}, []string{"family", "table", "set"})

	r.ScrapeErrors = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "inventory_errors_total",
		Help:      "Failed inventory collections",
	})

	r.LastScrape = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "inventory_last_success_timestamp_seconds",
		Help:      "Unix time of the last successful inventory collection",
	})

	return r
}

// ObserveCommit records the outcome of one batch commit.
func (r *Registry) ObserveCommit(result string, bytes int, d time.Duration) {
	r.BatchesTotal.WithLabelValues(result).Inc()
	r.BatchBytes.Observe(float64(bytes))
	r.CommitDuration.Observe(d.Seconds())
}

// CountMessage records one message of a committed batch.
func (r *Registry) CountMessage(kind, op string) {
	r.MessagesTotal.WithLabelValues(kind, op).Inc()
}

// CountRejection records one kernel rejection.
func (r *Registry) CountRejection(kind, errno string) {
	r.RejectionsTotal.WithLabelValues(kind, errno).Inc()
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Transaction outcome metrics
	CommitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "txnkv_commits_total",
			Help: "Total number of committed transactions",
		},
	)

	AbortsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "txnkv_aborts_total",
			Help: "Total number of aborted transactions by cause",
		},
		[]string{"cause"},
	)

	ActiveTransactions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "txnkv_active_transactions",
			Help: "Number of transactions currently active",
		},
	)

	// Commit protocol metrics
	LockRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "txnkv_lock_retries_total",
			Help: "Total number of write-set lock acquisition retries",
		},
	)

	CommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "txnkv_commit_duration_seconds",
			Help:    "Commit protocol duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Abort causes, used as the cause label of AbortsTotal.
const (
	CauseValidation = "validation"
	CauseExplicit   = "explicit"
	CauseStoreFatal = "store_fatal"
)

// Register registers all metrics with a custom registry. The default
// registry is populated automatically at init.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		CommitsTotal,
		AbortsTotal,
		ActiveTransactions,
		LockRetriesTotal,
		CommitDuration,
	)
}

func init() {
	Register(prometheus.DefaultRegisterer)
}

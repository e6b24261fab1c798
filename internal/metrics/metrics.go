// Package metrics provides Prometheus metrics for the carpool ledger service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Ledger round trips
	LedgerCalls        *prometheus.CounterVec
	LedgerCallDuration *prometheus.HistogramVec

	// Table metrics
	TableCommits   *prometheus.CounterVec
	TableNoops     *prometheus.CounterVec
	TableConflicts *prometheus.CounterVec
	TableRows      *prometheus.GaugeVec
	TableBytes     *prometheus.GaugeVec

	// Payments
	Verifications  *prometheus.CounterVec
	JournalPending prometheus.Gauge

	// Wallet directory
	WalletLookups *prometheus.CounterVec

	// Error metrics
	ObserverErrors *prometheus.CounterVec
	NotifyErrors   *prometheus.CounterVec
	RetryAttempts  *prometheus.CounterVec
}

// Config holds metrics configuration.
type Config struct {
	Enabled   bool   `yaml:"enabled"`
	Address   string `yaml:"address"` // e.g. ":9090"
	Namespace string `yaml:"namespace"`
}

var defaultMetrics *Metrics

// Init initializes the metrics package with global metrics.
// Call this once at startup.
func Init(namespace string) *Metrics {
	if namespace == "" {
		namespace = "carpool_ledger"
	}

	m := &Metrics{
		LedgerCalls: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ledger_calls_total",
				Help:      "Total number of ledger calls and submissions by outcome",
			},
			[]string{"kind", "function", "outcome"},
		),
		LedgerCallDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ledger_call_duration_seconds",
				Help:      "Ledger round trip time, including confirmation waits for submissions",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 15), // 5ms to ~80s
			},
			[]string{"kind", "operation"},
		),
		TableCommits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "table_commits_total",
				Help:      "Total number of table versions written to the ledger",
			},
			[]string{"network", "table"},
		),
		TableNoops: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "table_noops_total",
				Help:      "Total number of mutations that left the table unchanged",
			},
			[]string{"network", "table"},
		),
		TableConflicts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "table_conflicts_total",
				Help:      "Total number of mutations rejected because the table version moved",
			},
			[]string{"network", "table"},
		),
		TableRows: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "table_rows",
				Help:      "Row count of the last committed table version",
			},
			[]string{"network", "table"},
		),
		TableBytes: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "table_bytes",
				Help:      "Blob size of the last committed table version",
			},
			[]string{"network", "table"},
		),
		Verifications: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "payment_verifications_total",
				Help:      "Total number of payment verifications by outcome",
			},
			[]string{"outcome"},
		),
		JournalPending: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "payment_journal_pending",
				Help:      "Verified payments whose claim update has not been confirmed",
			},
		),
		WalletLookups: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "wallet_lookups_total",
				Help:      "Total number of wallet lookups by result (hit, fallback, miss)",
			},
			[]string{"result"},
		),
		ObserverErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commit_observer_errors_total",
				Help:      "Total number of failed commit observer notifications",
			},
			[]string{"network", "observer"},
		),
		NotifyErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notify_errors_total",
				Help:      "Total number of failed event publications",
			},
			[]string{"event"},
		),
		RetryAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retry_attempts_total",
				Help:      "Total number of retry attempts",
			},
			[]string{"network", "operation"},
		),
	}

	defaultMetrics = m
	return m
}

// Get returns the global metrics instance.
// Returns nil if Init has not been called.
func Get() *Metrics {
	return defaultMetrics
}

// Handler returns the mux serving /metrics and /health.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}

// StartServer starts an HTTP server for Prometheus metrics scraping.
// Blocks until the server exits.
func StartServer(address string) error {
	return http.ListenAndServe(address, Handler())
}

// Labels is a convenience type for metric labels.
type Labels struct {
	Network   string
	Table     string
	Kind      string
	Function  string
	Operation string
	Outcome   string
	Observer  string
	Result    string
	Event     string
}

// ObserveLedgerCall counts a ledger round trip and records its duration.
func (m *Metrics) ObserveLedgerCall(l Labels, seconds float64) {
	m.LedgerCalls.WithLabelValues(l.Kind, l.Function, l.Outcome).Inc()
	m.LedgerCallDuration.WithLabelValues(l.Kind, l.Operation).Observe(seconds)
}

// IncTableCommits increments the table commits counter.
func (m *Metrics) IncTableCommits(l Labels) {
	m.TableCommits.WithLabelValues(l.Network, l.Table).Inc()
}

// IncTableNoops increments the unchanged-mutation counter.
func (m *Metrics) IncTableNoops(l Labels) {
	m.TableNoops.WithLabelValues(l.Network, l.Table).Inc()
}

// IncTableConflicts increments the version conflict counter.
func (m *Metrics) IncTableConflicts(l Labels) {
	m.TableConflicts.WithLabelValues(l.Network, l.Table).Inc()
}

// SetTableSize records the size of the last committed table version.
func (m *Metrics) SetTableSize(l Labels, rows, bytes float64) {
	m.TableRows.WithLabelValues(l.Network, l.Table).Set(rows)
	m.TableBytes.WithLabelValues(l.Network, l.Table).Set(bytes)
}

// IncVerifications increments the verification counter for l.Outcome.
func (m *Metrics) IncVerifications(l Labels) {
	m.Verifications.WithLabelValues(l.Outcome).Inc()
}

// SetJournalPending sets the number of unresolved journal entries.
func (m *Metrics) SetJournalPending(n float64) {
	m.JournalPending.Set(n)
}

// IncWalletLookups increments the wallet lookup counter for l.Result.
func (m *Metrics) IncWalletLookups(l Labels) {
	m.WalletLookups.WithLabelValues(l.Result).Inc()
}

// IncObserverErrors increments the observer errors counter.
func (m *Metrics) IncObserverErrors(l Labels) {
	m.ObserverErrors.WithLabelValues(l.Network, l.Observer).Inc()
}

// IncNotifyErrors increments the notify errors counter.
func (m *Metrics) IncNotifyErrors(l Labels) {
	m.NotifyErrors.WithLabelValues(l.Event).Inc()
}

// IncRetryAttempts increments the retry attempts counter.
func (m *Metrics) IncRetryAttempts(l Labels) {
	m.RetryAttempts.WithLabelValues(l.Network, l.Operation).Inc()
}

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "payledger"

// Outcome labels for payledger_transactions_total.
const (
	OutcomeSuccess = "success"
	OutcomeReplay  = "replay"
	OutcomeFailure = "failure"
)

// Cache result labels for payledger_cache_requests_total.
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"
)

// Recorder owns every collector the service exports. A nil *Recorder is
// valid and records nothing.
type Recorder struct {
	transactions *prometheus.CounterVec
	retries      *prometheus.CounterVec
	cache        *prometheus.CounterVec
	rateLimited  prometheus.Counter
	duration     *prometheus.HistogramVec
}

// NewRecorder builds the collectors and registers them on reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_total",
			Help:      "Ledger operations by operation and outcome.",
		}, []string{"operation", "outcome"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Attempts re-run after an optimistic lock conflict.",
		}, []string{"operation"}),
		cache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_requests_total",
			Help:      "Balance cache lookups by result.",
		}, []string{"result"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_rejected_total",
			Help:      "Requests rejected by the rate limiter.",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transaction_duration_seconds",
			Help:      "Latency of ledger operations including retries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	if reg != nil {
		reg.MustRegister(r.transactions, r.retries, r.cache, r.rateLimited, r.duration)
	}
	return r
}

func (r *Recorder) ObserveTransaction(operation, outcome string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.transactions.WithLabelValues(operation, outcome).Inc()
	r.duration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

func (r *Recorder) IncRetry(operation string) {
	if r == nil {
		return
	}
	r.retries.WithLabelValues(operation).Inc()
}

func (r *Recorder) ObserveCache(result string) {
	if r == nil {
		return
	}
	r.cache.WithLabelValues(result).Inc()
}

func (r *Recorder) IncRateLimited() {
	if r == nil {
		return
	}
	r.rateLimited.Inc()
}

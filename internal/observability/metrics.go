package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce            sync.Once
	httpDurationHistogram   *prometheus.HistogramVec
	ledgerTransitionCounter *prometheus.CounterVec
	idempotencyCounter      *prometheus.CounterVec
	webhookEventCounter     *prometheus.CounterVec
	gatewayCallCounter      *prometheus.CounterVec
	workerRunCounter        *prometheus.CounterVec
	transferFailedCounter   prometheus.Counter
	stuckTransactionsGauge  *prometheus.GaugeVec
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		ledgerTransitionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_transitions_total",
			Help: "Ledger state transitions by target state and CAS outcome",
		}, []string{"to_state", "outcome"})

		idempotencyCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idempotency_events_total",
			Help: "Idempotency middleware outcomes",
		}, []string{"outcome"})

		webhookEventCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Provider webhook deliveries by type and outcome",
		}, []string{"type", "outcome"})

		gatewayCallCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_calls_total",
			Help: "Provider API calls by operation and outcome",
		}, []string{"operation", "outcome"})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		transferFailedCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transfer_failed_total",
			Help: "Transfers that failed after a successful charge (funds stranded, operator action required)",
		})

		stuckTransactionsGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stuck_transactions",
			Help: "Transactions sitting in a non-terminal state past the sweep window",
		}, []string{"state"})

		prometheus.MustRegister(
			httpDurationHistogram,
			ledgerTransitionCounter,
			idempotencyCounter,
			webhookEventCounter,
			gatewayCallCounter,
			workerRunCounter,
			transferFailedCounter,
			stuckTransactionsGauge,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

func IncrementLedgerTransition(toState, outcome string) {
	if ledgerTransitionCounter == nil {
		return
	}
	ledgerTransitionCounter.WithLabelValues(toState, outcome).Inc()
}

func IncrementIdempotencyEvent(outcome string) {
	if idempotencyCounter == nil {
		return
	}
	idempotencyCounter.WithLabelValues(outcome).Inc()
}

func IncrementWebhookEvent(eventType, outcome string) {
	if webhookEventCounter == nil {
		return
	}
	webhookEventCounter.WithLabelValues(eventType, outcome).Inc()
}

func IncrementGatewayCall(operation, outcome string) {
	if gatewayCallCounter == nil {
		return
	}
	gatewayCallCounter.WithLabelValues(operation, outcome).Inc()
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}

func IncrementTransferFailed() {
	if transferFailedCounter == nil {
		return
	}
	transferFailedCounter.Inc()
}

func SetStuckTransactions(state string, count int64) {
	if stuckTransactionsGauge == nil {
		return
	}
	stuckTransactionsGauge.WithLabelValues(state).Set(float64(count))
}

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
	statusTransitionCounter *prometheus.CounterVec
	settlementDeltaCounter  *prometheus.CounterVec
	invariantCounter        *prometheus.CounterVec
	missingTraderCounter    prometheus.Counter
	callbackCounter         *prometheus.CounterVec
	idempotencyCounter      *prometheus.CounterVec
	workerRunCounter        *prometheus.CounterVec
	deviceOfflineCounter    prometheus.Counter
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		statusTransitionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transaction_status_transitions_total",
			Help: "Committed transaction status transitions",
		}, []string{"direction", "to_status"})

		settlementDeltaCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_deltas_applied_total",
			Help: "Ledger balance deltas applied by committed settlements",
		}, []string{"account", "field"})

		invariantCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_invariant_violations_total",
			Help: "Settlements aborted because a balance would go negative",
		}, []string{"stage"})

		missingTraderCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "settlement_missing_trader_total",
			Help: "Payout settlements skipped because the trader record vanished",
		})

		callbackCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "merchant_callbacks_total",
			Help: "Merchant callback delivery outcomes",
		}, []string{"outcome"})

		idempotencyCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idempotency_events_total",
			Help: "Idempotency middleware outcomes",
		}, []string{"outcome"})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		deviceOfflineCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "devices_deactivated_total",
			Help: "Devices flipped offline by the health watchdog",
		})

		prometheus.MustRegister(
			httpDurationHistogram,
			statusTransitionCounter,
			settlementDeltaCounter,
			invariantCounter,
			missingTraderCounter,
			callbackCounter,
			idempotencyCounter,
			workerRunCounter,
			deviceOfflineCounter,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

func IncrementStatusTransition(direction, toStatus string) {
	if statusTransitionCounter == nil {
		return
	}
	statusTransitionCounter.WithLabelValues(direction, toStatus).Inc()
}

func IncrementSettlementDelta(account, field string) {
	if settlementDeltaCounter == nil {
		return
	}
	settlementDeltaCounter.WithLabelValues(account, field).Inc()
}

func IncrementInvariantViolation(stage string) {
	if invariantCounter == nil {
		return
	}
	invariantCounter.WithLabelValues(stage).Inc()
}

func IncrementMissingTrader() {
	if missingTraderCounter == nil {
		return
	}
	missingTraderCounter.Inc()
}

func IncrementCallback(outcome string) {
	if callbackCounter == nil {
		return
	}
	callbackCounter.WithLabelValues(outcome).Inc()
}

func IncrementIdempotencyEvent(outcome string) {
	if idempotencyCounter == nil {
		return
	}
	idempotencyCounter.WithLabelValues(outcome).Inc()
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}

func IncrementDeviceDeactivated() {
	if deviceOfflineCounter == nil {
		return
	}
	deviceOfflineCounter.Inc()
}

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	StockOps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_operations_total",
		Help: "Stock reserve/release calls by outcome",
	}, []string{"operation", "outcome"})
	LockTimeouts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lock_acquire_timeouts_total",
		Help: "Lease acquisitions that exceeded their wait budget",
	})
	SagaRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "saga_runs_total",
		Help: "Saga executions by outcome (ok, aborted, compensation_failed)",
	}, []string{"saga", "outcome"})
	SyncApplied = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_events_applied_total",
		Help: "Data-sync events applied to the durable store",
	}, []string{"data_type", "result"})
	SyncPublishFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sync_publish_failures_total",
		Help: "Cache mutations whose sync event could not be published",
	})
	DLQCount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dlq_messages_total",
		Help: "Total number of messages sent to DLQ",
	}, []string{"topic"})
	Webhooks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_webhooks_total",
		Help: "Gateway callbacks by trade status and reply",
	}, []string{"trade_status", "reply"})
)

func init() {
	prometheus.MustRegister(StockOps, LockTimeouts, SagaRuns, SyncApplied, SyncPublishFailures, DLQCount, Webhooks)
}

// Serve starts a /metrics endpoint on addr (e.g. :2112). Empty addr disables it.
func Serve(addr string) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}

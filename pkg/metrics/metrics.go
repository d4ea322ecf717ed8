package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"k8s.io/klog/v2"
)

var (
	DispatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gpusched_dispatches_total",
		Help: "Jobs moved QUEUED->DISPATCHED, per pool and isolation class.",
	}, []string{"pool", "class"})

	DispatchConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gpusched_dispatch_conflicts_total",
		Help: "Dispatch attempts that lost the conditional update race.",
	})

	DispatchPublishFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gpusched_dispatch_publish_failures_total",
		Help: "Dispatch notifications that failed to publish and were compensated.",
	})

	StaleRequeuesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gpusched_stale_requeues_total",
		Help: "Jobs reset from DISPATCHED back to QUEUED by the stale-dispatch sweep.",
	})

	ExecutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gpusched_executions_total",
		Help: "Executed jobs by terminal outcome.",
	}, []string{"outcome"})

	ExecutionSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gpusched_execution_seconds",
		Help:    "Wall-clock execution duration of jobs.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
	})
)

// Serve exposes /metrics and /healthz on addr. It never returns except on
// listener failure, so callers run it in a goroutine.
func Serve(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		klog.Errorf("metrics server: %v", err)
	}
}

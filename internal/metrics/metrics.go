// Package metrics provides Prometheus metrics for the checkpoint engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Capture metrics
	capturesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anyon_checkpoint_captures_total",
			Help: "Total number of checkpoint captures",
		},
		[]string{"result"},
	)

	captureDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "anyon_checkpoint_capture_duration_seconds",
			Help:    "Time to scan, hash and commit a checkpoint",
			Buckets: prometheus.DefBuckets,
		},
	)

	blobsWrittenTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "anyon_content_blobs_written_total",
			Help: "Total blobs added to the content store",
		},
	)

	bytesStoredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "anyon_content_bytes_stored_total",
			Help: "Total uncompressed bytes added to the content store",
		},
	)

	// Revert metrics
	revertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anyon_checkpoint_reverts_total",
			Help: "Total number of reverts",
		},
		[]string{"result"},
	)

	// Eviction metrics
	evictedCheckpointsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "anyon_checkpoint_evicted_total",
			Help: "Total checkpoints removed by cleanup",
		},
	)

	releasedBlobsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "anyon_content_blobs_released_total",
			Help: "Total blobs deleted by cleanup",
		},
	)

	sweptBlobsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "anyon_content_orphans_swept_total",
			Help: "Total orphaned blob files removed by sweeps",
		},
	)

	// Strategy metrics
	strategyDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anyon_strategy_decisions_total",
			Help: "Session events evaluated by the checkpoint strategy",
		},
		[]string{"strategy", "event", "fired"},
	)

	// Watcher metrics
	watchBatchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "anyon_watch_batches_total",
			Help: "Debounced file change batches delivered by the watcher",
		},
	)

	// Transport metrics
	rpcCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anyon_rpc_calls_total",
			Help: "Total websocket RPC calls",
		},
		[]string{"method", "status"},
	)

	rpcCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "anyon_rpc_call_duration_seconds",
			Help:    "Websocket RPC call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	wsClientsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "anyon_websocket_clients_active",
			Help: "Number of connected websocket clients",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordCapture records one capture attempt.
func RecordCapture(result string, duration time.Duration, blobs int, bytes int64) {
	capturesTotal.WithLabelValues(result).Inc()
	captureDuration.Observe(duration.Seconds())
	blobsWrittenTotal.Add(float64(blobs))
	bytesStoredTotal.Add(float64(bytes))
}

// RecordRevert records a revert outcome: ok, rolled_back or error.
func RecordRevert(result string) {
	revertsTotal.WithLabelValues(result).Inc()
}

// RecordEviction records checkpoints and blobs removed by one cleanup.
func RecordEviction(checkpoints, blobs int) {
	evictedCheckpointsTotal.Add(float64(checkpoints))
	releasedBlobsTotal.Add(float64(blobs))
}

// RecordSweep records orphaned blob files removed.
func RecordSweep(n int) {
	sweptBlobsTotal.Add(float64(n))
}

// RecordStrategyDecision records one strategy evaluation.
func RecordStrategyDecision(strategy, event string, fired bool) {
	f := "false"
	if fired {
		f = "true"
	}
	strategyDecisionsTotal.WithLabelValues(strategy, event, f).Inc()
}

// RecordWatchBatch records a delivered watcher batch.
func RecordWatchBatch() {
	watchBatchesTotal.Inc()
}

// RecordRPCCall records a websocket RPC call.
func RecordRPCCall(method string, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	rpcCallsTotal.WithLabelValues(method, status).Inc()
	rpcCallDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// SetWebsocketClients sets the number of connected websocket clients.
func SetWebsocketClients(n int) {
	wsClientsActive.Set(float64(n))
}

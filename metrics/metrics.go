// Package metrics registers the handful of Prometheus gauges/counters this
// node exposes for operational visibility (A4, SPEC_FULL §4): round
// duration, per-worker watermark, per-worker queue depth. Registration
// only -- the HTTP server that scrapes these is an external collaborator
// (spec §1), matching `jeongkyun-oh-klaytn/cmd/kcn/main.go`'s use of
// `github.com/prometheus/client_golang/prometheus`.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// RoundDuration observes the wall-clock time of one §4.4 pull round.
	RoundDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "torrentnode_round_duration_seconds",
		Help:    "Duration of one block-source pull round.",
		Buckets: prometheus.DefBuckets,
	})

	// WorkerWatermark is a gauge per worker name, mirroring its durable
	// watermark. Never read by indexing logic itself (SPEC_FULL Glossary
	// "Watermark gauge").
	WorkerWatermark = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "torrentnode_worker_watermark",
		Help: "Last block height durably applied by a worker.",
	}, []string{"worker"})

	// WorkerQueueDepth is a gauge per worker name, mirroring its in-memory
	// queue length.
	WorkerQueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "torrentnode_worker_queue_depth",
		Help: "Number of blocks queued but not yet applied by a worker.",
	}, []string{"worker"})
)

func init() {
	prometheus.MustRegister(RoundDuration, WorkerWatermark, WorkerQueueDepth)
}

// WatermarkSource is implemented by every C7/C8/C9-shaped worker.
type WatermarkSource interface {
	GetInitBlockNumber() uint64
	QueueDepth() int
}

// Sample reads name's current watermark/queue-depth off w and sets the
// corresponding gauges. Callers are expected to call this periodically
// (e.g. once per pull round) rather than on every block, since it is
// observability, not a hot-path dependency.
func Sample(name string, w WatermarkSource) {
	WorkerWatermark.WithLabelValues(name).Set(float64(w.GetInitBlockNumber()))
	WorkerQueueDepth.WithLabelValues(name).Set(float64(w.QueueDepth()))
}

// Package metrics holds the Prometheus counters of the key-share backup system.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	splitCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keyshare_splits_total",
			Help: "Total number of private key splits, by result.",
		},
		[]string{"result"}, // success, failure
	)

	transitionCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keyshare_send_transitions_total",
			Help: "Total number of persisted send status transitions, by target status.",
		},
		[]string{"status"},
	)

	scanCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keyshare_scans_total",
			Help: "Total number of scanned key part payloads, by outcome.",
		},
		[]string{"outcome"}, // accepted, duplicate, malformed, rejected, failure
	)

	restoreCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keyshare_restores_total",
			Help: "Total number of backup restore attempts, by result.",
		},
		[]string{"result"}, // success, reconstruction, decryption
	)

	blobWriteCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keyshare_blob_writes_total",
			Help: "Total number of backup writes to cloud storage, by backend and result.",
		},
		[]string{"backend", "result"},
	)
)

// Handler serves the metrics in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

func IncSplit(result string) {
	splitCount.WithLabelValues(result).Inc()
}

func IncTransition(status string) {
	transitionCount.WithLabelValues(status).Inc()
}

func IncScan(outcome string) {
	scanCount.WithLabelValues(outcome).Inc()
}

func IncRestore(result string) {
	restoreCount.WithLabelValues(result).Inc()
}

func IncBlobWrite(backend, result string) {
	blobWriteCount.WithLabelValues(backend, result).Inc()
}

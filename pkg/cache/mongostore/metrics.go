package mongostore

import (
	"time"

	"github.com/nimburion/autocache-mongo/pkg/cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	storeOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autocache_store_operations_total",
			Help: "Total cache store operations by outcome.",
		},
		[]string{"operation", "result"},
	)
	storeOperationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "autocache_store_operation_duration_seconds",
			Help:    "Cache store operation latency in seconds.",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
		},
		[]string{"operation"},
	)
	storeConnectionState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "autocache_store_connection_state",
			Help: "Connection state per store (0 disconnected, 1 connecting, 2 connected).",
		},
		[]string{"collection", "prefix"},
	)
)

const (
	resultOK           = "ok"
	resultHit          = "hit"
	resultMiss         = "miss"
	resultError        = "error"
	resultNotConnected = "not_connected"
)

func observeOperation(operation, result string, start time.Time) {
	storeOperationsTotal.WithLabelValues(operation, result).Inc()
	storeOperationSeconds.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// setConnectionState publishes the state under the store's collection and prefix,
// so stores sharing a collection report separately.
func (s *Store) setConnectionState(state cache.State) {
	storeConnectionState.WithLabelValues(s.cfg.Collection, s.cfg.Prefix).Set(float64(state))
}

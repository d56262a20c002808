package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds the Prometheus instruments for the shopping backend.
//
// Metrics:
//   - shopping_mutations_total{op,result} - mutations by operation and outcome kind
//   - shopping_mutation_duration_seconds{op} - mutation latency
//   - shopping_realtime_streams - open current-list projections
//   - shopping_websocket_clients - connected websocket clients
type Metrics struct {
	MutationsTotal   *prometheus.CounterVec
	MutationDuration *prometheus.HistogramVec
	RealtimeStreams  prometheus.Gauge
	WebsocketClients prometheus.Gauge
}

// New registers the instruments on the default registry once and returns them.
func New() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			MutationsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "shopping_mutations_total",
					Help: "Total number of shopping list mutations",
				},
				[]string{"op", "result"},
			),
			MutationDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "shopping_mutation_duration_seconds",
					Help:    "Duration of shopping list mutations in seconds",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"op"},
			),
			RealtimeStreams: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "shopping_realtime_streams",
					Help: "Number of open current list subscriptions",
				},
			),
			WebsocketClients: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "shopping_websocket_clients",
					Help: "Number of connected websocket clients",
				},
			),
		}
	})
	return globalMetrics
}

// ObserveMutation records one finished mutation. result is "ok" or an error kind.
func (m *Metrics) ObserveMutation(op, result string, started time.Time) {
	if m == nil {
		return
	}
	m.MutationsTotal.WithLabelValues(op, result).Inc()
	m.MutationDuration.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

package coordinator

import (
	"github.com/catalogfi/xswap/pkg/store"
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	registry *prometheus.Registry

	orders          *prometheus.GaugeVec
	resolvers       prometheus.Gauge
	submitted       prometheus.Counter
	secretsReleased prometheus.Counter
	secretsWithheld *prometheus.CounterVec
	failures        prometheus.Counter
	chainEvents     *prometheus.CounterVec
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		orders: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "xswap",
			Name:      "orders",
			Help:      "Number of orders per coordinator status.",
		}, []string{"status"}),
		resolvers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "xswap",
			Name:      "connected_resolvers",
			Help:      "Number of resolvers connected over websocket.",
		}),
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "xswap",
			Name:      "orders_submitted_total",
			Help:      "Orders accepted by the orderbook.",
		}),
		secretsReleased: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "xswap",
			Name:      "secrets_released_total",
			Help:      "Secrets relayed to resolvers.",
		}),
		secretsWithheld: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xswap",
			Name:      "secrets_withheld_total",
			Help:      "Secret submissions refused, by reason.",
		}, []string{"reason"}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "xswap",
			Name:      "execution_failures_total",
			Help:      "Execution failures reported by resolvers.",
		}),
		chainEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xswap",
			Name:      "chain_events_total",
			Help:      "Chain events observed, by kind.",
		}, []string{"kind"}),
	}
	m.registry.MustRegister(m.orders, m.resolvers, m.submitted, m.secretsReleased, m.secretsWithheld, m.failures, m.chainEvents)
	return m
}

func (m *metrics) setCounts(counts map[store.Status]int64) {
	for status, count := range counts {
		m.orders.WithLabelValues(string(status)).Set(float64(count))
	}
}

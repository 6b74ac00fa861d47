package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics implements orders.Metrics and carries the HTTP and projector
// collectors. All collectors are registered on the supplied registerer.
type Metrics struct {
	Requests  *prometheus.CounterVec
	LatencyMS *prometheus.HistogramVec

	ordersCreated   *prometheus.CounterVec
	failures        *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	movements       *prometheus.CounterVec
	movementUnits   *prometheus.CounterVec
	txRetries       prometheus.Counter
	projectedEvents *prometheus.CounterVec
}

func New(service string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orders",
			Subsystem: service,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"handler", "status"}),
		LatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "orders",
			Subsystem: service,
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"handler"}),
		ordersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orders",
			Subsystem: service,
			Name:      "created_total",
			Help:      "Orders created, by payment type.",
		}, []string{"payment_type"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orders",
			Subsystem: service,
			Name:      "operation_failures_total",
			Help:      "Failed core operations, by operation and error kind.",
		}, []string{"op", "kind"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orders",
			Subsystem: service,
			Name:      "status_transitions_total",
			Help:      "Committed status transitions, by edge.",
		}, []string{"from", "to"}),
		movements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orders",
			Subsystem: service,
			Name:      "stock_movements_total",
			Help:      "Ledger rows appended, by kind.",
		}, []string{"kind"}),
		movementUnits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orders",
			Subsystem: service,
			Name:      "stock_movement_units_total",
			Help:      "Absolute units moved through the ledger, by kind.",
		}, []string{"kind"}),
		txRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "orders",
			Subsystem: service,
			Name:      "tx_retries_total",
			Help:      "Units of work re-run after lock or serialization contention.",
		}),
		projectedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orders",
			Subsystem: service,
			Name:      "projected_events_total",
			Help:      "Events seen by the status projector, by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.Requests, m.LatencyMS, m.ordersCreated, m.failures, m.transitions,
		m.movements, m.movementUnits, m.txRetries, m.projectedEvents)
	return m
}

func (m *Metrics) OrderCreated(paymentType string) {
	m.ordersCreated.WithLabelValues(paymentType).Inc()
}

func (m *Metrics) OperationFailed(op, kind string) {
	m.failures.WithLabelValues(op, kind).Inc()
}

func (m *Metrics) StatusChanged(from, to string) {
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) MovementRecorded(kind string, delta int) {
	m.movements.WithLabelValues(kind).Inc()
	if delta < 0 {
		delta = -delta
	}
	m.movementUnits.WithLabelValues(kind).Add(float64(delta))
}

// TxRetry matches the postgres.OnRetry callback signature.
func (m *Metrics) TxRetry(int, error) {
	m.txRetries.Inc()
}

func (m *Metrics) EventProjected(outcome string) {
	m.projectedEvents.WithLabelValues(outcome).Inc()
}

func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

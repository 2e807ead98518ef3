package core

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder exports operation counters, latencies and consumed
// meters through a Prometheus registry.
type PrometheusRecorder struct {
	operations *prometheus.CounterVec
	durations  *prometheus.HistogramVec
	consumed   *prometheus.CounterVec
}

var (
	_ MetricsRecorder     = (*PrometheusRecorder)(nil)
	_ ConsumptionRecorder = (*PrometheusRecorder)(nil)
)

// NewPrometheusRecorder registers the cutledger collectors on reg. A nil reg
// uses the default registerer.
func NewPrometheusRecorder(reg prometheus.Registerer) (*PrometheusRecorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	r := &PrometheusRecorder{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cutledger_operations_total",
			Help: "Service operations by outcome.",
		}, []string{"operation", "status"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cutledger_operation_duration_seconds",
			Help:    "Service operation latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		consumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cutledger_meters_consumed_total",
			Help: "Fabric meters debited by committed cuts and recuts.",
		}, []string{"article", "kind"}),
	}
	for _, c := range []prometheus.Collector{r.operations, r.durations, r.consumed} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Observe records a service operation outcome.
func (r *PrometheusRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	status := "error"
	if success {
		status = "success"
	}
	r.operations.WithLabelValues(operation, status).Inc()
	r.durations.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObserveConsumption adds committed meters for article.
func (r *PrometheusRecorder) ObserveConsumption(article, kind string, meters float64) {
	if meters <= 0 {
		return
	}
	r.consumed.WithLabelValues(article, kind).Add(meters)
}

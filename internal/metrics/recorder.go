// internal/metrics/recorder.go
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "license"

// Recorder owns the service's Prometheus collectors. Every method is safe to
// call on a nil *Recorder, which records nothing.
type Recorder struct {
	registry *prometheus.Registry

	operations        *prometheus.CounterVec
	validations       *prometheus.CounterVec
	commissionAccrued prometheus.Counter
	expiredSwept      prometheus.Counter
	requestDuration   *prometheus.HistogramVec
}

func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "License lifecycle operations by outcome",
			},
			[]string{"operation", "outcome"},
		),
		validations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "validations_total",
				Help:      "License validations by result",
			},
			[]string{"result"},
		),
		commissionAccrued: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commission_accrued_total",
				Help:      "Sum of agent commission accrued on activation",
			},
		),
		expiredSwept: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "expired_swept_total",
				Help:      "Licenses moved to expired by the background sweeper",
			},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
	}
}

func (r *Recorder) Operation(operation string, err error) {
	if r == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	r.operations.WithLabelValues(operation, outcome).Inc()
}

// Validation records a validation outcome. reason is empty for valid licenses.
func (r *Recorder) Validation(reason string) {
	if r == nil {
		return
	}
	if reason == "" {
		reason = "valid"
	}
	r.validations.WithLabelValues(reason).Inc()
}

func (r *Recorder) CommissionAccrued(amount float64) {
	if r == nil || amount <= 0 {
		return
	}
	r.commissionAccrued.Add(amount)
}

func (r *Recorder) ExpiredSwept(n int64) {
	if r == nil || n <= 0 {
		return
	}
	r.expiredSwept.Add(float64(n))
}

func (r *Recorder) ObserveRequest(method, route, status string, d time.Duration) {
	if r == nil {
		return
	}
	r.requestDuration.WithLabelValues(method, route, status).Observe(d.Seconds())
}

func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

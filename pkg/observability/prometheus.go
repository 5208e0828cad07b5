package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusCollector holds the client exchange metrics.
type PrometheusCollector struct {
	reqCount   *prometheus.CounterVec
	reqDurHist *prometheus.HistogramVec
	inFlight   prometheus.Gauge
	registry   *prometheus.Registry
}

// NewPrometheusCollector creates and registers the exchange metrics on a
// private registry.
func NewPrometheusCollector() *PrometheusCollector {
	reg := prometheus.NewRegistry()

	reqCount := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apiclient_requests_total",
			Help: "Total number of API exchanges by outcome",
		},
		[]string{"method", "outcome"},
	)
	reqDurHist := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "apiclient_request_duration_seconds",
			Help:    "Histogram of API exchange durations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
	inFlight := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "apiclient_in_flight_requests",
		Help: "Current number of in-flight API exchanges",
	})

	reg.MustRegister(reqCount, reqDurHist, inFlight)

	return &PrometheusCollector{
		reqCount:   reqCount,
		reqDurHist: reqDurHist,
		inFlight:   inFlight,
		registry:   reg,
	}
}

// ExchangeStarted marks one exchange as in flight.
func (pc *PrometheusCollector) ExchangeStarted(string) {
	pc.inFlight.Inc()
}

// ExchangeFinished records the outcome and latency of one exchange.
func (pc *PrometheusCollector) ExchangeFinished(method, outcome string, elapsed time.Duration) {
	pc.inFlight.Dec()
	pc.reqCount.WithLabelValues(method, outcome).Inc()
	pc.reqDurHist.WithLabelValues(method).Observe(elapsed.Seconds())
}

// Registry exposes the underlying registry, e.g. for testutil or a pusher.
func (pc *PrometheusCollector) Registry() *prometheus.Registry {
	return pc.registry
}

// Handler serves the collected metrics in the Prometheus text format.
func (pc *PrometheusCollector) Handler() http.Handler {
	return promhttp.HandlerFor(pc.registry, promhttp.HandlerOpts{})
}

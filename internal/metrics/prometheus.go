package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var defaultBuckets = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// Exporter exposes gateway counters on a private Prometheus registry.
type Exporter struct {
	registry *prometheus.Registry

	requestsTotal       *prometheus.CounterVec
	requestDuration     *prometheus.HistogramVec
	cacheHits           prometheus.Counter
	cacheMisses         prometheus.Counter
	rateLimitRejections *prometheus.CounterVec
	authFailures        *prometheus.CounterVec
}

// NewExporter builds the registry and registers all collectors. sessions,
// when non-nil, backs an active-session gauge.
func NewExporter(sessions func() int) *Exporter {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	e := &Exporter{
		registry: reg,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "axis",
			Name:      "requests_total",
			Help:      "Requests handled, by route, method and status.",
		}, []string{"route", "method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "axis",
			Name:      "request_duration_seconds",
			Help:      "End-to-end request latency.",
			Buckets:   defaultBuckets,
		}, []string{"route", "method"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "axis",
			Name:      "cache_hits_total",
			Help:      "Responses served from the response cache.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "axis",
			Name:      "cache_misses_total",
			Help:      "Cacheable requests that missed the response cache.",
		}),
		rateLimitRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "axis",
			Name:      "ratelimit_rejections_total",
			Help:      "Requests rejected by the rate limiter.",
		}, []string{"route"}),
		authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "axis",
			Name:      "auth_failures_total",
			Help:      "Requests rejected during authentication or authorization.",
		}, []string{"route", "reason"}),
	}
	reg.MustRegister(
		e.requestsTotal,
		e.requestDuration,
		e.cacheHits,
		e.cacheMisses,
		e.rateLimitRejections,
		e.authFailures,
	)

	if sessions != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "axis",
			Name:      "active_sessions",
			Help:      "Sessions currently held by the authorization engine.",
		}, func() float64 { return float64(sessions()) }))
	}
	return e
}

// ObserveRequest records a completed request.
func (e *Exporter) ObserveRequest(route, method string, status int, duration time.Duration) {
	e.requestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	e.requestDuration.WithLabelValues(route, method).Observe(duration.Seconds())
}

// ObserveCache records a response-cache lookup outcome.
func (e *Exporter) ObserveCache(hit bool) {
	if hit {
		e.cacheHits.Inc()
	} else {
		e.cacheMisses.Inc()
	}
}

// ObserveRateLimited records a 429 rejection.
func (e *Exporter) ObserveRateLimited(route string) {
	e.rateLimitRejections.WithLabelValues(route).Inc()
}

// ObserveAuthFailure records a 401 or 403. reason is "unauthenticated" or
// "forbidden".
func (e *Exporter) ObserveAuthFailure(route, reason string) {
	e.authFailures.WithLabelValues(route, reason).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

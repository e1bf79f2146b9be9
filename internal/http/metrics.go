package httpx

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/splax/actioncounter/internal/service/webhook"
)

var (
	histogramBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5}
)

func (r *Router) initMetrics() {
	r.metricsOnce.Do(func() {
		r.requestTotal = register(prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "actioncounter",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Count of processed HTTP requests",
		}, []string{"method", "route", "status"}))

		r.requestLatency = register(prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "actioncounter",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency distribution of HTTP handlers",
			Buckets:   histogramBuckets,
		}, []string{"method", "route", "status"}))

		r.rateLimitHits = register(prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "actioncounter",
			Subsystem: "http",
			Name:      "rate_limit_hits_total",
			Help:      "Number of rate-limited responses",
		}, []string{"route", "key"}))

		r.webhookOutcomes = register(prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "actioncounter",
			Subsystem: "webhook",
			Name:      "deliveries_total",
			Help:      "Webhook deliveries by event kind and outcome",
		}, []string{"event", "outcome"}))

		r.adminReloads = register(prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "actioncounter",
			Subsystem: "reload",
			Name:      "admin_triggers_total",
			Help:      "Admin-triggered reloads by result",
		}, []string{"result"}))

		r.metricsInitialized = true
	})
}

// register adds c to the default registry, reusing an identical collector
// that is already registered.
func register[T prometheus.Collector](c T) T {
	if err := prometheus.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return c
}

func (r *Router) recordRequestMetrics(method, route string, status int, duration time.Duration) {
	if !r.metricsInitialized {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"route":  route,
		"status": strconv.Itoa(status),
	}
	r.requestTotal.With(labels).Inc()
	r.requestLatency.With(labels).Observe(duration.Seconds())
}

func (r *Router) recordRateLimitHit(route, key string) {
	if !r.metricsInitialized {
		return
	}
	r.rateLimitHits.With(prometheus.Labels{"route": route, "key": key}).Inc()
}

func (r *Router) recordWebhookOutcome(event, outcome string) {
	if !r.metricsInitialized {
		return
	}
	if webhook.Classify(event) == webhook.KindUnrecognized {
		event = "other"
	}
	r.webhookOutcomes.With(prometheus.Labels{"event": event, "outcome": outcome}).Inc()
}

func (r *Router) recordAdminReload(result string) {
	if !r.metricsInitialized {
		return
	}
	r.adminReloads.With(prometheus.Labels{"result": result}).Inc()
}

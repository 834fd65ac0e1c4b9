// Package metrics exposes Prometheus instruments for the webhook, payment and
// subscription flows.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "paygate"

// Recorder is what the rest of the module records into.
type Recorder interface {
	// ObserveEvent counts one processed webhook event by type and outcome.
	ObserveEvent(eventType, outcome string)
	// IncTransition counts a subscription status change.
	IncTransition(from, to string)
	// ObservePayment records a LINE Pay call.
	ObservePayment(op string, err error, took time.Duration)
	// IncConfirm counts confirmation callbacks by result.
	IncConfirm(result string)
	// SetArmedTimers reports the number of pending expiry timers.
	SetArmedTimers(n int)
	// IncExpired counts fired expiries.
	IncExpired()
	// IncOutbound counts asynchronous outbound sends by action and result.
	IncOutbound(action string, err error)
	// ObserveHTTP records one served HTTP request.
	ObserveHTTP(route string, code int, took time.Duration)
}

type promRecorder struct {
	events      *prometheus.CounterVec
	transitions *prometheus.CounterVec
	payCalls    *prometheus.CounterVec
	payLatency  *prometheus.HistogramVec
	confirms    *prometheus.CounterVec
	timers      prometheus.Gauge
	expired     prometheus.Counter
	outbound    *prometheus.CounterVec
	httpReqs    *prometheus.CounterVec
	httpLatency *prometheus.HistogramVec
}

// New registers all instruments plus the Go and process collectors on registry.
func New(registry *prometheus.Registry) Recorder {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(registry)

	return &promRecorder{
		events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Webhook events processed, by event type and outcome.",
		}, []string{"type", "outcome"}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscription_transitions_total",
			Help:      "Subscription status changes.",
		}, []string{"from", "to"}),
		payCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "linepay_requests_total",
			Help:      "LINE Pay API calls by operation and status.",
		}, []string{"op", "status"}),
		payLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "linepay_request_duration_seconds",
			Help:      "LINE Pay API call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		confirms: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_confirmations_total",
			Help:      "Payment confirmation callbacks by result.",
		}, []string{"result"}),
		timers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "expiry_timers_armed",
			Help:      "Pending subscription expiry timers.",
		}),
		expired: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriptions_expired_total",
			Help:      "Subscriptions reverted to inactive by the expiry timer.",
		}),
		outbound: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_messages_total",
			Help:      "Queued outbound sends by action and status.",
		}, []string{"action", "status"}),
		httpReqs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		httpLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

func (m *promRecorder) ObserveEvent(eventType, outcome string) {
	m.events.WithLabelValues(eventType, outcome).Inc()
}

func (m *promRecorder) IncTransition(from, to string) {
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *promRecorder) ObservePayment(op string, err error, took time.Duration) {
	m.payCalls.WithLabelValues(op, statusLabel(err)).Inc()
	m.payLatency.WithLabelValues(op).Observe(took.Seconds())
}

func (m *promRecorder) IncConfirm(result string) {
	m.confirms.WithLabelValues(result).Inc()
}

func (m *promRecorder) SetArmedTimers(n int) {
	m.timers.Set(float64(n))
}

func (m *promRecorder) IncExpired() {
	m.expired.Inc()
}

func (m *promRecorder) IncOutbound(action string, err error) {
	m.outbound.WithLabelValues(action, statusLabel(err)).Inc()
}

func (m *promRecorder) ObserveHTTP(route string, code int, took time.Duration) {
	m.httpReqs.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.httpLatency.WithLabelValues(route).Observe(took.Seconds())
}

func statusLabel(err error) string {
	if err != nil {
		return "fail"
	}
	return "ok"
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}

// Noop discards every observation.
func Noop() Recorder { return noop{} }

type noop struct{}

func (noop) ObserveEvent(string, string)                 {}
func (noop) IncTransition(string, string)                {}
func (noop) ObservePayment(string, error, time.Duration) {}
func (noop) IncConfirm(string)                           {}
func (noop) SetArmedTimers(int)                          {}
func (noop) IncExpired()                                 {}
func (noop) IncOutbound(string, error)                   {}
func (noop) ObserveHTTP(string, int, time.Duration)      {}

// Package metrics exports client call metrics to Prometheus.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stripekit/client"
)

// Collector implements client.Observer on top of Prometheus vectors.
type Collector struct {
	// AttemptsTotal counts HTTP attempts by outcome (2xx, 4xx, 5xx, transport)
	AttemptsTotal *prometheus.CounterVec

	// CallsTotal counts finished logical calls by result (success or an error kind)
	CallsTotal *prometheus.CounterVec

	// APIErrorsTotal counts final Stripe API errors by type and code
	APIErrorsTotal *prometheus.CounterVec

	// CallDuration tracks the latency of logical calls including backoff
	CallDuration *prometheus.HistogramVec
}

var _ client.Observer = (*Collector)(nil)

// NewCollector registers the stripekit metrics with reg. Registering twice on
// the same registry panics.
func NewCollector(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		AttemptsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stripekit_attempts_total",
				Help: "Total number of HTTP attempts",
			},
			[]string{"method", "outcome"},
		),
		CallsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stripekit_calls_total",
				Help: "Total number of logical API calls",
			},
			[]string{"method", "result"},
		),
		APIErrorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stripekit_api_errors_total",
				Help: "Total number of calls that ended with a Stripe API error",
			},
			[]string{"type", "code"},
		),
		CallDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stripekit_call_duration_seconds",
				Help:    "Logical call latency in seconds, retries and backoff included",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
	}
}

func (c *Collector) OnAttempt(info client.AttemptInfo) {
	c.AttemptsTotal.WithLabelValues(info.Method, attemptOutcome(info.Status)).Inc()
}

func (c *Collector) OnComplete(info client.CallInfo) {
	result := "success"
	if !info.Succeeded() {
		result = info.ErrorKind().String()
	}
	c.CallsTotal.WithLabelValues(info.Method, result).Inc()
	c.CallDuration.WithLabelValues(info.Method).Observe(info.Duration.Seconds())

	if apiErr := info.APIError(); apiErr != nil {
		code := apiErr.RawCode
		if code == "" {
			code = "none"
		}
		c.APIErrorsTotal.WithLabelValues(string(apiErr.Type), code).Inc()
	}
}

// attemptOutcome buckets a status into a low-cardinality label.
func attemptOutcome(status int) string {
	if status == 0 {
		return "transport"
	}
	return strconv.Itoa(status/100) + "xx"
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

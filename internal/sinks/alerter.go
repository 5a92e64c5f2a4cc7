package sinks

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"lookout/internal/event"
	"lookout/pkg/clients"
	"lookout/pkg/logging"
)

const alertHTTPTimeout = 10 * time.Second

// AlertSink delivers one alert to an external channel. Implementations
// are stateless beyond their configuration; retries are not attempted.
type AlertSink interface {
	Name() string
	Send(ctx context.Context, msg *AlertMessage) error
}

// Metrics are the optional per-sink Prometheus counters. Nil members are
// skipped.
type Metrics struct {
	Deliveries *prometheus.CounterVec // labelled by sink, outcome
	Duration   *prometheus.HistogramVec
}

// Alerter wraps an AlertSink with its rate limiter, delivery deadline
// and outcome accounting. Each alert channel gets its own Alerter and
// its own bus subscription.
type Alerter struct {
	sink    AlertSink
	limiter *RateLimiter
	logger  logrus.FieldLogger
	metrics Metrics
	timeout time.Duration
}

// NewAlerter wires a sink behind a fresh rate limiter.
func NewAlerter(sink AlertSink, limit int, window time.Duration, logger logging.Logger, metrics Metrics) *Alerter {
	return &Alerter{
		sink:    sink,
		limiter: NewRateLimiter(limit, window),
		logger:  logger.WithField("sink", sink.Name()),
		metrics: metrics,
		timeout: alertHTTPTimeout,
	}
}

// Handle is the bus handler: build the alert payload, pass the rate
// limiter, deliver. A failed delivery is logged and still consumes rate
// budget.
func (a *Alerter) Handle(e *event.Event) {
	if !a.limiter.Allow() {
		a.markOutcome("rate_limited")
		if a.limiter.MarkDropped() {
			a.logger.WithFields(logging.Fields{
				"event_type": string(e.Kind),
				"username":   e.User.Username,
			}).Warn("Alert rate limit reached, dropping events this window")
		}
		return
	}

	msg := NewAlertMessage(e)
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	start := time.Now()
	err := a.sink.Send(ctx, msg)
	if a.metrics.Duration != nil {
		a.metrics.Duration.WithLabelValues(a.sink.Name()).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		a.markOutcome("error")
		a.logger.WithError(err).WithField("event_type", msg.EventType).Error("Alert delivery failed")
		return
	}
	a.markOutcome("delivered")
}

func (a *Alerter) markOutcome(outcome string) {
	if a.metrics.Deliveries != nil {
		a.metrics.Deliveries.WithLabelValues(a.sink.Name(), outcome).Inc()
	}
}

// newAlertHTTPClient is the shared HTTP client constructor for the alert
// sinks.
func newAlertHTTPClient() *http.Client {
	return &http.Client{
		Transport: clients.DefaultTransport(),
		Timeout:   alertHTTPTimeout,
	}
}

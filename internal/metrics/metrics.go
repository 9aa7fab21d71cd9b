// Package metrics exposes prometheus instruments for a store.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Skip reasons.
const (
	ReasonSelf         = "self"
	ReasonUnsubscribed = "unsubscribed"
	ReasonUndecodable  = "undecodable"
)

// Collector groups the store's instruments. A nil *Collector is valid and
// records nothing.
type Collector struct {
	Published      prometheus.Counter
	PublishErrors  prometheus.Counter
	Delivered      prometheus.Counter
	Skipped        *prometheus.CounterVec
	HandlerPanics  prometheus.Counter
	PollRetries    prometheus.Counter
	PendingPublish prometheus.Gauge
	Subscriptions  prometheus.Gauge
}

// New creates the instruments and registers them with reg when it is not nil.
func New(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		Published: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "busstore_published_total",
			Help: "Envelopes handed to the producer",
		}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "busstore_publish_errors_total",
			Help: "Envelopes that failed to pack or send",
		}),
		Delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "busstore_delivered_total",
			Help: "Envelopes dispatched to a local handler",
		}),
		Skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "busstore_skipped_total",
			Help: "Messages committed without dispatch by reason",
		}, []string{"reason"}),
		HandlerPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "busstore_handler_panics_total",
			Help: "Handlers that panicked during dispatch",
		}),
		PollRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "busstore_poll_retries_total",
			Help: "Polls re-issued because the partition leader was not elected",
		}),
		PendingPublish: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "busstore_pending_publishes",
			Help: "Publishes waiting for the producer to become ready",
		}),
		Subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "busstore_subscriptions",
			Help: "Event names with a registered handler",
		}),
	}
	if reg == nil {
		return c, nil
	}
	for _, col := range []prometheus.Collector{
		c.Published, c.PublishErrors, c.Delivered, c.Skipped,
		c.HandlerPanics, c.PollRetries, c.PendingPublish, c.Subscriptions,
	} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Collector) IncPublished() {
	if c != nil {
		c.Published.Inc()
	}
}

func (c *Collector) IncPublishErrors() {
	if c != nil {
		c.PublishErrors.Inc()
	}
}

func (c *Collector) IncDelivered() {
	if c != nil {
		c.Delivered.Inc()
	}
}

func (c *Collector) IncSkipped(reason string) {
	if c != nil {
		c.Skipped.WithLabelValues(reason).Inc()
	}
}

func (c *Collector) IncHandlerPanics() {
	if c != nil {
		c.HandlerPanics.Inc()
	}
}

func (c *Collector) IncPollRetries() {
	if c != nil {
		c.PollRetries.Inc()
	}
}

func (c *Collector) SetPendingPublish(n int) {
	if c != nil {
		c.PendingPublish.Set(float64(n))
	}
}

func (c *Collector) SetSubscriptions(n int) {
	if c != nil {
		c.Subscriptions.Set(float64(n))
	}
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

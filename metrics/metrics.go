// Package metrics exposes a running bus's occupancy and dispatch
// outcomes as Prometheus collectors: gauges polled from
// eventbus.EventBus.Stats, and counters fed by an eventbus.Recorder
// this package supplies to eventbus.New via eventbus.WithRecorder.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	eventbus "github.com/najoast/msgbus"
)

// StatsSource is the subset of eventbus.EventBus the gauge collector
// polls. eventbus.EventBus satisfies it.
type StatsSource interface {
	Stats() eventbus.Stats
}

// Counters implements eventbus.Recorder with Prometheus counters. Pass
// it to eventbus.New via eventbus.WithRecorder before registering it.
type Counters struct {
	sends             prometheus.Counter
	publishes         prometheus.Counter
	noHandlers        prometheus.Counter
	timeouts          prometheus.Counter
	recipientFailures prometheus.Counter
}

// NewCounters creates the dispatch-outcome counters, namespaced under
// "eventbus".
func NewCounters() *Counters {
	return &Counters{
		sends: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eventbus", Name: "sends_total",
			Help: "Total Send/SendWithTimeout calls.",
		}),
		publishes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eventbus", Name: "publishes_total",
			Help: "Total Publish calls.",
		}),
		noHandlers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eventbus", Name: "no_handlers_total",
			Help: "Total NO_HANDLERS replies the bus manufactured.",
		}),
		timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eventbus", Name: "reply_timeouts_total",
			Help: "Total reply timeouts that fired before any reply arrived.",
		}),
		recipientFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eventbus", Name: "recipient_failures_total",
			Help: "Total RECIPIENT_FAILURE replies sent via Message.Fail.",
		}),
	}
}

func (c *Counters) ObserveSend()             { c.sends.Inc() }
func (c *Counters) ObservePublish()          { c.publishes.Inc() }
func (c *Counters) ObserveNoHandlers()       { c.noHandlers.Inc() }
func (c *Counters) ObserveTimeout()          { c.timeouts.Inc() }
func (c *Counters) ObserveRecipientFailure() { c.recipientFailures.Inc() }

// Describe implements prometheus.Collector.
func (c *Counters) Describe(ch chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(c, ch)
}

// Collect implements prometheus.Collector.
func (c *Counters) Collect(ch chan<- prometheus.Metric) {
	ch <- c.sends
	ch <- c.publishes
	ch <- c.noHandlers
	ch <- c.timeouts
	ch <- c.recipientFailures
}

// OccupancyCollector reports registry and connection-pool occupancy by
// polling a StatsSource on every Collect — no background goroutine, no
// staleness between scrapes.
type OccupancyCollector struct {
	source StatsSource

	addresses   *prometheus.Desc
	handlers    *prometheus.Desc
	connections *prometheus.Desc
	pending     *prometheus.Desc
}

// NewOccupancyCollector wraps source, namespaced under "eventbus".
func NewOccupancyCollector(source StatsSource) *OccupancyCollector {
	return &OccupancyCollector{
		source:      source,
		addresses:   prometheus.NewDesc("eventbus_addresses", "Distinct addresses with at least one local handler.", nil, nil),
		handlers:    prometheus.NewDesc("eventbus_handlers", "Total registered local handlers across all addresses.", nil, nil),
		connections: prometheus.NewDesc("eventbus_open_connections", "Open outbound pool connections.", nil, nil),
		pending:     prometheus.NewDesc("eventbus_pending_frames", "Frames queued on outbound pool holders waiting for their connection to establish.", nil, nil),
	}
}

func (o *OccupancyCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- o.addresses
	ch <- o.handlers
	ch <- o.connections
	ch <- o.pending
}

func (o *OccupancyCollector) Collect(ch chan<- prometheus.Metric) {
	stats := o.source.Stats()
	ch <- prometheus.MustNewConstMetric(o.addresses, prometheus.GaugeValue, float64(stats.Addresses))
	ch <- prometheus.MustNewConstMetric(o.handlers, prometheus.GaugeValue, float64(stats.TotalHandlers))
	ch <- prometheus.MustNewConstMetric(o.connections, prometheus.GaugeValue, float64(stats.OpenConnections))
	ch <- prometheus.MustNewConstMetric(o.pending, prometheus.GaugeValue, float64(stats.PendingFrames))
}

// Register adds counters and an occupancy collector polling source to
// reg.
func Register(reg *prometheus.Registry, counters *Counters, source StatsSource) error {
	if err := reg.Register(counters); err != nil {
		return err
	}
	return reg.Register(NewOccupancyCollector(source))
}

// Serve runs a /metrics HTTP handler for reg until ctx is done. It
// blocks; call it in its own goroutine.
func Serve(ctx context.Context, addr string, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return srv.Close()
	case err := <-errCh:
		return err
	}
}

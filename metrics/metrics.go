package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Collector holds the bridge's Prometheus metrics on a private
// registry. All methods are safe to call on a nil *Collector.
type Collector struct {
	reg *prometheus.Registry

	DevicesTracked  prometheus.Gauge
	DevicesDropped  *prometheus.CounterVec // reason: no_geofence|unmapped_geofence|unknown_device
	MessagesApplied *prometheus.CounterVec // kind: devices|positions|events

	FeedBuilds        *prometheus.CounterVec   // feed
	FeedEntities      *prometheus.GaugeVec     // feed
	FeedSkipped       *prometheus.CounterVec   // feed, reason
	FeedBuildDuration *prometheus.HistogramVec // feed

	TraccarConnected  prometheus.Gauge
	TraccarReconnects prometheus.Counter

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge
	PublishDuration prometheus.Histogram
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		DevicesTracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fleetrt_devices_tracked",
			Help: "Number of devices admitted to the device store.",
		}),
		DevicesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetrt_devices_dropped_total",
			Help: "Telemetry dropped because the device could not be resolved.",
		}, []string{"reason"}),
		MessagesApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetrt_messages_applied_total",
			Help: "Traccar messages applied to the device store.",
		}, []string{"kind"}),
		FeedBuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetrt_feed_builds_total",
			Help: "Feed snapshots built.",
		}, []string{"feed"}),
		FeedEntities: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fleetrt_feed_entities",
			Help: "Entities in the most recent snapshot.",
		}, []string{"feed"}),
		FeedSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetrt_feed_devices_skipped_total",
			Help: "Devices left out of a feed build.",
		}, []string{"feed", "reason"}),
		FeedBuildDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fleetrt_feed_build_duration_seconds",
			Help:    "Duration of feed snapshot builds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}, []string{"feed"}),
		TraccarConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fleetrt_traccar_connected",
			Help: "1 if the Traccar websocket is connected, 0 otherwise.",
		}),
		TraccarReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleetrt_traccar_reconnects_total",
			Help: "Traccar connection attempts after a failure.",
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleetrt_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleetrt_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fleetrt_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fleetrt_publish_duration_seconds",
			Help:    "Duration to encode and publish a feed to NATS.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
	}

	reg.MustRegister(
		c.DevicesTracked, c.DevicesDropped, c.MessagesApplied,
		c.FeedBuilds, c.FeedEntities, c.FeedSkipped, c.FeedBuildDuration,
		c.TraccarConnected, c.TraccarReconnects,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected, c.PublishDuration,
	)

	return c
}

func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.reg
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Metrics server failed")
		}
	}()
	log.Info().Str("addr", addr).Msg("Metrics listening")
	return srv
}

func (c *Collector) DeviceDropped(reason string) {
	if c == nil {
		return
	}
	c.DevicesDropped.WithLabelValues(reason).Inc()
}

func (c *Collector) SetDevicesTracked(n int) {
	if c == nil {
		return
	}
	c.DevicesTracked.Set(float64(n))
}

func (c *Collector) MessageApplied(kind string) {
	if c == nil {
		return
	}
	c.MessagesApplied.WithLabelValues(kind).Inc()
}

func (c *Collector) FeedBuilt(feed string, entities int, d time.Duration) {
	if c == nil {
		return
	}
	c.FeedBuilds.WithLabelValues(feed).Inc()
	c.FeedEntities.WithLabelValues(feed).Set(float64(entities))
	c.FeedBuildDuration.WithLabelValues(feed).Observe(d.Seconds())
}

func (c *Collector) FeedDeviceSkipped(feed, reason string) {
	if c == nil {
		return
	}
	c.FeedSkipped.WithLabelValues(feed, reason).Inc()
}

func (c *Collector) TraccarSetConnected(connected bool) {
	if c == nil {
		return
	}
	c.TraccarConnected.Set(boolGauge(connected))
}

func (c *Collector) TraccarReconnectInc() {
	if c == nil {
		return
	}
	c.TraccarReconnects.Inc()
}

func (c *Collector) NATSPublishedInc() {
	if c == nil {
		return
	}
	c.NATSPublished.Inc()
}

func (c *Collector) NATSPublishErrInc() {
	if c == nil {
		return
	}
	c.NATSPublishErrs.Inc()
}

func (c *Collector) PublishObserve(d time.Duration) {
	if c == nil {
		return
	}
	c.PublishDuration.Observe(d.Seconds())
}

func (c *Collector) NATSSetConnected(connected bool) {
	if c == nil {
		return
	}
	c.NATSConnected.Set(boolGauge(connected))
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

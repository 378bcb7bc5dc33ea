// Package metrics exposes Prometheus counters for device activity. The
// Collector doubles as an event sink so every published device event is
// counted.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"power-backend/internal/models"
)

const namespace = "power"

// FleetFunc reports the registered and online device counts at scrape time
type FleetFunc func() (registered, online int)

// Collector owns a private Prometheus registry
type Collector struct {
	registry *prometheus.Registry

	events          *prometheus.CounterVec
	persistFailures prometheus.Counter
	eventsDropped   prometheus.Counter
	sinkErrors      *prometheus.CounterVec
}

// New creates a collector. fleet may be nil.
func New(fleet FleetFunc) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_events_total",
			Help:      "Device events by type, command kind and source.",
		}, []string{"type", "kind", "source"}),
		persistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_failures_total",
			Help:      "Snapshot writes that failed.",
		}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events discarded because the event buffer was full.",
		}),
		sinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_sink_errors_total",
			Help:      "Event deliveries rejected by a sink.",
		}, []string{"sink"}),
	}

	c.registry.MustRegister(
		c.events,
		c.persistFailures,
		c.eventsDropped,
		c.sinkErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if fleet != nil {
		c.registry.MustRegister(
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "devices_registered",
				Help:      "Registered devices.",
			}, func() float64 {
				registered, _ := fleet()
				return float64(registered)
			}),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "devices_online",
				Help:      "Devices whose last heartbeat is within the timeout.",
			}, func() float64 {
				_, online := fleet()
				return float64(online)
			}),
		)
	}
	return c
}

// Name identifies the sink in logs
func (c *Collector) Name() string { return "metrics" }

// WriteEvent counts one device event
func (c *Collector) WriteEvent(_ context.Context, ev *models.DeviceEvent) error {
	c.events.WithLabelValues(string(ev.Type), string(ev.Kind), ev.Source).Inc()
	return nil
}

// PersistFailed counts a failed snapshot write
func (c *Collector) PersistFailed(error) { c.persistFailures.Inc() }

// EventDropped counts an event lost to a full buffer
func (c *Collector) EventDropped(models.DeviceEvent) { c.eventsDropped.Inc() }

// SinkFailed counts a rejected event delivery
func (c *Collector) SinkFailed(sink string, _ error) { c.sinkErrors.WithLabelValues(sink).Inc() }

// Handler serves the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

package metrics

import (
	"fmt"
	"github.com/bcgov/citz-imb-sre-tooling/pkg/event_bus"
	"github.com/bcgov/citz-imb-sre-tooling/pkg/priority_buffer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"
)

const namespace = "log_collector"

var states = []string{"Starting", "Running", "Draining", "Stopped"}

// CollectorMetrics owns a private registry so several collectors, or tests,
// never collide on the default one.
type CollectorMetrics struct {
	registry *prometheus.Registry

	linesRead        *prometheus.CounterVec
	tailErrors       *prometheus.CounterVec
	batches          *prometheus.CounterVec
	recordsDelivered prometheus.Counter
	recordsDropped   prometheus.Counter
	attempts         prometheus.Counter
	sendDuration     prometheus.Histogram
	state            *prometheus.GaugeVec
}

func NewCollectorMetrics() *CollectorMetrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	return &CollectorMetrics{
		registry: registry,
		linesRead: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lines_read_total",
			Help:      "Lines read from each log source",
		}, []string{"source"}),
		tailErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tail_errors_total",
			Help:      "Errors while reading each log source",
		}, []string{"source"}),
		batches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Batches by final result of a send",
		}, []string{"result"}),
		recordsDelivered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_delivered_total",
			Help:      "Records acknowledged by the sink",
		}),
		recordsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_dropped_total",
			Help:      "Records discarded after a terminal failure or exhausted retries",
		}),
		attempts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_attempts_total",
			Help:      "Delivery attempts including retries",
		}),
		sendDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "send_duration_seconds",
			Help:      "Time spent sending one batch including backoff",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 15, 30, 60},
		}),
		state: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "state",
			Help:      "1 for the collector's current lifecycle state",
		}, []string{"state"}),
	}
}

// BufferSource is what the metrics read from a priority buffer of any item
// type.
type BufferSource interface {
	Occupancy() float64
	Len() int
	Capacity() int
	Stats() priority_buffer.BufferStats
}

// RegisterBuffer exposes the buffer's counters, read at scrape time and
// labelled with kind.
func (cm *CollectorMetrics) RegisterBuffer(kind string, buffer BufferSource) error {
	labels := prometheus.Labels{"kind": kind}
	collectors := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			ConstLabels: labels,
			Name:        "buffer_occupancy_ratio",
			Help:        "Buffered items divided by capacity",
		}, buffer.Occupancy),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			ConstLabels: labels,
			Name:        "buffer_capacity",
			Help:        "Items the buffer can hold",
		}, func() float64 { return float64(buffer.Capacity()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			ConstLabels: labels,
			Name:        "buffer_items",
			Help:        "Items currently buffered",
		}, func() float64 { return float64(buffer.Len()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   namespace,
			ConstLabels: labels,
			Name:        "buffer_admitted_total",
			Help:        "Items admitted to the buffer",
		}, func() float64 { return float64(buffer.Stats().Admitted) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   namespace,
			ConstLabels: labels,
			Name:        "buffer_evicted_total",
			Help:        "Normal priority items evicted for high priority ones",
		}, func() float64 { return float64(buffer.Stats().Evicted) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   namespace,
			ConstLabels: labels,
			Name:        "buffer_rejected_total",
			Help:        "Items rejected because the buffer was full",
		}, func() float64 { return float64(buffer.Stats().Rejected) }),
	}
	for _, collector := range collectors {
		if err := cm.registry.Register(collector); err != nil {
			return fmt.Errorf("failed to register buffer metric: %w", err)
		}
	}
	return nil
}

// Subscribe keeps the batch metrics current from the collector's events.
func (cm *CollectorMetrics) Subscribe(
	outcomes event_bus.CollectorEventBus[event_bus.BatchOutcome, event_bus.BatchOutcome],
	stateChanges event_bus.CollectorEventBus[event_bus.StateChange, event_bus.StateChange],
) error {
	err := outcomes.Subscribe(event_bus.BatchOutcomeTopic, func(outcome event_bus.BatchOutcome) error {
		cm.ObserveOutcome(outcome)
		return nil
	}, true)
	if err != nil {
		return err
	}
	return stateChanges.Subscribe(event_bus.StateTopic, func(change event_bus.StateChange) error {
		cm.ObserveState(change.To)
		return nil
	}, true)
}

func (cm *CollectorMetrics) ObserveOutcome(outcome event_bus.BatchOutcome) {
	cm.attempts.Add(float64(outcome.Attempts))
	cm.sendDuration.Observe(outcome.Duration.Seconds())
	switch {
	case outcome.Delivered:
		cm.batches.WithLabelValues("delivered").Inc()
		cm.recordsDelivered.Add(float64(outcome.Records))
	case outcome.Interrupted:
		cm.batches.WithLabelValues("interrupted").Inc()
	default:
		cm.batches.WithLabelValues("dropped").Inc()
		cm.recordsDropped.Add(float64(outcome.Records))
	}
}

func (cm *CollectorMetrics) ObserveState(current string) {
	for _, state := range states {
		value := 0.0
		if state == current {
			value = 1
		}
		cm.state.WithLabelValues(state).Set(value)
	}
}

func (cm *CollectorMetrics) ObserveLines(source string, n int) {
	cm.linesRead.WithLabelValues(source).Add(float64(n))
}

func (cm *CollectorMetrics) ObserveTailError(source string) {
	cm.tailErrors.WithLabelValues(source).Inc()
}

func (cm *CollectorMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(cm.registry, promhttp.HandlerOpts{Registry: cm.registry})
}

func (cm *CollectorMetrics) Registry() *prometheus.Registry {
	return cm.registry
}

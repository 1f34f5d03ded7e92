// Package metrics defines the collector the services report into, with a
// no-op default and an OpenTelemetry backend selected by configuration.
package metrics

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Collector receives counters, durations and gauges from the services.
type Collector interface {
	IncrementCounter(name string, tags map[string]string)
	RecordDuration(name string, duration time.Duration, tags map[string]string)
	RecordGauge(name string, value float64, tags map[string]string)
}

// NopCollector discards everything. It is the default wherever no collector
// is injected.
type NopCollector struct{}

// NewNopCollector creates a NopCollector.
func NewNopCollector() *NopCollector {
	return &NopCollector{}
}

func (*NopCollector) IncrementCounter(name string, tags map[string]string) {}

func (*NopCollector) RecordDuration(name string, duration time.Duration, tags map[string]string) {}

func (*NopCollector) RecordGauge(name string, value float64, tags map[string]string) {}

// OpenTelemetryCollector reports through an otel meter. Instruments are
// created on first use and cached; the collector is shared across
// goroutines, so the caches are guarded.
type OpenTelemetryCollector struct {
	meter metric.Meter

	mu         sync.Mutex
	counters   map[string]metric.Int64Counter
	histograms map[string]metric.Float64Histogram
	gauges     map[string]metric.Float64UpDownCounter
}

// NewOpenTelemetryCollector creates a collector on the globally registered
// meter provider.
func NewOpenTelemetryCollector() *OpenTelemetryCollector {
	return NewOpenTelemetryCollectorWithMeter(otel.Meter("paygate"))
}

// NewOpenTelemetryCollectorWithMeter creates a collector on a specific meter.
func NewOpenTelemetryCollectorWithMeter(meter metric.Meter) *OpenTelemetryCollector {
	return &OpenTelemetryCollector{
		meter:      meter,
		counters:   make(map[string]metric.Int64Counter),
		histograms: make(map[string]metric.Float64Histogram),
		gauges:     make(map[string]metric.Float64UpDownCounter),
	}
}

// IncrementCounter implements Collector.
func (c *OpenTelemetryCollector) IncrementCounter(name string, tags map[string]string) {
	counter, err := c.counter(name)
	if err != nil {
		return
	}
	counter.Add(context.Background(), 1, metric.WithAttributes(attrs(tags)...))
}

// RecordDuration implements Collector. Durations are reported in seconds.
func (c *OpenTelemetryCollector) RecordDuration(name string, duration time.Duration, tags map[string]string) {
	histogram, err := c.histogram(name)
	if err != nil {
		return
	}
	histogram.Record(context.Background(), duration.Seconds(), metric.WithAttributes(attrs(tags)...))
}

// RecordGauge implements Collector. Backed by an up-down counter; a true
// last-value gauge would need the async instrument API.
func (c *OpenTelemetryCollector) RecordGauge(name string, value float64, tags map[string]string) {
	gauge, err := c.gauge(name)
	if err != nil {
		return
	}
	gauge.Add(context.Background(), value, metric.WithAttributes(attrs(tags)...))
}

func (c *OpenTelemetryCollector) counter(name string) (metric.Int64Counter, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if counter, ok := c.counters[name]; ok {
		return counter, nil
	}
	counter, err := c.meter.Int64Counter(name)
	if err != nil {
		return nil, err
	}
	c.counters[name] = counter
	return counter, nil
}

func (c *OpenTelemetryCollector) histogram(name string) (metric.Float64Histogram, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if histogram, ok := c.histograms[name]; ok {
		return histogram, nil
	}
	histogram, err := c.meter.Float64Histogram(name, metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	c.histograms[name] = histogram
	return histogram, nil
}

func (c *OpenTelemetryCollector) gauge(name string) (metric.Float64UpDownCounter, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gauge, ok := c.gauges[name]; ok {
		return gauge, nil
	}
	gauge, err := c.meter.Float64UpDownCounter(name)
	if err != nil {
		return nil, err
	}
	c.gauges[name] = gauge
	return gauge, nil
}

func attrs(tags map[string]string) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(tags))
	for key, value := range tags {
		out = append(out, attribute.String(key, value))
	}
	return out
}

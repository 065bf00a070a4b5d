// metrics.go - in-process metrics collection for the relayer's HTTP surface
// and background scheduler, adapted from cmd/auctiond/metrics.go's
// counter/gauge/histogram collector.
package main

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// MetricType names the three shapes this collector supports.
type MetricType string

const (
	Counter   MetricType = "counter"
	Gauge     MetricType = "gauge"
	Histogram MetricType = "histogram"
)

// Metric is one named, labeled observation.
type Metric struct {
	Name      string            `json:"name"`
	Type      MetricType        `json:"type"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// MetricsCollector accumulates counters, gauges, and bounded histograms.
type MetricsCollector struct {
	mu         sync.RWMutex
	metrics    map[string]*Metric
	counters   map[string]*int64
	gauges     map[string]*float64
	histograms map[string][]float64
}

// NewMetricsCollector creates an empty collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		metrics:    make(map[string]*Metric),
		counters:   make(map[string]*int64),
		gauges:     make(map[string]*float64),
		histograms: make(map[string][]float64),
	}
}

// IncrementCounter bumps a named counter by one.
func (mc *MetricsCollector) IncrementCounter(name string, labels map[string]string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	key := mc.makeKey(name, labels)
	if counter, exists := mc.counters[key]; exists {
		atomic.AddInt64(counter, 1)
	} else {
		var value int64 = 1
		mc.counters[key] = &value
	}
	mc.updateMetric(name, Counter, float64(*mc.counters[key]), labels)
}

// SetGauge sets a gauge metric to an absolute value.
func (mc *MetricsCollector) SetGauge(name string, value float64, labels map[string]string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	key := mc.makeKey(name, labels)
	if gauge, exists := mc.gauges[key]; exists {
		*gauge = value
	} else {
		mc.gauges[key] = &value
	}
	mc.updateMetric(name, Gauge, value, labels)
}

// RecordHistogram appends a value, keeping only the most recent 1000 per key.
func (mc *MetricsCollector) RecordHistogram(name string, value float64, labels map[string]string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	key := mc.makeKey(name, labels)
	mc.histograms[key] = append(mc.histograms[key], value)
	if len(mc.histograms[key]) > 1000 {
		mc.histograms[key] = mc.histograms[key][len(mc.histograms[key])-1000:]
	}
	mc.updateMetric(name, Histogram, value, labels)
}

// GetMetricsSummary snapshots every counter, gauge, and histogram summary.
func (mc *MetricsCollector) GetMetricsSummary() map[string]interface{} {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	summary := make(map[string]interface{})

	counters := make(map[string]int64)
	for key, counter := range mc.counters {
		counters[key] = atomic.LoadInt64(counter)
	}
	summary["counters"] = counters

	gauges := make(map[string]float64)
	for key, gauge := range mc.gauges {
		gauges[key] = *gauge
	}
	summary["gauges"] = gauges

	histograms := make(map[string]map[string]float64)
	for key, values := range mc.histograms {
		if len(values) == 0 {
			continue
		}
		h := map[string]float64{"count": float64(len(values)), "min": values[0], "max": values[0], "sum": 0}
		for _, v := range values {
			if v < h["min"] {
				h["min"] = v
			}
			if v > h["max"] {
				h["max"] = v
			}
			h["sum"] += v
		}
		h["avg"] = h["sum"] / h["count"]
		histograms[key] = h
	}
	summary["histograms"] = histograms

	return summary
}

func (mc *MetricsCollector) makeKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	key := name
	for k, v := range labels {
		key += fmt.Sprintf("_%s_%s", k, v)
	}
	return key
}

func (mc *MetricsCollector) updateMetric(name string, metricType MetricType, value float64, labels map[string]string) {
	key := mc.makeKey(name, labels)
	mc.metrics[key] = &Metric{Name: name, Type: metricType, Value: value, Labels: labels, Timestamp: time.Now()}
}

// Names of the metrics this relayer emits.
const (
	MetricHTTPRequestCount   = "http_request_count"
	MetricHTTPRequestLatency = "http_request_latency_seconds"
	MetricDepositCount       = "deposit_count"
	MetricWithdrawalCount    = "withdrawal_count"
	MetricExecuteLatency     = "withdrawal_execute_latency_seconds"
	MetricRateLimitRejection = "rate_limit_rejection_count"
)

// RecordHTTPRequest tracks one request's route, status, and latency.
func (mc *MetricsCollector) RecordHTTPRequest(method, path string, status int, d time.Duration) {
	labels := map[string]string{"method": method, "path": path, "status": fmt.Sprintf("%d", status)}
	mc.IncrementCounter(MetricHTTPRequestCount, labels)
	mc.RecordHistogram(MetricHTTPRequestLatency, d.Seconds(), map[string]string{"path": path})
}

// RecordExecute tracks one timelock scheduler execution attempt.
func (mc *MetricsCollector) RecordExecute(d time.Duration) {
	mc.RecordHistogram(MetricExecuteLatency, d.Seconds(), nil)
}

// RecordRateLimitRejection counts a request an IP rate limiter turned away.
func (mc *MetricsCollector) RecordRateLimitRejection(ip string) {
	mc.IncrementCounter(MetricRateLimitRejection, map[string]string{"ip": ip})
}

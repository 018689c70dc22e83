// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetrics implements MetricsCollector on top of a
// prometheus.Registerer, registering counter/gauge/histogram vectors lazily
// as new metric names are observed. Labels are matched positionally: the
// same name must always be called with the same label keys in the same
// order, matching the key/value pair convention MetricsCollector documents.
type PrometheusMetrics struct {
	registerer prometheus.Registerer

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

// NewPrometheusMetrics creates a PrometheusMetrics backed by registerer.
// Passing prometheus.DefaultRegisterer registers against the global
// registry scraped by the default /metrics handler.
func NewPrometheusMetrics(registerer prometheus.Registerer) *PrometheusMetrics {
	return &PrometheusMetrics{
		registerer: registerer,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

func labelPairs(labels []string) (keys, values []string) {
	for i := 0; i+1 < len(labels); i += 2 {
		keys = append(keys, labels[i])
		values = append(values, labels[i+1])
	}
	return keys, values
}

// IncCounter increments (or creates, on first use) the named counter.
func (m *PrometheusMetrics) IncCounter(name string, value float64, labels ...string) {
	keys, values := labelPairs(labels)

	m.mu.Lock()
	vec, ok := m.counters[name]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{Name: name}, keys)
		m.registerer.MustRegister(vec)
		m.counters[name] = vec
	}
	m.mu.Unlock()

	vec.WithLabelValues(values...).Add(value)
}

// SetGauge sets the named gauge to value.
func (m *PrometheusMetrics) SetGauge(name string, value float64, labels ...string) {
	keys, values := labelPairs(labels)

	m.mu.Lock()
	vec, ok := m.gauges[name]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name}, keys)
		m.registerer.MustRegister(vec)
		m.gauges[name] = vec
	}
	m.mu.Unlock()

	vec.WithLabelValues(values...).Set(value)
}

// ObserveHistogram records value in the named histogram.
func (m *PrometheusMetrics) ObserveHistogram(name string, value float64, labels ...string) {
	keys, values := labelPairs(labels)

	m.mu.Lock()
	vec, ok := m.histograms[name]
	if !ok {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name}, keys)
		m.registerer.MustRegister(vec)
		m.histograms[name] = vec
	}
	m.mu.Unlock()

	vec.WithLabelValues(values...).Observe(value)
}

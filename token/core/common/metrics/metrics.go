/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package metrics

// MetricLabel is the name of a label
type MetricLabel = string

// Counter is a monotonic counter. With takes alternating label names and values.
type Counter interface {
	With(labelValues ...string) Counter
	Add(delta float64)
}

// Gauge can go up and down.
type Gauge interface {
	With(labelValues ...string) Gauge
	Add(delta float64)
	Set(value float64)
}

// Histogram observes samples into buckets.
type Histogram interface {
	With(labelValues ...string) Histogram
	Observe(value float64)
}

type CounterOpts struct {
	Namespace  string
	Subsystem  string
	Name       string
	Help       string
	LabelNames []MetricLabel
}

type GaugeOpts struct {
	Namespace  string
	Subsystem  string
	Name       string
	Help       string
	LabelNames []MetricLabel
}

type HistogramOpts struct {
	Namespace  string
	Subsystem  string
	Name       string
	Help       string
	Buckets    []float64
	LabelNames []MetricLabel
}

// Provider creates metrics
type Provider interface {
	NewCounter(o CounterOpts) Counter
	NewGauge(o GaugeOpts) Gauge
	NewHistogram(o HistogramOpts) Histogram
}

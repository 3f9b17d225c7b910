/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package metrics

import (
	"github.com/hyperledger-labs/fabric-token-flows/token/services/logging"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

var logger = logging.MustGetLogger("metrics")

const NodeLabel MetricLabel = "node"

// NewPrometheusProvider returns a provider registering its collectors with the passed registerer.
// Registering the same metric twice returns the collector registered first.
func NewPrometheusProvider(registerer prometheus.Registerer) *promProvider {
	return &promProvider{registerer: registerer}
}

type promProvider struct {
	registerer prometheus.Registerer
}

func (p *promProvider) NewCounter(o CounterOpts) Counter {
	cv := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: o.Namespace,
		Subsystem: o.Subsystem,
		Name:      o.Name,
		Help:      o.Help,
	}, o.LabelNames)
	return &counter{cv: register(p.registerer, cv)}
}

func (p *promProvider) NewGauge(o GaugeOpts) Gauge {
	gv := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: o.Namespace,
		Subsystem: o.Subsystem,
		Name:      o.Name,
		Help:      o.Help,
	}, o.LabelNames)
	return &gauge{gv: register(p.registerer, gv)}
}

func (p *promProvider) NewHistogram(o HistogramOpts) Histogram {
	hv := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: o.Namespace,
		Subsystem: o.Subsystem,
		Name:      o.Name,
		Help:      o.Help,
		Buckets:   o.Buckets,
	}, o.LabelNames)
	return &histogram{hv: register(p.registerer, hv)}
}

func register[C prometheus.Collector](registerer prometheus.Registerer, c C) C {
	err := registerer.Register(c)
	if err == nil {
		return c
	}
	are := prometheus.AlreadyRegisteredError{}
	if errors.As(err, &are) {
		// Different nodes in the same process register the same metric
		logger.Debugf("reusing already registered collector: %v", err)
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing
		}
	}
	panic(errors.Wrapf(err, "failed registering collector"))
}

func toLabels(labelValues []string) prometheus.Labels {
	labels := prometheus.Labels{}
	for i := 0; i+1 < len(labelValues); i += 2 {
		labels[labelValues[i]] = labelValues[i+1]
	}
	return labels
}

type counter struct {
	cv          *prometheus.CounterVec
	labelValues []string
}

func (c *counter) With(labelValues ...string) Counter {
	return &counter{cv: c.cv, labelValues: append(append([]string{}, c.labelValues...), labelValues...)}
}

func (c *counter) Add(delta float64) {
	c.cv.With(toLabels(c.labelValues)).Add(delta)
}

type gauge struct {
	gv          *prometheus.GaugeVec
	labelValues []string
}

func (g *gauge) With(labelValues ...string) Gauge {
	return &gauge{gv: g.gv, labelValues: append(append([]string{}, g.labelValues...), labelValues...)}
}

func (g *gauge) Add(delta float64) {
	g.gv.With(toLabels(g.labelValues)).Add(delta)
}

func (g *gauge) Set(value float64) {
	g.gv.With(toLabels(g.labelValues)).Set(value)
}

type histogram struct {
	hv          *prometheus.HistogramVec
	labelValues []string
}

func (h *histogram) With(labelValues ...string) Histogram {
	return &histogram{hv: h.hv, labelValues: append(append([]string{}, h.labelValues...), labelValues...)}
}

func (h *histogram) Observe(value float64) {
	h.hv.With(toLabels(h.labelValues)).Observe(value)
}

// NewNodeProvider decorates every metric created by provider with the node label.
// The metric options must list NodeLabel among their label names.
func NewNodeProvider(node string, provider Provider) *nodeProvider {
	return &nodeProvider{labels: []string{NodeLabel, node}, provider: provider}
}

type nodeProvider struct {
	labels   []string
	provider Provider
}

func (p *nodeProvider) NewCounter(o CounterOpts) Counter {
	return p.provider.NewCounter(o).With(p.labels...)
}

func (p *nodeProvider) NewGauge(o GaugeOpts) Gauge {
	return p.provider.NewGauge(o).With(p.labels...)
}

func (p *nodeProvider) NewHistogram(o HistogramOpts) Histogram {
	return p.provider.NewHistogram(o).With(p.labels...)
}

// AllLabelNames returns the node label followed by the passed extra labels
func AllLabelNames(extraLabels ...MetricLabel) []MetricLabel {
	return append([]string{NodeLabel}, extraLabels...)
}

// NewDisabledProvider returns a provider whose metrics discard every sample
func NewDisabledProvider() Provider {
	return &disabledProvider{}
}

type disabledProvider struct{}

func (d *disabledProvider) NewCounter(CounterOpts) Counter       { return &disabledCounter{} }
func (d *disabledProvider) NewGauge(GaugeOpts) Gauge             { return &disabledGauge{} }
func (d *disabledProvider) NewHistogram(HistogramOpts) Histogram { return &disabledHistogram{} }

type disabledCounter struct{}

func (d *disabledCounter) With(...string) Counter { return d }
func (d *disabledCounter) Add(float64)            {}

type disabledGauge struct{}

func (d *disabledGauge) With(...string) Gauge { return d }
func (d *disabledGauge) Add(float64)          {}
func (d *disabledGauge) Set(float64)          {}

type disabledHistogram struct{}

func (d *disabledHistogram) With(...string) Histogram { return d }
func (d *disabledHistogram) Observe(float64)          {}

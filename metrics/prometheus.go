// Copyright (c) 2025 The KalePool developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package metrics

import (
	"net/http"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pooler_metrics"

// InitializePrometheusMetrics swaps the singleton to the prometheus backend.
// Meters created before the swap stay no-op; call this before anything observes.
func InitializePrometheusMetrics() {
	// don't allow for reset
	if _, ok := metrics.(*prometheusMetrics); !ok {
		metrics = newPrometheusMetrics()
	}
}

type prometheusMetrics struct {
	counters      sync.Map
	counterVecs   sync.Map
	histograms    sync.Map
	histogramVecs sync.Map
	gauges        sync.Map
	gaugeVecs     sync.Map
}

func newPrometheusMetrics() Metrics {
	return &prometheusMetrics{}
}

func (p *prometheusMetrics) GetOrCreateCountMeter(name string) CountMeter {
	mapItem, ok := p.counters.Load(name)
	if !ok {
		meter := p.newCountMeter(name)
		p.counters.Store(name, meter)
		return meter
	}
	return mapItem.(CountMeter)
}

func (p *prometheusMetrics) GetOrCreateCountVecMeter(name string, labels []string) CountVecMeter {
	mapItem, ok := p.counterVecs.Load(name)
	if !ok {
		meter := p.newCountVecMeter(name, labels)
		p.counterVecs.Store(name, meter)
		return meter
	}
	return mapItem.(CountVecMeter)
}

func (p *prometheusMetrics) GetOrCreateGaugeMeter(name string) GaugeMeter {
	mapItem, ok := p.gauges.Load(name)
	if !ok {
		meter := p.newGaugeMeter(name)
		p.gauges.Store(name, meter)
		return meter
	}
	return mapItem.(GaugeMeter)
}

func (p *prometheusMetrics) GetOrCreateGaugeVecMeter(name string, labels []string) GaugeVecMeter {
	mapItem, ok := p.gaugeVecs.Load(name)
	if !ok {
		meter := p.newGaugeVecMeter(name, labels)
		p.gaugeVecs.Store(name, meter)
		return meter
	}
	return mapItem.(GaugeVecMeter)
}

func (p *prometheusMetrics) GetOrCreateHistogramMeter(name string, buckets []int64) HistogramMeter {
	mapItem, ok := p.histograms.Load(name)
	if !ok {
		meter := p.newHistogramMeter(name, buckets)
		p.histograms.Store(name, meter)
		return meter
	}
	return mapItem.(HistogramMeter)
}

func (p *prometheusMetrics) GetOrCreateHistogramVecMeter(name string, labels []string, buckets []int64) HistogramVecMeter {
	mapItem, ok := p.histogramVecs.Load(name)
	if !ok {
		meter := p.newHistogramVecMeter(name, labels, buckets)
		p.histogramVecs.Store(name, meter)
		return meter
	}
	return mapItem.(HistogramVecMeter)
}

func (p *prometheusMetrics) GetOrCreateHandler() http.Handler {
	return promhttp.Handler()
}

func (p *prometheusMetrics) newCountMeter(name string) CountMeter {
	meter := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
		},
	)
	if err := prometheus.Register(meter); err != nil {
		log.Warn("unable to register metric", "name", name, "err", err)
	}
	return &promCountMeter{counter: meter}
}

func (p *prometheusMetrics) newCountVecMeter(name string, labels []string) CountVecMeter {
	meter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
		},
		labels,
	)
	if err := prometheus.Register(meter); err != nil {
		log.Warn("unable to register metric", "name", name, "err", err)
	}
	return &promCountVecMeter{counter: meter}
}

func (p *prometheusMetrics) newGaugeMeter(name string) GaugeMeter {
	meter := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
		},
	)
	if err := prometheus.Register(meter); err != nil {
		log.Warn("unable to register metric", "name", name, "err", err)
	}
	return &promGaugeMeter{gauge: meter}
}

func (p *prometheusMetrics) newGaugeVecMeter(name string, labels []string) GaugeVecMeter {
	meter := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
		},
		labels,
	)
	if err := prometheus.Register(meter); err != nil {
		log.Warn("unable to register metric", "name", name, "err", err)
	}
	return &promGaugeVecMeter{gauge: meter}
}

func (p *prometheusMetrics) newHistogramMeter(name string, buckets []int64) HistogramMeter {
	floatBuckets := make([]float64, 0, len(buckets))
	for _, bucket := range buckets {
		floatBuckets = append(floatBuckets, float64(bucket))
	}

	meter := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      name,
			Buckets:   floatBuckets,
		},
	)
	if err := prometheus.Register(meter); err != nil {
		log.Warn("unable to register metric", "name", name, "err", err)
	}
	return &promHistogramMeter{histogram: meter}
}

func (p *prometheusMetrics) newHistogramVecMeter(name string, labels []string, buckets []int64) HistogramVecMeter {
	floatBuckets := make([]float64, 0, len(buckets))
	for _, bucket := range buckets {
		floatBuckets = append(floatBuckets, float64(bucket))
	}

	meter := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      name,
			Buckets:   floatBuckets,
		},
		labels,
	)
	if err := prometheus.Register(meter); err != nil {
		log.Warn("unable to register metric", "name", name, "err", err)
	}
	return &promHistogramVecMeter{histogram: meter}
}

type promCountMeter struct {
	counter prometheus.Counter
}

func (c *promCountMeter) Add(i int64) {
	c.counter.Add(float64(i))
}

type promCountVecMeter struct {
	counter *prometheus.CounterVec
}

func (c *promCountVecMeter) AddWithLabel(i int64, labels map[string]string) {
	c.counter.With(labels).Add(float64(i))
}

type promGaugeMeter struct {
	gauge prometheus.Gauge
}

func (g *promGaugeMeter) Add(i int64) {
	g.gauge.Add(float64(i))
}

func (g *promGaugeMeter) Set(i int64) {
	g.gauge.Set(float64(i))
}

type promGaugeVecMeter struct {
	gauge *prometheus.GaugeVec
}

func (g *promGaugeVecMeter) AddWithLabel(i int64, labels map[string]string) {
	g.gauge.With(labels).Add(float64(i))
}

func (g *promGaugeVecMeter) SetWithLabel(i int64, labels map[string]string) {
	g.gauge.With(labels).Set(float64(i))
}

type promHistogramMeter struct {
	histogram prometheus.Histogram
}

func (h *promHistogramMeter) Observe(i int64) {
	h.histogram.Observe(float64(i))
}

type promHistogramVecMeter struct {
	histogram *prometheus.HistogramVec
}

func (h *promHistogramVecMeter) ObserveWithLabels(i int64, labels map[string]string) {
	h.histogram.With(labels).Observe(float64(i))
}

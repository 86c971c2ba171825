// Package metrics 定义服务的Prometheus指标
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 服务指标集合，每个实例使用独立的注册表
type Metrics struct {
	registry *prometheus.Registry

	RefineTotal     *prometheus.CounterVec
	RefineRounds    prometheus.Histogram
	RefineDuration  prometheus.Histogram
	ProviderCalls   *prometheus.CounterVec
	StreamFragments prometheus.Counter
	Sessions        prometheus.Gauge
	SessionsEvicted *prometheus.CounterVec
}

// New 创建并注册所有指标
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		RefineTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recthink_refine_total",
				Help: "Total refine calls by outcome (completed, timed_out_partial, generation_failed, invalid_request)",
			},
			[]string{"outcome"},
		),
		RefineRounds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "recthink_refine_rounds",
				Help:    "Accepted refinement rounds per call",
				Buckets: prometheus.LinearBuckets(0, 1, 11),
			},
		),
		RefineDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "recthink_refine_duration_seconds",
				Help:    "Wall time of refine calls",
				Buckets: prometheus.ExponentialBuckets(0.25, 2, 12),
			},
		),
		ProviderCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recthink_provider_calls_total",
				Help: "Completion provider calls by provider, phase (initial, reflection) and result",
			},
			[]string{"provider", "phase", "result"},
		),
		StreamFragments: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "recthink_stream_fragments_total",
				Help: "Fragments forwarded to stream sinks",
			},
		),
		Sessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "recthink_sessions",
				Help: "Sessions currently held by the registry",
			},
		),
		SessionsEvicted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recthink_sessions_evicted_total",
				Help: "Sessions removed by the registry policy (lru, idle)",
			},
			[]string{"reason"},
		),
	}

	m.registry.MustRegister(
		m.RefineTotal,
		m.RefineRounds,
		m.RefineDuration,
		m.ProviderCalls,
		m.StreamFragments,
		m.Sessions,
		m.SessionsEvicted,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler 返回/metrics处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry 返回底层注册表
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

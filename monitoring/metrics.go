package monitoring

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"studentrisk/agent"
)

// Metrics 服务指标，使用独立 registry 便于测试
type Metrics struct {
	registry *prometheus.Registry

	decisions       *prometheus.CounterVec
	cacheHits       prometheus.Counter
	requestDuration *prometheus.HistogramVec
	wsClients       prometheus.GaugeFunc
}

// NewMetrics 创建并注册指标，hub 可以为空
func NewMetrics(hub *WebSocketHub) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studentrisk",
			Name:      "decisions_total",
			Help:      "Decisions produced by the agent, by risk label and action.",
		}, []string{"risk_label", "action"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "studentrisk",
			Name:      "label_cache_hits_total",
			Help:      "Decisions served from the label cache.",
		}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "studentrisk",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.decisions,
		m.cacheHits,
		m.requestDuration,
	)
	if hub != nil {
		m.wsClients = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "studentrisk",
			Name:      "websocket_clients",
			Help:      "Connected decision stream clients.",
		}, func() float64 { return float64(hub.ClientCount()) })
		m.registry.MustRegister(m.wsClients)
	}
	return m
}

// Handler /metrics 处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry 暴露给测试
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveRequest 记录一次请求耗时
func (m *Metrics) ObserveRequest(route, method string, status int, elapsed time.Duration) {
	m.requestDuration.WithLabelValues(route, method, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

type metricsEffect struct {
	metrics *Metrics
}

// DecisionEffect 按标签和动作计数
func DecisionEffect(m *Metrics) agent.Effect {
	return &metricsEffect{metrics: m}
}

func (e *metricsEffect) Name() string {
	return "metrics"
}

func (e *metricsEffect) Apply(_ context.Context, o agent.Outcome) error {
	e.metrics.decisions.WithLabelValues(o.Label.String(), string(o.Decision.Action)).Inc()
	if o.Cached {
		e.metrics.cacheHits.Inc()
	}
	return nil
}

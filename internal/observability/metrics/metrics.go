package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gateway"

// Metrics 汇总编排周期与 HTTP 入口的 Prometheus 指标。所有方法对 nil 接收者安全。
type Metrics struct {
	registry         *prometheus.Registry
	cycles           *prometheus.CounterVec
	cycleFailures    *prometheus.CounterVec
	cycleDuration    prometheus.Histogram
	subagentFailures *prometheus.CounterVec
	recovered        *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

// New 创建独立的指标注册表，并注册 Go 运行时与进程采集器。
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hma",
			Name:      "cycles_total",
			Help:      "Completed orchestration cycles by delivery target.",
		}, []string{"target"}),
		cycleFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hma",
			Name:      "cycle_failures_total",
			Help:      "Orchestration cycles aborted without an envelope, by error code.",
		}, []string{"code"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "hma",
			Name:      "cycle_duration_seconds",
			Help:      "Wall-clock duration of orchestration cycles.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		subagentFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hma",
			Name:      "subagent_failures_total",
			Help:      "Sub-agent runs that failed, timed out or panicked.",
		}, []string{"agent"}),
		recovered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hma",
			Name:      "recovered_errors_total",
			Help:      "Recoverable errors absorbed by the cycle, by error code.",
		}, []string{"code"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests processed.",
		}, []string{"handler", "method", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"handler", "method"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.cycles,
		m.cycleFailures,
		m.cycleDuration,
		m.subagentFailures,
		m.recovered,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// Registry 返回底层注册表，供测试读取。
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// CycleCompleted 记录一次成功返回信封的周期。
func (m *Metrics) CycleCompleted(target string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(target).Inc()
	m.cycleDuration.Observe(elapsed.Seconds())
}

// CycleFailed 记录一次未能返回信封的周期。
func (m *Metrics) CycleFailed(code string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.cycleFailures.WithLabelValues(code).Inc()
	m.cycleDuration.Observe(elapsed.Seconds())
}

// SubAgentFailed 记录子智能体失败。
func (m *Metrics) SubAgentFailed(agent string) {
	if m == nil {
		return
	}
	m.subagentFailures.WithLabelValues(agent).Inc()
}

// ErrorRecovered 记录被周期吸收的可恢复错误。
func (m *Metrics) ErrorRecovered(code string) {
	if m == nil {
		return
	}
	m.recovered.WithLabelValues(code).Inc()
}

// ObserveHTTPRequest 记录一次 HTTP 请求。
func (m *Metrics) ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// Handler 以 Prometheus 文本格式暴露指标。
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

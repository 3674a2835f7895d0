// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 沙箱指标收集器
type Collector struct {
	// 执行指标：kind ∈ {command, code}，outcome ∈ {success, error, timeout}
	ExecutionsTotal   *prometheus.CounterVec
	ExecutionDuration *prometheus.HistogramVec

	// 网络抓取指标：outcome ∈ {success, error, blocked}
	FetchesTotal *prometheus.CounterVec

	// 会话指标
	SessionsActive prometheus.Gauge
	EvictionsTotal *prometheus.CounterVec // reason ∈ {ttl, cap, explicit}

	// 熔断器状态转换：tool 标签 + to 状态
	BreakerTransitions *prometheus.CounterVec

	// 限流拒绝计数
	RateLimitedTotal *prometheus.CounterVec
}

var (
	defaultCollector *Collector
	once             sync.Once
)

// Default 返回进程级单例收集器（promauto 注册不可重复）。
func Default() *Collector {
	once.Do(func() {
		defaultCollector = newCollector("toolgate")
	})
	return defaultCollector
}

func newCollector(namespace string) *Collector {
	return &Collector{
		ExecutionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executions_total",
				Help:      "Total number of sandboxed executions",
			},
			[]string{"kind", "outcome"},
		),
		ExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "execution_duration_seconds",
				Help:      "Sandboxed execution duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		FetchesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetches_total",
				Help:      "Total number of network fetches",
			},
			[]string{"outcome"},
		),
		SessionsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sessions_active",
				Help:      "Number of live sessions",
			},
		),
		EvictionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_evictions_total",
				Help:      "Total number of session evictions",
			},
			[]string{"reason"},
		),
		BreakerTransitions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_transitions_total",
				Help:      "Circuit breaker state transitions",
			},
			[]string{"tool", "to"},
		),
		RateLimitedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limited_total",
				Help:      "Calls rejected by the per-tool rate window",
			},
			[]string{"tool"},
		),
	}
}

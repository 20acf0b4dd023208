// Package metrics 定义预订服务暴露给 Prometheus 的指标。
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics 汇总服务使用的计数器。所有方法对 nil 接收者安全。
type Metrics struct {
	outcomes      *prometheus.CounterVec
	compensations *prometheus.CounterVec
	cache         *prometheus.CounterVec
}

// New 创建指标并注册到 reg。reg 为 nil 时使用默认注册表。
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reservation",
			Name:      "outcomes_total",
			Help:      "Reservation operations by operation and outcome.",
		}, []string{"operation", "outcome"}),
		compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reservation",
			Name:      "compensations_total",
			Help:      "Compensating capacity releases by result.",
		}, []string{"result"}),
		cache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reservation",
			Name:      "cache_requests_total",
			Help:      "Idempotency ledger and availability cache lookups by result.",
		}, []string{"cache", "result"}),
	}
	reg.MustRegister(m.outcomes, m.compensations, m.cache)
	return m
}

// Outcome 记录一次业务操作的结果，例如 ("create", "confirmed")。
func (m *Metrics) Outcome(operation, outcome string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(operation, outcome).Inc()
}

// Compensation 记录一次补偿，result 为 "ok" 或 "failed"。
func (m *Metrics) Compensation(result string) {
	if m == nil {
		return
	}
	m.compensations.WithLabelValues(result).Inc()
}

// Cache 记录一次缓存访问，result 为 "hit" / "miss" / "error"。
func (m *Metrics) Cache(cache, result string) {
	if m == nil {
		return
	}
	m.cache.WithLabelValues(cache, result).Inc()
}

// OutcomeCounter 暴露底层计数器，供测试读取。
func (m *Metrics) OutcomeCounter(operation, outcome string) prometheus.Counter {
	return m.outcomes.WithLabelValues(operation, outcome)
}

// CompensationCounter 暴露底层计数器，供测试读取。
func (m *Metrics) CompensationCounter(result string) prometheus.Counter {
	return m.compensations.WithLabelValues(result)
}

// CacheCounter 暴露底层计数器，供测试读取。
func (m *Metrics) CacheCounter(cache, result string) prometheus.Counter {
	return m.cache.WithLabelValues(cache, result)
}

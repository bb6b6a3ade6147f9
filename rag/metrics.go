package rag

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 检索流水线的 Prometheus 指标集合。
type Metrics struct {
	attemptsTotal     *prometheus.CounterVec
	queriesTotal      *prometheus.CounterVec
	sufficiencyScore  prometheus.Histogram
	retrievalDuration prometheus.Histogram
	cacheHitsTotal    prometheus.Counter
	cacheMissesTotal  prometheus.Counter
}

// NewMetrics 在给定 Registerer 上注册指标。
// reg 为 nil 时使用默认注册表。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		attemptsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "corag",
			Name:      "retrieval_attempts_total",
			Help:      "Total retrieval attempts by verdict (accepted/retried/exhausted).",
		}, []string{"verdict"}),
		queriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "corag",
			Name:      "queries_total",
			Help:      "Total queries by terminal state.",
		}, []string{"state"}),
		sufficiencyScore: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "corag",
			Name:      "sufficiency_score",
			Help:      "Distribution of context sufficiency scores.",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}),
		retrievalDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "corag",
			Name:      "retrieval_attempt_duration_seconds",
			Help:      "Duration of a single retrieval attempt.",
			Buckets:   prometheus.DefBuckets,
		}),
		cacheHitsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "corag",
			Name:      "answer_cache_hits_total",
			Help:      "Answer cache hits.",
		}),
		cacheMissesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "corag",
			Name:      "answer_cache_misses_total",
			Help:      "Answer cache misses.",
		}),
	}
}

// ObserveAttempt 记录一次检索尝试的结果。Metrics 为 nil 时所有方法都是空操作。
func (m *Metrics) ObserveAttempt(verdict string, sufficiency float64, duration time.Duration) {
	if m == nil {
		return
	}
	m.attemptsTotal.WithLabelValues(verdict).Inc()
	m.sufficiencyScore.Observe(sufficiency)
	m.retrievalDuration.Observe(duration.Seconds())
}

// ObserveQuery 记录一次查询的终态。
func (m *Metrics) ObserveQuery(state State) {
	if m == nil {
		return
	}
	m.queriesTotal.WithLabelValues(string(state)).Inc()
}

// ObserveCache 记录一次答案缓存命中或未命中。
func (m *Metrics) ObserveCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheHitsTotal.Inc()
	} else {
		m.cacheMissesTotal.Inc()
	}
}

package services

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type turnMetrics struct {
	turnsTotal     *prometheus.CounterVec
	turnDuration   prometheus.Histogram
	gateDecisions  *prometheus.CounterVec
	memoryRefresh  *prometheus.CounterVec
	providerCalls  *prometheus.CounterVec
	providerTokens prometheus.Counter
}

var useTurnMetrics = sync.OnceValue(func() *turnMetrics {
	return &turnMetrics{
		turnsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crm",
			Subsystem: "turn",
			Name:      "total",
			Help:      "Completed turn orchestrations by terminal status.",
		}, []string{"status"}),
		turnDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "crm",
			Subsystem: "turn",
			Name:      "duration_seconds",
			Help:      "Wall time of a single turn orchestration.",
			Buckets:   prometheus.DefBuckets,
		}),
		gateDecisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crm",
			Subsystem: "policy_gate",
			Name:      "decisions_total",
			Help:      "Policy gate evaluations by point, outcome and reason.",
		}, []string{"point", "outcome", "reason"}),
		memoryRefresh: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crm",
			Subsystem: "memory",
			Name:      "refresh_total",
			Help:      "Memory refresh attempts by result.",
		}, []string{"result"}),
		providerCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crm",
			Subsystem: "llm",
			Name:      "calls_total",
			Help:      "LLM provider calls by result.",
		}, []string{"result"}),
		providerTokens: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "crm",
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Total tokens reported by the provider.",
		}),
	}
})

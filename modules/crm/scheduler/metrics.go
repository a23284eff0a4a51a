package scheduler

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	reviewTotal   prometheus.Counter
	reviewErrors  prometheus.Counter
	dispatchTotal *prometheus.CounterVec
	dispatchError prometheus.Counter

	dispatchLatency prometheus.Histogram

	duePending prometheus.Gauge
}

var metricsSingleton = sync.OnceValue(func() *metrics {
	return &metrics{
		reviewTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "crm_scheduler",
			Name:      "review_total",
			Help:      "Total number of follow-up times planned by the review loop.",
		}),
		reviewErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "crm_scheduler",
			Name:      "review_errors_total",
			Help:      "Total number of review loop iteration errors.",
		}),
		dispatchTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crm_scheduler",
			Name:      "dispatch_total",
			Help:      "Total number of dispatched turns by result.",
		}, []string{"result"}),
		dispatchError: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "crm_scheduler",
			Name:      "dispatch_errors_total",
			Help:      "Total number of dispatcher iteration errors.",
		}),
		dispatchLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "crm_scheduler",
			Name:      "dispatch_latency_seconds",
			Help:      "Latency distribution for a single dispatched turn.",
			Buckets: []float64{
				0.01, 0.02, 0.05,
				0.1, 0.2, 0.5,
				1, 2, 5, 10, 30,
			},
		}),
		duePending: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "crm_scheduler",
			Name:      "due_pending",
			Help:      "Current number of leads due for dispatch.",
		}),
	}
})

func getMetrics() *metrics {
	return metricsSingleton()
}

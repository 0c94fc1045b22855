package session

import "github.com/prometheus/client_golang/prometheus"

var (
	modelLoadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "offlined",
		Subsystem: "session",
		Name:      "model_loads_total",
		Help:      "Total model graph loads by execution provider",
	}, []string{"provider"})

	inferenceSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "offlined",
		Subsystem: "session",
		Name:      "inference_seconds",
		Help:      "Forward pass latency in seconds",
		Buckets:   prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(modelLoadsTotal, inferenceSeconds)
}

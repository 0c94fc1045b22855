package download

import "github.com/prometheus/client_golang/prometheus"

var (
	bytesReceivedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "offlined",
		Subsystem: "download",
		Name:      "bytes_received_total",
		Help:      "Total bytes received over all transfers",
	})

	retriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "offlined",
		Subsystem: "download",
		Name:      "retries_total",
		Help:      "Total transfer attempts beyond the first, per file",
	})

	checksumFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "offlined",
		Subsystem: "download",
		Name:      "checksum_failures_total",
		Help:      "Total payloads that failed SHA-256 verification",
	})

	downloadsInflight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "offlined",
		Subsystem: "download",
		Name:      "inflight",
		Help:      "Transfers currently streaming",
	})
)

func init() {
	prometheus.MustRegister(bytesReceivedTotal, retriesTotal, checksumFailuresTotal, downloadsInflight)
}

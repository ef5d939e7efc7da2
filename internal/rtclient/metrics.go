package rtclient

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	rpcTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "accelrt",
			Subsystem: "daemon",
			Name:      "rpcs_total",
			Help:      "Total daemon RPCs by method and outcome",
		},
		[]string{"method", "outcome"},
	)

	rpcDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "accelrt",
			Subsystem: "daemon",
			Name:      "rpc_duration_seconds",
			Help:      "Duration of daemon RPC round trips in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(rpcTotal, rpcDuration)
}

const (
	outcomeOK        = "ok"
	outcomeDaemonErr = "daemon_error"
	outcomeTransport = "transport_error"
)

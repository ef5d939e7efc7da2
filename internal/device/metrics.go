package device

import "github.com/prometheus/client_golang/prometheus"

var (
	modelSwitches = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "accelrt",
			Subsystem: "device",
			Name:      "model_switches_total",
			Help:      "Stop/start pairs issued because a different model was running",
		},
	)

	infersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "accelrt",
			Subsystem: "device",
			Name:      "inferences_total",
			Help:      "Inferences issued, by mode",
		},
		[]string{"mode"},
	)
)

func init() {
	prometheus.MustRegister(modelSwitches, infersTotal)
}

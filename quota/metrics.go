package quota

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	resultAllowed     = "allowed"
	resultDenied      = "denied"
	resultError       = "error"
	resultLockTimeout = "lock_timeout"
)

// Quota Prometheus metrics.
var (
	checksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dragonbot",
			Subsystem: "quota",
			Name:      "checks_total",
			Help:      "Total number of quota checks, by result",
		},
		[]string{"counter", "result"},
	)

	persistFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dragonbot",
			Subsystem: "quota",
			Name:      "persist_failures_total",
			Help:      "Total number of failed quota state writes",
		},
		[]string{"counter"},
	)

	usedGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "dragonbot",
			Subsystem: "quota",
			Name:      "used",
			Help:      "Quota consumed on the current day, as of the last check",
		},
		[]string{"counter"},
	)
)

var registerOnce sync.Once

// RegisterMetrics registers the quota collectors with reg. Only the first
// call has any effect.
func RegisterMetrics(reg prometheus.Registerer) {
	registerOnce.Do(
		func() {
			reg.MustRegister(checksTotal, persistFailuresTotal, usedGauge)
		},
	)
}

package utils

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveCalls = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "softphone_active_calls",
		Help: "The number of calls currently in progress",
	})

	CallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "softphone_calls_total",
		Help: "The total number of finalized calls by direction and disposition",
	}, []string{"direction", "status"})

	CallDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "softphone_call_duration_seconds",
		Help:    "Connected call duration",
		Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800, 3600},
	})

	RegistrationState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "softphone_registered",
		Help: "1 while a registration session is active, 0 otherwise",
	})

	RegistrationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "softphone_registration_failures_total",
		Help: "Total number of failed registration attempts",
	})

	DTMFDigitsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "softphone_dtmf_digits_sent_total",
		Help: "Total number of DTMF digits dispatched",
	})

	APIAuthFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "softphone_api_auth_failures_total",
		Help: "Total number of rejected control API logins",
	})
)

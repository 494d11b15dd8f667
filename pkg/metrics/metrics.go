package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for monitoring
var (
	ProbesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paywatch_probes_total",
		Help: "The total number of status probes by outcome",
	}, []string{"outcome"})

	ProbeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "paywatch_probe_duration_seconds",
		Help:    "Time taken by a single status probe",
		Buckets: prometheus.ExponentialBuckets(0.025, 2, 10), // 25ms up to ~12.8s
	}, []string{"outcome"})

	PollTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paywatch_poll_ticks_total",
		Help: "The total number of polling ticks executed",
	})

	TickMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paywatch_poll_tick_misses_total",
		Help: "Ticks where no candidate returned a usable body",
	})

	LoopsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paywatch_loops_finished_total",
		Help: "Polling loops that reached a terminal state",
	}, []string{"state"})

	AttemptsToFinish = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "paywatch_loop_attempts",
		Help:    "Ticks used by a polling loop before it terminated",
		Buckets: prometheus.LinearBuckets(1, 5, 10),
	}, []string{"state"})

	IntentsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paywatch_intents_created_total",
		Help: "Payment intent creation attempts by result",
	}, []string{"result"})

	// SessionsFinished counts session outcomes including manual confirmation
	SessionsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paywatch_sessions_finished_total",
		Help: "Payment sessions that reached a terminal status",
	}, []string{"status"})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "paywatch_active_sessions",
		Help: "Sessions currently registered with the service",
	})

	CircuitOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "paywatch_intent_circuit_open",
		Help: "1 while the intent creation circuit breaker is open",
	})
)

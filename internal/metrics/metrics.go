package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "image_checker"

var (
	RequestsSubmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_submitted_total",
			Help:      "Total number of validation submissions, labeled by admission outcome.",
		},
		[]string{"outcome"},
	)

	RequestsFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_finished_total",
			Help:      "Total number of requests reaching a terminal state, labeled by state and resolution or failure reason.",
		},
		[]string{"state", "outcome"},
	)

	ProcessingLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "processing_latency_seconds",
			Help:      "Latency from admission to terminal state (seconds).",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"state"},
	)

	CheckOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "check_outcomes_total",
			Help:      "Outcomes of individual checks (content, location, datetime).",
		},
		[]string{"check", "outcome"},
	)

	ClassifierCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifier_calls_total",
			Help:      "Total number of classifier calls, labeled by provider and outcome.",
		},
		[]string{"provider", "outcome"},
	)

	ClassifierLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "classifier_latency_seconds",
			Help:      "Classifier call latency including retries (seconds).",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"provider"},
	)

	ThrottleWaitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "throttle_waits_total",
			Help:      "Number of acquisitions that had to wait for a permit.",
		},
		[]string{"throttle"},
	)

	ThrottleWaitSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "throttle_wait_seconds",
			Help:      "Time spent waiting for a throttle permit (seconds).",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
		},
		[]string{"throttle"},
	)

	RateLimitHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_hits_total",
			Help:      "Requests rejected or delayed by a token bucket.",
		},
		[]string{"scope", "operation"},
	)

	CallbackDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "callback_deliveries_total",
			Help:      "Total number of result callback deliveries, labeled by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsSubmittedTotal,
		RequestsFinishedTotal,
		ProcessingLatencySeconds,
		CheckOutcomesTotal,
		ClassifierCallsTotal,
		ClassifierLatencySeconds,
		ThrottleWaitsTotal,
		ThrottleWaitSeconds,
		RateLimitHitsTotal,
		CallbackDeliveriesTotal,
	)
}

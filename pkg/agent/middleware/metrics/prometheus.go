package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusRecorder implements the Recorder interface using Prometheus metrics.
type PrometheusRecorder struct {
	requestsTotal   *prometheus.CounterVec
	tokensTotal     *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	decisionsTotal  *prometheus.CounterVec
	summariesTotal  *prometheus.CounterVec
}

// NewPrometheusRecorder registers the civagent collectors on reg. A nil reg uses the
// default registerer.
func NewPrometheusRecorder(namespace string, reg prometheus.Registerer) *PrometheusRecorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusRecorder{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "llm_requests_total",
				Help:      "Total number of model requests by model, actor, and status",
			},
			[]string{"model", "actor", "status", "error_type"},
		),
		tokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "llm_tokens_total",
				Help:      "Total number of tokens used in model requests",
			},
			[]string{"model", "actor", "type"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "llm_request_duration_seconds",
				Help:      "Duration of model requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"model", "actor"},
		),
		decisionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decisions_total",
				Help:      "Actor decisions by outcome",
			},
			[]string{"actor", "outcome"},
		),
		summariesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "history_summaries_total",
				Help:      "Dialogue history compactions",
			},
			[]string{"model"},
		),
	}
}

// ObserveRequest records metrics for a completed model request.
func (p *PrometheusRecorder) ObserveRequest(
	model, actor string,
	promptTokens, completionTokens int,
	success bool,
	errorType string,
	duration time.Duration,
) {
	status := statusSuccess
	if !success {
		status = statusError
	}
	p.requestsTotal.WithLabelValues(model, actor, status, errorType).Inc()

	// Tokens only on success
	if success {
		p.tokensTotal.WithLabelValues(model, actor, "prompt").Add(float64(promptTokens))
		p.tokensTotal.WithLabelValues(model, actor, "completion").Add(float64(completionTokens))
	}

	p.requestDuration.WithLabelValues(model, actor).Observe(duration.Seconds())
}

// ObserveDecision increments the decision counter.
func (p *PrometheusRecorder) ObserveDecision(actor, outcome string) {
	p.decisionsTotal.WithLabelValues(actor, outcome).Inc()
}

// IncSummarization increments the compaction counter.
func (p *PrometheusRecorder) IncSummarization(model string) {
	p.summariesTotal.WithLabelValues(model).Inc()
}

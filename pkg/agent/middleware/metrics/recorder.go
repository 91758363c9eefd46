// Package metrics provides metrics recording for model client operations.
package metrics

import "time"

// Recorder defines the interface for recording model request metrics.
type Recorder interface {
	// ObserveRequest records metrics for a completed model request.
	ObserveRequest(
		model, actor string,
		promptTokens, completionTokens int,
		success bool,
		errorType string,
		duration time.Duration,
	)

	// ObserveDecision counts how a decision query ended (decided, timeout_fallback, no_actions).
	ObserveDecision(actor, outcome string)

	// IncSummarization counts history compactions.
	IncSummarization(model string)
}

// NoopRecorder implements Recorder with no-op behavior for when metrics are disabled.
type NoopRecorder struct{}

// Nop returns a no-op metrics recorder that discards all metrics.
func Nop() Recorder {
	return &NoopRecorder{}
}

// ObserveRequest does nothing in the no-op recorder.
func (n *NoopRecorder) ObserveRequest(_, _ string, _, _ int, _ bool, _ string, _ time.Duration) {}

// ObserveDecision does nothing in the no-op recorder.
func (n *NoopRecorder) ObserveDecision(_, _ string) {}

// IncSummarization does nothing in the no-op recorder.
func (n *NoopRecorder) IncSummarization(_ string) {}

package contextmgr

import (
	"context"
	"errors"
	"fmt"

	"civagent/pkg/agent/llm"
	"civagent/pkg/agent/middleware/metrics"
	"civagent/pkg/agent/middleware/resilience/retry"
	"civagent/pkg/logx"
	"civagent/pkg/utils"
)

// SummaryPrefix introduces the synthesized history message.
const SummaryPrefix = "The former chat history can be summarized as: \n"

// ErrBudgetUnreachable is returned when trimming cannot bring the transcript under the
// token limit, typically because the anchors alone exceed it.
var ErrBudgetUnreachable = errors.New("token budget unreachable: anchors exceed limit")

// TokenEstimator sizes a transcript in tokens.
type TokenEstimator interface {
	Estimate(msgs []Message) int
}

// EstimatorFunc adapts a function to TokenEstimator.
type EstimatorFunc func(msgs []Message) int

func (f EstimatorFunc) Estimate(msgs []Message) int { return f(msgs) }

type tiktokenEstimator struct {
	counter *utils.TokenCounter
}

func (e tiktokenEstimator) Estimate(msgs []Message) int {
	return e.counter.CountMessages(msgs)
}

// NewTiktokenEstimator returns an estimator using the tokenizer for model.
func NewTiktokenEstimator(model string) (TokenEstimator, error) {
	counter, err := utils.NewTokenCounter(model)
	if err != nil {
		return nil, err
	}
	return tiktokenEstimator{counter: counter}, nil
}

// Trimmer keeps a session under its token budget by replacing everything after the
// anchors with a summary.
type Trimmer struct {
	estimator  TokenEstimator
	summarizer Summarizer
	policy     *retry.Policy
	recorder   metrics.Recorder
	model      string
	logger     *logx.Logger
}

// TrimmerOption customizes a Trimmer.
type TrimmerOption func(*Trimmer)

// WithRecorder counts summarization passes under model.
func WithRecorder(recorder metrics.Recorder, model string) TrimmerOption {
	return func(t *Trimmer) {
		t.recorder = recorder
		t.model = model
	}
}

// WithTrimLogger overrides the logger.
func WithTrimLogger(logger *logx.Logger) TrimmerOption {
	return func(t *Trimmer) { t.logger = logger }
}

// NewTrimmer creates a trimmer. A nil policy makes a single summarizer attempt.
func NewTrimmer(estimator TokenEstimator, summarizer Summarizer, policy *retry.Policy, opts ...TrimmerOption) *Trimmer {
	if policy == nil {
		policy = retry.NewPolicy(retry.Config{MaxAttempts: 1}, nil)
	}
	t := &Trimmer{
		estimator:  estimator,
		summarizer: summarizer,
		policy:     policy,
		recorder:   metrics.Nop(),
		logger:     logx.NewLogger("trimmer"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// MaybeTrim summarizes the non-anchored history while the transcript estimate is at or
// above tokenLimit. A trailing user message is held aside and re-appended after the
// summary. Under budget this is a no-op.
func (t *Trimmer) MaybeTrim(ctx context.Context, s *Session, tokenLimit int) error {
	for {
		before := t.estimator.Estimate(s.Transcript())
		if before < tokenLimit {
			return nil
		}

		var (
			held    Message
			hasHeld bool
		)
		if last, ok := s.Last(); ok && last.Role == llm.RoleUser && s.Len() > s.AnchorCount() {
			held, hasHeld = s.PopLast()
		}
		restore := func() {
			if hasHeld {
				s.Append(held.Role, held.Content)
			}
		}

		dropped := s.TruncateToAnchors()
		if len(dropped) == 0 {
			restore()
			t.logger.Warn("transcript at %d tokens with nothing left to summarize (limit %d)", before, tokenLimit)
			return ErrBudgetUnreachable
		}

		var summary string
		err := t.policy.Do(ctx, func(ctx context.Context) error {
			var err error
			summary, err = t.summarizer.Summarize(ctx, dropped)
			return err
		})
		if err != nil {
			restore()
			return fmt.Errorf("summarize %d messages: %w", len(dropped), err)
		}
		t.recorder.IncSummarization(t.model)

		s.AddUserMessage(SummaryPrefix + summary)
		restore()

		after := t.estimator.Estimate(s.Transcript())
		logx.Debug(ctx, "trimmer", "summarized %d messages: %d -> %d tokens (limit %d)", len(dropped), before, after, tokenLimit)
		if after >= before {
			return ErrBudgetUnreachable
		}
	}
}

// Package queryloop runs the per-actor decision dialogue: prompt the model, dispatch its
// reply, and re-prompt with corrective fragments until an action is chosen or the
// decision deadline passes.
package queryloop

import (
	"context"
	"math/rand"
	"time"

	"civagent/pkg/agent/llm"
	"civagent/pkg/agent/middleware/metrics"
	"civagent/pkg/agent/middleware/resilience/retry"
	"civagent/pkg/command"
	"civagent/pkg/config"
	"civagent/pkg/contextmgr"
	"civagent/pkg/logx"
)

// OutcomeKind says how a decision ended.
type OutcomeKind int

const (
	OutcomeDecided OutcomeKind = iota
	OutcomeTimeoutFallback
	OutcomeNoActions
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeDecided:
		return "decided"
	case OutcomeTimeoutFallback:
		return "timeout_fallback"
	case OutcomeNoActions:
		return "no_actions"
	default:
		return "unknown"
	}
}

// Outcome is the result of ChooseAction.
type Outcome struct {
	Action   string
	Kind     OutcomeKind
	Attempts int
	Elapsed  time.Duration
}

// Dispatcher interprets a model reply.
type Dispatcher interface {
	Dispatch(ctx context.Context, reply, prompt string, actions []string) command.Result
}

// IntnSource picks the fallback action.
type IntnSource interface {
	Intn(n int) int
}

type globalIntn struct{}

//nolint:gosec // uniform pick, not security
func (globalIntn) Intn(n int) int { return rand.Intn(n) }

// Deps wires a Loop. Session, Client, Trimmer, Dispatcher and Fragments are required.
type Deps struct {
	Client     llm.LLMClient
	Session    *contextmgr.Session
	Trimmer    *contextmgr.Trimmer
	Dispatcher Dispatcher
	Fragments  interface{ InsistJSON() string }
	Model      config.ModelClientConfig
	TokenLimit int
	Pacing     *retry.Policy    // backoff between failed model calls
	Recorder   metrics.Recorder // decision outcomes
	Rand       IntnSource
	Actor      string
	Logger     *logx.Logger
	Now        func() time.Time
}

// Loop is owned by one worker and shares its session.
type Loop struct {
	Deps
}

// New creates a loop, filling optional dependencies with defaults.
func New(deps Deps) *Loop {
	if deps.Pacing == nil {
		deps.Pacing = retry.NewPolicy(config.RetryConfig{
			MaxAttempts:   1,
			InitialDelay:  200 * time.Millisecond,
			MaxDelay:      2 * time.Second,
			BackoffFactor: 2,
			Jitter:        true,
		}, nil)
	}
	if deps.Recorder == nil {
		deps.Recorder = metrics.Nop()
	}
	if deps.Rand == nil {
		deps.Rand = globalIntn{}
	}
	if deps.Logger == nil {
		deps.Logger = logx.NewLogger("queryloop")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Loop{Deps: deps}
}

// ChooseAction queries the model until it picks one of actions. When timeout elapses, or
// ctx ends, a uniformly random action is returned instead; in the ctx case the context
// error is returned alongside that outcome.
func (l *Loop) ChooseAction(ctx context.Context, prompt string, actions []string, timeout time.Duration) (Outcome, error) {
	start := l.Now()
	if len(actions) == 0 {
		l.Recorder.ObserveDecision(l.Actor, OutcomeNoActions.String())
		return Outcome{Kind: OutcomeNoActions}, nil
	}

	ctx = metrics.WithActor(ctx, l.Actor)
	callCtx, cancel := context.WithDeadline(ctx, start.Add(timeout))
	defer cancel()

	var (
		fragment string
		attempts int
		failures int
	)
	for l.Now().Sub(start) < timeout && ctx.Err() == nil {
		l.Session.AddUserMessage(prompt + fragment + l.Fragments.InsistJSON())
		if err := l.Trimmer.MaybeTrim(callCtx, l.Session, l.TokenLimit); err != nil {
			l.Logger.Warn("%s: trimming failed: %v", l.Actor, err)
		}

		attempts++
		reply, err := l.query(callCtx)
		if err != nil {
			failures++
			l.Logger.Warn("%s: model query attempt %d failed: %v", l.Actor, attempts, err)
			l.dropDanglingPrompt()
			// Wait ends early with the deadline; the loop condition handles that.
			_ = l.Pacing.Wait(callCtx, failures+1)
			continue
		}
		failures = 0
		logx.Debug(ctx, "queryloop", "%s: reply %d: %s", l.Actor, attempts, reply)

		l.Session.AddAssistantMessage(reply)
		res := l.Dispatcher.Dispatch(callCtx, reply, prompt, actions)
		if res.HasAction {
			l.Recorder.ObserveDecision(l.Actor, OutcomeDecided.String())
			return Outcome{Action: res.Action, Kind: OutcomeDecided, Attempts: attempts, Elapsed: l.Now().Sub(start)}, nil
		}
		fragment = res.Fragment
	}

	l.dropDanglingPrompt()
	action := actions[l.Rand.Intn(len(actions))]
	l.Logger.Warn("%s: no decision after %d attempts, randomly choosing %q", l.Actor, attempts, action)
	l.Recorder.ObserveDecision(l.Actor, OutcomeTimeoutFallback.String())
	return Outcome{Action: action, Kind: OutcomeTimeoutFallback, Attempts: attempts, Elapsed: l.Now().Sub(start)}, ctx.Err()
}

func (l *Loop) query(ctx context.Context) (string, error) {
	req := llm.NewCompletionRequest(l.Session.Transcript())
	if l.Model.MaxReplyTokens > 0 {
		req.MaxTokens = l.Model.MaxReplyTokens
	}
	req.Temperature = l.Model.Temperature
	req.TopP = l.Model.TopP

	resp, err := l.Client.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (l *Loop) dropDanglingPrompt() {
	if last, ok := l.Session.Last(); ok && last.Role == llm.RoleUser && l.Session.Len() > l.Session.AnchorCount() {
		l.Session.PopLast()
	}
}

package command

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"civagent/pkg/agent/middleware/resilience/retry"
	"civagent/pkg/config"
	"civagent/pkg/contextmgr"
	"civagent/pkg/logx"
)

// NoiseReminder is appended when a command is missing its input and the reply is kept.
const NoiseReminder = "You should only use the given commands!"

// RandSource supplies the probabilities behind the nudge and noise heuristics.
type RandSource interface {
	Float64() float64
}

type globalRand struct{}

//nolint:gosec // heuristics, not security
func (globalRand) Float64() float64 { return rand.Float64() }

// DefaultRand draws from math/rand's global source.
func DefaultRand() RandSource { return globalRand{} }

// Fragments renders the corrective prompt pieces.
type Fragments interface {
	InsistJSON() string
	InsistAvailAction() string
	InsistVariousActions(action string) string
	InsistAvailableCommands(commands string) string
	FinishLookFor() string
}

// Retriever answers questions about the game manual and history.
type Retriever interface {
	Answer(ctx context.Context, question string) (string, error)
}

// Deps are the collaborators a dispatcher's handlers work with. Session is the owning
// worker's session; everything else may be shared.
type Deps struct {
	Session   *contextmgr.Session
	Fragments Fragments
	Retriever Retriever     // nil disables manualAndHistorySearch
	Retrieval *retry.Policy // nil means a single attempt
	Rand      RandSource    // nil means DefaultRand
	Dialogue  config.DialogueConfig
	Logger    *logx.Logger
}

// Dispatcher routes parsed commands to the registry.
type Dispatcher struct {
	registry *Registry
	deps     Deps
	logger   *logx.Logger
}

// NewDispatcher builds the registry for role and a dispatcher over it.
func NewDispatcher(role string, deps Deps) (*Dispatcher, error) {
	deps = withDefaults(deps)
	reg, err := RoleRegistry(role, deps)
	if err != nil {
		return nil, err
	}
	return &Dispatcher{registry: reg, deps: deps, logger: deps.Logger}, nil
}

// NewDispatcherWithRegistry uses a caller-built registry.
func NewDispatcherWithRegistry(reg *Registry, deps Deps) *Dispatcher {
	deps = withDefaults(deps)
	return &Dispatcher{registry: reg, deps: deps, logger: deps.Logger}
}

func withDefaults(deps Deps) Deps {
	if deps.Rand == nil {
		deps.Rand = DefaultRand()
	}
	if deps.Retrieval == nil {
		deps.Retrieval = retry.NewPolicy(config.RetryConfig{MaxAttempts: 1}, nil)
	}
	if deps.Logger == nil {
		deps.Logger = logx.NewLogger("dispatch")
	}
	return deps
}

// Registry returns the dispatcher's registry.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Dispatch parses reply and runs the named handler. It never fails: every problem with
// the reply becomes a corrective fragment or a transcript edit.
func (d *Dispatcher) Dispatch(ctx context.Context, reply, prompt string, actions []string) Result {
	cmd, err := Parse(reply)
	if err != nil {
		d.logger.Warn("reply not in command format: %v", err)
		logx.Debug(ctx, "dispatch", "unparsable reply: %s", reply)
		return Result{Fragment: d.deps.Fragments.InsistJSON()}
	}

	handler, kind, ok := d.registry.Lookup(cmd.Name)
	if !ok {
		d.logger.Warn("unknown command %q", cmd.Name)
		return Result{Fragment: d.deps.Fragments.InsistAvailableCommands(d.registry.NamesList())}
	}

	res, err := handler(ctx, cmd.Input, prompt, actions)
	if errors.Is(err, ErrMissingInput) {
		d.logger.Warn("%s: %v", kind, err)
		d.dropNoise()
		return Result{}
	}
	if err != nil {
		d.logger.Error("%s: %v", kind, err)
		return Result{Fragment: d.deps.Fragments.InsistJSON()}
	}
	return res
}

func (d *Dispatcher) dropNoise() {
	if d.deps.Rand.Float64() < d.deps.Dialogue.DropNoiseProb {
		d.deps.Session.PopLast()
		return
	}
	d.deps.Session.AddUserMessage(NoiseReminder)
}

func missing(field string) error {
	return fmt.Errorf("%w: %q", ErrMissingInput, field)
}

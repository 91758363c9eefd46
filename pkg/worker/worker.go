// Package worker owns the per-actor dialogue state. A Pool creates one Worker per
// controllable entity as entities appear and drops it when they are gone.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"civagent/pkg/agent/llm"
	"civagent/pkg/agent/middleware/metrics"
	"civagent/pkg/agent/middleware/resilience/retry"
	"civagent/pkg/agent/queryloop"
	"civagent/pkg/command"
	"civagent/pkg/config"
	"civagent/pkg/contextmgr"
	"civagent/pkg/game"
	"civagent/pkg/logx"
	"civagent/pkg/persistence"
	"civagent/pkg/templates"
)

// ClientFactory builds a model client for one worker.
type ClientFactory interface {
	CreateClient(mc config.ModelClientConfig, retryCfg config.RetryConfig) (llm.LLMClient, error)
}

// History stores short notes about past decisions for later retrieval.
type History interface {
	Remember(ctx context.Context, actor, note string) error
}

// Options are shared by every worker of a pool.
type Options struct {
	Config    *config.Config
	Clients   ClientFactory
	Renderer  *templates.Renderer
	Builder   game.PromptBuilder          // nil means game.DefaultPromptBuilder
	Retriever command.Retriever           // nil disables manualAndHistorySearch
	History   History                     // optional
	Store     persistence.TranscriptStore // nil disables dialogue dumps
	SessionID string
	Recorder  metrics.Recorder
	Console   *logx.Console // nil disables console highlights
	Rand      command.RandSource
	Intn      queryloop.IntnSource
	Now       func() time.Time
}

func (o Options) withDefaults() (Options, error) {
	if o.Config == nil {
		return o, errors.New("worker options: config is required")
	}
	if o.Clients == nil {
		return o, errors.New("worker options: client factory is required")
	}
	if o.Renderer == nil {
		r, err := templates.NewRenderer(o.Config.Prompts.Role)
		if err != nil {
			return o, err
		}
		o.Renderer = r
	}
	if o.Builder == nil {
		o.Builder = game.DefaultPromptBuilder{}
	}
	if o.Recorder == nil {
		o.Recorder = metrics.Nop()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o, nil
}

// Worker decides actions for a single actor.
type Worker struct {
	key     game.ActorKey
	opts    Options
	session *contextmgr.Session
	loop    *queryloop.Loop
	logger  *logx.Logger
}

// New creates the worker for key with a fresh session seeded by the role's instruction
// and task prompts.
func New(key game.ActorKey, opts Options) (*Worker, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	cfg := opts.Config
	logger := logx.NewLogger("worker").With(key.String())

	// Each worker gets its own copies so key rotation never crosses actors.
	model := cfg.Model
	model.APIKeys = append([]string(nil), cfg.Model.APIKeys...)
	summarizerModel := cfg.SummarizerModel()
	summarizerModel.APIKeys = append([]string(nil), summarizerModel.APIKeys...)

	client, err := opts.Clients.CreateClient(model, cfg.Retry.Model)
	if err != nil {
		return nil, fmt.Errorf("create model client for %s: %w", key, err)
	}
	summaryClient, err := opts.Clients.CreateClient(summarizerModel, cfg.Retry.Summarizer)
	if err != nil {
		return nil, fmt.Errorf("create summarizer client for %s: %w", key, err)
	}

	tokenLimit, err := cfg.EffectiveTokenLimit()
	if err != nil {
		return nil, err
	}
	estimator, err := contextmgr.NewTiktokenEstimator(model.Model)
	if err != nil {
		return nil, err
	}

	session := contextmgr.NewSession(cfg.Dialogue.AnchorCount,
		llm.NewUserMessage(opts.Renderer.Instruction()),
		llm.NewUserMessage(opts.Renderer.Task()),
	)
	trimmer := contextmgr.NewTrimmer(
		estimator,
		contextmgr.NewLLMSummarizer(summaryClient, 0),
		retry.NewPolicy(cfg.Retry.Summarizer, nil),
		contextmgr.WithRecorder(opts.Recorder, summarizerModel.Model),
		contextmgr.WithTrimLogger(logger),
	)

	role := cfg.Prompts.Role
	if role == "" {
		role = config.RoleController
	}
	dispatcher, err := command.NewDispatcher(role, command.Deps{
		Session:   session,
		Fragments: opts.Renderer,
		Retriever: opts.Retriever,
		Retrieval: retry.NewPolicy(cfg.Retry.Retrieval, nil),
		Rand:      opts.Rand,
		Dialogue:  cfg.Dialogue,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	loop := queryloop.New(queryloop.Deps{
		Client:     client,
		Session:    session,
		Trimmer:    trimmer,
		Dispatcher: dispatcher,
		Fragments:  opts.Renderer,
		Model:      model,
		TokenLimit: tokenLimit,
		Pacing:     retry.NewPolicy(cfg.Retry.Model, nil),
		Recorder:   opts.Recorder,
		Rand:       opts.Intn,
		Actor:      key.String(),
		Logger:     logger,
		Now:        opts.Now,
	})

	return &Worker{key: key, opts: opts, session: session, loop: loop, logger: logger}, nil
}

// Key returns the actor this worker decides for.
func (w *Worker) Key() game.ActorKey { return w.key }

// Session exposes the worker's dialogue.
func (w *Worker) Session() *contextmgr.Session { return w.session }

// Decide chooses an action for this worker's actor in obs. An empty action means the actor
// has nothing to do this turn.
func (w *Worker) Decide(ctx context.Context, obs game.Observation) (string, error) {
	view, ok := obs.Actors[w.key]
	if !ok {
		return "", fmt.Errorf("actor %s not in observation for turn %d", w.key, obs.Turn)
	}
	actions := w.filter(view.Actions)
	if len(actions) == 0 {
		w.logger.Debug("turn %d: nothing to decide", obs.Turn)
		return "", nil
	}

	prompt := w.opts.Builder.BuildPrompt(w.key.Class, view, actions)
	if w.opts.Console != nil {
		w.opts.Console.Current("Current", w.key.Class+":", view.Name)
	}

	out, err := w.loop.ChooseAction(ctx, prompt, actions, w.opts.Config.Dialogue.DecisionTimeout)
	if err != nil {
		w.logger.Warn("turn %d: decision interrupted: %v", obs.Turn, err)
	}
	w.logger.Info("turn %d: %s %q after %d attempts in %s", obs.Turn, out.Kind, out.Action, out.Attempts, out.Elapsed.Round(time.Millisecond))
	if w.opts.Console != nil && out.Action != "" {
		w.opts.Console.Action(view.Name, "->", out.Action)
	}

	w.save(ctx, obs.Turn)
	w.remember(ctx, obs.Turn, view, out.Action)
	return out.Action, err
}

func (w *Worker) filter(actions []string) []string {
	kept := make([]string, 0, len(actions))
	for _, a := range actions {
		skip := false
		for _, s := range w.opts.Config.Dialogue.SkipActions {
			if strings.EqualFold(a, s) {
				skip = true
				break
			}
		}
		if !skip {
			kept = append(kept, a)
		}
	}
	return kept
}

func (w *Worker) save(ctx context.Context, turn int) {
	if w.opts.Store == nil {
		return
	}
	name := persistence.DialogueName(turn, w.key.String(), w.opts.Now())
	if err := w.opts.Store.SaveTranscript(ctx, w.opts.SessionID, name, w.session.Transcript()); err != nil {
		w.logger.Warn("failed to save dialogue %s: %v", name, err)
	}
}

func (w *Worker) remember(ctx context.Context, turn int, view game.ActorView, action string) {
	if w.opts.History == nil || action == "" {
		return
	}
	note := fmt.Sprintf("Turn %d: %s (%s) chose %q. Observation: %s", turn, view.Name, w.key, action, view.Observation)
	if err := w.opts.History.Remember(ctx, w.key.String(), note); err != nil {
		w.logger.Warn("failed to record history: %v", err)
	}
}

package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"civagent/pkg/agent"
	"civagent/pkg/agent/middleware/metrics"
	"civagent/pkg/config"
	"civagent/pkg/game"
	"civagent/pkg/knowledge"
	"civagent/pkg/logx"
	"civagent/pkg/persistence"
	"civagent/pkg/scheduler"
	"civagent/pkg/templates"
	"civagent/pkg/worker"
)

type playOptions struct {
	scenario  string
	maxSteps  int
	promptDir string
}

func newPlayCmd(root *rootOptions) *cobra.Command {
	opts := &playOptions{}
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Play a scripted scenario with one LLM worker per unit and city",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runPlay(ctx, root, opts)
		},
	}
	cmd.Flags().StringVar(&opts.scenario, "scenario", "", "YAML scenario to replay")
	cmd.Flags().IntVar(&opts.maxSteps, "max-steps", 0, "Stop after this many actions (0 = no limit)")
	cmd.Flags().StringVar(&opts.promptDir, "prompts", "", "Directory overriding the embedded prompt templates")
	_ = cmd.MarkFlagRequired("scenario")
	return cmd
}

//nolint:cyclop // linear wiring of the game components
func runPlay(ctx context.Context, root *rootOptions, opts *playOptions) error {
	logger := logx.NewLogger("play")
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	if err := root.unlockSecrets(os.Stdin, os.Stderr); err != nil {
		return err
	}

	sc, err := game.LoadScenario(opts.scenario)
	if err != nil {
		return err
	}
	env := game.NewScriptedEnv(sc)

	recorder, shutdownMetrics := startMetrics(cfg.Metrics, logger)
	defer shutdownMetrics()

	renderer, err := newRenderer(cfg.Prompts.Role, opts.promptDir)
	if err != nil {
		return err
	}
	factory := agent.NewLLMClientFactory(recorder)

	workerOpts := worker.Options{
		Config:   cfg,
		Clients:  factory,
		Renderer: renderer,
		Recorder: recorder,
		Console:  logx.NewConsole(os.Stdout),
	}

	if cfg.Knowledge.DBPath != "" {
		index, closeIndex, err := openIndex(cfg, factory, renderer)
		if err != nil {
			return err
		}
		defer closeIndex()
		workerOpts.Retriever = index
		workerOpts.History = index
	}

	store, sessionID, closeStores, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStores()
	workerOpts.Store = store
	workerOpts.SessionID = sessionID

	pool, err := worker.NewPool(workerOpts)
	if err != nil {
		return err
	}
	sched := scheduler.New(env, pool, pool, cfg.Scheduler)

	logger.Info("playing %q with %s as %s", sc.Name, cfg.Model.Model, cfg.Prompts.Role)
	steps, err := runGame(ctx, env, sched, workerOpts.Console, opts.maxSteps)
	logger.Info("played %d actions over %d turns", steps, len(sc.Turns))
	return err
}

func newRenderer(role, dir string) (*templates.Renderer, error) {
	if dir != "" {
		return templates.NewRendererFromDir(role, dir)
	}
	return templates.NewRenderer(role)
}

// startMetrics serves /metrics when enabled and returns the recorder to wire in.
func startMetrics(cfg config.MetricsConfig, logger *logx.Logger) (metrics.Recorder, func()) {
	if !cfg.Enabled {
		return metrics.Nop(), func() {}
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewPrometheusRecorder(cfg.Namespace, reg)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: cfg.ListenAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed: %v", err)
		}
	}()
	logger.Info("serving metrics on %s/metrics", cfg.ListenAddr)

	return recorder, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func openIndex(cfg *config.Config, factory *agent.LLMClientFactory, renderer *templates.Renderer) (*knowledge.ManualIndex, func(), error) {
	db, err := knowledge.Open(cfg.Knowledge.DBPath)
	if err != nil {
		return nil, nil, err
	}
	client, err := factory.CreateClient(cfg.SummarizerModel(), cfg.Retry.Model)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	index, err := knowledge.NewManualIndex(db, client, renderer, cfg.Knowledge.TopK)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return index, func() { _ = db.Close() }, nil
}

// openStores builds the dialogue stores the config asks for.
func openStores(ctx context.Context, cfg *config.Config) (persistence.TranscriptStore, string, func(), error) {
	var (
		stores    persistence.MultiStore
		sessionID string
		db        *sql.DB
	)
	closeAll := func() {
		if db != nil {
			_ = db.Close()
		}
	}

	if cfg.Persistence.SaveDialogues {
		fs, err := persistence.NewFileStore(cfg.Persistence.DialogueDir)
		if err != nil {
			return nil, "", closeAll, err
		}
		stores = append(stores, fs)
	}
	if cfg.Persistence.DBPath != "" {
		var err error
		if db, err = persistence.OpenDB(cfg.Persistence.DBPath); err != nil {
			return nil, "", closeAll, err
		}
		sqlStore := persistence.NewSQLiteStore(db)
		if sessionID, err = sqlStore.StartSession(ctx, cfg.Model.Model, cfg.Prompts.Role); err != nil {
			closeAll()
			return nil, "", func() {}, err
		}
		stores = append(stores, sqlStore)
	}

	if len(stores) == 0 {
		return nil, sessionID, closeAll, nil
	}
	return stores, sessionID, closeAll, nil
}

// scenarioEnv is an environment the game loop can advance.
type scenarioEnv interface {
	game.Environment
	Observe() (game.Observation, error)
	Step(action game.Action) error
	EndTurn()
	Done() bool
}

type actor interface {
	Act(ctx context.Context, obs game.Observation) (game.Action, bool)
}

// runGame feeds observations to the scheduler until the scenario ends, ctx is canceled, or
// maxSteps actions were applied. It returns the number of applied actions.
func runGame(ctx context.Context, env scenarioEnv, sched actor, console *logx.Console, maxSteps int) (int, error) {
	steps := 0
	for !env.Done() {
		if err := ctx.Err(); err != nil {
			return steps, err
		}
		obs, err := env.Observe()
		if err != nil {
			return steps, err
		}
		action, ok := sched.Act(ctx, obs)
		if !ok {
			if console != nil {
				console.Step(fmt.Sprintf("Turn %d finished", obs.Turn))
			}
			env.EndTurn()
			continue
		}
		if err := env.Step(action); err != nil {
			logx.Warnf("turn %d: %v", obs.Turn, err)
			continue
		}
		steps++
		if console != nil {
			console.Step(fmt.Sprintf("Step %d: %s %s", steps, action.Key(), action.Name))
		}
		if maxSteps > 0 && steps >= maxSteps {
			return steps, nil
		}
	}
	return steps, nil
}

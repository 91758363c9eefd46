// Package scheduler turns one observation at a time into at most one action. On a new turn
// it lets every actor decide in parallel, then hands out the queued decisions one per call,
// re-planning actors whose decision became illegal in the meantime.
package scheduler

import (
	"context"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"civagent/pkg/config"
	"civagent/pkg/game"
	"civagent/pkg/logx"
)

// Decider chooses an action for one actor. An empty action means no action.
type Decider interface {
	Decide(ctx context.Context, key game.ActorKey, obs game.Observation) (string, error)
}

// Hooks observe actors appearing and disappearing between turns.
type Hooks interface {
	AddEntity(key game.ActorKey) error
	RemoveEntity(key game.ActorKey)
}

// TakenAction is the last action handed out for an actor.
type TakenAction struct {
	Name string
	Turn int
}

// Scheduler is driven by a single goroutine calling Act.
type Scheduler struct {
	env     game.Environment
	decider Decider
	hooks   Hooks
	cfg     config.SchedulerConfig
	logger  *logx.Logger

	started   bool
	turn      int
	depth     int
	queue     PendingQueue
	conflicts []game.ActorKey
	planned   map[game.ActorKey]bool
	entities  map[string]map[int]bool
	lastTaken map[game.ActorKey]TakenAction
}

// New creates a scheduler. hooks may be nil.
func New(env game.Environment, decider Decider, hooks Hooks, cfg config.SchedulerConfig) *Scheduler {
	if cfg.WorkerPoolSize < 1 {
		cfg.WorkerPoolSize = 1
	}
	return &Scheduler{
		env:       env,
		decider:   decider,
		hooks:     hooks,
		cfg:       cfg,
		logger:    logx.NewLogger("scheduler"),
		planned:   make(map[game.ActorKey]bool),
		entities:  make(map[string]map[int]bool),
		lastTaken: make(map[game.ActorKey]TakenAction),
	}
}

// Act returns the next legal action for obs, or false when nothing is left this turn.
func (s *Scheduler) Act(ctx context.Context, obs game.Observation) (game.Action, bool) {
	if turn := s.env.CurrentTurn(); !s.started || turn != s.turn {
		s.newTurn(ctx, turn, obs)
	}

	for s.depth < s.cfg.MaxDeconflictDepth {
		if s.queue.Len() == 0 {
			s.replanConflicts(ctx, obs)
			s.depth++
		}
		if s.queue.Len() == 0 {
			return game.Action{}, false
		}
		for {
			action, ok := s.queue.Pop()
			if !ok {
				break
			}
			if s.env.IsActionStillLegal(action.Class, action.ID, action.Name) {
				s.lastTaken[action.Key()] = TakenAction{Name: action.Name, Turn: s.turn}
				return action, true
			}
			s.logger.Info("turn %d: %s %q is no longer legal", s.turn, action.Key(), action.Name)
			s.conflicts = append(s.conflicts, action.Key())
		}
	}
	return game.Action{}, false
}

func (s *Scheduler) newTurn(ctx context.Context, turn int, obs game.Observation) {
	s.started = true
	s.turn = turn
	s.depth = 0
	s.planned = make(map[game.ActorKey]bool)
	s.conflicts = nil
	s.queue.Reset()
	s.logger.Info("turn %d: %d actors", turn, len(obs.Actors))

	s.syncEntities(s.env.ControllableEntities())

	var keys []game.ActorKey
	for _, key := range obs.Keys() {
		if !s.planned[key] {
			keys = append(keys, key)
		}
	}
	s.decide(ctx, obs, keys)
}

// syncEntities diffs the controllable set against the previous turn.
func (s *Scheduler) syncEntities(current map[string][]int) {
	classes := make([]string, 0, len(current)+len(s.entities))
	seen := make(map[string]bool)
	for class := range current {
		classes = append(classes, class)
		seen[class] = true
	}
	for class := range s.entities {
		if !seen[class] {
			classes = append(classes, class)
		}
	}
	sort.Strings(classes)

	for _, class := range classes {
		next := make(map[int]bool, len(current[class]))
		for _, id := range current[class] {
			next[id] = true
		}
		prev := s.entities[class]

		var births, deaths []int
		for id := range next {
			if !prev[id] {
				births = append(births, id)
			}
		}
		for id := range prev {
			if !next[id] {
				deaths = append(deaths, id)
			}
		}
		sort.Ints(births)
		sort.Ints(deaths)

		if s.hooks != nil {
			for _, id := range births {
				key := game.ActorKey{Class: class, ID: id}
				if err := s.hooks.AddEntity(key); err != nil {
					s.logger.Error("failed to add %s: %v", key, err)
				}
			}
			for _, id := range deaths {
				s.hooks.RemoveEntity(game.ActorKey{Class: class, ID: id})
			}
		}
		s.entities[class] = next
	}
}

// replanConflicts lets actors whose action turned illegal decide again against what the
// environment offers now.
func (s *Scheduler) replanConflicts(ctx context.Context, obs game.Observation) {
	keys := s.conflicts
	s.conflicts = nil
	if len(keys) == 0 {
		return
	}
	s.logger.Info("turn %d: re-planning %d conflicting actors", s.turn, len(keys))

	fresh := obs
	fresh.Actors = make(map[game.ActorKey]game.ActorView, len(obs.Actors))
	for k, v := range obs.Actors {
		fresh.Actors[k] = v
	}
	for _, key := range keys {
		if view, ok := fresh.Actors[key]; ok {
			view.Actions = s.env.AvailableActions(key.Class, key.ID)
			fresh.Actors[key] = view
		}
	}
	s.decide(ctx, fresh, keys)
}

// decide runs one decision per key on a bounded group and waits for all of them.
func (s *Scheduler) decide(ctx context.Context, obs game.Observation, keys []game.ActorKey) {
	var g errgroup.Group
	g.SetLimit(s.cfg.WorkerPoolSize)
	for _, key := range keys {
		s.planned[key] = true
		view := obs.Actors[key]
		g.Go(func() error {
			name, err := s.decider.Decide(ctx, key, obs)
			if err != nil {
				s.logger.Warn("turn %d: %s: %v", s.turn, key, err)
			}
			if !enqueueable(key, view, name) {
				return nil
			}
			s.queue.Push(game.Action{Class: key.Class, ID: key.ID, Name: name})
			return nil
		})
	}
	_ = g.Wait()
}

// enqueueable drops empty decisions and a city re-selecting what it already produces.
func enqueueable(key game.ActorKey, view game.ActorView, name string) bool {
	if name == "" {
		return false
	}
	if key.Class == game.ClassCity && view.Producing != "" && strings.EqualFold(name, "produce "+view.Producing) {
		return false
	}
	return true
}

// LastTaken returns the last action handed out for key.
func (s *Scheduler) LastTaken(key game.ActorKey) (TakenAction, bool) {
	t, ok := s.lastTaken[key]
	return t, ok
}

// Depth returns the re-planning passes used this turn.
func (s *Scheduler) Depth() int { return s.depth }

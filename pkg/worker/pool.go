package worker

import (
	"context"
	"fmt"
	"sync"

	"civagent/pkg/game"
	"civagent/pkg/logx"
)

// Pool maps actors to their workers. Hooks and deciders may run on different goroutines.
type Pool struct {
	mu      sync.Mutex
	opts    Options
	workers map[game.ActorKey]*Worker
	logger  *logx.Logger
}

// NewPool validates opts and returns an empty pool.
func NewPool(opts Options) (*Pool, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	return &Pool{
		opts:    opts,
		workers: make(map[game.ActorKey]*Worker),
		logger:  logx.NewLogger("worker-pool"),
	}, nil
}

// AddEntity creates a worker for a newly controllable actor. Existing workers are kept.
func (p *Pool) AddEntity(key game.ActorKey) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.workers[key]; ok {
		return nil
	}
	w, err := New(key, p.opts)
	if err != nil {
		return err
	}
	p.workers[key] = w
	p.logger.Debug("added worker %s", key)
	return nil
}

// RemoveEntity drops the worker of an actor that is gone.
func (p *Pool) RemoveEntity(key game.ActorKey) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.workers[key]; ok {
		delete(p.workers, key)
		p.logger.Debug("removed worker %s", key)
	}
}

// Get returns the worker for key.
func (p *Pool) Get(key game.ActorKey) (*Worker, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.workers[key]
	return w, ok
}

// Len returns the number of live workers.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// Decide runs the worker for key.
func (p *Pool) Decide(ctx context.Context, key game.ActorKey, obs game.Observation) (string, error) {
	w, ok := p.Get(key)
	if !ok {
		return "", fmt.Errorf("no worker for %s", key)
	}
	return w.Decide(ctx, obs)
}

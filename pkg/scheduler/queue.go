package scheduler

import (
	"sync"

	"civagent/pkg/game"
)

// PendingQueue is the FIFO of decided actions. Deciders push concurrently; the scheduler
// goroutine pops.
type PendingQueue struct {
	mu    sync.Mutex
	items []game.Action
}

// Push appends a decided action.
func (q *PendingQueue) Push(a game.Action) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, a)
}

// Pop removes the oldest action.
func (q *PendingQueue) Pop() (game.Action, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return game.Action{}, false
	}
	a := q.items[0]
	q.items[0] = game.Action{}
	q.items = q.items[1:]
	return a, true
}

// Len returns the number of pending actions.
func (q *PendingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Reset drops every pending action.
func (q *PendingQueue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
}

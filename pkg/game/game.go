// Package game describes what the agents see of the game and how they act on it. The
// environment is an interface; ScriptedEnv replays a YAML scenario in its place.
package game

import (
	"fmt"
	"sort"
)

// Actor classes.
const (
	ClassUnit = "unit"
	ClassCity = "city"
)

// ActorKey identifies a controllable entity.
type ActorKey struct {
	Class string
	ID    int
}

func (k ActorKey) String() string {
	return fmt.Sprintf("%s-%d", k.Class, k.ID)
}

// ActorView is one actor's slice of an observation.
type ActorView struct {
	Key         ActorKey
	Name        string
	Observation string
	Producing   string // cities only
	Message     string // scenario message for the whole turn
	Actions     []string
}

// Observation is the state the scheduler acts on.
type Observation struct {
	Turn     int
	Entities map[string][]int
	Actors   map[ActorKey]ActorView
	Message  string
}

// Keys returns the observed actors ordered by class then id.
func (o Observation) Keys() []ActorKey {
	keys := make([]ActorKey, 0, len(o.Actors))
	for k := range o.Actors {
		keys = append(keys, k)
	}
	SortKeys(keys)
	return keys
}

// SortKeys orders keys by class then id.
func SortKeys(keys []ActorKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Class != keys[j].Class {
			return keys[i].Class < keys[j].Class
		}
		return keys[i].ID < keys[j].ID
	})
}

// Action is a decision for one actor.
type Action struct {
	Class string
	ID    int
	Name  string
}

// Key returns the acting actor.
func (a Action) Key() ActorKey {
	return ActorKey{Class: a.Class, ID: a.ID}
}

// Environment is the game as the scheduler sees it.
type Environment interface {
	CurrentTurn() int
	ControllableEntities() map[string][]int
	AvailableActions(class string, id int) []string
	IsActionStillLegal(class string, id int, action string) bool
}

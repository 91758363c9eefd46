package game

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

var (
	// ErrScenarioOver is returned once every scripted turn has been played.
	ErrScenarioOver = errors.New("scenario finished")
	// ErrIllegalAction is returned by Step for an action that is no longer available.
	ErrIllegalAction = errors.New("illegal action")
)

// Scenario is the YAML form of a scripted game.
type Scenario struct {
	Name  string         `yaml:"name"`
	Turns []ScenarioTurn `yaml:"turns"`
}

// ScenarioTurn lists the actors controllable on one turn.
type ScenarioTurn struct {
	Number    int             `yaml:"number"`
	Message   string          `yaml:"message"`
	Actors    []ScenarioActor `yaml:"actors"`
	Conflicts []Conflict      `yaml:"conflicts"`
}

// ScenarioActor is one actor's scripted state.
type ScenarioActor struct {
	Class       string   `yaml:"class"`
	ID          int      `yaml:"id"`
	Name        string   `yaml:"name"`
	Observation string   `yaml:"observation"`
	Producing   string   `yaml:"producing"`
	Actions     []string `yaml:"actions"`
}

// ActionRef names an action of a specific actor.
type ActionRef struct {
	Class  string `yaml:"class"`
	ID     int    `yaml:"id"`
	Action string `yaml:"action"`
}

// Conflict invalidates other actors' actions once Taken is stepped.
type Conflict struct {
	Taken       ActionRef   `yaml:"taken"`
	Invalidates []ActionRef `yaml:"invalidates"`
}

// ParseScenario decodes a YAML scenario.
func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("failed to parse scenario: %w", err)
	}
	if len(sc.Turns) == 0 {
		return nil, errors.New("scenario has no turns")
	}
	for i := range sc.Turns {
		if sc.Turns[i].Number == 0 {
			sc.Turns[i].Number = i + 1
		}
		for _, a := range sc.Turns[i].Actors {
			if a.Class != ClassUnit && a.Class != ClassCity {
				return nil, fmt.Errorf("turn %d: actor %d has unknown class %q", sc.Turns[i].Number, a.ID, a.Class)
			}
		}
	}
	return &sc, nil
}

// LoadScenario reads a YAML scenario from disk.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario %s: %w", path, err)
	}
	return ParseScenario(data)
}

// ScriptedEnv replays a Scenario. An actor that acts loses its remaining actions for the
// turn, and conflicts strip the listed actions from other actors.
type ScriptedEnv struct {
	mu        sync.Mutex
	scenario  *Scenario
	index     int
	remaining map[ActorKey][]string
	taken     []Action
}

// NewScriptedEnv starts sc at its first turn.
func NewScriptedEnv(sc *Scenario) *ScriptedEnv {
	e := &ScriptedEnv{scenario: sc}
	e.resetTurn()
	return e
}

func (e *ScriptedEnv) resetTurn() {
	e.remaining = make(map[ActorKey][]string)
	if e.index >= len(e.scenario.Turns) {
		return
	}
	for _, a := range e.scenario.Turns[e.index].Actors {
		e.remaining[ActorKey{Class: a.Class, ID: a.ID}] = append([]string(nil), a.Actions...)
	}
}

// Done reports whether all turns have been played.
func (e *ScriptedEnv) Done() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.index >= len(e.scenario.Turns)
}

// CurrentTurn implements Environment.
func (e *ScriptedEnv) CurrentTurn() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.index >= len(e.scenario.Turns) {
		return e.scenario.Turns[len(e.scenario.Turns)-1].Number + 1
	}
	return e.scenario.Turns[e.index].Number
}

// ControllableEntities implements Environment.
func (e *ScriptedEnv) ControllableEntities() map[string][]int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.entitiesLocked()
}

func (e *ScriptedEnv) entitiesLocked() map[string][]int {
	out := map[string][]int{ClassUnit: {}, ClassCity: {}}
	if e.index >= len(e.scenario.Turns) {
		return out
	}
	for _, a := range e.scenario.Turns[e.index].Actors {
		out[a.Class] = append(out[a.Class], a.ID)
	}
	return out
}

// AvailableActions implements Environment.
func (e *ScriptedEnv) AvailableActions(class string, id int) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.remaining[ActorKey{Class: class, ID: id}]...)
}

// IsActionStillLegal implements Environment. Names match case-insensitively.
func (e *ScriptedEnv) IsActionStillLegal(class string, id int, action string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.canonical(ActorKey{Class: class, ID: id}, action)
	return ok
}

func (e *ScriptedEnv) canonical(key ActorKey, action string) (string, bool) {
	for _, a := range e.remaining[key] {
		if strings.EqualFold(a, action) {
			return a, true
		}
	}
	return "", false
}

// Observe snapshots the current turn.
func (e *ScriptedEnv) Observe() (Observation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.index >= len(e.scenario.Turns) {
		return Observation{}, ErrScenarioOver
	}
	turn := e.scenario.Turns[e.index]
	obs := Observation{
		Turn:     turn.Number,
		Entities: e.entitiesLocked(),
		Actors:   make(map[ActorKey]ActorView, len(turn.Actors)),
		Message:  turn.Message,
	}
	for _, a := range turn.Actors {
		key := ActorKey{Class: a.Class, ID: a.ID}
		name := a.Name
		if name == "" {
			name = fmt.Sprintf("%s %d", a.Class, a.ID)
		}
		obs.Actors[key] = ActorView{
			Key:         key,
			Name:        name,
			Observation: a.Observation,
			Producing:   a.Producing,
			Message:     turn.Message,
			Actions:     append([]string(nil), e.remaining[key]...),
		}
	}
	return obs, nil
}

// Step applies action to the current turn.
func (e *ScriptedEnv) Step(action Action) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.index >= len(e.scenario.Turns) {
		return ErrScenarioOver
	}
	key := action.Key()
	name, ok := e.canonical(key, action.Name)
	if !ok {
		return fmt.Errorf("%w: %s %q", ErrIllegalAction, key, action.Name)
	}
	action.Name = name
	e.taken = append(e.taken, action)
	delete(e.remaining, key)

	for _, c := range e.scenario.Turns[e.index].Conflicts {
		if c.Taken.Class != key.Class || c.Taken.ID != key.ID || !strings.EqualFold(c.Taken.Action, name) {
			continue
		}
		for _, inv := range c.Invalidates {
			e.remove(ActorKey{Class: inv.Class, ID: inv.ID}, inv.Action)
		}
	}
	return nil
}

func (e *ScriptedEnv) remove(key ActorKey, action string) {
	actions, ok := e.remaining[key]
	if !ok {
		return
	}
	kept := actions[:0]
	for _, a := range actions {
		if !strings.EqualFold(a, action) {
			kept = append(kept, a)
		}
	}
	e.remaining[key] = kept
}

// EndTurn advances to the next scripted turn.
func (e *ScriptedEnv) EndTurn() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.index < len(e.scenario.Turns) {
		e.index++
	}
	e.resetTurn()
}

// Taken returns every action stepped so far.
func (e *ScriptedEnv) Taken() []Action {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Action(nil), e.taken...)
}

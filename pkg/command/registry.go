package command

import (
	"context"
	"errors"
	"strings"
)

// Kind enumerates the commands a model may issue.
type Kind int

const (
	FinalDecision Kind = iota
	ManualAndHistorySearch
	Suggestion
	AskCurrentGameInformation
)

var kindNames = [...]string{
	FinalDecision:             "finalDecision",
	ManualAndHistorySearch:    "manualAndHistorySearch",
	Suggestion:                "suggestion",
	AskCurrentGameInformation: "askCurrentGameInformation",
}

// Kinds lists every command kind in declaration order.
func Kinds() []Kind {
	return []Kind{FinalDecision, ManualAndHistorySearch, Suggestion, AskCurrentGameInformation}
}

// String returns the wire name.
func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// ParseKind maps a wire name to its Kind.
func ParseKind(name string) (Kind, bool) {
	for i, n := range kindNames {
		if n == name {
			return Kind(i), true
		}
	}
	return 0, false
}

// ErrMissingInput marks a command that lacks a field its handler requires.
var ErrMissingInput = errors.New("missing command input field")

// Result is the outcome of dispatching one reply. Fragment is appended to the next prompt
// when no action was chosen.
type Result struct {
	Action    string
	Fragment  string
	HasAction bool
}

// Handler executes one command. Corrective outcomes are returned as fragments; the only
// error a handler returns is ErrMissingInput.
type Handler func(ctx context.Context, in Input, prompt string, actions []string) (Result, error)

// Registry maps command kinds to handlers. It is read-only once dispatch starts.
type Registry struct {
	handlers map[Kind]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[Kind]Handler)}
}

// Register installs h for k, replacing any previous handler.
func (r *Registry) Register(k Kind, h Handler) {
	r.handlers[k] = h
}

// Lookup finds the handler for a wire name.
func (r *Registry) Lookup(name string) (Handler, Kind, bool) {
	k, ok := ParseKind(name)
	if !ok {
		return nil, 0, false
	}
	h, ok := r.handlers[k]
	return h, k, ok
}

// Names returns the registered wire names in Kind order.
func (r *Registry) Names() []string {
	var names []string
	for _, k := range Kinds() {
		if _, ok := r.handlers[k]; ok {
			names = append(names, k.String())
		}
	}
	return names
}

// NamesList is Names joined the way the corrective prompt lists them.
func (r *Registry) NamesList() string {
	return strings.Join(r.Names(), ", ")
}

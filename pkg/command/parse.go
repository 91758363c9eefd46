// Package command turns free-form model replies into game actions. A reply carries a JSON
// command naming one of the registered handlers; anything else yields a corrective prompt
// fragment for the next query.
package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoJSON is returned when a reply contains no JSON object at all.
	ErrNoJSON = errors.New("reply contains no JSON object")
	// ErrMalformed is returned when the JSON does not describe a command.
	ErrMalformed = errors.New("malformed command")
)

// Input is the decoded "input" object of a command.
type Input map[string]any

// String returns the string field key.
func (in Input) String(key string) (string, bool) {
	v, ok := in[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Command is the structured part of a model reply.
type Command struct {
	Name  string `json:"name"`
	Input Input  `json:"input"`
}

type envelope struct {
	Command *struct {
		Name  *string `json:"name"`
		Input Input   `json:"input"`
	} `json:"command"`
}

// ExtractJSON cuts the JSON object out of a reply: from the first '{' to the last '}', or
// to the end when no '}' follows. Missing closing braces are appended.
func ExtractJSON(reply string) (string, error) {
	start := strings.IndexByte(reply, '{')
	if start < 0 {
		return "", ErrNoJSON
	}
	end := strings.LastIndexByte(reply, '}')
	span := reply[start:]
	if end > start {
		span = reply[start : end+1]
	}
	if lack := strings.Count(reply, "{") - strings.Count(reply, "}"); lack > 0 {
		span += strings.Repeat("}", lack)
	}
	return span, nil
}

// Parse decodes the command carried by reply.
func Parse(reply string) (Command, error) {
	raw, err := ExtractJSON(reply)
	if err != nil {
		return Command{}, err
	}

	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return Command{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	switch {
	case env.Command == nil:
		return Command{}, fmt.Errorf("%w: missing command", ErrMalformed)
	case env.Command.Name == nil:
		return Command{}, fmt.Errorf("%w: missing command name", ErrMalformed)
	case env.Command.Input == nil:
		return Command{}, fmt.Errorf("%w: missing command input", ErrMalformed)
	}
	return Command{Name: *env.Command.Name, Input: env.Command.Input}, nil
}

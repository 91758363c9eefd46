package game

import (
	"fmt"
	"strings"
)

// ScenarioPrefix introduces the turn's scenario message.
const ScenarioPrefix = "Game scenario message is: "

// PromptBuilder renders the observation prompt for one actor.
type PromptBuilder interface {
	BuildPrompt(class string, actor ActorView, actions []string) string
}

// DefaultPromptBuilder uses the phrasing the agents were tuned with.
type DefaultPromptBuilder struct{}

// BuildPrompt implements PromptBuilder.
func (DefaultPromptBuilder) BuildPrompt(class string, actor ActorView, actions []string) string {
	var b strings.Builder
	if actor.Message != "" {
		b.WriteString(ScenarioPrefix)
		b.WriteString(actor.Message)
	}
	fmt.Fprintf(&b, "The %s is %s, observation is %s. ", class, actor.Name, actor.Observation)
	if class == ClassCity {
		fmt.Fprintf(&b, "The city is producing %s. ", Producing(actor))
	}
	fmt.Fprintf(&b, "Your available action list is %s.", FormatActions(actions))
	return b.String()
}

// Producing returns what a city builds, or "NOTHING".
func Producing(actor ActorView) string {
	if actor.Producing == "" {
		return "NOTHING"
	}
	return actor.Producing
}

// FormatActions renders actions as a bracketed, quoted list: ['fortify', 'goto 1,1'].
func FormatActions(actions []string) string {
	quoted := make([]string, len(actions))
	for i, a := range actions {
		quoted[i] = "'" + a + "'"
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

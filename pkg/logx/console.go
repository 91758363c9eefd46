package logx

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// Console prints highlighted progress lines for a human watching a game.
type Console struct {
	mu      sync.Mutex
	out     io.Writer
	action  lipgloss.Style
	step    lipgloss.Style
	current lipgloss.Style
}

// NewConsole returns a console writing to out, or stdout when out is nil.
func NewConsole(out io.Writer) *Console {
	if out == nil {
		out = os.Stdout
	}
	return &Console{
		out:     out,
		action:  lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Background(lipgloss.Color("2")),
		step:    lipgloss.NewStyle().Bold(true).Background(lipgloss.Color("6")),
		current: lipgloss.NewStyle().Underline(true).Background(lipgloss.Color("5")),
	}
}

// Action highlights a chosen action.
func (c *Console) Action(args ...any) { c.print(c.action, args) }

// Step highlights an environment step summary.
func (c *Console) Step(args ...any) { c.print(c.step, args) }

// Current highlights the actor being decided.
func (c *Console) Current(args ...any) { c.print(c.current, args) }

func (c *Console) print(style lipgloss.Style, args []any) {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = fmt.Sprint(a)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintln(c.out, style.Render(strings.Join(parts, " ")))
}

// Package templates renders the prompt fragments the agents send to the model. Prompts are
// plain text files with `<% name %>` placeholders. Each role directory overrides the
// shared base prompts.
package templates

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"regexp"
	"sort"
	"strings"
	"text/template"

	"civagent/pkg/logx"
)

//go:embed prompts/*/*.txt
var promptFS embed.FS

const baseDir = "base"

// PromptName identifies one prompt file, without its extension.
type PromptName string

const (
	InstructionPrompt       PromptName = "instruction_prompt"
	TaskPrompt              PromptName = "task_prompt"
	InsistJSON              PromptName = "insist_json"
	InsistAvailAction       PromptName = "insist_avail_action"
	InsistVariousActions    PromptName = "insist_various_actions"
	InsistAvailableCommands PromptName = "insist_available_commands"
	FinishLookFor           PromptName = "finish_look_for"
	ManualQA                PromptName = "manual_qa"
)

var placeholder = regexp.MustCompile(`<%\s*([A-Za-z_][A-Za-z0-9_]*)\s*%>`)

type prompt struct {
	tmpl *template.Template
	vars []string
}

// Renderer holds the parsed prompts for one role.
type Renderer struct {
	prompts map[PromptName]prompt
	role    string
	logger  *logx.Logger
}

// NewRenderer loads the embedded prompts for role.
func NewRenderer(role string) (*Renderer, error) {
	return newRenderer(role, promptFS, "prompts")
}

// NewRendererFromDir loads prompts from dir, laid out as <dir>/base and <dir>/<role>.
// Files missing from dir fall back to the embedded prompts.
func NewRendererFromDir(role, dir string) (*Renderer, error) {
	r, err := NewRenderer(role)
	if err != nil {
		return nil, err
	}
	if err := r.load(os.DirFS(dir), ".", baseDir); err != nil {
		return nil, err
	}
	if err := r.load(os.DirFS(dir), ".", role); err != nil {
		return nil, err
	}
	return r, nil
}

func newRenderer(role string, fsys fs.FS, root string) (*Renderer, error) {
	r := &Renderer{
		prompts: make(map[PromptName]prompt),
		role:    role,
		logger:  logx.NewLogger("templates"),
	}
	if err := r.load(fsys, root, baseDir); err != nil {
		return nil, err
	}
	if role != "" && role != baseDir {
		if err := r.load(fsys, root, role); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// load parses every .txt file under root/dir; later loads override earlier ones.
func (r *Renderer) load(fsys fs.FS, root, dir string) error {
	files, err := fs.Glob(fsys, path.Join(root, dir, "*.txt"))
	if err != nil {
		return fmt.Errorf("failed to list prompts in %s: %w", dir, err)
	}
	for _, file := range files {
		name := PromptName(strings.TrimSuffix(path.Base(file), ".txt"))
		if strings.Contains(string(name), "#") {
			continue
		}
		raw, err := fs.ReadFile(fsys, file)
		if err != nil {
			return fmt.Errorf("failed to read prompt %s: %w", file, err)
		}
		p, err := parse(string(name), string(raw))
		if err != nil {
			return err
		}
		r.prompts[name] = p
	}
	return nil
}

func parse(name, raw string) (prompt, error) {
	var vars []string
	for _, m := range placeholder.FindAllStringSubmatch(raw, -1) {
		vars = append(vars, m[1])
	}
	text := placeholder.ReplaceAllString(strings.TrimRight(raw, "\r\n"), "<% .$1 %>")
	tmpl, err := template.New(name).Delims("<%", "%>").Option("missingkey=zero").Parse(text)
	if err != nil {
		return prompt{}, fmt.Errorf("failed to parse prompt %s: %w", name, err)
	}
	return prompt{tmpl: tmpl, vars: vars}, nil
}

// Role returns the role the prompts were loaded for.
func (r *Renderer) Role() string {
	return r.role
}

// Render fills the named prompt. Missing variables render empty and are logged.
func (r *Renderer) Render(name PromptName, vars map[string]string) (string, error) {
	p, ok := r.prompts[name]
	if !ok {
		return "", fmt.Errorf("prompt %s not found", name)
	}
	for _, v := range p.vars {
		if _, ok := vars[v]; !ok {
			r.logger.Warn("prompt %s: variable %q not provided", name, v)
		}
	}
	if vars == nil {
		vars = map[string]string{}
	}

	var buf bytes.Buffer
	if err := p.tmpl.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("failed to render prompt %s: %w", name, err)
	}
	return buf.String(), nil
}

// Names lists the loaded prompts.
func (r *Renderer) Names() []PromptName {
	names := make([]PromptName, 0, len(r.prompts))
	for name := range r.prompts {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

func (r *Renderer) mustRender(name PromptName, vars map[string]string) string {
	out, err := r.Render(name, vars)
	if err != nil {
		r.logger.Error("%v", err)
		return ""
	}
	return out
}

func (r *Renderer) Instruction() string { return r.mustRender(InstructionPrompt, nil) }

func (r *Renderer) Task() string { return r.mustRender(TaskPrompt, nil) }

func (r *Renderer) InsistJSON() string { return r.mustRender(InsistJSON, nil) }

func (r *Renderer) InsistAvailAction() string { return r.mustRender(InsistAvailAction, nil) }

func (r *Renderer) InsistVariousActions(action string) string {
	return r.mustRender(InsistVariousActions, map[string]string{"action": action})
}

func (r *Renderer) InsistAvailableCommands(commands string) string {
	return r.mustRender(InsistAvailableCommands, map[string]string{"available_commands": commands})
}

func (r *Renderer) FinishLookFor() string { return r.mustRender(FinishLookFor, nil) }

// ManualQuestion builds the question-answering prompt with docs stuffed in as context.
func (r *Renderer) ManualQuestion(question string, docs []string) string {
	return r.mustRender(ManualQA, map[string]string{
		"context":  strings.Join(docs, "\n\n"),
		"question": question,
	})
}

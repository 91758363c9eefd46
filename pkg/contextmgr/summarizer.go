package contextmgr

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"civagent/pkg/agent/llm"
)

// Summarizer condenses dropped history into prose.
type Summarizer interface {
	Summarize(ctx context.Context, msgs []Message) (string, error)
}

// SummarizerFunc adapts a function to Summarizer.
type SummarizerFunc func(ctx context.Context, msgs []Message) (string, error)

func (f SummarizerFunc) Summarize(ctx context.Context, msgs []Message) (string, error) {
	return f(ctx, msgs)
}

const summaryInstruction = `Progressively summarize the lines of conversation provided, adding onto the previous summary returning a new summary.

Current summary:
%s

New lines of conversation:
%s

New summary:`

// LLMSummarizer asks a model for a running summary. Each call folds the new lines into the
// summary produced by the previous call.
type LLMSummarizer struct {
	client    llm.LLMClient
	maxTokens int

	mu      sync.Mutex
	summary string
}

// NewLLMSummarizer creates a summarizer. maxTokens bounds the summary reply; 0 means 500.
func NewLLMSummarizer(client llm.LLMClient, maxTokens int) *LLMSummarizer {
	if maxTokens <= 0 {
		maxTokens = 500
	}
	return &LLMSummarizer{client: client, maxTokens: maxTokens}
}

// Summarize implements Summarizer.
func (s *LLMSummarizer) Summarize(ctx context.Context, msgs []Message) (string, error) {
	s.mu.Lock()
	previous := s.summary
	s.mu.Unlock()

	prompt := fmt.Sprintf(summaryInstruction, previous, formatLines(msgs))
	req := llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage(prompt)})
	req.MaxTokens = s.maxTokens
	req.Temperature = 0

	resp, err := s.client.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	summary := strings.TrimSpace(resp.Content)

	s.mu.Lock()
	s.summary = summary
	s.mu.Unlock()
	return summary, nil
}

// Current returns the latest summary.
func (s *LLMSummarizer) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary
}

func formatLines(msgs []Message) string {
	var b strings.Builder
	for i := range msgs {
		switch msgs[i].Role {
		case llm.RoleAssistant:
			b.WriteString("AI: ")
		case llm.RoleSystem:
			b.WriteString("System: ")
		default:
			b.WriteString("Human: ")
		}
		b.WriteString(msgs[i].Content)
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

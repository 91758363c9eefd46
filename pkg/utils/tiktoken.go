// Package utils provides tiktoken-based token counting utilities.
package utils

import (
	"fmt"
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"civagent/pkg/agent/llm"
)

// Chat accounting overhead, in tokens.
const (
	tokensPerMessage = 4 // role and separators around every message
	tokensReplyPrime = 3 // assistant reply priming
)

//nolint:gochecknoglobals // codec cache keyed by encoding
var codecs sync.Map

// TokenCounter provides token counting for a model family.
type TokenCounter struct {
	codec tokenizer.Codec
}

// NewTokenCounter creates a token counter for model. Unknown models use the cl100k
// encoding; models served by other vendors are approximated the same way.
func NewTokenCounter(model string) (*TokenCounter, error) {
	enc := encodingFor(model)
	if cached, ok := codecs.Load(enc); ok {
		codec, _ := cached.(tokenizer.Codec)
		return &TokenCounter{codec: codec}, nil
	}

	codec, err := tokenizer.Get(enc)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer codec for model %s: %w", model, err)
	}
	codecs.Store(enc, codec)
	return &TokenCounter{codec: codec}, nil
}

func encodingFor(model string) tokenizer.Encoding {
	switch {
	case strings.HasPrefix(model, "text-davinci"), strings.HasPrefix(model, "code-davinci"):
		return tokenizer.P50kBase
	case strings.HasPrefix(model, "gpt-4o"):
		return tokenizer.O200kBase
	default:
		return tokenizer.Cl100kBase
	}
}

// CountTokens returns the number of tokens in the given text.
func (tc *TokenCounter) CountTokens(text string) int {
	if tc.codec == nil {
		// 4 chars ≈ 1 token
		return len(text) / 4
	}

	count, err := tc.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return count
}

// CountMessages estimates the prompt size of a chat transcript, including the per-message
// framing the chat endpoints add.
func (tc *TokenCounter) CountMessages(messages []llm.CompletionMessage) int {
	total := 0
	for i := range messages {
		total += tokensPerMessage
		total += tc.CountTokens(string(messages[i].Role))
		total += tc.CountTokens(messages[i].Content)
	}
	return total + tokensReplyPrime
}

// CountTokensSimple counts tokens with the default encoding.
func CountTokensSimple(text string) int {
	counter, err := NewTokenCounter("gpt-4")
	if err != nil {
		return len(text) / 4
	}
	return counter.CountTokens(text)
}

// ValidateTokenLimit reports whether text fits within limit.
func (tc *TokenCounter) ValidateTokenLimit(text string, limit int) bool {
	return tc.CountTokens(text) <= limit
}

// TruncateToTokenLimit truncates text to roughly fit limit. It cuts by characters, not
// token boundaries.
func (tc *TokenCounter) TruncateToTokenLimit(text string, limit int) string {
	currentTokens := tc.CountTokens(text)
	if currentTokens <= limit {
		return text
	}

	ratio := float64(limit) / float64(currentTokens)
	charLimit := int(float64(len(text)) * ratio * 0.9)
	if charLimit >= len(text) {
		return text
	}
	return text[:charLimit] + "..."
}

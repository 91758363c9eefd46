package mocks

import (
	"context"
	"sync"
)

// MockRetriever answers manual lookups for tests. It is safe for concurrent use.
type MockRetriever struct {
	AnswerFunc func(ctx context.Context, question string) (string, error)

	questions []string
	mu        sync.Mutex
}

// NewMockRetriever creates a retriever that always returns answer.
func NewMockRetriever(answer string) *MockRetriever {
	return &MockRetriever{
		AnswerFunc: func(context.Context, string) (string, error) { return answer, nil },
	}
}

// Answer records question and delegates to AnswerFunc.
func (m *MockRetriever) Answer(ctx context.Context, question string) (string, error) {
	m.mu.Lock()
	m.questions = append(m.questions, question)
	fn := m.AnswerFunc
	m.mu.Unlock()
	return fn(ctx, question)
}

// FailWith makes every lookup fail with err.
func (m *MockRetriever) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AnswerFunc = func(context.Context, string) (string, error) { return "", err }
}

// Questions returns the questions asked so far.
func (m *MockRetriever) Questions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.questions...)
}

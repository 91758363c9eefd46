package llm

import (
	"context"
	"errors"
	"testing"
)

func recordingMiddleware(name string, calls *[]string) Middleware {
	return func(next LLMClient) LLMClient {
		return WrapClient(
			func(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
				*calls = append(*calls, name)
				return next.Complete(ctx, req)
			},
			next.GetModelName,
		)
	}
}

func baseClient(content string, err error) LLMClient {
	return WrapClient(
		func(_ context.Context, _ CompletionRequest) (CompletionResponse, error) {
			return CompletionResponse{Content: content}, err
		},
		func() string { return "base-model" },
	)
}

func TestChainOrder(t *testing.T) {
	var calls []string
	client := Chain(baseClient("ok", nil),
		recordingMiddleware("outer", &calls),
		recordingMiddleware("inner", &calls),
	)

	resp, err := client.Complete(context.Background(), NewCompletionRequest([]CompletionMessage{NewUserMessage("hi")}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "ok" {
		t.Errorf("expected ok, got %q", resp.Content)
	}
	if len(calls) != 2 || calls[0] != "outer" || calls[1] != "inner" {
		t.Errorf("unexpected call order: %v", calls)
	}
}

func TestChainNoMiddlewares(t *testing.T) {
	base := baseClient("plain", nil)
	if Chain(base) != base {
		t.Error("Chain without middlewares should return the base client")
	}
	var calls []string
	if Chain(base, recordingMiddleware("a", &calls)) == base {
		t.Error("Chain with a middleware should wrap the base client")
	}
}

func TestChainModelNamePropagation(t *testing.T) {
	var calls []string
	client := Chain(baseClient("", nil), recordingMiddleware("a", &calls))
	if client.GetModelName() != "base-model" {
		t.Errorf("expected base-model, got %s", client.GetModelName())
	}
}

func TestChainErrorPropagation(t *testing.T) {
	want := errors.New("boom")
	var calls []string
	_, err := Chain(baseClient("", want), recordingMiddleware("a", &calls)).
		Complete(context.Background(), NewCompletionRequest([]CompletionMessage{NewUserMessage("x")}))
	if !errors.Is(err, want) {
		t.Errorf("expected wrapped boom, got %v", err)
	}
}

func TestCompletionRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     CompletionRequest
		wantErr bool
	}{
		{"valid", NewCompletionRequest([]CompletionMessage{NewUserMessage("x")}), false},
		{"empty messages", CompletionRequest{MaxTokens: 10}, true},
		{"zero max tokens", CompletionRequest{Messages: []CompletionMessage{NewUserMessage("x")}}, true},
		{"temperature too high", CompletionRequest{Messages: []CompletionMessage{NewUserMessage("x")}, MaxTokens: 1, Temperature: 3}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

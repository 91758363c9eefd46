package llm

import "context"

// Middleware wraps an LLMClient with additional behavior. Compose with Chain.
type Middleware func(next LLMClient) LLMClient

// clientFunc lets plain functions implement LLMClient.
type clientFunc struct {
	complete func(context.Context, CompletionRequest) (CompletionResponse, error)
	name     func() string
}

func (f *clientFunc) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	return f.complete(ctx, req)
}

func (f *clientFunc) GetModelName() string {
	return f.name()
}

// WrapClient creates an LLMClient from function implementations.
func WrapClient(
	complete func(context.Context, CompletionRequest) (CompletionResponse, error),
	name func() string,
) LLMClient {
	return &clientFunc{complete: complete, name: name}
}

// Chain composes middlewares around base. Earlier middlewares are outermost:
//
//	Chain(client, mw1, mw2) => mw1 -> mw2 -> client
func Chain(base LLMClient, middlewares ...Middleware) LLMClient {
	client := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		client = middlewares[i](client)
	}
	return client
}

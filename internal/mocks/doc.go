// Package mocks provides shared mock implementations for testing.
//
//	import "civagent/internal/mocks"
//
//	func TestSomething(t *testing.T) {
//	    client := mocks.NewMockLLMClient()
//	    client.RespondWith(`{"command": {"name": "finalDecision", "input": {"action": "fortify"}}}`)
//	    // Use client in test...
//	}
//
// Available mocks:
//
//   - MockLLMClient: pkg/agent/llm.LLMClient
//   - MockRetriever: pkg/command.Retriever
package mocks

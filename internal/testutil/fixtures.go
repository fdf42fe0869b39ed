// Package testutil provides shared test fixtures for consistent, realistic test data.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/HakAl/tokenwatch/internal/store"
)

// CallBuilder provides a fluent API for building test call records.
type CallBuilder struct {
	call *store.Call
}

// NewCall creates a CallBuilder with sensible defaults.
func NewCall() *CallBuilder {
	return &CallBuilder{
		call: &store.Call{
			Provider:     "openai",
			Model:        "gpt-4o",
			InputTokens:  100,
			OutputTokens: 50,
			Cost:         0.00075,
			Project:      "default",
		},
	}
}

// WithProvider sets the provider.
func (b *CallBuilder) WithProvider(provider string) *CallBuilder {
	b.call.Provider = provider
	return b
}

// WithModel sets the model.
func (b *CallBuilder) WithModel(model string) *CallBuilder {
	b.call.Model = model
	return b
}

// WithTokens sets input and output token counts.
func (b *CallBuilder) WithTokens(input, output int) *CallBuilder {
	b.call.InputTokens = input
	b.call.OutputTokens = output
	return b
}

// WithCost sets the cost.
func (b *CallBuilder) WithCost(cost float64) *CallBuilder {
	b.call.Cost = cost
	return b
}

// WithProject sets the project.
func (b *CallBuilder) WithProject(project string) *CallBuilder {
	b.call.Project = project
	return b
}

// WithTags sets the tags.
func (b *CallBuilder) WithTags(tags ...string) *CallBuilder {
	b.call.Tags = tags
	return b
}

// WithTimestamp sets the timestamp. Only honored by tests that bypass
// the store's insert-time assignment.
func (b *CallBuilder) WithTimestamp(ts time.Time) *CallBuilder {
	b.call.Timestamp = ts
	return b
}

// Build returns the call record.
func (b *CallBuilder) Build() *store.Call {
	c := *b.call
	return &c
}

// Insert builds the call and inserts it into the store.
func (b *CallBuilder) Insert(t *testing.T, st store.Store) *store.Call {
	t.Helper()
	c := b.Build()
	if _, err := st.Insert(context.Background(), c); err != nil {
		t.Fatalf("failed to insert fixture call: %v", err)
	}
	return c
}

// OpenAIChatResponse returns a realistic chat completion response body.
func OpenAIChatResponse(model string, inputTokens, outputTokens int) []byte {
	return []byte(fmt.Sprintf(`{
  "id": "chatcmpl-test123",
  "object": "chat.completion",
  "model": %q,
  "choices": [{"index": 0, "message": {"role": "assistant", "content": "Hello!"}, "finish_reason": "stop"}],
  "usage": {"prompt_tokens": %d, "completion_tokens": %d, "total_tokens": %d}
}`, model, inputTokens, outputTokens, inputTokens+outputTokens))
}

// AnthropicMessagesResponse returns a realistic messages response body.
func AnthropicMessagesResponse(model string, inputTokens, outputTokens int) []byte {
	return []byte(fmt.Sprintf(`{
  "id": "msg_test123",
  "type": "message",
  "role": "assistant",
  "model": %q,
  "content": [{"type": "text", "text": "Hello!"}],
  "stop_reason": "end_turn",
  "usage": {"input_tokens": %d, "output_tokens": %d}
}`, model, inputTokens, outputTokens))
}

// OpenAIStreamResponse returns an SSE stream with usage in the final chunk.
func OpenAIStreamResponse(model string, inputTokens, outputTokens int) []byte {
	return []byte(fmt.Sprintf(
		"data: {\"model\":%q,\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n"+
			"data: {\"model\":%q,\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n"+
			"data: {\"model\":%q,\"choices\":[],\"usage\":{\"prompt_tokens\":%d,\"completion_tokens\":%d}}\n\n"+
			"data: [DONE]\n\n",
		model, model, model, inputTokens, outputTokens))
}

// Package provider parses token usage out of LLM API response bodies.
package provider

import "encoding/json"

// Usage contains the model name and token counts extracted from a
// provider response.
type Usage struct {
	InputTokens  int
	OutputTokens int
	Model        string
}

// Provider defines the interface for parsing LLM API responses.
type Provider interface {
	// Name returns the provider tag (e.g., "anthropic", "openai").
	Name() string

	// DetectHost returns true if this provider handles the given host.
	DetectHost(host string) bool

	// ParseUsage extracts token usage from a response body.
	// For SSE responses, pass the complete accumulated body.
	ParseUsage(body []byte, isSSE bool) (*Usage, error)
}

// ParseUsage dispatches on a provider tag and extracts usage from a
// response body. Unrecognized tags deterministically yield zero token
// counts; only the model name is read from the body.
func ParseUsage(tag string, body []byte, isSSE bool) (*Usage, error) {
	if p := NewRegistry().Get(tag); p != nil {
		return p.ParseUsage(body, isSSE)
	}
	return parseModelOnly(body)
}

// parseModelOnly reads the top-level model field and nothing else.
func parseModelOnly(body []byte) (*Usage, error) {
	var response struct {
		Model string `json:"model"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, err
	}
	return &Usage{Model: response.Model}, nil
}

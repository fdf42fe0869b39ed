package provider

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strings"
)

// OpenAI implements Provider for OpenAI's API.
type OpenAI struct{}

// Name returns "openai".
func (o *OpenAI) Name() string {
	return "openai"
}

// DetectHost returns true for OpenAI API hosts.
func (o *OpenAI) DetectHost(host string) bool {
	return MatchDomainSuffix(host, "openai.com")
}

// ParseUsage extracts token usage from OpenAI responses.
func (o *OpenAI) ParseUsage(body []byte, isSSE bool) (*Usage, error) {
	if isSSE {
		return o.parseSSE(body)
	}
	return o.parseJSON(body)
}

// parseJSON extracts usage from a non-streaming JSON response. Missing
// fields decode to their zero values rather than failing.
func (o *OpenAI) parseJSON(body []byte) (*Usage, error) {
	var response struct {
		Model string `json:"model"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}

	if err := json.Unmarshal(body, &response); err != nil {
		return nil, err
	}

	return &Usage{
		Model:        response.Model,
		InputTokens:  response.Usage.PromptTokens,
		OutputTokens: response.Usage.CompletionTokens,
	}, nil
}

// parseSSE extracts usage from an SSE stream. OpenAI emits the usage
// object on the last chunk before "data: [DONE]", so the scan keeps the
// most recent non-nil usage it sees.
func (o *OpenAI) parseSSE(body []byte) (*Usage, error) {
	usage := &Usage{}

	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for sc.Scan() {
		data, ok := strings.CutPrefix(strings.TrimSpace(sc.Text()), "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			continue
		}

		var chunk struct {
			Model string `json:"model"`
			Usage *struct {
				PromptTokens     int `json:"prompt_tokens"`
				CompletionTokens int `json:"completion_tokens"`
			} `json:"usage"`
		}
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue // malformed chunk
		}

		if chunk.Model != "" {
			usage.Model = chunk.Model
		}
		if chunk.Usage != nil {
			usage.InputTokens = chunk.Usage.PromptTokens
			usage.OutputTokens = chunk.Usage.CompletionTokens
		}
	}

	return usage, nil
}

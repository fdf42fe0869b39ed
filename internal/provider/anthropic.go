package provider

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strings"
)

// Anthropic implements Provider for Anthropic's Claude API.
type Anthropic struct{}

// Name returns "anthropic".
func (a *Anthropic) Name() string {
	return "anthropic"
}

// DetectHost returns true for Anthropic API hosts.
func (a *Anthropic) DetectHost(host string) bool {
	return MatchDomainSuffix(host, "anthropic.com")
}

// ParseUsage extracts token usage from Anthropic responses.
func (a *Anthropic) ParseUsage(body []byte, isSSE bool) (*Usage, error) {
	if isSSE {
		return a.parseSSE(body)
	}
	return a.parseJSON(body)
}

// parseJSON extracts usage from a non-streaming JSON response.
func (a *Anthropic) parseJSON(body []byte) (*Usage, error) {
	var response struct {
		Model string `json:"model"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}

	if err := json.Unmarshal(body, &response); err != nil {
		return nil, err
	}

	return &Usage{
		Model:        response.Model,
		InputTokens:  response.Usage.InputTokens,
		OutputTokens: response.Usage.OutputTokens,
	}, nil
}

// parseSSE extracts usage from an SSE stream. The model and input tokens
// arrive on the message_start event; output tokens arrive on
// message_delta. Data lines are accumulated per event since SSE allows a
// payload to span multiple data: lines.
func (a *Anthropic) parseSSE(body []byte) (*Usage, error) {
	usage := &Usage{}

	var event string
	var data []byte

	flush := func() {
		if event != "" && len(data) > 0 {
			a.applyEvent(usage, event, data)
		}
		event = ""
		data = data[:0]
	}

	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(line, "data:")...)
		}
	}
	flush() // final event may lack a trailing blank line

	return usage, nil
}

// applyEvent folds one SSE event into the running usage totals.
func (a *Anthropic) applyEvent(usage *Usage, event string, data []byte) {
	switch event {
	case "message_start":
		var payload struct {
			Message struct {
				Model string `json:"model"`
				Usage struct {
					InputTokens int `json:"input_tokens"`
				} `json:"usage"`
			} `json:"message"`
		}
		if json.Unmarshal(data, &payload) == nil {
			usage.Model = payload.Message.Model
			usage.InputTokens = payload.Message.Usage.InputTokens
		}

	case "message_delta":
		var payload struct {
			Usage struct {
				OutputTokens int `json:"output_tokens"`
			} `json:"usage"`
		}
		if json.Unmarshal(data, &payload) == nil {
			usage.OutputTokens = payload.Usage.OutputTokens
		}
	}
}

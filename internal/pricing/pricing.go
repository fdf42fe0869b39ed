// Package pricing provides per-model token pricing and cost calculation.
package pricing

import (
	"fmt"
	"sort"
	"strings"
)

// ModelPrice contains pricing information for a model.
// Prices are USD per one million tokens.
type ModelPrice struct {
	Model            string
	Provider         string
	InputPerMillion  float64
	OutputPerMillion float64
}

// builtin is the static pricing table. Cost is per 1M tokens.
var builtin = []ModelPrice{
	// OpenAI
	{"gpt-4o", "openai", 2.50, 10.00},
	{"gpt-4o-mini", "openai", 0.15, 0.60},
	{"gpt-4-turbo", "openai", 10.00, 30.00},
	{"gpt-4", "openai", 30.00, 60.00},
	{"gpt-3.5-turbo", "openai", 0.50, 1.50},
	{"o1", "openai", 15.00, 60.00},
	{"o1-mini", "openai", 3.00, 12.00},
	{"o3-mini", "openai", 1.10, 4.40},
	// Anthropic
	{"claude-opus-4", "anthropic", 15.00, 75.00},
	{"claude-sonnet-4", "anthropic", 3.00, 15.00},
	{"claude-3.5-sonnet", "anthropic", 3.00, 15.00},
	{"claude-3.5-haiku", "anthropic", 0.80, 4.00},
	{"claude-3-haiku", "anthropic", 0.25, 1.25},
	// Google
	{"gemini-2.0-flash", "google", 0.10, 0.40},
	{"gemini-2.0-pro", "google", 1.25, 10.00},
	{"gemini-1.5-pro", "google", 1.25, 5.00},
	{"gemini-1.5-flash", "google", 0.075, 0.30},
	// Mistral
	{"mistral-large", "mistral", 2.00, 6.00},
	{"mistral-small", "mistral", 0.20, 0.60},
	{"codestral", "mistral", 0.30, 0.90},
}

// Table resolves model names to prices, with fuzzy name matching.
type Table struct {
	exact      map[string]*ModelPrice
	normalized map[string]*ModelPrice
}

// NewTable creates a pricing table with the built-in models.
func NewTable() *Table {
	t := &Table{
		exact:      make(map[string]*ModelPrice, len(builtin)),
		normalized: make(map[string]*ModelPrice, len(builtin)),
	}
	for i := range builtin {
		p := builtin[i]
		t.add(&p)
	}
	return t
}

// AddCustom registers an additional model price, overriding any built-in
// entry with the same name. Used for config-supplied custom models.
func (t *Table) AddCustom(p ModelPrice) {
	t.add(&p)
}

func (t *Table) add(p *ModelPrice) {
	t.exact[p.Model] = p
	t.normalized[normalize(p.Model)] = p
}

// Resolve looks up pricing for a model. It tries an exact match first,
// then a case/separator-insensitive match. Returns nil for unknown models.
func (t *Table) Resolve(model string) *ModelPrice {
	if p, ok := t.exact[model]; ok {
		return p
	}
	if p, ok := t.normalized[normalize(model)]; ok {
		return p
	}
	return nil
}

// Cost calculates the cost of a call in dollars.
// It returns an error for unknown models.
func (t *Table) Cost(model string, inputTokens, outputTokens int) (float64, error) {
	p := t.Resolve(model)
	if p == nil {
		return 0, fmt.Errorf("unknown model: %s", model)
	}
	return p.InputPerMillion*float64(inputTokens)/1e6 +
		p.OutputPerMillion*float64(outputTokens)/1e6, nil
}

// List returns all known models, optionally filtered by provider,
// sorted by provider then model name.
func (t *Table) List(provider string) []ModelPrice {
	var out []ModelPrice
	for _, p := range t.exact {
		if provider == "" || p.Provider == provider {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Provider != out[j].Provider {
			return out[i].Provider < out[j].Provider
		}
		return out[i].Model < out[j].Model
	})
	return out
}

// normalize strips separators and lowercases a model name so that
// "claude-3.5-sonnet", "claude_3_5_sonnet" and "Claude 3.5 Sonnet"
// variants all resolve to the same entry.
func normalize(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '-', '_', ' ':
			return -1
		}
		return r
	}, name)
}

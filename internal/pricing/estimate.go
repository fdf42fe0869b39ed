package pricing

import "fmt"

// EstimateTokens approximates the token count of a text as one token per
// four characters, with a minimum of one. This is a coarse heuristic, not
// a tokenizer; it exists for pre-flight cost estimates only.
func EstimateTokens(text string) int {
	n := len(text) / 4
	if n < 1 {
		n = 1
	}
	return n
}

// EstimateCost estimates the input cost in dollars for sending text to a
// model. Returns an error for unknown models.
func (t *Table) EstimateCost(text, model string) (float64, error) {
	p := t.Resolve(model)
	if p == nil {
		return 0, fmt.Errorf("unknown model: %s", model)
	}
	return p.InputPerMillion * float64(EstimateTokens(text)) / 1e6, nil
}

package proxy

import "testing"

func TestProviderTag(t *testing.T) {
	tests := []struct {
		host string
		want string
	}{
		{"api.openai.com", "openai"},
		{"api.anthropic.com", "anthropic"},
		{"API.OPENAI.COM", "openai"},
		{"api.openai.com:443", "openai"},
		{"api.example.com", "unknown"},
		{"openai.com", "unknown"},
		{"", "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			if got := ProviderTag(tt.host); got != tt.want {
				t.Errorf("ProviderTag(%q) = %q, want %q", tt.host, got, tt.want)
			}
		})
	}
}

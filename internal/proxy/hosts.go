package proxy

import "strings"

// providerHosts maps known upstream API hosts to provider tags. Hosts
// not in this table are still forwarded, but no usage is ever logged
// for them.
var providerHosts = map[string]string{
	"api.openai.com":    "openai",
	"api.anthropic.com": "anthropic",
}

// ProviderTag returns the provider tag for an upstream host, or
// "unknown" if the host is unrecognized.
func ProviderTag(host string) string {
	// Strip port if present
	if i := strings.LastIndex(host, ":"); i != -1 {
		host = host[:i]
	}
	if tag, ok := providerHosts[strings.ToLower(host)]; ok {
		return tag
	}
	return "unknown"
}

package provider

import "strings"

// MatchDomainSuffix reports whether host belongs to domain, either as an
// exact match or as a subdomain. Comparison is case-insensitive and a
// trailing :port on host is ignored. Subdomains only match on a dot
// boundary, so "misanthropic.com" does not match "anthropic.com".
func MatchDomainSuffix(host, domain string) bool {
	host = strings.ToLower(stripPort(host))
	domain = strings.ToLower(domain)

	if host == domain {
		return true
	}
	rest, ok := strings.CutSuffix(host, domain)
	return ok && strings.HasSuffix(rest, ".")
}

func stripPort(host string) string {
	if i := strings.LastIndexByte(host, ':'); i >= 0 {
		return host[:i]
	}
	return host
}

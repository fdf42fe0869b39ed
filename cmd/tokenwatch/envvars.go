package main

import (
	"fmt"
	"strings"
)

// formatEnvVars returns copy-paste ready environment variables for the
// given OS. goos should be runtime.GOOS.
func formatEnvVars(proxyAddr, goos string) string {
	var sb strings.Builder

	sb.WriteString("  Environment variables (copy-paste):\n\n")

	if goos == "windows" {
		sb.WriteString("  # OpenAI SDK\n")
		fmt.Fprintf(&sb, "  $env:OPENAI_BASE_URL = \"http://%s/v1\"\n", proxyAddr)
		sb.WriteString("\n")
		sb.WriteString("  # Anthropic SDK\n")
		fmt.Fprintf(&sb, "  $env:ANTHROPIC_BASE_URL = \"http://%s\"\n", proxyAddr)
	} else {
		sb.WriteString("  # OpenAI SDK\n")
		fmt.Fprintf(&sb, "  export OPENAI_BASE_URL=http://%s/v1\n", proxyAddr)
		sb.WriteString("\n")
		sb.WriteString("  # Anthropic SDK\n")
		fmt.Fprintf(&sb, "  export ANTHROPIC_BASE_URL=http://%s\n", proxyAddr)
	}

	sb.WriteString("\n  Or wrap a command directly:\n")
	sb.WriteString("  tokenwatch run <command>\n\n")
	return sb.String()
}

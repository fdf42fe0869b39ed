package main

import (
	"strings"
	"testing"
)

func TestFormatEnvVarsUnix(t *testing.T) {
	out := formatEnvVars("127.0.0.1:8800", "linux")

	if !strings.Contains(out, "export OPENAI_BASE_URL=http://127.0.0.1:8800/v1") {
		t.Errorf("missing OpenAI export:\n%s", out)
	}
	if !strings.Contains(out, "export ANTHROPIC_BASE_URL=http://127.0.0.1:8800") {
		t.Errorf("missing Anthropic export:\n%s", out)
	}
	if strings.Contains(out, "$env:") {
		t.Error("PowerShell syntax in unix output")
	}
}

func TestFormatEnvVarsWindows(t *testing.T) {
	out := formatEnvVars("localhost:8800", "windows")

	if !strings.Contains(out, `$env:OPENAI_BASE_URL = "http://localhost:8800/v1"`) {
		t.Errorf("missing OpenAI assignment:\n%s", out)
	}
	if strings.Contains(out, "export ") {
		t.Error("unix syntax in windows output")
	}
}

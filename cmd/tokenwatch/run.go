package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// StateReader reads server state.
type StateReader interface {
	Read() (*ServerState, error)
}

// HealthChecker verifies the server is responding.
type HealthChecker interface {
	Check(ctx context.Context, dashboardAddr string) error
}

// EnvBuilder constructs the child process environment.
type EnvBuilder interface {
	Build(proxyAddr string) []string
}

// ProcessRunner executes a subprocess.
type ProcessRunner interface {
	Run(ctx context.Context, command string, args []string, env []string) (exitCode int)
}

// RunCommand orchestrates the run subcommand with injected dependencies.
type RunCommand struct {
	stateReader   StateReader
	healthChecker HealthChecker
	envBuilder    EnvBuilder
	processRunner ProcessRunner
	stderr        io.Writer
}

// NewRunCommand creates a RunCommand with production dependencies.
func NewRunCommand() (*RunCommand, error) {
	stateStore, err := NewFileStateStore()
	if err != nil {
		return nil, err
	}
	return &RunCommand{
		stateReader:   stateStore,
		healthChecker: &HTTPHealthChecker{},
		envBuilder:    &BaseURLEnvBuilder{},
		processRunner: &ExecProcessRunner{},
		stderr:        os.Stderr,
	}, nil
}

// Execute runs the command and returns the exit code.
func (r *RunCommand) Execute(ctx context.Context, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(r.stderr, "Usage: tokenwatch run <command> [args...]")
		fmt.Fprintln(r.stderr, "\nRun a command with its LLM API base URLs pointed at the proxy.")
		fmt.Fprintln(r.stderr, "\nExamples:")
		fmt.Fprintln(r.stderr, "  tokenwatch run python script.py")
		fmt.Fprintln(r.stderr, "  tokenwatch run node agent.js")
		return 1
	}

	state, err := r.stateReader.Read()
	if err != nil {
		if errors.Is(err, ErrServerNotRunning) {
			fmt.Fprintln(r.stderr, "tokenwatch proxy is not running.")
			fmt.Fprintln(r.stderr, "\nStart it first:")
			fmt.Fprintln(r.stderr, "    tokenwatch proxy")
			fmt.Fprintln(r.stderr, "\nThen retry:")
			fmt.Fprintln(r.stderr, "    tokenwatch run <command>")
		} else {
			fmt.Fprintln(r.stderr, "Error:", err)
		}
		return 1
	}

	healthCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := r.healthChecker.Check(healthCtx, state.DashboardAddr); err != nil {
		fmt.Fprintln(r.stderr, "Error: tokenwatch proxy is not responding.")
		fmt.Fprintln(r.stderr, "\nThe state file exists but the proxy may have crashed.")
		fmt.Fprintln(r.stderr, "Restart it and try again.")
		return 1
	}

	env := r.envBuilder.Build(state.ProxyAddr)
	return r.processRunner.Run(ctx, args[0], args[1:], env)
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:                "run <command> [args...]",
		Short:              "Run a command with API traffic routed through the proxy",
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, err := NewRunCommand()
			if err != nil {
				return err
			}
			os.Exit(runner.Execute(cmd.Context(), args))
			return nil
		},
	}
}

// HTTPHealthChecker checks server health via the dashboard API.
type HTTPHealthChecker struct{}

// Check verifies the server is healthy by hitting the health endpoint.
func (h *HTTPHealthChecker) Check(ctx context.Context, dashboardAddr string) error {
	req, err := http.NewRequestWithContext(ctx, "GET", "http://"+dashboardAddr+"/api/health", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned %d", resp.StatusCode)
	}
	return nil
}

// BaseURLEnvBuilder points SDK base URL variables at the proxy.
type BaseURLEnvBuilder struct{}

// Build returns the current environment with base URL variables set.
// The OpenAI SDK expects the /v1 suffix on its base URL; the Anthropic
// SDK appends /v1 itself.
func (b *BaseURLEnvBuilder) Build(proxyAddr string) []string {
	proxyURL := "http://" + proxyAddr

	overrides := map[string]string{
		"OPENAI_BASE_URL":    proxyURL + "/v1",
		"OPENAI_API_BASE":    proxyURL + "/v1",
		"ANTHROPIC_BASE_URL": proxyURL,
	}

	overrideKeysUpper := make(map[string]bool, len(overrides))
	for k := range overrides {
		overrideKeysUpper[strings.ToUpper(k)] = true
	}

	// Filter parent env to remove keys we're about to set
	var env []string
	for _, entry := range os.Environ() {
		key, _, _ := strings.Cut(entry, "=")
		if !overrideKeysUpper[strings.ToUpper(key)] {
			env = append(env, entry)
		}
	}

	for k, v := range overrides {
		env = append(env, k+"="+v)
	}

	return env
}

// ExecProcessRunner runs processes via os/exec.
type ExecProcessRunner struct{}

// Run executes a subprocess with the given environment and returns its exit code.
func (r *ExecProcessRunner) Run(ctx context.Context, command string, args []string, env []string) int {
	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = env

	return runProcess(cmd)
}

// getExitCode extracts the exit code from an exec error.
func getExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return 1
}

package invoke

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/HelloWorldSungin/tinyclaw-trading/internal/config"
	"go.uber.org/zap"
)

// Recognized providers.
const (
	ProviderClaude = "claude"
	ProviderCodex  = "codex"
)

// modelAliases resolves short model names per provider. Unrecognized
// names pass through unresolved; the underlying CLI rejects them with a
// clearer message than we could produce here.
var modelAliases = map[string]map[string]string{
	ProviderClaude: {
		"opus":   "claude-opus-4",
		"sonnet": "claude-sonnet-4",
		"haiku":  "claude-haiku-4",
	},
	ProviderCodex: {
		"gpt5":      "gpt-5",
		"gpt5-mini": "gpt-5-mini",
		"codex":     "gpt-5-codex",
	},
}

const (
	localTimeout  = 5 * time.Minute
	remoteTimeout = 10 * time.Minute
)

// Engine executes one agent turn: provider resolution, conversation
// continuity, local or remote process spawn, output extraction.
type Engine struct {
	binaries map[string]string // provider -> executable, overridable in tests
	logger   *zap.Logger
}

// NewEngine creates an invocation engine.
func NewEngine(logger *zap.Logger) *Engine {
	return &Engine{
		binaries: map[string]string{
			ProviderClaude: "claude",
			ProviderCodex:  "codex",
		},
		logger: logger,
	}
}

// SetBinary overrides the executable for a provider. Used by tests.
func (e *Engine) SetBinary(provider, path string) {
	e.binaries[provider] = path
}

// ResolveModel maps a short model name through the alias table.
func ResolveModel(provider, model string) string {
	if aliases, ok := modelAliases[provider]; ok {
		if full, ok := aliases[model]; ok {
			return full
		}
	}
	return model
}

// Invoke runs one turn for the agent and returns the extracted answer.
// reset starts a fresh conversation instead of continuing the previous
// one. The message must be non-empty.
func (e *Engine) Invoke(ctx context.Context, agent config.Agent, message, workDir string, reset bool) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", errors.New("message is empty")
	}
	if workDir == "" {
		workDir = agent.WorkingDir
	}

	if agent.InvokeMode == config.InvokeRemote {
		return e.invokeRemote(ctx, agent, message, reset)
	}
	return e.invokeLocal(ctx, agent, message, workDir, reset)
}

// providerArgs builds the CLI argument list. The message itself always
// travels over stdin, not argv, so payload content can never be
// interpreted by a shell.
func (e *Engine) providerArgs(agent config.Agent, reset bool) []string {
	model := ResolveModel(agent.Provider, agent.Model)

	switch agent.Provider {
	case ProviderCodex:
		args := []string{"exec", "--json", "--skip-git-repo-check"}
		if !reset {
			args = append(args, "resume", "--last")
		}
		if model != "" {
			args = append(args, "--model", model)
		}
		args = append(args, "-")
		return args
	default:
		args := []string{"--print", "--dangerously-skip-permissions"}
		if !reset {
			args = append(args, "--continue")
		}
		if model != "" {
			args = append(args, "--model", model)
		}
		return args
	}
}

func (e *Engine) binary(provider string) string {
	if bin, ok := e.binaries[provider]; ok {
		return bin
	}
	return e.binaries[ProviderClaude]
}

func (e *Engine) invokeLocal(ctx context.Context, agent config.Agent, message, workDir string, reset bool) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, localTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.binary(agent.Provider), e.providerArgs(agent, reset)...)
	cmd.Dir = workDir
	cmd.Stdin = strings.NewReader(message)
	// Best-effort kill on timeout: do not block waiting for the process
	// to release its pipes.
	cmd.WaitDelay = 5 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	e.logger.Debug("invoking agent locally",
		zap.String("agent", agent.ID),
		zap.String("provider", agent.Provider),
		zap.Bool("reset", reset))

	start := time.Now()
	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return "", fmt.Errorf("agent %s timed out after %s", agent.ID, localTimeout)
	}
	if err != nil {
		return "", exitError(agent.ID, err, stderr.String())
	}

	e.logger.Debug("agent invocation done",
		zap.String("agent", agent.ID),
		zap.Duration("took", time.Since(start)))

	return extractorFor(agent.Provider)(stdout.String()), nil
}

// invokeRemote ships the payload over stdin of an ssh subprocess and
// starts the agent CLI on the remote host. Inlining the message into the
// remote command string would be a quoting and injection hazard.
func (e *Engine) invokeRemote(ctx context.Context, agent config.Agent, message string, reset bool) (string, error) {
	if agent.Remote == nil || agent.Remote.Host == "" || agent.Remote.User == "" {
		return "", fmt.Errorf("agent %s: remote mode requires host and user", agent.ID)
	}

	ctx, cancel := context.WithTimeout(ctx, remoteTimeout)
	defer cancel()

	remoteCmd := e.binary(agent.Provider) + " " + strings.Join(e.providerArgs(agent, reset), " ")
	if agent.Remote.Root != "" {
		remoteCmd = fmt.Sprintf("cd %s && %s", agent.Remote.Root, remoteCmd)
	}

	cmd := exec.CommandContext(ctx, "ssh",
		"-o", "BatchMode=yes",
		fmt.Sprintf("%s@%s", agent.Remote.User, agent.Remote.Host),
		remoteCmd)
	cmd.Stdin = strings.NewReader(message)
	cmd.WaitDelay = 5 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	e.logger.Debug("invoking agent remotely",
		zap.String("agent", agent.ID),
		zap.String("host", agent.Remote.Host))

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return "", fmt.Errorf("agent %s (remote) timed out after %s", agent.ID, remoteTimeout)
	}
	if err != nil {
		return "", exitError(agent.ID, err, stderr.String())
	}
	return extractorFor(agent.Provider)(stdout.String()), nil
}

// exitError surfaces the captured error stream, or the exit code when
// stderr is empty, as a distinguishable failure.
func exitError(agentID string, err error, stderr string) error {
	stderr = strings.TrimSpace(stderr)
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if stderr != "" {
			return fmt.Errorf("agent %s: %s", agentID, stderr)
		}
		return fmt.Errorf("agent %s: exited with code %d", agentID, exitErr.ExitCode())
	}
	return fmt.Errorf("agent %s: %w", agentID, err)
}

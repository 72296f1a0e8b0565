package invoke

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/HelloWorldSungin/tinyclaw-trading/internal/config"
	"go.uber.org/zap"
)

// fakeBinary writes a shell script that stands in for the provider CLI.
func fakeBinary(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell stub requires unix")
	}
	path := filepath.Join(t.TempDir(), "fake-agent")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func testAgent(provider string) config.Agent {
	return config.Agent{
		ID:         "strategist",
		Provider:   provider,
		InvokeMode: config.InvokeLocal,
	}
}

func TestInvokeLocalCapturesStdout(t *testing.T) {
	e := NewEngine(zap.NewNop())
	e.SetBinary(ProviderClaude, fakeBinary(t, `cat >/dev/null; echo "the answer"`))

	out, err := e.Invoke(context.Background(), testAgent(ProviderClaude), "question", t.TempDir(), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "the answer" {
		t.Errorf("got %q, want %q", out, "the answer")
	}
}

func TestInvokeMessageOverStdin(t *testing.T) {
	e := NewEngine(zap.NewNop())
	// Echo the payload back so we can verify it arrived via stdin.
	e.SetBinary(ProviderClaude, fakeBinary(t, `cat`))

	out, err := e.Invoke(context.Background(), testAgent(ProviderClaude), "payload; rm -rf /", t.TempDir(), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "payload; rm -rf /" {
		t.Errorf("got %q, payload mangled in transit", out)
	}
}

func TestInvokeEmptyMessage(t *testing.T) {
	e := NewEngine(zap.NewNop())
	if _, err := e.Invoke(context.Background(), testAgent(ProviderClaude), "  ", "", false); err == nil {
		t.Fatal("expected error for empty message")
	}
}

func TestInvokeNonZeroExitSurfacesStderr(t *testing.T) {
	e := NewEngine(zap.NewNop())
	e.SetBinary(ProviderClaude, fakeBinary(t, `cat >/dev/null; echo "model overloaded" >&2; exit 1`))

	_, err := e.Invoke(context.Background(), testAgent(ProviderClaude), "q", t.TempDir(), false)
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}
	if !strings.Contains(err.Error(), "model overloaded") {
		t.Errorf("error %q does not carry stderr", err)
	}
}

func TestInvokeNonZeroExitEmptyStderr(t *testing.T) {
	e := NewEngine(zap.NewNop())
	e.SetBinary(ProviderClaude, fakeBinary(t, `cat >/dev/null; exit 3`))

	_, err := e.Invoke(context.Background(), testAgent(ProviderClaude), "q", t.TempDir(), false)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "exited with code 3") {
		t.Errorf("got %q, want generic exit-code message", err)
	}
}

func TestInvokeRemoteMissingConfig(t *testing.T) {
	e := NewEngine(zap.NewNop())
	agent := config.Agent{
		ID:         "offsite",
		Provider:   ProviderClaude,
		InvokeMode: config.InvokeRemote,
		Remote:     &config.RemoteConfig{Host: "trading-box"}, // user missing
	}
	// Configuration error must surface before any process is spawned.
	_, err := e.Invoke(context.Background(), agent, "q", "", false)
	if err == nil {
		t.Fatal("expected configuration error")
	}
	if !strings.Contains(err.Error(), "host and user") {
		t.Errorf("got %q, want remote config error", err)
	}
}

func TestInvokeCodexExtractsFinalAnswer(t *testing.T) {
	e := NewEngine(zap.NewNop())
	e.SetBinary(ProviderCodex, fakeBinary(t, `cat >/dev/null
echo '{"type":"thinking","message":"hmm"}'
echo 'not json at all'
echo '{"type":"agent_message","message":"first draft"}'
echo '{"type":"agent_message","message":"final answer"}'`))

	out, err := e.Invoke(context.Background(), testAgent(ProviderCodex), "q", t.TempDir(), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "final answer" {
		t.Errorf("got %q, want %q", out, "final answer")
	}
}

func TestResolveModel(t *testing.T) {
	cases := []struct {
		provider, model, want string
	}{
		{ProviderClaude, "opus", "claude-opus-4"},
		{ProviderClaude, "sonnet", "claude-sonnet-4"},
		{ProviderCodex, "gpt5", "gpt-5"},
		// Unknown short names pass through unresolved.
		{ProviderClaude, "claude-experimental", "claude-experimental"},
		{"mystery", "anything", "anything"},
	}
	for _, c := range cases {
		if got := ResolveModel(c.provider, c.model); got != c.want {
			t.Errorf("ResolveModel(%s, %s) = %q, want %q", c.provider, c.model, got, c.want)
		}
	}
}

func TestProviderArgsReset(t *testing.T) {
	e := NewEngine(zap.NewNop())

	args := e.providerArgs(config.Agent{Provider: ProviderClaude, Model: "opus"}, false)
	if !contains(args, "--continue") {
		t.Errorf("continue flag missing without reset: %v", args)
	}

	args = e.providerArgs(config.Agent{Provider: ProviderClaude, Model: "opus"}, true)
	if contains(args, "--continue") {
		t.Errorf("continue flag present with reset: %v", args)
	}
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

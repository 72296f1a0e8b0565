package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadEnvSubstitution(t *testing.T) {
	t.Setenv("TC_PORT", "9999")
	path := writeConfig(t, `{
		"server": {"port": ${TC_PORT:8080}},
		"notify": {"webhook_url": "${TC_WEBHOOK:http://fallback}"}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("got port %d, want 9999", cfg.Server.Port)
	}
	// TC_WEBHOOK unset, default applies
	if cfg.Notify.WebhookURL != "http://fallback" {
		t.Errorf("got webhook %q, want fallback", cfg.Notify.WebhookURL)
	}
}

func TestLoadAgentDefaults(t *testing.T) {
	path := writeConfig(t, `{
		"agents": {
			"strategist": {"provider": "claude", "model": "opus", "heartbeat_interval": 90}
		}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	a, ok := cfg.Agents["strategist"]
	if !ok {
		t.Fatal("agent strategist not loaded")
	}
	if a.ID != "strategist" || a.Name != "strategist" {
		t.Errorf("id/name not defaulted: %q %q", a.ID, a.Name)
	}
	if a.InvokeMode != InvokeLocal {
		t.Errorf("got invoke_mode %q, want local", a.InvokeMode)
	}
	if a.HeartbeatMode != HeartbeatClaude {
		t.Errorf("got heartbeat_mode %q, want claude", a.HeartbeatMode)
	}
	if a.HeartbeatInterval.Std() != 90*time.Second {
		t.Errorf("got interval %v, want 90s", a.HeartbeatInterval.Std())
	}
}

func TestLoadDurationString(t *testing.T) {
	path := writeConfig(t, `{
		"agents": {
			"sentinel": {"provider": "codex", "heartbeat_interval": "5m"}
		}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := cfg.Agents["sentinel"].HeartbeatInterval.Std(); got != 5*time.Minute {
		t.Errorf("got interval %v, want 5m", got)
	}
}

func TestLoadTeamValidation(t *testing.T) {
	path := writeConfig(t, `{
		"agents": {"a": {"provider": "claude"}},
		"teams": {"desk": {"members": ["a", "b"], "leader": "zz"}}
	}`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for leader not in member list")
	}

	path = writeConfig(t, `{
		"teams": {"desk": {"members": []}}
	}`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for empty member list")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

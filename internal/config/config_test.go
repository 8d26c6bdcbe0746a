package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	yaml := `
server:
  port: 9090
  host: "127.0.0.1"
  auth_token: "secret"
  allowed_origins:
    - "https://app.example.com"
engine:
  endpoint: "http://engine:8000"
  max_iterations: 25
session:
  admission: per_owner
  poll_interval: 250ms
`
	if err := os.WriteFile(cfgPath, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.AuthToken != "secret" {
		t.Errorf("Server.AuthToken = %q, want %q", cfg.Server.AuthToken, "secret")
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "https://app.example.com" {
		t.Errorf("Server.AllowedOrigins = %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Engine.Endpoint != "http://engine:8000" {
		t.Errorf("Engine.Endpoint = %q", cfg.Engine.Endpoint)
	}
	if cfg.Engine.MaxIterations != 25 {
		t.Errorf("Engine.MaxIterations = %d, want 25", cfg.Engine.MaxIterations)
	}
	if cfg.Session.Admission != "per_owner" {
		t.Errorf("Session.Admission = %q, want per_owner", cfg.Session.Admission)
	}
	if cfg.Session.PollInterval != 250*time.Millisecond {
		t.Errorf("Session.PollInterval = %v, want 250ms", cfg.Session.PollInterval)
	}

	// Defaults should still be applied for unspecified fields.
	if cfg.Engine.WorkspaceMount != "/workspace" {
		t.Errorf("Engine.WorkspaceMount = %q, want default /workspace", cfg.Engine.WorkspaceMount)
	}
	if cfg.Session.ChannelCapacity != 100 {
		t.Errorf("Session.ChannelCapacity = %d, want default 100", cfg.Session.ChannelCapacity)
	}
	if cfg.Session.HandshakeTimeout != 30*time.Second {
		t.Errorf("Session.HandshakeTimeout = %v, want default 30s", cfg.Session.HandshakeTimeout)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("Load() on missing file should return error")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(cfgPath, []byte(":::not valid yaml"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(cfgPath)
	if err == nil {
		t.Fatal("Load() with invalid YAML should return error")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Engine.DefaultProvider != "anthropic" {
		t.Errorf("Engine.DefaultProvider = %q, want anthropic", cfg.Engine.DefaultProvider)
	}
	if _, ok := cfg.Engine.Providers["anthropic"]; !ok {
		t.Error("Providers should include anthropic")
	}
	if _, ok := cfg.Engine.Providers["google"]; !ok {
		t.Error("Providers should include google")
	}
	if cfg.Session.Admission != "always" {
		t.Errorf("Session.Admission = %q, want always", cfg.Session.Admission)
	}
}

func TestResolveProviderUserKeyWins(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "env-key")
	cfg := Default()

	p, key, err := cfg.ResolveProvider("anthropic", "user-key")
	if err != nil {
		t.Fatalf("ResolveProvider error: %v", err)
	}
	if key != "user-key" {
		t.Errorf("key = %q, want user-key", key)
	}
	if p.Model == "" {
		t.Error("provider model should not be empty")
	}
}

func TestResolveProviderEnvFallback(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "env-key")
	t.Setenv("LLM_API_KEY", "generic-key")
	cfg := Default()

	_, key, err := cfg.ResolveProvider("anthropic", "")
	if err != nil {
		t.Fatalf("ResolveProvider error: %v", err)
	}
	if key != "env-key" {
		t.Errorf("key = %q, want env-key (provider env var beats generic)", key)
	}
}

func TestResolveProviderGenericFallback(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("LLM_API_KEY", "generic-key")
	cfg := Default()

	_, key, err := cfg.ResolveProvider("anthropic", "")
	if err != nil {
		t.Fatalf("ResolveProvider error: %v", err)
	}
	if key != "generic-key" {
		t.Errorf("key = %q, want generic-key", key)
	}
}

func TestResolveProviderNoKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("LLM_API_KEY", "")
	cfg := Default()

	_, _, err := cfg.ResolveProvider("anthropic", "")
	if err == nil {
		t.Fatal("ResolveProvider with no key anywhere should return error")
	}
}

func TestResolveProviderDefaultName(t *testing.T) {
	cfg := Default()

	p, _, err := cfg.ResolveProvider("", "some-key")
	if err != nil {
		t.Fatalf("ResolveProvider error: %v", err)
	}
	if p != cfg.Engine.Providers["anthropic"] {
		t.Errorf("empty provider name should resolve to the default provider, got %+v", p)
	}
}

func TestResolveProviderUnknown(t *testing.T) {
	cfg := Default()

	_, _, err := cfg.ResolveProvider("openai", "some-key")
	if err == nil {
		t.Fatal("unknown provider should return error")
	}
}

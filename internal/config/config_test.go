package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Agent.Mode != "tool-driven" || cfg.Agent.MaxIterations != 25 {
		t.Fatalf("agent defaults = %+v", cfg.Agent)
	}
	if cfg.Sandbox.Runtime != "subprocess" || cfg.Sandbox.CodeTimeoutSeconds != 30 {
		t.Fatalf("sandbox defaults = %+v", cfg.Sandbox)
	}
	if cfg.Session.RetentionSeconds != 3600 {
		t.Fatalf("session defaults = %+v", cfg.Session)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "analyst.toml")
	content := `
[llm]
model = "deepseek-chat"
base_url = "https://api.deepseek.com/v1"

[agent]
mode = "staged"
max_iterations = 12

[sandbox]
runtime = "docker"
image = "python:3.13-slim"

[observer]
enabled = true
[observer.pricing."deepseek-chat"]
input = 0.27
output = 1.10
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.Model != "deepseek-chat" || cfg.Agent.Mode != "staged" || cfg.Agent.MaxIterations != 12 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Sandbox.Runtime != "docker" || cfg.Sandbox.Image != "python:3.13-slim" {
		t.Fatalf("sandbox = %+v", cfg.Sandbox)
	}
	if !cfg.Observer.Enabled || cfg.Observer.Pricing["deepseek-chat"].Output != 1.10 {
		t.Fatalf("observer = %+v", cfg.Observer)
	}
	// Untouched sections keep defaults.
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("server = %+v", cfg.Server)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ANALYST_LLM_API_KEY", "sekrit")
	t.Setenv("ANALYST_AGENT_MODE", "autonomous")
	t.Setenv("ANALYST_MAX_ITERATIONS", "7")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.APIKey != "sekrit" || cfg.Agent.Mode != "autonomous" || cfg.Agent.MaxIterations != 7 {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestInvalidRuntimeRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "analyst.toml")
	if err := os.WriteFile(path, []byte("[sandbox]\nruntime = \"wasm\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("invalid runtime accepted")
	}
}

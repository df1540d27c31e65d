// Package config loads the runtime configuration from analyst.toml with
// environment-variable overrides for deployment secrets.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
)

type Config struct {
	LLM      LLMConfig      `toml:"llm"`
	Agent    AgentConfig    `toml:"agent"`
	Sandbox  SandboxConfig  `toml:"sandbox"`
	Server   ServerConfig   `toml:"server"`
	Session  SessionConfig  `toml:"session"`
	Observer ObserverConfig `toml:"observer"`
}

type LLMConfig struct {
	APIKey  string `toml:"api_key"`
	BaseURL string `toml:"base_url"`
	Model   string `toml:"model"`
}

type AgentConfig struct {
	// Mode selects the loop strategy: tool-driven, task-driven, hybrid,
	// autonomous, or staged.
	Mode                 string `toml:"mode"`
	MaxIterations        int    `toml:"max_iterations"`
	MaxIterationsPerTask int    `toml:"max_iterations_per_task"`
}

type SandboxConfig struct {
	// Runtime selects the executor: "subprocess" or "docker".
	Runtime            string `toml:"runtime"`
	PythonBin          string `toml:"python_bin"`
	Image              string `toml:"image"`
	CodeTimeoutSeconds int    `toml:"code_timeout_seconds"`
}

type ServerConfig struct {
	Addr             string `toml:"addr"`
	UploadDir        string `toml:"upload_dir"`
	MaxFileSizeBytes int64  `toml:"max_file_size_bytes"`
	EventBufferSize  int    `toml:"event_buffer_size"`
}

type SessionConfig struct {
	RetentionSeconds int `toml:"retention_seconds"`
}

type ObserverConfig struct {
	Enabled bool                       `toml:"enabled"`
	Pricing map[string]ObserverPricing `toml:"pricing"`
}

type ObserverPricing struct {
	Input  float64 `toml:"input"`
	Output float64 `toml:"output"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		LLM: LLMConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
		},
		Agent: AgentConfig{
			Mode:                 "tool-driven",
			MaxIterations:        25,
			MaxIterationsPerTask: 5,
		},
		Sandbox: SandboxConfig{
			Runtime:            "subprocess",
			PythonBin:          "python3",
			Image:              "python:3.12-slim",
			CodeTimeoutSeconds: 30,
		},
		Server: ServerConfig{
			Addr:             ":8080",
			UploadDir:        filepath.Join(os.TempDir(), "analyst"),
			MaxFileSizeBytes: 64 << 20,
			EventBufferSize:  1024,
		},
		Session: SessionConfig{
			RetentionSeconds: 3600,
		},
	}
}

// Load reads the config file at path (optional; defaults apply when it does
// not exist) and applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}
	applyEnv(&cfg)
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv layers ANALYST_* environment variables over the file values.
func applyEnv(cfg *Config) {
	if v := os.Getenv("ANALYST_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("ANALYST_LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("ANALYST_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("ANALYST_AGENT_MODE"); v != "" {
		cfg.Agent.Mode = v
	}
	if v := os.Getenv("ANALYST_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("ANALYST_UPLOAD_DIR"); v != "" {
		cfg.Server.UploadDir = v
	}
	if v := os.Getenv("ANALYST_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Agent.MaxIterations = n
		}
	}
	if v := os.Getenv("ANALYST_CODE_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Sandbox.CodeTimeoutSeconds = n
		}
	}
}

func (c Config) validate() error {
	switch c.Sandbox.Runtime {
	case "subprocess", "docker":
	default:
		return fmt.Errorf("sandbox.runtime must be subprocess or docker, got %q", c.Sandbox.Runtime)
	}
	if c.Agent.MaxIterations <= 0 {
		return fmt.Errorf("agent.max_iterations must be positive")
	}
	if c.Server.MaxFileSizeBytes <= 0 {
		return fmt.Errorf("server.max_file_size_bytes must be positive")
	}
	return nil
}

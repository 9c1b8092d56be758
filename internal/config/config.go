// Package config loads the orchestrator configuration from defaults, an
// optional TOML file, and environment variables, in that order (env wins).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Workflows WorkflowsConfig `toml:"workflows"`
	Database  DatabaseConfig  `toml:"database"`
	Decider   DeciderConfig   `toml:"decider"`
	Logging   LoggingConfig   `toml:"logging"`
	Observer  ObserverConfig  `toml:"observer"`
}

type WorkflowsConfig struct {
	// DefinitionsDir is the base directory holding one subdirectory per
	// workflow definition.
	DefinitionsDir string `toml:"definitions_dir"`
}

type DatabaseConfig struct {
	// Path is the SQLite database file. Ignored when DSN is set.
	Path string `toml:"path"`
	// DSN selects the PostgreSQL store when non-empty.
	DSN string `toml:"dsn"`
}

type DeciderConfig struct {
	// UseStub swaps the Gemini backend for the deterministic stub.
	UseStub        bool   `toml:"use_stub"`
	Model          string `toml:"model"`
	APIKey         string `toml:"api_key"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	// RPM and TPM bound decisions and tokens per minute. Zero disables
	// the corresponding limit.
	RPM int `toml:"rpm"`
	TPM int `toml:"tpm"`
}

// Timeout returns the per-request decider timeout.
func (d DeciderConfig) Timeout() time.Duration {
	return time.Duration(d.TimeoutSeconds) * time.Second
}

type LoggingConfig struct {
	Level string `toml:"level"`
	Dir   string `toml:"dir"`
	// File is the orchestrator log. Defaults to <dir>/orchestrator.log.
	File string `toml:"file"`
	// AIFile is the decision audit log (prompts and raw model responses).
	// Defaults to <dir>/ai_interactions.log.
	AIFile string `toml:"ai_file"`
}

type ObserverConfig struct {
	Enabled bool                       `toml:"enabled"`
	Pricing map[string]ObserverPricing `toml:"pricing"`
}

type ObserverPricing struct {
	Input  float64 `toml:"input"`
	Output float64 `toml:"output"`
}

// Default returns a Config with all defaults applied. The definitions dir,
// database location, and model name have no defaults; Validate rejects a
// config that never received them.
func Default() Config {
	return Config{
		Decider: DeciderConfig{TimeoutSeconds: 60},
		Logging: LoggingConfig{Level: "info", Dir: "logs"},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins). A missing
// or malformed TOML file is skipped silently; validation is the caller's
// explicit step via Validate.
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "maestro.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	// Env overrides
	if v := os.Getenv("WORKFLOW_DEFINITIONS_DIR"); v != "" {
		cfg.Workflows.DefinitionsDir = v
	}
	if v := os.Getenv("WORKFLOW_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("WORKFLOW_DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("USE_STUB_AI_CLIENT"); v != "" {
		cfg.Decider.UseStub = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("GEMINI_MODEL_NAME"); v != "" {
		cfg.Decider.Model = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.Decider.APIKey = v
	}
	if v := os.Getenv("GEMINI_REQUEST_TIMEOUT_SECONDS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			cfg.Decider.TimeoutSeconds = secs
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("ORCHESTRATOR_LOG_DIR"); v != "" {
		cfg.Logging.Dir = v
	}
	if v := os.Getenv("ORCHESTRATOR_LOG_FILE"); v != "" {
		cfg.Logging.File = v
	}
	if v := os.Getenv("AI_INTERACTIONS_LOG_FILE"); v != "" {
		cfg.Logging.AIFile = v
	}
	if v := os.Getenv("MAESTRO_OBSERVER_ENABLED"); v == "true" || v == "1" {
		cfg.Observer.Enabled = true
	}

	// Fallbacks
	if cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(cfg.Logging.Dir, "orchestrator.log")
	}
	if cfg.Logging.AIFile == "" {
		cfg.Logging.AIFile = filepath.Join(cfg.Logging.Dir, "ai_interactions.log")
	}

	return cfg
}

// Validate checks the settings that have no usable zero value.
func (c Config) Validate() error {
	if c.Workflows.DefinitionsDir == "" {
		return fmt.Errorf("workflow definitions directory is required (WORKFLOW_DEFINITIONS_DIR or [workflows].definitions_dir)")
	}
	if c.Database.Path == "" && c.Database.DSN == "" {
		return fmt.Errorf("database location is required (WORKFLOW_DB_PATH, WORKFLOW_DB_DSN, or [database])")
	}
	if !c.Decider.UseStub && c.Decider.Model == "" {
		return fmt.Errorf("model name is required when the stub decider is off (GEMINI_MODEL_NAME or [decider].model)")
	}
	if c.Decider.TimeoutSeconds <= 0 {
		return fmt.Errorf("decider timeout must be positive, got %d", c.Decider.TimeoutSeconds)
	}
	return nil
}

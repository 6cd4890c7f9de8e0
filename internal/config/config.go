// Package config loads taskloop settings.
//
// Sources, highest priority first:
//  1. environment variables (LLM_API_KEY, LLM_BASE_URL, LLM_MODEL,
//     ANTHROPIC_API_KEY, OPENAI_API_KEY, TASKLOOP_PROVIDER, TASKLOOP_DATA_DIR)
//  2. the file named by --config
//  3. ~/.config/taskloop/config.yaml
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/apexion-ai/taskloop/internal/cost"
)

// ProviderConfig configures one model provider.
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// PermissionConfig configures the approval gate.
type PermissionConfig struct {
	// Mode: "interactive" (default) | "auto-approve" | "yolo"
	Mode string `yaml:"mode"`

	// AutoApproveReadOnly runs read-only tools without asking.
	AutoApproveReadOnly bool `yaml:"auto_approve_read_only"`

	// AutoApproveTools never ask for these tool names.
	AutoApproveTools []string `yaml:"auto_approve_tools"`

	// AllowedCommands run without asking when the command starts with one
	// of these words and contains no shell operators.
	AllowedCommands []string `yaml:"allowed_commands"`

	// AllowedPaths limits write_to_file to these patterns ("./src/**").
	// Empty allows every path.
	AllowedPaths []string `yaml:"allowed_paths"`

	// DeniedCommands are refused in every mode.
	DeniedCommands []string `yaml:"denied_commands"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Level: debug | info | warn | error
	Level string `yaml:"level"`
	// File receives JSON logs. Empty means <data_dir>/taskloop.log.
	File string `yaml:"file"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Addr, when set, serves /metrics on this address.
	Addr string `yaml:"addr"`
}

// BrowserConfig configures inspect_site.
type BrowserConfig struct {
	// RemoteURL attaches to a running Chrome DevTools endpoint instead of
	// launching a browser.
	RemoteURL string `yaml:"remote_url"`
	Headless  bool   `yaml:"headless"`
}

// Config is the full taskloop configuration.
type Config struct {
	Provider  string                     `yaml:"provider"`
	Model     string                     `yaml:"model"`
	Providers map[string]*ProviderConfig `yaml:"providers"`

	Permissions PermissionConfig `yaml:"permissions"`

	// ContextWindow overrides the model's context window. 0 = model default.
	ContextWindow int `yaml:"context_window"`

	// MaxConsecutiveMistakes asks the user for guidance after this many
	// mistakes in a row.
	MaxConsecutiveMistakes int `yaml:"max_consecutive_mistakes"`

	// DataDir holds task documents and the task index.
	DataDir string `yaml:"data_dir"`

	// CustomInstructions are appended to the system prompt.
	CustomInstructions string `yaml:"custom_instructions"`

	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
	Browser BrowserConfig `yaml:"browser"`

	// Pricing overrides per-model prices, keyed by model id or prefix.
	Pricing map[string]cost.Pricing `yaml:"pricing"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Provider:               "anthropic",
		Providers:              make(map[string]*ProviderConfig),
		MaxConsecutiveMistakes: cost.DefaultMistakeLimit,
		Permissions: PermissionConfig{
			Mode:                "interactive",
			AutoApproveReadOnly: true,
		},
		Log:     LogConfig{Level: "info"},
		Browser: BrowserConfig{Headless: true},
	}
}

// DefaultPath returns ~/.config/taskloop/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "taskloop", "config.yaml")
}

// Load reads configPath (or the default path), then applies environment
// overrides. A missing file yields the defaults.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath == "" {
		configPath = DefaultPath()
	}

	if configPath != "" {
		if data, err := os.ReadFile(configPath); err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
			}
		}
	}

	if cfg.Providers == nil {
		cfg.Providers = make(map[string]*ProviderConfig)
	}
	applyEnvOverrides(cfg)

	if cfg.MaxConsecutiveMistakes <= 0 {
		cfg.MaxConsecutiveMistakes = cost.DefaultMistakeLimit
	}
	return cfg, nil
}

// GetProviderConfig returns the settings for name, or an empty config.
func (c *Config) GetProviderConfig(name string) *ProviderConfig {
	if pc, ok := c.Providers[name]; ok && pc != nil {
		return pc
	}
	return &ProviderConfig{}
}

// ModelFor returns the model for the active provider: the top-level model
// wins over the provider's own.
func (c *Config) ModelFor(provider string) string {
	if c.Model != "" {
		return c.Model
	}
	return c.GetProviderConfig(provider).Model
}

func (c *Config) providerConfig(name string) *ProviderConfig {
	if c.Providers[name] == nil {
		c.Providers[name] = &ProviderConfig{}
	}
	return c.Providers[name]
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TASKLOOP_PROVIDER"); v != "" {
		cfg.Provider = v
	}
	if v := os.Getenv("TASKLOOP_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.providerConfig(cfg.Provider).APIKey = v
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		cfg.providerConfig(cfg.Provider).BaseURL = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.Model = v
	}

	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		if pc := cfg.providerConfig("anthropic"); pc.APIKey == "" {
			pc.APIKey = v
		}
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		if pc := cfg.providerConfig("openai"); pc.APIKey == "" {
			pc.APIKey = v
		}
	}
}

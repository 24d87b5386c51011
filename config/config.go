// Package config defines the deepagent configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	Server    ServerConfig     `json:"server" yaml:"server" toml:"server"`
	Auth      AuthConfig       `json:"auth" yaml:"auth" toml:"auth"`
	Provider  ProviderConfig   `json:"provider" yaml:"provider" toml:"provider"`
	Agent     AgentConfig      `json:"agent" yaml:"agent" toml:"agent"`
	SubAgents []SubAgentConfig `json:"subagents,omitempty" yaml:"subagents" toml:"subagents"`

	DataDir string `json:"data_dir" yaml:"data_dir" toml:"data_dir"`
	// DBPath defaults to <data_dir>/deepagent.db.
	DBPath string `json:"db_path,omitempty" yaml:"db_path" toml:"db_path"`
	// TemplatesDir is an optional directory of YAML task templates.
	TemplatesDir string `json:"templates_dir,omitempty" yaml:"templates_dir" toml:"templates_dir"`
	// ResultsDir defaults to data_dir.
	ResultsDir string `json:"results_dir,omitempty" yaml:"results_dir" toml:"results_dir"`
	LogLevel   string `json:"log_level" yaml:"log_level" toml:"log_level"`
}

// ServerConfig controls the event stream endpoint.
type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr" toml:"addr"` // empty disables the stream server
}

// AuthConfig controls stream subscriber tokens.
type AuthConfig struct {
	JWTSecret string `json:"jwt_secret" yaml:"jwt_secret" toml:"jwt_secret"`
}

// ProviderConfig selects and configures the model backend.
type ProviderConfig struct {
	Name      string `json:"name" yaml:"name" toml:"name"` // "anthropic" or "mock"
	Model     string `json:"model,omitempty" yaml:"model" toml:"model"`
	APIKeyEnv string `json:"api_key_env,omitempty" yaml:"api_key_env" toml:"api_key_env"`
	BaseURL   string `json:"base_url,omitempty" yaml:"base_url" toml:"base_url"`
	MaxTokens int    `json:"max_tokens,omitempty" yaml:"max_tokens" toml:"max_tokens"`
	Scenario  string `json:"scenario,omitempty" yaml:"scenario" toml:"scenario"` // mock scenario file
}

// AgentConfig configures the main agent.
type AgentConfig struct {
	Name               string   `json:"name" yaml:"name" toml:"name"`
	SystemPrompt       string   `json:"system_prompt" yaml:"system_prompt" toml:"system_prompt"`
	MaxSteps           int      `json:"max_steps" yaml:"max_steps" toml:"max_steps"`
	MaxContextMessages int      `json:"max_context_messages" yaml:"max_context_messages" toml:"max_context_messages"`
	AllowedTools       []string `json:"allowed_tools,omitempty" yaml:"allowed_tools" toml:"allowed_tools"`
	ApprovalRequired   []string `json:"approval_required,omitempty" yaml:"approval_required" toml:"approval_required"`
	// DisabledMiddleware removes built-in middleware by name: tasks, subagents or loopguard.
	DisabledMiddleware []string `json:"disabled_middleware,omitempty" yaml:"disabled_middleware" toml:"disabled_middleware"`
}

// SubAgentConfig declares a delegate target.
type SubAgentConfig struct {
	Name         string   `json:"name" yaml:"name" toml:"name"`
	Description  string   `json:"description" yaml:"description" toml:"description"`
	SystemPrompt string   `json:"system_prompt" yaml:"system_prompt" toml:"system_prompt"`
	Tools        []string `json:"tools,omitempty" yaml:"tools" toml:"tools"`
	Model        string   `json:"model,omitempty" yaml:"model" toml:"model"` // overrides the provider model
	MaxSteps     int      `json:"max_steps,omitempty" yaml:"max_steps" toml:"max_steps"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderConfig{
			Name: "mock",
		},
		Agent: AgentConfig{
			Name:               "deepagent",
			SystemPrompt:       "You are a capable assistant. Break larger requests into tasks, keep them up to date, and delegate self-contained research to sub-agents.",
			MaxSteps:           20,
			MaxContextMessages: 40,
		},
		SubAgents: []SubAgentConfig{
			{
				Name:         "researcher",
				Description:  "Investigates a question in depth and reports findings",
				SystemPrompt: "You are a focused researcher. Answer the assigned question thoroughly and finish with a concise report.",
			},
		},
		DataDir:  "./data",
		LogLevel: "info",
	}
}

// Load reads a YAML or TOML config file over DefaultConfig. The format is
// chosen by extension; anything other than .toml is parsed as YAML.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the values Load cannot default.
func (c *Config) Validate() error {
	switch c.Provider.Name {
	case "anthropic", "mock":
	default:
		return fmt.Errorf("unknown provider %q", c.Provider.Name)
	}
	if c.Agent.MaxSteps < 0 {
		return fmt.Errorf("agent.max_steps must not be negative")
	}
	if c.Agent.MaxContextMessages < 0 {
		return fmt.Errorf("agent.max_context_messages must not be negative")
	}
	seen := make(map[string]bool, len(c.SubAgents))
	for i, s := range c.SubAgents {
		if s.Name == "" {
			return fmt.Errorf("subagents[%d]: name is required", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("subagents[%d]: duplicate name %q", i, s.Name)
		}
		seen[s.Name] = true
	}
	if c.Server.Addr != "" && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required when server.addr is set")
	}
	return nil
}

// Database returns the SQLite file path.
func (c *Config) Database() string {
	if c.DBPath != "" {
		return c.DBPath
	}
	return filepath.Join(c.DataDir, "deepagent.db")
}

// Results returns the root directory for sub-agent results.
func (c *Config) Results() string {
	if c.ResultsDir != "" {
		return c.ResultsDir
	}
	return c.DataDir
}

// APIKey reads the provider key from the configured environment variable,
// falling back to the provider's conventional one.
func (c *Config) APIKey() string {
	env := c.Provider.APIKeyEnv
	if env == "" && c.Provider.Name == "anthropic" {
		env = "ANTHROPIC_API_KEY"
	}
	if env == "" {
		return ""
	}
	return os.Getenv(env)
}

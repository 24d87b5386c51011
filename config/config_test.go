package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := writeFile(t, "deepagent.yaml", `
provider:
  name: anthropic
  model: claude-test
agent:
  max_steps: 8
  allowed_tools: ["group:task", "delegate"]
subagents:
  - name: writer
    description: Drafts prose
    tools: ["task_list"]
    max_steps: 3
log_level: debug
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider.Name != "anthropic" || cfg.Provider.Model != "claude-test" {
		t.Errorf("provider = %+v", cfg.Provider)
	}
	if cfg.Agent.MaxSteps != 8 || cfg.Agent.MaxContextMessages != 40 {
		t.Errorf("agent = %+v, want max_steps overridden and context default kept", cfg.Agent)
	}
	want := []SubAgentConfig{{Name: "writer", Description: "Drafts prose", Tools: []string{"task_list"}, MaxSteps: 3}}
	if diff := cmp.Diff(want, cfg.SubAgents); diff != "" {
		t.Errorf("subagents (-want +got):\n%s", diff)
	}
	if cfg.LogLevel != "debug" || cfg.Database() != filepath.Join("./data", "deepagent.db") {
		t.Errorf("log level %q, database %q", cfg.LogLevel, cfg.Database())
	}
}

func TestLoad_TOML(t *testing.T) {
	path := writeFile(t, "deepagent.toml", `
data_dir = "/var/lib/deepagent"
results_dir = "/srv/results"

[server]
addr = ":9090"

[auth]
jwt_secret = "s3cret"

[agent]
name = "planner"
max_context_messages = 12

[[subagents]]
name = "critic"
description = "Reviews drafts"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.Name != "planner" || cfg.Agent.MaxContextMessages != 12 || cfg.Agent.MaxSteps != 20 {
		t.Errorf("agent = %+v", cfg.Agent)
	}
	if len(cfg.SubAgents) != 1 || cfg.SubAgents[0].Name != "critic" {
		t.Errorf("subagents = %+v", cfg.SubAgents)
	}
	if cfg.Server.Addr != ":9090" || cfg.Results() != "/srv/results" {
		t.Errorf("server %q results %q", cfg.Server.Addr, cfg.Results())
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"provider":  "provider:\n  name: gpt\n",
		"duplicate": "subagents:\n  - name: a\n  - name: a\n",
		"secret":    "server:\n  addr: \":9090\"\n",
		"steps":     "agent:\n  max_steps: -1\n",
	}
	for name, content := range cases {
		if _, err := Load(writeFile(t, name+".yaml", content)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil || !strings.Contains(err.Error(), "missing.yaml") {
		t.Errorf("missing file err = %v", err)
	}
}

func TestAPIKey(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Provider.Name = "anthropic"
	t.Setenv("ANTHROPIC_API_KEY", "default-key")
	t.Setenv("TEAM_KEY", "team-key")
	if got := cfg.APIKey(); got != "default-key" {
		t.Errorf("APIKey = %q", got)
	}
	cfg.Provider.APIKeyEnv = "TEAM_KEY"
	if got := cfg.APIKey(); got != "team-key" {
		t.Errorf("APIKey = %q", got)
	}
	if got := DefaultConfig().APIKey(); got != "" {
		t.Errorf("mock APIKey = %q", got)
	}
}

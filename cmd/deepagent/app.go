package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/deepagent/agent"
	"github.com/GoCodeAlone/deepagent/config"
	"github.com/GoCodeAlone/deepagent/loopguard"
	"github.com/GoCodeAlone/deepagent/plugin"
	"github.com/GoCodeAlone/deepagent/provider"
	"github.com/GoCodeAlone/deepagent/provider/mock"
	"github.com/GoCodeAlone/deepagent/stream"
	"github.com/GoCodeAlone/deepagent/subagent"
	"github.com/GoCodeAlone/deepagent/task"
	"github.com/GoCodeAlone/deepagent/tools"
)

// app holds the wiring shared by every command.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *task.SQLiteStore
	session string
}

func (g *globalFlags) open(cmd *cobra.Command) (*app, error) {
	cfg, err := g.loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	store, err := task.NewSQLiteStore(cfg.Database())
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, store: store, session: g.sessionID}

	if dir := cfg.TemplatesDir; dir != "" {
		n, err := task.NewTemplateLoader(dir, store, logger).Load(cmd.Context())
		if err != nil {
			store.Close()
			return nil, err
		}
		logger.Debug("templates loaded", "dir", dir, "count", n)
	}
	return a, nil
}

func (a *app) Close() error { return a.store.Close() }

// provider builds the configured model backend. model overrides the
// configured model name when set.
func (a *app) provider(model string) (provider.Provider, error) {
	pc := a.cfg.Provider
	switch pc.Name {
	case "mock":
		if pc.Scenario == "" {
			return mock.New(), nil
		}
		sc, err := mock.LoadScenario(pc.Scenario)
		if err != nil {
			return nil, err
		}
		return mock.FromScenario(sc), nil
	case "anthropic":
		key := a.cfg.APIKey()
		if key == "" {
			return nil, fmt.Errorf("anthropic provider needs an API key; set %s", envName(pc.APIKeyEnv, "ANTHROPIC_API_KEY"))
		}
		if model == "" {
			model = pc.Model
		}
		return provider.NewAnthropicProvider(provider.AnthropicConfig{
			APIKey:    key,
			Model:     model,
			BaseURL:   pc.BaseURL,
			MaxTokens: pc.MaxTokens,
		}), nil
	}
	return nil, fmt.Errorf("unknown provider %q", pc.Name)
}

func envName(configured, fallback string) string {
	if configured != "" {
		return configured
	}
	return fallback
}

func (a *app) subagents() (*subagent.Manager, error) {
	defs := make([]subagent.Definition, 0, len(a.cfg.SubAgents))
	for _, sc := range a.cfg.SubAgents {
		d := subagent.Definition{
			Name:         sc.Name,
			Description:  sc.Description,
			SystemPrompt: sc.SystemPrompt,
			Tools:        sc.Tools,
			MaxSteps:     sc.MaxSteps,
		}
		if sc.Model != "" {
			p, err := a.provider(sc.Model)
			if err != nil {
				return nil, fmt.Errorf("sub-agent %s: %w", sc.Name, err)
			}
			d.Provider = p
		}
		defs = append(defs, d)
	}
	return subagent.NewManager(subagent.NewFileResultStore(a.cfg.Results()), defs,
		subagent.WithStore(a.store), subagent.WithLogger(a.logger))
}

// agent wires the main agent and its middleware.
func (a *app) agent(sink stream.Sink, approver agent.Approver) (*agent.Agent, error) {
	p, err := a.provider("")
	if err != nil {
		return nil, err
	}
	subs, err := a.subagents()
	if err != nil {
		return nil, err
	}
	ac := a.cfg.Agent
	reg, err := plugin.NewRegistry(
		tools.TaskMiddleware(a.store),
		subagent.Middleware(subs),
		loopguard.Middleware(loopguard.Limits{}, a.logger),
	)
	if err != nil {
		return nil, err
	}
	for _, name := range ac.DisabledMiddleware {
		if err := reg.Unregister(name); err != nil {
			return nil, fmt.Errorf("agent.disabled_middleware: %w", err)
		}
	}
	return agent.New(agent.Config{
		Name:               ac.Name,
		SystemPrompt:       ac.SystemPrompt,
		Provider:           p,
		Store:              a.store,
		SessionID:          a.session,
		Middleware:         reg.List(),
		AllowedTools:       ac.AllowedTools,
		Approval:           agent.ApprovalConfig{Required: ac.ApprovalRequired},
		Approver:           approver,
		MaxSteps:           ac.MaxSteps,
		MaxContextMessages: ac.MaxContextMessages,
		Sink:               sink,
		Logger:             a.logger,
	})
}

// promptApprover asks on the terminal before running gated tools.
type promptApprover struct {
	in  *bufio.Reader
	out io.Writer
}

func newPromptApprover(in io.Reader, out io.Writer) *promptApprover {
	return &promptApprover{in: bufio.NewReader(in), out: out}
}

func (p *promptApprover) Approve(ctx context.Context, call provider.ToolCall) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	fmt.Fprintf(p.out, "Allow %s %v? [y/N] ", call.Name, call.Arguments)
	line, err := p.in.ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

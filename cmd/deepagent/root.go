package main

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/deepagent/config"
	"github.com/GoCodeAlone/deepagent/internal/version"
)

const defaultConfigPath = "deepagent.yaml"

type globalFlags struct {
	configPath string
	sessionID  string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "deepagent",
		Short:         "Task-planning agent with sub-agent delegation",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(*cobra.Command, []string) {
			_ = godotenv.Load()
		},
	}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", defaultConfigPath, "path to a YAML or TOML config file")
	root.PersistentFlags().StringVarP(&g.sessionID, "session", "s", "default", "session id")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(newRunCmd(g), newTasksCmd(g), newTemplatesCmd(g), newSubagentsCmd(g))
	return root
}

// loadConfig reads the config file. A missing default file falls back to
// the built-in defaults; a missing explicit file is an error.
func (g *globalFlags) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("config") {
			cfg = config.DefaultConfig()
		} else {
			return nil, err
		}
	}
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}
	return cfg, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/deepagent/agent"
	"github.com/GoCodeAlone/deepagent/provider"
	"github.com/GoCodeAlone/deepagent/stream"
	"github.com/GoCodeAlone/deepagent/task"
)

type runFlags struct {
	stream  bool
	serve   bool
	approve bool
}

func newRunCmd(g *globalFlags) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run [prompt]",
		Short: "Run the agent once on a prompt (reads stdin when no prompt is given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(cmd, g, f, args)
		},
	}
	cmd.Flags().BoolVar(&f.stream, "stream", false, "stream model output as it is generated")
	cmd.Flags().BoolVar(&f.serve, "serve", false, "serve progress events over SSE on server.addr while running")
	cmd.Flags().BoolVar(&f.approve, "approve", false, "approve gated tools without asking")
	return cmd
}

func readPrompt(args []string, stdin io.Reader) (string, error) {
	if len(args) > 0 && !(len(args) == 1 && args[0] == "-") {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read prompt: %w", err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", errors.New("empty prompt")
	}
	return prompt, nil
}

func runAgent(cmd *cobra.Command, g *globalFlags, f *runFlags, args []string) error {
	prompt, err := readPrompt(args, cmd.InOrStdin())
	if err != nil {
		return err
	}
	a, err := g.open(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
	sinks := []stream.Sink{eventPrinter(errOut)}
	if f.serve {
		hub, shutdown, err := a.serve(ctx, errOut)
		if err != nil {
			return err
		}
		defer shutdown()
		sinks = append(sinks, hub)
	}

	var approver agent.Approver
	if f.approve {
		approver = agent.ApproverFunc(func(context.Context, provider.ToolCall) (bool, error) { return true, nil })
	} else {
		approver = newPromptApprover(os.Stdin, errOut)
	}

	ag, err := a.agent(stream.Multi(sinks...), approver)
	if err != nil {
		return err
	}

	var res *agent.Result
	if f.stream {
		res, err = ag.RunStream(ctx, agent.Input{Prompt: prompt}, func(ev provider.StreamEvent) {
			if ev.Type == "text" {
				fmt.Fprint(out, ev.Text)
			}
		})
		fmt.Fprintln(out)
	} else {
		res, err = ag.Run(ctx, agent.Input{Prompt: prompt})
		if err == nil {
			fmt.Fprintln(out, res.Text)
		}
	}
	if err != nil {
		return err
	}

	for _, te := range res.ToolErrors {
		fmt.Fprintf(errOut, "tool error (step %d, %s): %s\n", te.Step, te.Tool, te.Error)
	}
	for _, w := range res.Warnings {
		fmt.Fprintf(errOut, "warning: %s\n", w)
	}
	if res.StepLimitReached {
		fmt.Fprintf(errOut, "stopped after %d steps\n", res.Steps)
	}
	a.logger.Info("run finished", "steps", res.Steps, "input_tokens", res.Usage.InputTokens, "output_tokens", res.Usage.OutputTokens)
	return nil
}

// serve starts the SSE hub and, when a template directory is configured,
// the template watcher. The returned func stops both.
func (a *app) serve(ctx context.Context, errOut io.Writer) (*stream.Hub, func(), error) {
	addr := a.cfg.Server.Addr
	if addr == "" {
		return nil, nil, errors.New("--serve needs server.addr in the config")
	}
	hub := stream.NewHub(a.cfg.Auth.JWTSecret, a.logger)
	mux := http.NewServeMux()
	mux.Handle("/events", hub)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("event server failed", "addr", addr, "error", err)
		}
	}()

	token, err := hub.IssueToken(a.session, time.Hour)
	if err != nil {
		hub.Close()
		_ = srv.Close()
		return nil, nil, err
	}
	host := addr
	if strings.HasPrefix(host, ":") {
		host = "localhost" + host
	}
	fmt.Fprintf(errOut, "events: http://%s/events?token=%s\n", host, token)

	watchCtx, cancelWatch := context.WithCancel(ctx)
	if dir := a.cfg.TemplatesDir; dir != "" {
		loader := task.NewTemplateLoader(dir, a.store, a.logger)
		go func() {
			if err := loader.Watch(watchCtx); err != nil {
				a.logger.Warn("template watch stopped", "dir", dir, "error", err)
			}
		}()
	}

	return hub, func() {
		cancelWatch()
		a.logger.Debug("closing event stream", "subscribers", hub.Subscribers())
		hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("event server shutdown", "error", err)
		}
	}, nil
}

// eventPrinter reports delegation, task and notification events on w.
func eventPrinter(w io.Writer) stream.Sink {
	return stream.SinkFunc(func(ev stream.Event) {
		switch d := ev.Data.(type) {
		case stream.DelegationData:
			if d.Error != "" {
				fmt.Fprintf(w, "[%s] %s: %s\n", d.Agent, d.Status, d.Error)
			} else {
				fmt.Fprintf(w, "[%s] %s\n", d.Agent, d.Status)
			}
		case stream.TaskUpdateData:
			fmt.Fprintf(w, "tasks %s: %s\n", d.Action, strings.Join(d.TaskIDs, ", "))
		case stream.NotificationData:
			fmt.Fprintf(w, "%s: %s\n", d.Level, d.Message)
		case stream.SummarizationData:
			fmt.Fprintf(w, "context compressed: %d messages summarized, %d kept\n", d.Summarized, d.Kept)
		}
	})
}

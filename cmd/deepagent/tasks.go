package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/deepagent/task"
	"github.com/GoCodeAlone/deepagent/taskgraph"
)

func newTasksCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Inspect the session's task graph",
	}

	var status string
	list := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			tasks, err := taskgraph.New(a.store, a.session).Tasks(cmd.Context())
			if err != nil {
				return err
			}
			if status != "" {
				want := task.Status(status)
				if !want.Valid() {
					return fmt.Errorf("unknown status %q", status)
				}
				var kept []*task.Task
				for _, t := range tasks {
					if t.Status == want {
						kept = append(kept, t)
					}
				}
				tasks = kept
			}
			printTasks(cmd.OutOrStdout(), tasks)
			return nil
		},
	}
	list.Flags().StringVar(&status, "status", "", "only show tasks with this status")

	order := &cobra.Command{
		Use:   "order",
		Short: "Show tasks grouped into execution levels",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			levels, err := taskgraph.New(a.store, a.session).ExecutionOrder(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(levels) == 0 {
				fmt.Fprintln(out, "no tasks")
				return nil
			}
			for i, level := range levels {
				fmt.Fprintf(out, "level %d\n", i+1)
				for _, t := range level {
					fmt.Fprintf(out, "  %-36s %-12s %s\n", t.ID, t.Status, t.Title)
				}
			}
			return nil
		},
	}

	cmd.AddCommand(list, order)
	return cmd
}

func printTasks(w io.Writer, tasks []*task.Task) {
	if len(tasks) == 0 {
		fmt.Fprintln(w, "no tasks")
		return
	}
	fmt.Fprintf(w, "%-36s %-30s %-12s %-8s\n", "ID", "TITLE", "STATUS", "PRIORITY")
	fmt.Fprintln(w, strings.Repeat("-", 89))
	for _, t := range tasks {
		fmt.Fprintf(w, "%-36s %-30s %-12s %-8s\n", t.ID, truncate(t.Title, 29), t.Status, t.Priority)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

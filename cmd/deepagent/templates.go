package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/deepagent/taskgraph"
)

func newTemplatesCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "Manage task templates",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List built-in and saved templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			tpls, err := taskgraph.New(a.store, a.session).Templates(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-20s %-28s %-6s %s\n", "ID", "NAME", "STEPS", "PARAMETERS")
			fmt.Fprintln(out, strings.Repeat("-", 80))
			for _, t := range tpls {
				params := make([]string, 0, len(t.Parameters))
				for _, p := range t.Parameters {
					params = append(params, p.Name)
				}
				name := truncate(t.Name, 27)
				if t.BuiltIn {
					name = truncate(t.Name+" *", 27)
				}
				fmt.Fprintf(out, "%-20s %-28s %-6d %s\n", t.ID, name, len(t.SubTasks), strings.Join(params, ", "))
			}
			return nil
		},
	}

	var params []string
	var title string
	apply := &cobra.Command{
		Use:   "apply <template-id>",
		Short: "Instantiate a template into the session's task graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values := make(map[string]string, len(params))
			for _, kv := range params {
				k, v, ok := strings.Cut(kv, "=")
				if !ok {
					return fmt.Errorf("parameter %q is not key=value", kv)
				}
				values[k] = v
			}
			a, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			created, err := taskgraph.New(a.store, a.session).ApplyTemplate(cmd.Context(), args[0], values, title)
			if err != nil {
				return err
			}
			printTasks(cmd.OutOrStdout(), created)
			return nil
		},
	}
	apply.Flags().StringArrayVarP(&params, "param", "p", nil, "template parameter as key=value (repeatable)")
	apply.Flags().StringVar(&title, "title", "", "override the root task title")

	cmd.AddCommand(list, apply)
	return cmd
}

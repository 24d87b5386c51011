package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/deepagent/subagent"
)

func newSubagentsCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subagents",
		Short: "Inspect configured sub-agents and their stored results",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List configured sub-agents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			m, err := a.subagents()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			defs := m.Definitions()
			if len(defs) == 0 {
				fmt.Fprintln(w, "no sub-agents configured")
				return nil
			}
			for _, d := range defs {
				tools := "all"
				if d.Tools != nil {
					tools = fmt.Sprint(d.Tools)
				}
				steps := "half of parent"
				if d.MaxSteps > 0 {
					steps = fmt.Sprintf("%d, below the parent's", d.MaxSteps)
				}
				fmt.Fprintf(w, "%-16s %s\n  tools: %s, steps: %s\n", d.Name, d.Description, tools, steps)
			}
			return nil
		},
	}

	result := &cobra.Command{
		Use:   "result <path>",
		Short: "Print a stored sub-agent result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			text, err := subagent.NewFileResultStore(a.cfg.Results()).Read(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}

	cmd.AddCommand(list, result)
	return cmd
}

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aatumaykin/nexbeat/internal/workflow"
)

func (c *cli) newWorkflowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Inspect and run workflow definitions",
	}
	cmd.AddCommand(c.newWorkflowListCmd(), c.newWorkflowRunCmd())
	return cmd
}

func (c *cli) newWorkflowListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List workflow definitions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig(false)
			if err != nil {
				return err
			}
			loader := workflow.NewLoader(cfg.Workflows.Dir)
			names, err := loader.List()
			if err != nil {
				return err
			}
			if len(names) == 0 {
				fmt.Fprintf(c.stdout, "No workflow definitions in %s; every task runs the generic workflow\n", cfg.Workflows.Dir)
				return nil
			}
			for _, name := range names {
				def, err := loader.Get(name)
				if err != nil {
					return err
				}
				fmt.Fprintf(c.stdout, "%s\t%s\n", name, def.Description)
			}
			return nil
		},
	}
}

func (c *cli) newWorkflowRunCmd() *cobra.Command {
	var (
		params  []string
		verbose bool
	)
	cmd := &cobra.Command{
		Use:   "run TASK_NAME",
		Short: "Run the workflow of a task once, without a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parseParams(params)
			if err != nil {
				return err
			}

			a, _, err := c.newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			exec, err := a.RunWorkflow(cmd.Context(), args[0], p)
			if verbose && exec != nil {
				fmt.Fprintf(c.stdout, "Path: %s\n", strings.Join(exec.Path, " -> "))
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(c.stdout, exec.Output())
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "Workflow parameter as key=value (repeatable)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Print the vertex path taken")
	return cmd
}

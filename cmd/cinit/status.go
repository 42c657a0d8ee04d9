package main

import (
	"encoding/json"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jaspreet-dot-casa/cinit/pkg/status"
	"github.com/jaspreet-dot-casa/cinit/pkg/statusview"
)

// newStatusCmd creates the status subcommand
func newStatusCmd(opts *globalOptions) *cobra.Command {
	var wait, long, watch bool
	var format string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report the boot status",
		Long: `Report whether cinit finished on this boot.

Exit status is 0 when done, 1 on errors and 2 when modules failed
recoverably.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p := opts.paths()

			var sum status.Summary
			switch {
			case watch:
				final, err := tea.NewProgram(statusview.New(p),
					tea.WithContext(cmd.Context()),
					tea.WithOutput(cmd.OutOrStdout()),
				).Run()
				if err != nil {
					return fmt.Errorf("failed to run status view: %w", err)
				}
				sum = final.(statusview.Model).Summary()
				return exitFor(sum)
			case wait:
				var err error
				sum, err = status.Wait(cmd.Context(), p, 250*time.Millisecond)
				if err != nil {
					return err
				}
			default:
				sum = status.Load(p)
			}

			if err := printSummary(cmd, sum, format, long); err != nil {
				return err
			}
			return exitFor(sum)
		},
	}

	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Block until the boot finished")
	cmd.Flags().BoolVarP(&long, "long", "l", false, "Show stage details and errors")
	cmd.Flags().StringVar(&format, "format", "tabular", "Output format (tabular, json, yaml)")
	cmd.Flags().BoolVar(&watch, "watch", false, "Follow the boot in a live view")
	return cmd
}

func printSummary(cmd *cobra.Command, sum status.Summary, format string, long bool) error {
	out := cmd.OutOrStdout()
	switch format {
	case "tabular", "":
		fmt.Fprint(out, statusview.RenderTable(sum, long))
	case "json":
		data, err := json.MarshalIndent(sum, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode status: %w", err)
		}
		fmt.Fprintln(out, string(data))
	case "yaml":
		data, err := yaml.Marshal(sum)
		if err != nil {
			return fmt.Errorf("failed to encode status: %w", err)
		}
		fmt.Fprint(out, string(data))
	default:
		return fmt.Errorf("invalid format %q, want tabular, json or yaml", format)
	}
	return nil
}

func exitFor(sum status.Summary) error {
	if code := sum.ExitCode(); code != 0 {
		return &exitError{code: code}
	}
	return nil
}

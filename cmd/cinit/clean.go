package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jaspreet-dot-casa/cinit/pkg/clean"
)

// newCleanCmd creates the clean subcommand
func newCleanCmd(opts *globalOptions) *cobra.Command {
	var cleanOpts clean.Options

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove cinit state",
		Long: `Remove cached datasources, semaphores and run state so the next boot runs
as the first boot of a new instance. The local seed directory is kept unless
--seed is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			removed, err := clean.Clean(opts.paths(), cleanOpts)
			for _, path := range removed {
				fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", path)
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&cleanOpts.Logs, "logs", false, "Also remove the log file")
	cmd.Flags().BoolVar(&cleanOpts.Seed, "seed", false, "Also remove the seed directory")
	return cmd
}

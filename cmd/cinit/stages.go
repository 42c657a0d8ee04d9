package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jaspreet-dot-casa/cinit/pkg/modules"
	"github.com/jaspreet-dot-casa/cinit/pkg/stages"
)

// newGeneratorCmd creates the generator subcommand
func newGeneratorCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "generator",
		Short: "Decide whether cinit runs on this boot",
		Long: `Identify candidate datasources without touching the network and enable or
disable cinit for this boot. The datasource list for later stages is narrowed
to the datasources that were found.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := opts.sequencer(cmd).Run(cmd.Context(), stages.Generator)
			if err != nil {
				return err
			}
			if res.Disabled {
				fmt.Fprintf(cmd.OutOrStdout(), "disabled: %s\n", res.Reason)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "enabled, found: %s\n", strings.Join(res.Detected, ", "))
			return nil
		},
	}
}

// newInitCmd creates the init subcommand
func newInitCmd(opts *globalOptions) *cobra.Command {
	var local, force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Run the local or network init stage",
		Long: `Without --local, crawl every datasource, process user-data and vendor-data
and run cloud_init_modules. With --local, look only at datasources that need no
network and write the network configuration.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			stage := stages.Network
			if local {
				stage = stages.Local
			}
			s := opts.sequencer(cmd)
			s.Force = force
			return runStage(cmd, s, stage)
		},
	}

	cmd.Flags().BoolVarP(&local, "local", "l", false, "Run the local stage, before networking is up")
	cmd.Flags().BoolVar(&force, "force", false, "Skip the stage order check")
	return cmd
}

// newModulesCmd creates the modules subcommand
func newModulesCmd(opts *globalOptions) *cobra.Command {
	var mode string
	var force bool

	cmd := &cobra.Command{
		Use:   "modules",
		Short: "Run the config or final stage modules",
		Long: `Run the module list of a stage against the cached datasource.

  --mode config  runs cloud_config_modules as the config stage
  --mode final   runs cloud_final_modules as the final stage
  --mode init    re-runs cloud_init_modules without recording status`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s := opts.sequencer(cmd)
			s.Force = force

			switch mode {
			case "config":
				return runStage(cmd, s, stages.Config)
			case "final":
				return runStage(cmd, s, stages.Final)
			case "init":
				report, err := s.RunModules(cmd.Context(), stages.Network)
				if report == nil {
					return err
				}
				printReport(cmd, report)
				return recoverable(report.Errors)
			}
			return fmt.Errorf("invalid mode %q, want init, config or final", mode)
		},
	}

	cmd.Flags().StringVarP(&mode, "mode", "m", "config", "Module list to run (init, config, final)")
	cmd.Flags().BoolVar(&force, "force", false, "Skip the stage order check")
	return cmd
}

// newSingleCmd creates the single subcommand
func newSingleCmd(opts *globalOptions) *cobra.Command {
	var name, frequency string

	cmd := &cobra.Command{
		Use:   "single",
		Short: "Run a single module",
		Long: `Run one module by name against the cached datasource, honoring its
frequency unless --frequency overrides it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			report, err := opts.sequencer(cmd).RunSingle(cmd.Context(), name, frequency)
			if report == nil {
				return err
			}
			printReport(cmd, report)
			return recoverable(report.Errors)
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "Module name (required)")
	cmd.Flags().StringVar(&frequency, "frequency", "", "Override the module frequency (always, instance, once, boot)")
	if err := cmd.MarkFlagRequired("name"); err != nil {
		panic(err)
	}
	return cmd
}

func runStage(cmd *cobra.Command, s *stages.Sequencer, stage stages.Stage) error {
	fmt.Fprintf(cmd.OutOrStdout(), "cinit v. %s running '%s'\n", version, stage)

	res, err := s.Run(cmd.Context(), stage)
	if err != nil {
		return err
	}
	if res.Datasource != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "datasource %s, instance %s\n", res.Datasource, res.InstanceID)
	}
	return recoverable(res.Recoverable)
}

func printReport(cmd *cobra.Command, r *modules.Report) {
	out := cmd.OutOrStdout()
	for _, name := range r.Ran {
		fmt.Fprintf(out, "ran %s\n", name)
	}
	for _, name := range r.Skipped {
		fmt.Fprintf(out, "skipped %s\n", name)
	}
	for _, name := range r.Failed {
		fmt.Fprintf(out, "failed %s\n", name)
	}
}

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jaspreet-dot-casa/cinit/pkg/schema"
)

// newSchemaCmd creates the schema subcommand
func newSchemaCmd(_ *globalOptions) *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Validate a cloud-config file",
		Long:  `Check a cloud-config user-data file for structural and type errors before booting with it.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := os.ReadFile(configFile)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", configFile, err)
			}

			result := schema.ValidateCloudConfig(data)
			out := cmd.OutOrStdout()
			for _, issue := range result.Issues {
				prefix := "WARNING"
				if issue.Severity == schema.SeverityError {
					prefix = "ERROR"
				}
				if issue.Path != "" {
					fmt.Fprintf(out, "[%s] %s: %s\n", prefix, issue.Path, issue.Message)
				} else {
					fmt.Fprintf(out, "[%s] %s\n", prefix, issue.Message)
				}
			}

			if result.HasErrors() {
				return fmt.Errorf("%s: validation failed with %d error(s)", configFile, result.ErrorCount())
			}
			if len(result.Issues) == 0 {
				fmt.Fprintf(out, "Valid cloud-config: %s\n", configFile)
			} else {
				fmt.Fprintf(out, "\nValidation passed with %d warning(s).\n", result.WarningCount())
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configFile, "config-file", "c", "", "Path to the cloud-config file (required)")
	if err := cmd.MarkFlagRequired("config-file"); err != nil {
		panic(err)
	}
	return cmd
}

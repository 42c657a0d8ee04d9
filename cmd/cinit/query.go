package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jaspreet-dot-casa/cinit/pkg/query"
)

// newQueryCmd creates the query subcommand
func newQueryCmd(opts *globalOptions) *cobra.Command {
	var all, listKeys bool

	cmd := &cobra.Command{
		Use:   "query [KEY]",
		Short: "Query instance-data",
		Long: `Print a value from instance-data by dotted key, for example
"v1.instance_id", "local_hostname" or "ds.meta_data.public-keys".
Root additionally sees sensitive values and the raw user-data.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := ""
			if len(args) == 1 {
				key = args[0]
			}
			if key == "" && !all && !listKeys {
				return errors.New("specify a KEY, --all or --list-keys")
			}

			data, err := loadInstanceData(opts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if listKeys {
				keys, err := query.ListKeys(data, key)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, strings.Join(keys, "\n"))
				return nil
			}

			value, err := query.Get(data, key)
			if err != nil {
				return err
			}
			if s, ok := value.(string); ok {
				fmt.Fprintln(out, s)
				return nil
			}
			encoded, err := json.MarshalIndent(value, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode %s: %w", key, err)
			}
			fmt.Fprintln(out, string(encoded))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&all, "all", "a", false, "Print all instance-data")
	cmd.Flags().BoolVar(&listKeys, "list-keys", false, "List the keys below KEY")
	return cmd
}

// loadInstanceData prefers the sensitive copy when it is readable.
func loadInstanceData(opts *globalOptions) (map[string]any, error) {
	p := opts.paths()
	if os.Geteuid() == 0 {
		data, err := query.Load(p, true)
		if err == nil || !errors.Is(err, fs.ErrPermission) {
			return data, err
		}
	}
	return query.Load(p, false)
}

package main

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jaspreet-dot-casa/cinit/pkg/paths"
	"github.com/jaspreet-dot-casa/cinit/pkg/stages"
)

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	root  string
	debug bool
	files []string

	logFile *os.File
}

func (o *globalOptions) paths() *paths.Paths {
	return paths.New(o.root)
}

func (o *globalOptions) sequencer(cmd *cobra.Command) *stages.Sequencer {
	s := stages.New(o.paths(), version)
	s.ExtraFiles = o.files
	s.Out = cmd.OutOrStdout()
	return s
}

// closeLog closes the log file opened for this invocation, if any.
func (o *globalOptions) closeLog() {
	if o.logFile != nil {
		o.logFile.Close()
		o.logFile = nil
	}
}

// newRootCmd creates the root command for cinit
func newRootCmd() *cobra.Command {
	return newRootCmdWithOptions(&globalOptions{})
}

func newRootCmdWithOptions(opts *globalOptions) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "cinit",
		Short: "Cloud instance initialization",
		Long: `cinit configures a cloud instance while it boots.

Boot runs in five stages, each started by its own service:
  generator       decide whether cinit runs on this boot
  init --local    find a local datasource and write network config
  init            crawl the datasource, process user-data, run init modules
  modules config  run the config modules
  modules final   run the final modules and report the result`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			opts.closeLog()
			opts.logFile = setupLogging(cmd.ErrOrStderr(), opts.paths().LogFile, opts.debug)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.root, "root", "/", "Filesystem root to operate on")
	flags.BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	flags.StringArrayVarP(&opts.files, "file", "f", nil, "Additional YAML configuration file (repeatable)")

	rootCmd.AddCommand(
		newGeneratorCmd(opts),
		newInitCmd(opts),
		newModulesCmd(opts),
		newSingleCmd(opts),
		newStatusCmd(opts),
		newQueryCmd(opts),
		newSchemaCmd(opts),
		newCleanCmd(opts),
	)

	return rootCmd
}

// setupLogging sends logs to w and appends them to logPath. The returned
// file is nil when the log file could not be opened.
func setupLogging(w io.Writer, logPath string, debug bool) *os.File {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	var f *os.File
	out := w
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err == nil {
		f, err = os.OpenFile(logPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0640)
		if err == nil {
			out = io.MultiWriter(w, f)
		}
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(
		out,
		&slog.HandlerOptions{
			Level: level,
		},
	)))
	return f
}

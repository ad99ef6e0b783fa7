package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"sourcepack/pkg/config"
	"sourcepack/pkg/logging"
	"sourcepack/pkg/version"
)

const (
	flagConfig = "config"
	flagDebug  = "debug"
)

// app carries the state shared by the commands of one invocation.
type app struct {
	v       *viper.Viper
	cfgFile string
	debug   bool
}

// loadConfig resolves defaults, the config file, the environment and the
// flags bound to a.v.
func (a *app) loadConfig() (config.Config, error) {
	cfg, used, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return config.Config{}, err
	}
	if used != "" {
		logging.Logger.Debug("Loaded config file", zap.String("file", used))
	}
	return cfg, nil
}

// NewRootCmd builds the command tree. Every call returns an independent tree
// with its own viper instance.
func NewRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "sourcepack",
		Short: "Pack a project into a single Markdown, XML or text document",
		Long: `sourcepack turns a local directory, a set of files, a zip archive or a
GitHub repository into one document: an outline of the project followed by
the content of every source file.

Settings come from flags, SOURCEPACK_* environment variables and an optional
sourcepack.toml, in that order of precedence.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return logging.Setup(a.debug, config.AppName, version.Get().Version)
		},
	}
	root.PersistentFlags().StringVar(&a.cfgFile, flagConfig, "", "config file (default: sourcepack.toml in the user config directory, then in .)")
	root.PersistentFlags().BoolVar(&a.debug, flagDebug, false, "enable debug logging")

	root.AddCommand(
		newPackCmd(a),
		newConfigCmd(a),
		newServeCmd(a),
		newVersionCmd(),
	)
	return root
}

// Execute runs the command tree with args.
func Execute(ctx context.Context, args []string) error {
	root := NewRootCmd()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// Main runs the CLI with the process arguments and returns the exit code.
// SIGINT and SIGTERM cancel the running command.
func Main() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := Execute(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}

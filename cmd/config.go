// File: cmd/config.go
package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"sourcepack/pkg/config"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create or inspect the sourcepack configuration",
	}
	cmd.AddCommand(newConfigInitCmd(), newConfigShowCmd(a))
	return cmd
}

// newConfigInitCmd writes the default configuration as commented TOML.
func newConfigInitCmd() *cobra.Command {
	var (
		path  string
		force bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the default settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if path == "" {
				dir, err := config.Dir()
				if err != nil {
					return err
				}
				path = filepath.Join(dir, config.ConfigFileName+".toml")
			}
			if err := config.WriteFile(path, config.Default(), force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Config file written to %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "destination (default: sourcepack.toml in the user config directory)")
	cmd.Flags().BoolVar(&force, flagForce, false, "overwrite an existing file")
	return cmd
}

// newConfigShowCmd prints the effective configuration after the config
// file and environment are applied.
func newConfigShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as TOML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			return config.WriteTOML(cmd.OutOrStdout(), cfg)
		},
	}
}

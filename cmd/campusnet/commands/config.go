package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/st-keller/portal-client/internal/config"
	"github.com/st-keller/portal-client/internal/i18n"
)

func newConfigCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup(cmd, true)
		},
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with the current settings",
		Long: `Write campusnet.yaml with the effective settings (defaults, environment
and flags merged). The file may contain the account password and is created
with mode 0600.

Examples:
  # Write to the default location
  campusnet config init

  # Write to a custom path
  campusnet config init --config ./campusnet.yaml --force`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigInit(cmd, opts, force)
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	pathCmd := &cobra.Command{
		Use:   "path",
		Short: "Print the default configuration file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.ConfigPath(false)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}

	cmd.AddCommand(initCmd, pathCmd)
	return cmd
}

func runConfigInit(cmd *cobra.Command, opts *options, force bool) error {
	path := opts.configFile
	if path == "" {
		p, err := config.ConfigPath(false)
		if err != nil {
			return err
		}
		path = p
	}

	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s", i18n.T("cli.config_exists", map[string]any{"Path": path}))
	}

	written, err := config.WriteConfig(opts.config, path)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), i18n.T("cli.config_written", map[string]any{"Path": written}))
	return nil
}

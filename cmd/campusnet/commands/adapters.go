package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/st-keller/portal-client/adapter"
	"github.com/st-keller/portal-client/internal/i18n"
	"github.com/st-keller/portal-client/internal/logger"
)

func newAdaptersCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "adapters",
		Short: "List and toggle physical network adapters",
		Long: `List physical network adapters and enable or disable them.

Changing adapter state usually needs administrator privileges. When NAME is
omitted, adapter.name from the configuration is used.`,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List physical adapters",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runAdaptersList(cmd, opts)
			},
		},
		&cobra.Command{
			Use:   "enable [NAME]",
			Short: "Enable an adapter",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runAdapterSetState(cmd, opts, args, true)
			},
		},
		&cobra.Command{
			Use:   "disable [NAME]",
			Short: "Disable an adapter",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runAdapterSetState(cmd, opts, args, false)
			},
		},
	)

	return cmd
}

func runAdaptersList(cmd *cobra.Command, opts *options) error {
	adapters, err := opts.adapterProvider().List(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(adapters) == 0 {
		fmt.Fprintln(out, i18n.T("cli.no_adapters"))
		return nil
	}
	for _, a := range adapters {
		fmt.Fprintf(out, "%s  %s\n", adapterState(a.Name, a.Enabled), a.HardwareAddr)
	}
	return nil
}

func runAdapterSetState(cmd *cobra.Command, opts *options, args []string, enabled bool) error {
	name := opts.config.Adapter.Name
	if len(args) > 0 {
		name = args[0]
	}
	if name == "" {
		return fmt.Errorf("%s", i18n.T("cli.select_adapter"))
	}

	if err := opts.adapterProvider().SetState(cmd.Context(), name, enabled); err != nil {
		if !errors.Is(err, adapter.ErrUnsupported) {
			logger.Get().ErrorWithErr("Adapter state change failed", err, "adapter", name)
			fmt.Fprintln(cmd.ErrOrStderr(), i18n.T("cli.adapter_failed"))
		}
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), adapterState(name, enabled))
	return nil
}

func adapterState(name string, enabled bool) string {
	state := i18n.T("cli.adapter_disabled")
	if enabled {
		state = i18n.T("cli.adapter_enabled")
	}
	return i18n.T("cli.adapter_state", map[string]any{"Name": name, "State": state})
}

package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/st-keller/portal-client/internal/config"
	"github.com/st-keller/portal-client/internal/i18n"
)

func newLoginCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in to the campus network",
		Long: `Log in to the campus network portal with the configured account.

The account can be given in campusnet.yaml, through CAMPUSNET_ACCOUNT_ID /
CAMPUSNET_ACCOUNT_PASSWORD / CAMPUSNET_ACCOUNT_OPERATOR, or with flags.

Examples:
  # Log in with the configured account
  campusnet login

  # Log in as a China Telecom subscriber
  campusnet login --account 20231234 --password secret --operator telecom`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin(cmd, opts)
		},
	}

	cmd.Flags().String("account", "", "account (student) id")
	cmd.Flags().String("password", "", "account password")
	cmd.Flags().String("operator", "", "operator: campus, telecom, unicom, cmcc")

	return cmd
}

func runLogin(cmd *cobra.Command, opts *options) error {
	creds, err := opts.config.Credentials()
	if err != nil {
		if errors.Is(err, config.ErrNoCredentials) {
			return fmt.Errorf("%s", i18n.T("cli.missing_credentials"))
		}
		return err
	}

	client, err := newPortalClient(opts.config, nil, nil)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.ErrOrStderr(), i18n.T("cli.logging_in"))
	outcome := client.Login(cmd.Context(), creds.AccountID, creds.Password, creds.Operator)
	return printOutcome(cmd.OutOrStdout(), outcome)
}

func newLogoutCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Log out of the campus network",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newPortalClient(opts.config, nil, nil)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.ErrOrStderr(), i18n.T("cli.logging_out"))
			outcome := client.Logout(cmd.Context())
			return printOutcome(cmd.OutOrStdout(), outcome)
		},
	}
}

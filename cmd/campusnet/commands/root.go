// Package commands implements the campusnet CLI.
package commands

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/st-keller/portal-client/adapter"
	"github.com/st-keller/portal-client/internal/config"
	"github.com/st-keller/portal-client/internal/i18n"
	"github.com/st-keller/portal-client/internal/logger"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// ErrFailed is returned when a login or logout outcome was unsuccessful.
// The outcome message has already been printed.
var ErrFailed = errors.New("operation failed")

// options holds state shared by the commands of one invocation.
type options struct {
	configFile string
	config     config.Config

	// adapters is created on first use unless a test injected one.
	adapters adapter.Provider
}

// Execute runs the CLI with os.Args.
func Execute() error {
	return NewRootCmd().Execute()
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&options{})
}

func newRootCmd(opts *options) *cobra.Command {
	root := &cobra.Command{
		Use:   "campusnet",
		Short: "Campus network portal client",
		Long: `campusnet logs in to the campus network's eportal, logs out, and keeps
the session alive with a watchdog that relogs in after reconnects and when the
external network stops answering.

Use "campusnet [command] --help" for more information about a command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup(cmd, false)
		},
	}

	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (default: $XDG_CONFIG_HOME/campusnet/campusnet.yaml)")
	root.PersistentFlags().String("lang", "", "message language (zh, en)")
	root.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().String("log-format", "", "log format (text, json)")

	root.AddCommand(
		newLoginCmd(opts),
		newLogoutCmd(opts),
		newWatchCmd(opts),
		newAdaptersCmd(opts),
		newConfigCmd(opts),
		newVersionCmd(),
	)
	root.CompletionOptions.DisableDefaultCmd = true

	return root
}

// setup loads the configuration and initializes logging and messages.
// With allowMissing, a --config path that does not exist yet is ignored.
func (o *options) setup(cmd *cobra.Command, allowMissing bool) error {
	file := o.configFile
	if allowMissing && file != "" {
		if _, err := os.Stat(file); errors.Is(err, os.ErrNotExist) {
			file = ""
		}
	}

	cfg, err := config.Load(cmd, file)
	if err != nil {
		return err
	}
	o.config = cfg

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return err
	}
	i18n.Init(cfg.Language)
	return nil
}

func (o *options) adapterProvider() adapter.Provider {
	if o.adapters == nil {
		o.adapters = adapter.New(adapter.Config{Logger: logger.Get().Logger})
	}
	return o.adapters
}

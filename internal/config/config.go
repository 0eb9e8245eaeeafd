// Package config loads campusnet settings from defaults, the campusnet.yaml
// file, CAMPUSNET_* environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	portal "github.com/st-keller/portal-client"
	"github.com/st-keller/portal-client/internal/logger"
	"github.com/st-keller/portal-client/operator"
	"github.com/st-keller/portal-client/transport"
	"github.com/st-keller/portal-client/watchdog"
)

// ErrNoCredentials is returned when the account id or password is empty.
var ErrNoCredentials = errors.New("config: account id and password required")

const (
	fileName  = "campusnet"
	envPrefix = "campusnet"
)

// Config is the full campusnet configuration.
type Config struct {
	Portal struct {
		BaseURL string        `mapstructure:"base_url"`
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"portal"`

	Account struct {
		ID       string `mapstructure:"id"`
		Password string `mapstructure:"password"`
		Operator string `mapstructure:"operator"`
	} `mapstructure:"account"`

	Adapter struct {
		Name string `mapstructure:"name"`
	} `mapstructure:"adapter"`

	Watchdog struct {
		Enabled   bool   `mapstructure:"enabled"`
		ProbeHost string `mapstructure:"probe_host"`
	} `mapstructure:"watchdog"`

	Logging struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
		Output string `mapstructure:"output"`
	} `mapstructure:"logging"`

	Language string `mapstructure:"language"`

	Metrics struct {
		Address string `mapstructure:"address"`
	} `mapstructure:"metrics"`
}

// Defaults returns the default value of every key.
func Defaults() map[string]any {
	return map[string]any{
		"portal.base_url":     portal.DefaultBaseURL,
		"portal.timeout":      transport.DefaultTimeout,
		"account.id":          "",
		"account.password":    "",
		"account.operator":    operator.Campus.String(),
		"adapter.name":        "",
		"watchdog.enabled":    true,
		"watchdog.probe_host": watchdog.DefaultProbeHost,
		"logging.level":       "info",
		"logging.format":      "text",
		"logging.output":      "stderr",
		"language":            "zh",
		"metrics.address":     "",
	}
}

// flagBindings maps config keys to the command-line flags that override them.
var flagBindings = map[string]string{
	"account.id":       "account",
	"account.password": "password",
	"account.operator": "operator",
	"language":         "lang",
	"logging.level":    "log-level",
	"logging.format":   "log-format",
	"metrics.address":  "metrics-address",
}

// ConfigPath returns the user or system campusnet.yaml location.
func ConfigPath(system bool) (string, error) {
	var dir string
	if system {
		switch runtime.GOOS {
		case "windows":
			dir = filepath.Join(os.Getenv("ProgramData"), "campusnet")
		default:
			dir = "/etc/campusnet"
		}
	} else {
		userDir, err := os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("could not get user config directory: %w", err)
		}
		dir = filepath.Join(userDir, "campusnet")
	}
	return filepath.Join(dir, fileName+".yaml"), nil
}

// Load resolves the configuration. cmd may be nil, in which case no flags are
// bound. configFile, when set, is read instead of the search path and must exist.
func Load(cmd *cobra.Command, configFile string) (Config, error) {
	var c Config
	v := viper.New()

	for key, value := range Defaults() {
		v.SetDefault(key, value)
	}

	v.SetConfigName(fileName)
	v.SetConfigType("yaml")
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		if p, err := ConfigPath(false); err == nil {
			v.AddConfigPath(filepath.Dir(p))
		}
		if p, err := ConfigPath(true); err == nil {
			v.AddConfigPath(filepath.Dir(p))
		}
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return c, fmt.Errorf("failed to read config: %w", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cmd != nil {
		for key, name := range flagBindings {
			if f := cmd.Flags().Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return c, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.Unmarshal(&c); err != nil {
		return c, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return c, fmt.Errorf("invalid config: %w", err)
	}
	return c, nil
}

// Validate checks every value that has a fixed domain. Credentials are not
// required here; see Credentials.
func (c Config) Validate() error {
	u, err := url.Parse(c.Portal.BaseURL)
	if err != nil {
		return fmt.Errorf("portal.base_url invalid: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("portal.base_url must be http or https, got %q", u.Scheme)
	}
	if c.Portal.Timeout <= 0 {
		return fmt.Errorf("portal.timeout must be > 0")
	}
	if _, err := operator.Parse(c.Account.Operator); err != nil {
		return fmt.Errorf("account.operator: %w", err)
	}
	if c.Watchdog.ProbeHost == "" {
		return fmt.Errorf("watchdog.probe_host required")
	}
	if _, err := logger.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}

// Credentials is one account used for a login.
type Credentials struct {
	AccountID string
	Password  string
	Operator  operator.Type
}

// Credentials extracts the account from the config.
func (c Config) Credentials() (Credentials, error) {
	op, err := operator.Parse(c.Account.Operator)
	if err != nil {
		return Credentials{}, err
	}
	if strings.TrimSpace(c.Account.ID) == "" || c.Account.Password == "" {
		return Credentials{}, ErrNoCredentials
	}
	return Credentials{
		AccountID: strings.TrimSpace(c.Account.ID),
		Password:  c.Account.Password,
		Operator:  op,
	}, nil
}

// Store yields the credentials for the next login.
type Store interface {
	Load() (Credentials, error)
}

// FileStore re-reads the configuration on every Load, so edits to the file
// apply to the next relogin without a restart.
type FileStore struct {
	ConfigFile string // empty searches the default locations
}

// Load implements Store.
func (s FileStore) Load() (Credentials, error) {
	c, err := Load(nil, s.ConfigFile)
	if err != nil {
		return Credentials{}, err
	}
	return c.Credentials()
}

// StaticStore always returns the same credentials.
type StaticStore struct {
	Credentials Credentials
}

// Load implements Store.
func (s StaticStore) Load() (Credentials, error) {
	if s.Credentials.AccountID == "" || s.Credentials.Password == "" {
		return Credentials{}, ErrNoCredentials
	}
	return s.Credentials, nil
}

// WriteConfig saves c as YAML to path, or to the user config path when path
// is empty, and returns the path written. The file may hold a password and is
// created with mode 0600.
func WriteConfig(c Config, path string) (string, error) {
	if path == "" {
		p, err := ConfigPath(false)
		if err != nil {
			return "", err
		}
		path = p
	}

	data, err := yaml.Marshal(c.document())
	if err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("could not create config directory %s: %w", dir, err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write config: %w", err)
	}
	return path, nil
}

// document is the on-disk shape. Durations are written as strings ("10s").
func (c Config) document() map[string]any {
	return map[string]any{
		"portal": map[string]any{
			"base_url": c.Portal.BaseURL,
			"timeout":  c.Portal.Timeout.String(),
		},
		"account": map[string]any{
			"id":       c.Account.ID,
			"password": c.Account.Password,
			"operator": c.Account.Operator,
		},
		"adapter": map[string]any{
			"name": c.Adapter.Name,
		},
		"watchdog": map[string]any{
			"enabled":    c.Watchdog.Enabled,
			"probe_host": c.Watchdog.ProbeHost,
		},
		"logging": map[string]any{
			"level":  c.Logging.Level,
			"format": c.Logging.Format,
			"output": c.Logging.Output,
		},
		"language": c.Language,
		"metrics": map[string]any{
			"address": c.Metrics.Address,
		},
	}
}

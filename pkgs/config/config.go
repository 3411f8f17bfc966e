package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// EnvConfigPath is the env var that points to the config file when
	// --config is not given.
	EnvConfigPath = "MAILWATCH_CONFIG"

	// KeyringPrefix marks a password stored in the system keyring, e.g.
	// "keyring:work-imap".
	KeyringPrefix = "keyring:"
)

// IMAPSettings is the [imap] section.
type IMAPSettings struct {
	Server string `mapstructure:"server" yaml:"server"`
	Port   int    `mapstructure:"port" yaml:"port"`
	// Directory is the watched folder, default "INBOX".
	Directory string `mapstructure:"directory" yaml:"directory"`

	// SSL enables implicit TLS (connect directly over TLS).
	SSL bool `mapstructure:"ssl" yaml:"ssl"`
	// StartTLS enables opportunistic TLS upgrade after connecting in plaintext.
	StartTLS bool `mapstructure:"starttls" yaml:"starttls"`
	// Auth is "login" (default) or "plain".
	Auth string `mapstructure:"auth" yaml:"auth"`
}

// Address returns host:port of the IMAP server.
func (s IMAPSettings) Address() string {
	return net.JoinHostPort(s.Server, strconv.Itoa(s.Port))
}

// AccountSettings is the [account] section.
type AccountSettings struct {
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
}

// WatchSettings is the [watch] section.
type WatchSettings struct {
	// IdleTimeout is in seconds.
	IdleTimeout    int    `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	ErrorOnTimeout bool   `mapstructure:"error_on_timeout" yaml:"error_on_timeout"`
	ArchiveFolder  string `mapstructure:"archive_folder" yaml:"archive_folder"`
	// Parser names the message parser: "message" or "enmime".
	Parser string `mapstructure:"parser" yaml:"parser"`
	// Mbox, when set, is a file every parsed message is appended to.
	Mbox string `mapstructure:"mbox" yaml:"mbox"`
}

// IdleTimeoutDuration returns IdleTimeout as a time.Duration.
func (w WatchSettings) IdleTimeoutDuration() time.Duration {
	return time.Duration(w.IdleTimeout) * time.Second
}

// LedgerSettings is the [ledger] section.
type LedgerSettings struct {
	// Path of the SQLite database; empty disables the ledger.
	Path string `mapstructure:"path" yaml:"path"`
}

// ForwardSettings is the [forward] section. Forwarding is off unless To is
// set.
type ForwardSettings struct {
	To       []string `mapstructure:"to" yaml:"to"`
	From     string   `mapstructure:"from" yaml:"from"`
	Server   string   `mapstructure:"server" yaml:"server"`
	Port     int      `mapstructure:"port" yaml:"port"`
	Username string   `mapstructure:"username" yaml:"username"`
	Password string   `mapstructure:"password" yaml:"password"`
	SSL      bool     `mapstructure:"ssl" yaml:"ssl"`
	StartTLS bool     `mapstructure:"starttls" yaml:"starttls"`
}

// Enabled reports whether messages should be forwarded.
func (f ForwardSettings) Enabled() bool {
	return len(f.To) > 0
}

// Config holds the application configuration
type Config struct {
	IMAP    IMAPSettings    `mapstructure:"imap" yaml:"imap"`
	Account AccountSettings `mapstructure:"account" yaml:"account"`
	Watch   WatchSettings   `mapstructure:"watch" yaml:"watch"`
	Ledger  LedgerSettings  `mapstructure:"ledger" yaml:"ledger"`
	Forward ForwardSettings `mapstructure:"forward" yaml:"forward"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("imap.port", 993)
	v.SetDefault("imap.directory", "INBOX")
	v.SetDefault("imap.ssl", true)
	v.SetDefault("imap.auth", "login")
	v.SetDefault("watch.idle_timeout", 1740)
	v.SetDefault("watch.error_on_timeout", true)
	v.SetDefault("watch.archive_folder", "Processed")
	v.SetDefault("watch.parser", "message")
	v.SetDefault("forward.port", 587)
	v.SetDefault("forward.starttls", true)
}

// GetEnvConfigPath returns the config file path from EnvConfigPath.
func GetEnvConfigPath() (string, error) {
	path := strings.TrimSpace(os.Getenv(EnvConfigPath))
	if path == "" {
		return "", fmt.Errorf("%s is not set", EnvConfigPath)
	}
	return path, nil
}

// LoadConfig loads the file named by EnvConfigPath.
func LoadConfig() (*Config, error) {
	path, err := GetEnvConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadConfigFile(path)
}

// LoadConfigFile reads the config file at path. The format follows the file
// extension: .yaml/.yml, .json or .toml. Passwords of the form
// "keyring:<key>" are resolved through the system keyring.
func LoadConfigFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.resolveSecrets(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) resolveSecrets() error {
	var err error
	if c.Account.Password, err = ResolveSecret(c.Account.Password); err != nil {
		return fmt.Errorf("account password: %w", err)
	}
	if c.Forward.Password, err = ResolveSecret(c.Forward.Password); err != nil {
		return fmt.Errorf("forward password: %w", err)
	}
	return nil
}

// ResolveSecret returns value unchanged unless it carries KeyringPrefix, in
// which case the secret is looked up in the keyring.
func ResolveSecret(value string) (string, error) {
	key, ok := strings.CutPrefix(value, KeyringPrefix)
	if !ok {
		return value, nil
	}
	if key == "" {
		return "", errors.New("empty keyring key")
	}
	return keyringGet(key)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.IMAP.Server == "" {
		return errors.New("imap.server is required")
	}
	if c.IMAP.Port <= 0 || c.IMAP.Port > 65535 {
		return fmt.Errorf("imap.port out of range: %d", c.IMAP.Port)
	}
	if c.IMAP.SSL && c.IMAP.StartTLS {
		return errors.New("imap.ssl and imap.starttls are mutually exclusive")
	}
	switch c.IMAP.Auth {
	case "", "login", "plain":
	default:
		return fmt.Errorf("imap.auth must be \"login\" or \"plain\", got %q", c.IMAP.Auth)
	}
	if c.Account.Username == "" {
		return errors.New("account.username is required")
	}
	if c.Watch.IdleTimeout < 0 {
		return fmt.Errorf("watch.idle_timeout must not be negative: %d", c.Watch.IdleTimeout)
	}
	if c.Watch.ArchiveFolder == "" {
		return errors.New("watch.archive_folder is required")
	}
	if c.Watch.ArchiveFolder == c.IMAP.Directory {
		return fmt.Errorf("watch.archive_folder must differ from imap.directory (%s)", c.IMAP.Directory)
	}
	switch c.Watch.Parser {
	case "", "message", "enmime":
	default:
		return fmt.Errorf("unknown watch.parser %q", c.Watch.Parser)
	}
	if c.Forward.Enabled() {
		if c.Forward.Server == "" {
			return errors.New("forward.server is required when forward.to is set")
		}
		if c.Forward.From == "" {
			return errors.New("forward.from is required when forward.to is set")
		}
	}
	return nil
}

// ExampleConfig is a commented starting point written by "mailwatch init".
const ExampleConfig = `# mailwatch configuration
imap:
  server: imap.example.com
  port: 993
  directory: INBOX
  ssl: true
  # auth: plain

account:
  username: you@example.com
  # "keyring:<key>" reads the password from the system keyring
  password: keyring:mailwatch-imap

watch:
  idle_timeout: 1740
  error_on_timeout: true
  archive_folder: Processed
  parser: message
  # mbox: /var/spool/mailwatch/processed.mbox

# ledger:
#   path: ~/.local/share/mailwatch/ledger.db

# forward:
#   to: [ops@example.com]
#   from: mailwatch@example.com
#   server: smtp.example.com
#   port: 587
#   username: mailwatch@example.com
#   password: keyring:mailwatch-smtp
`

// WriteExample writes ExampleConfig to path, creating parent directories.
// An existing file is left alone unless force is set.
func WriteExample(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists: %s", path)
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(ExampleConfig), 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// DefaultConfigPath returns ~/.config/mailwatch/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "mailwatch", "config.yaml")
}

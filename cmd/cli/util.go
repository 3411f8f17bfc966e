package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/emx-mail/mailwatch/pkgs/config"
	"github.com/emx-mail/mailwatch/pkgs/email"
)

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

// resolveConfigPath picks --config, then $MAILWATCH_CONFIG, then the
// default path written by "mailwatch init".
func (a *app) resolveConfigPath() string {
	if a.configPath != "" {
		return a.configPath
	}
	if p, err := config.GetEnvConfigPath(); err == nil {
		return p
	}
	return config.DefaultConfigPath()
}

func (a *app) loadConfig() *config.Config {
	cfg, err := config.LoadConfigFile(a.resolveConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load config: %v\n", err)
		fmt.Fprintf(os.Stderr, "Run 'mailwatch init' to create a config file\n")
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fatal("invalid config: %v", err)
	}
	return cfg
}

// newStore builds the IMAP store described by cfg.
func newStore(cfg *config.Config) *email.IMAPStore {
	return email.NewIMAPStore(email.IMAPConfig{
		SSL:      cfg.IMAP.SSL,
		StartTLS: cfg.IMAP.StartTLS,
		Auth:     cfg.IMAP.Auth,
	})
}

func serverConfig(cfg *config.Config) email.ServerConfig {
	return email.ServerConfig{
		Address:  cfg.IMAP.Address(),
		Username: cfg.Account.Username,
		Password: cfg.Account.Password,
		Folder:   cfg.IMAP.Directory,
	}
}

// newParser returns the configured parser. The returned close func releases
// the mbox spool, if one is configured.
func newParser(cfg *config.Config) (email.Parser, func() error, error) {
	p, ok := email.ParserByName(cfg.Watch.Parser)
	if !ok {
		return nil, nil, fmt.Errorf("unknown parser %q", cfg.Watch.Parser)
	}
	if cfg.Watch.Mbox == "" {
		return p, func() error { return nil }, nil
	}
	spool, err := email.OpenMboxSpool(cfg.Watch.Mbox, p)
	if err != nil {
		return nil, nil, err
	}
	return spool, spool.Close, nil
}

func newForwarder(cfg *config.Config, logger email.Logger) *email.Forwarder {
	if !cfg.Forward.Enabled() {
		return nil
	}
	f := email.NewForwarder(email.SMTPConfig{
		Host:     cfg.Forward.Server,
		Port:     cfg.Forward.Port,
		Username: cfg.Forward.Username,
		Password: cfg.Forward.Password,
		SSL:      cfg.Forward.SSL,
		StartTLS: cfg.Forward.StartTLS,
	}, cfg.Forward.From, cfg.Forward.To)
	if logger != nil {
		f.WithLogger(logger.WithAttrs("smtp", cfg.Forward.Server))
	}
	return f
}

// printMessages writes one JSON object per message.
func printMessages(w io.Writer, msgs []email.ParsedMessage) error {
	enc := json.NewEncoder(w)
	for _, m := range msgs {
		if err := enc.Encode(m); err != nil {
			return err
		}
	}
	return nil
}

// truncate truncates a string to maxLen runes, preserving UTF-8 boundaries.
func truncate(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxLen]) + "..."
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

package main

import (
	"fmt"
	"log/slog"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/emx-mail/mailwatch/pkgs/config"
	"github.com/emx-mail/mailwatch/pkgs/email"
)

const version = "1.0.0"

// app holds global options parsed from the command line
type app struct {
	configPath string
	verbose    bool
	logger     email.Logger
}

func main() {
	a := &app{}

	// Global flags
	flag.StringVarP(&a.configPath, "config", "c", "", "Config file (default: $MAILWATCH_CONFIG, then ~/.config/mailwatch/config.yaml)")
	flag.BoolVarP(&a.verbose, "verbose", "v", false, "Verbose output")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Usage = printUsage
	flag.Parse()

	if *showVersion {
		fmt.Printf("mailwatch v%s\n", version)
		os.Exit(0)
	}

	level := slog.LevelInfo
	if a.verbose {
		level = slog.LevelDebug
	}
	a.logger = email.SlogLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	email.SetLogger(a.logger)

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	cmd := args[0]
	cmdArgs := args[1:]

	// commands that don't need config loaded
	switch cmd {
	case "init":
		opts := parseInitFlags(cmdArgs)
		if err := a.handleInit(opts); err != nil {
			fatal("init: %v", err)
		}
		return
	case "parse":
		opts := parseParseFlags(cmdArgs)
		if err := handleParse(opts); err != nil {
			fatal("parse: %v", err)
		}
		return
	case "secret":
		if err := handleSecret(cmdArgs, os.Stdin, config.StoreSecret); err != nil {
			fatal("secret: %v", err)
		}
		return
	case "help":
		printUsage()
		os.Exit(0)
	}

	cfg := a.loadConfig()

	switch cmd {
	case "watch":
		opts := parseWatchFlags(cmdArgs)
		if err := handleWatch(cfg, opts, a.logger); err != nil {
			fatal("watch: %v", err)
		}
	case "drain":
		opts := parseDrainFlags(cmdArgs)
		if err := handleDrain(cfg, opts, a.logger); err != nil {
			fatal("drain: %v", err)
		}
	case "history":
		opts := parseHistoryFlags(cmdArgs)
		if err := handleHistory(cfg, opts); err != nil {
			fatal("history: %v", err)
		}
	default:
		fatal("unknown command '%s'", cmd)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `mailwatch v%s - Watch an IMAP folder and archive new mail

Usage:
  mailwatch [global options] <command> [command options]

Commands:
  watch      Wait for new mail (IMAP IDLE), then drain and archive the folder
  drain      Drain and archive the folder once, without waiting
  parse      Parse an RFC 5322 file (or stdin) and print it as JSON
  history    Show messages recorded in the ledger
  init       Write an example configuration file
  secret     Store a password in the system keyring (secret set <key>)

Global Options:
  -c, --config <path>    Config file (default: $MAILWATCH_CONFIG, then
                         ~/.config/mailwatch/config.yaml)
  -v, --verbose          Verbose output
  --version              Show version information

Config Formats:
  .yaml/.yml, .json or .toml, chosen by file extension.
  Passwords written as "keyring:<key>" are read from the system keyring.

Watch Options:
  --timeout <seconds>    Idle timeout (default: watch.idle_timeout, capped at 1740)
  --tolerant             Exit 0 with no output when the idle wait times out
  --archive <folder>     Archive folder (default: watch.archive_folder)
  --loop                 Keep watching, one cycle after another; each cycle
                         drains the folder before idling
  --retries <n>          Connection attempts per cycle in --loop mode (default: 5)

Drain Options:
  --archive <folder>     Archive folder (default: watch.archive_folder)

Parse Options:
  --parser <name>        message or enmime (default: message)

History Options:
  --limit <number>       Maximum entries to show (default: 20)

Init Options:
  --force                Overwrite an existing file

Output:
  watch and drain print one JSON object per message on stdout:
  {"from":"...","subject":"...","date":"...","body":"..."}

Examples:
  mailwatch init
  echo "app-password" | mailwatch secret set mailwatch-imap
  mailwatch watch --loop
  mailwatch -v watch --timeout 300 --tolerant
  mailwatch drain --archive Done
  mailwatch parse message.eml
  mailwatch history --limit 5
`, version)
}

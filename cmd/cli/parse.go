package main

import (
	"fmt"
	"io"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/emx-mail/mailwatch/pkgs/email"
)

type parseFlags struct {
	parser string
	file   string
}

func parseParseFlags(args []string) parseFlags {
	fs := flag.NewFlagSet("parse", flag.ExitOnError)
	var f parseFlags
	fs.StringVar(&f.parser, "parser", "message", "Parser: message or enmime")
	if err := fs.Parse(args); err != nil {
		fatal("parse: %v", err)
	}
	if fs.NArg() > 0 {
		f.file = fs.Arg(0)
	}
	return f
}

func handleParse(opts parseFlags) error {
	p, ok := email.ParserByName(opts.parser)
	if !ok {
		return fmt.Errorf("unknown parser %q", opts.parser)
	}

	var raw []byte
	var err error
	if opts.file == "" || opts.file == "-" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(opts.file)
	}
	if err != nil {
		return fmt.Errorf("failed to read message: %w", err)
	}

	msg, err := p.Parse(raw)
	if err != nil {
		return err
	}
	return printMessages(os.Stdout, []email.ParsedMessage{msg})
}

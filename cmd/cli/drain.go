package main

import (
	"context"

	flag "github.com/spf13/pflag"

	"github.com/emx-mail/mailwatch/pkgs/config"
	"github.com/emx-mail/mailwatch/pkgs/email"
)

type drainFlags struct {
	archive string
}

func parseDrainFlags(args []string) drainFlags {
	fs := flag.NewFlagSet("drain", flag.ExitOnError)
	var f drainFlags
	fs.StringVar(&f.archive, "archive", "", "Archive folder (default: watch.archive_folder)")
	if err := fs.Parse(args); err != nil {
		fatal("drain: %v", err)
	}
	return f
}

func handleDrain(cfg *config.Config, opts drainFlags, logger email.Logger) error {
	parser, closeParser, err := newParser(cfg)
	if err != nil {
		return err
	}
	defer closeParser()

	w := &email.Watcher{
		Store:   newStore(cfg),
		Server:  serverConfig(cfg),
		Options: watchOptions(cfg, 0, opts.archive, parser),
		Logger:  logger,
	}

	sink, closeSink, err := newSink(cfg, w.Options.ArchiveFolder, logger)
	if err != nil {
		return err
	}
	defer closeSink()

	ctx := context.Background()
	out, err := w.DrainNow(ctx)
	return sink.deliver(ctx, out, err)
}

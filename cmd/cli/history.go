package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	humanize "github.com/dustin/go-humanize"
	flag "github.com/spf13/pflag"

	"github.com/emx-mail/mailwatch/pkgs/config"
	"github.com/emx-mail/mailwatch/pkgs/ledger"
)

type historyFlags struct {
	limit int
}

func parseHistoryFlags(args []string) historyFlags {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	var f historyFlags
	fs.IntVar(&f.limit, "limit", 20, "Maximum entries to show")
	if err := fs.Parse(args); err != nil {
		fatal("history: %v", err)
	}
	return f
}

func handleHistory(cfg *config.Config, opts historyFlags) error {
	if cfg.Ledger.Path == "" {
		return errors.New("no ledger configured (set ledger.path)")
	}

	store, err := ledger.Open(cfg.Ledger.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.Recent(context.Background(), opts.limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No messages recorded.")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PROCESSED\tFROM\tSUBJECT\tSIZE\tARCHIVE")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			humanize.Time(e.ProcessedAt),
			truncate(e.From, 30),
			truncate(oneLine(e.Subject), 50),
			humanize.Bytes(uint64(e.BodySize)),
			e.ArchiveFolder,
		)
	}
	return tw.Flush()
}

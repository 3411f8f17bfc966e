package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	retry "github.com/StirlingMarketingGroup/go-retry"
	flag "github.com/spf13/pflag"

	"github.com/emx-mail/mailwatch/pkgs/config"
	"github.com/emx-mail/mailwatch/pkgs/email"
	"github.com/emx-mail/mailwatch/pkgs/ledger"
)

type watchFlags struct {
	timeout  int
	tolerant bool
	archive  string
	loop     bool
	attempts int
}

func parseWatchFlags(args []string) watchFlags {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	var f watchFlags
	fs.IntVar(&f.timeout, "timeout", 0, "Idle timeout in seconds (default: watch.idle_timeout)")
	fs.BoolVar(&f.tolerant, "tolerant", false, "Treat an idle timeout as an empty result")
	fs.StringVar(&f.archive, "archive", "", "Archive folder (default: watch.archive_folder)")
	fs.BoolVar(&f.loop, "loop", false, "Keep watching, one cycle after another")
	fs.IntVar(&f.attempts, "retries", 5, "Connection attempts per cycle in --loop mode")
	if err := fs.Parse(args); err != nil {
		fatal("watch: %v", err)
	}
	return f
}

// cycleSink receives the messages archived by each cycle.
type cycleSink struct {
	out       io.Writer
	archive   string
	ledger    *ledger.Store
	forwarder *email.Forwarder
}

func (s *cycleSink) handle(ctx context.Context, out email.Outcome) error {
	if len(out.Messages) == 0 {
		return nil
	}
	if err := printMessages(s.out, out.Messages); err != nil {
		return err
	}
	if s.ledger != nil {
		if err := s.ledger.Record(ctx, out.Cycle, s.archive, out.Messages); err != nil {
			return err
		}
	}
	if s.forwarder != nil {
		if err := s.forwarder.Forward(out.Messages); err != nil {
			return err
		}
	}
	return nil
}

// deliver hands the messages of out to the sink, then returns cycleErr
// joined with any sink failure. Messages are already out of the folder, so
// they are delivered even when the cycle failed or ctx is done.
func (s *cycleSink) deliver(ctx context.Context, out email.Outcome, cycleErr error) error {
	if err := s.handle(context.WithoutCancel(ctx), out); err != nil {
		return errors.Join(cycleErr, err)
	}
	return cycleErr
}

// newSink opens the ledger and forwarder configured in cfg. The returned
// close func releases the ledger.
func newSink(cfg *config.Config, archive string, logger email.Logger) (*cycleSink, func(), error) {
	sink := &cycleSink{
		out:       os.Stdout,
		archive:   archive,
		forwarder: newForwarder(cfg, logger),
	}
	if cfg.Ledger.Path == "" {
		return sink, func() {}, nil
	}
	store, err := ledger.Open(cfg.Ledger.Path)
	if err != nil {
		return nil, nil, err
	}
	sink.ledger = store
	return sink, func() { store.Close() }, nil
}

func watchOptions(cfg *config.Config, timeout int, archive string, parser email.Parser) email.WatchOptions {
	idle := cfg.Watch.IdleTimeoutDuration()
	if timeout > 0 {
		idle = time.Duration(timeout) * time.Second
	}
	if archive == "" {
		archive = cfg.Watch.ArchiveFolder
	}
	return email.WatchOptions{
		IdleTimeout:     idle,
		TolerateTimeout: !cfg.Watch.ErrorOnTimeout,
		Parser:          parser,
		ArchiveFolder:   archive,
	}
}

func handleWatch(cfg *config.Config, opts watchFlags, logger email.Logger) error {
	parser, closeParser, err := newParser(cfg)
	if err != nil {
		return err
	}
	defer closeParser()

	w := &email.Watcher{
		Store:   newStore(cfg),
		Server:  serverConfig(cfg),
		Options: watchOptions(cfg, opts.timeout, opts.archive, parser),
		Logger:  logger,
	}
	if opts.tolerant || opts.loop {
		w.Options.TolerateTimeout = true
	}
	// Each loop cycle opens a fresh session, so mail that arrived after the
	// previous cycle's search is drained before idling again.
	w.Options.DrainFirst = opts.loop

	sink, closeSink, err := newSink(cfg, w.Options.ArchiveFolder, logger)
	if err != nil {
		return err
	}
	defer closeSink()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !opts.loop {
		out, err := w.Run(ctx)
		if errors.Is(err, email.ErrIdleTimeout) {
			err = fmt.Errorf("no new mail within %s: %w", w.Options.IdleTimeout, err)
		}
		return sink.deliver(ctx, out, err)
	}

	return watchLoop(ctx, w.Run, sink, opts.attempts)
}

// watchLoop runs cycles until ctx is canceled. A cycle failing to connect is
// attempted up to attempts times with backoff; any other error ends the loop
// unchanged.
func watchLoop(ctx context.Context, cycle func(context.Context) (email.Outcome, error), sink *cycleSink, attempts int) error {
	if attempts < 1 {
		attempts = 1
	}

	for ctx.Err() == nil {
		var out email.Outcome
		err := retry.Retry(func() error {
			var err error
			out, err = cycle(ctx)
			if err != nil && (ctx.Err() != nil || !email.IsConnectionError(err)) {
				return &retry.PermFail{Err: err}
			}
			return err
		}, attempts-1, func(err error) error {
			fmt.Fprintf(os.Stderr, "connection failed: %v\n", err)
			return nil
		}, func() error {
			return ctx.Err()
		})
		if ctx.Err() != nil {
			return sink.deliver(ctx, out, nil)
		}
		if err := sink.deliver(ctx, out, err); err != nil {
			return err
		}
	}
	return nil
}

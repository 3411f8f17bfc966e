package email

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/google/uuid"
)

const (
	// DefaultIdleTimeout is the idle wait used when none is configured.
	DefaultIdleTimeout = 1740 * time.Second
	// MaxIdleTimeout is the longest idle wait issued. Servers may drop an
	// IDLE after 30 minutes (RFC 2177), so waits are capped below that.
	MaxIdleTimeout = 29 * time.Minute

	defaultFolder = "INBOX"
)

// ServerConfig identifies the mailbox to watch.
type ServerConfig struct {
	Address  string // host:port
	Username string
	Password string
	Folder   string // default "INBOX"
}

// WatchOptions controls one watch cycle. The zero value is usable: it
// idles for DefaultIdleTimeout, fails with ErrIdleTimeout on timeout, parses
// with DefaultParser and archives to DefaultArchiveFolder.
type WatchOptions struct {
	// IdleTimeout bounds the idle wait. Zero means DefaultIdleTimeout;
	// values above MaxIdleTimeout are clamped.
	IdleTimeout time.Duration
	// TolerateTimeout makes a timed-out cycle return an empty
	// OutcomeTimedOut instead of ErrIdleTimeout.
	TolerateTimeout bool
	// DrainFirst drains the folder on the fresh session before idling, so
	// mail that arrived between two cycles is not left waiting for a push.
	DrainFirst    bool
	Parser        Parser
	ArchiveFolder string
}

// DefaultWatchOptions returns the zero options with every default spelled
// out: 1740s idle, error on timeout, DefaultParser, "Processed".
func DefaultWatchOptions() WatchOptions {
	return WatchOptions{
		IdleTimeout:   DefaultIdleTimeout,
		Parser:        DefaultParser,
		ArchiveFolder: DefaultArchiveFolder,
	}
}

// OutcomeKind tells how a watch cycle ended.
type OutcomeKind int

const (
	OutcomeNewMessages OutcomeKind = iota + 1
	OutcomeTimedOut
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeNewMessages:
		return "new-messages"
	case OutcomeTimedOut:
		return "timed-out"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", int(k))
	}
}

// Outcome is the result of a watch cycle.
type Outcome struct {
	Kind OutcomeKind
	// Messages were archived during the cycle. They are set even when the
	// cycle also returns an error, since they are already out of the folder.
	Messages []ParsedMessage
	// Cycle identifies the cycle in logs.
	Cycle string
}

// Watcher runs watch cycles against one mailbox. Each call to Run owns its
// own Session, so a Watcher may be used from several goroutines.
type Watcher struct {
	Store   MailStore
	Server  ServerConfig
	Options WatchOptions
	Logger  Logger
}

// Watch performs exactly one watch cycle and returns the new messages. A
// tolerated timeout returns an empty list.
func Watch(ctx context.Context, store MailStore, server ServerConfig, opts WatchOptions) ([]ParsedMessage, error) {
	w := &Watcher{Store: store, Server: server, Options: opts}
	out, err := w.Run(ctx)
	if err != nil {
		return nil, err
	}
	if out.Messages == nil {
		return []ParsedMessage{}, nil
	}
	return out.Messages, nil
}

// Run connects, waits once for a mailbox change and drains the folder when
// one is pushed. The session is logged out on every return path; a logout
// failure is joined with any earlier error.
func (w *Watcher) Run(ctx context.Context) (out Outcome, err error) {
	cycle := uuid.NewString()
	folder := w.folder()
	logger := loggerOr(w.Logger).WithAttrs("cycle", cycle, "mailbox", folder)
	out = Outcome{Cycle: cycle}

	s, err := w.connect(ctx, folder)
	if err != nil {
		logger.Error("connection failed", "error", err)
		return out, err
	}
	defer func() {
		if lerr := s.Logout(); lerr != nil {
			logger.Warn("logout failed", "error", lerr)
			err = errors.Join(err, fmt.Errorf("failed to logout: %w", lerr))
		}
	}()

	r := w.reconciler(logger)
	if w.Options.DrainFirst {
		msgs, err := r.Drain(s)
		out.Messages = msgs
		if err != nil {
			out.Kind = OutcomeNewMessages
			return out, err
		}
	}

	timeout := clampIdleTimeout(w.Options.IdleTimeout)
	logger.Debug("entering idle", "timeout", timeout)

	resp, err := s.Idle(ctx, timeout)
	if err != nil {
		return out, fmt.Errorf("idle failed: %w", err)
	}

	switch resp.Status {
	case IdleTimeout:
		logger.Info("idle timed out", "timeout", timeout)
		out.Kind = OutcomeTimedOut
		if !w.Options.TolerateTimeout {
			return out, ErrIdleTimeout
		}
		return out, nil

	case IdleNotified:
		logger.Info("idle notification received", "payload", resp.Payload)
		msgs, err := r.Drain(s)
		out.Kind = OutcomeNewMessages
		out.Messages = append(out.Messages, msgs...)
		return out, err

	default:
		logger.Debug("unexpected idle response", "dump", spew.Sdump(resp))
		return out, &UnexpectedResponseError{Status: resp.Status, Payload: resp.Payload}
	}
}

// DrainNow connects and drains the folder once without waiting for a change.
// Like Run, it always logs the session out.
func (w *Watcher) DrainNow(ctx context.Context) (out Outcome, err error) {
	cycle := uuid.NewString()
	folder := w.folder()
	logger := loggerOr(w.Logger).WithAttrs("cycle", cycle, "mailbox", folder)
	out = Outcome{Cycle: cycle}

	s, err := w.connect(ctx, folder)
	if err != nil {
		logger.Error("connection failed", "error", err)
		return out, err
	}
	defer func() {
		if lerr := s.Logout(); lerr != nil {
			logger.Warn("logout failed", "error", lerr)
			err = errors.Join(err, fmt.Errorf("failed to logout: %w", lerr))
		}
	}()

	out.Kind = OutcomeNewMessages
	out.Messages, err = w.reconciler(logger).Drain(s)
	return out, err
}

func (w *Watcher) folder() string {
	if w.Server.Folder == "" {
		return defaultFolder
	}
	return w.Server.Folder
}

func (w *Watcher) reconciler(logger Logger) *Reconciler {
	return &Reconciler{
		Parser:        w.Options.Parser,
		ArchiveFolder: w.Options.ArchiveFolder,
		Logger:        logger,
	}
}

// connect dials, authenticates and selects folder. A session that fails
// after dialing is closed before the error is returned.
func (w *Watcher) connect(ctx context.Context, folder string) (Session, error) {
	addr := w.Server.Address
	s, err := w.Store.Connect(ctx, addr)
	if err != nil {
		return nil, &ConnectionError{Stage: "connect", Address: addr, Err: err}
	}
	if err := s.Authenticate(w.Server.Username, w.Server.Password); err != nil {
		_ = s.Logout()
		return nil, &ConnectionError{Stage: "authenticate", Address: addr, Err: err}
	}
	if err := s.Select(folder); err != nil {
		_ = s.Logout()
		return nil, &ConnectionError{Stage: "select", Address: addr, Err: err}
	}
	return s, nil
}

func clampIdleTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultIdleTimeout
	}
	if d > MaxIdleTimeout {
		return MaxIdleTimeout
	}
	return d
}

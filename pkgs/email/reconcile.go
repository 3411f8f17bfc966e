package email

import (
	"errors"
	"fmt"

	humanize "github.com/dustin/go-humanize"
)

// DefaultArchiveFolder is where processed messages are copied to.
const DefaultArchiveFolder = "Processed"

// Reconciler drains the selected folder of a Session: every message is
// fetched, parsed, copied to ArchiveFolder and flagged deleted, then the
// folder is expunged once.
type Reconciler struct {
	Parser        Parser
	ArchiveFolder string
	Logger        Logger
}

// ListAndArchiveNew drains the folder selected in s with parser, archiving to
// archiveFolder. It is meant for callers that manage their own session.
func ListAndArchiveNew(s Session, parser Parser, archiveFolder string) ([]ParsedMessage, error) {
	r := &Reconciler{Parser: parser, ArchiveFolder: archiveFolder}
	return r.Drain(s)
}

// Drain processes every message currently in the folder selected in s, in
// server order. Messages that vanished between search and fetch are skipped.
//
// Expunge runs exactly once before Drain returns, whether or not a step
// failed. On failure the messages already copied and flagged are returned
// together with the error; the message that failed stays in the folder.
func (r *Reconciler) Drain(s Session) (msgs []ParsedMessage, err error) {
	parser := r.Parser
	if parser == nil {
		parser = DefaultParser
	}
	archive := r.ArchiveFolder
	if archive == "" {
		archive = DefaultArchiveFolder
	}
	logger := loggerOr(r.Logger).WithAttrs("archive", archive)

	defer func() {
		if xerr := s.Expunge(); xerr != nil {
			err = errors.Join(err, fmt.Errorf("failed to expunge: %w", xerr))
		}
	}()

	ids, err := s.SearchAll()
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	logger.Debug("folder listed", "count", len(ids))

	for _, id := range ids {
		raw, ok, err := s.Fetch(id)
		if err != nil {
			return msgs, fmt.Errorf("failed to fetch message %d: %w", id, err)
		}
		if !ok {
			logger.Debug("message vanished before fetch, skipping", "id", id)
			continue
		}
		logger.Debug("fetched message", "id", id, "size", humanize.Bytes(uint64(len(raw))))

		msg, err := parser.Parse(raw)
		if err != nil {
			return msgs, fmt.Errorf("failed to parse message %d: %w", id, err)
		}

		if err := s.Copy(id, archive); err != nil {
			return msgs, fmt.Errorf("failed to copy message %d to %s: %w", id, archive, err)
		}
		if err := s.MarkDeleted(id); err != nil {
			return msgs, fmt.Errorf("failed to flag message %d deleted: %w", id, err)
		}
		msgs = append(msgs, msg)
	}

	logger.Info("folder drained", "archived", len(msgs))
	return msgs, nil
}

// Package ledger keeps a local SQLite record of the messages each watch cycle
// archived.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/emx-mail/mailwatch/pkgs/email"
)

// Entry is one archived message.
type Entry struct {
	ID            int64     `db:"id" json:"id"`
	CycleID       string    `db:"cycle_id" json:"cycle"`
	From          string    `db:"sender" json:"from"`
	Subject       string    `db:"subject" json:"subject"`
	Date          string    `db:"sent_date" json:"date"`
	BodySize      int       `db:"body_size" json:"body_size"`
	ArchiveFolder string    `db:"archive_folder" json:"archive_folder"`
	ProcessedAt   time.Time `db:"-" json:"processed_at"`
}

// entryRow is an Entry as stored, with processed_at in unix seconds.
type entryRow struct {
	Entry
	ProcessedAtUnix int64 `db:"processed_at"`
}

// Store is a SQLite backed ledger.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

// Open opens (or creates) a SQLite database at dbPath, enables WAL mode and
// runs any pending schema migrations. ":memory:" gives a throwaway ledger.
func Open(dbPath string) (*Store, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	// One writer at a time; also keeps ":memory:" on a single database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *Store) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}
	return nil
}

// Record stores msgs as archived by cycle into archiveFolder.
func (s *Store) Record(ctx context.Context, cycleID, archiveFolder string, msgs []email.ParsedMessage) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	const query = `
		INSERT INTO processed_messages (
			cycle_id, sender, subject, sent_date, body_size, archive_folder, processed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`

	stmt, err := tx.PreparexContext(ctx, query)
	if err != nil {
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	at := s.now().UTC().Unix()
	for _, m := range msgs {
		_, err := stmt.ExecContext(ctx,
			cycleID, m.From, m.Subject, m.Date, len(m.Body), archiveFolder, at,
		)
		if err != nil {
			return fmt.Errorf("recording message from %s: %w", m.From, err)
		}
	}
	return tx.Commit()
}

// Recent returns up to limit entries, newest first. A non-positive limit
// returns everything.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	query := `SELECT id, cycle_id, sender, subject, sent_date, body_size, archive_folder, processed_at
		FROM processed_messages ORDER BY id DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	var rows []entryRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("querying ledger: %w", err)
	}
	entries := make([]Entry, len(rows))
	for i, r := range rows {
		entries[i] = r.Entry
		entries[i].ProcessedAt = time.Unix(r.ProcessedAtUnix, 0).UTC()
	}
	return entries, nil
}

// Count returns the number of messages recorded for cycleID.
func (s *Store) Count(ctx context.Context, cycleID string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM processed_messages WHERE cycle_id = ?", cycleID)
	if err != nil {
		return 0, fmt.Errorf("counting cycle %s: %w", cycleID, err)
	}
	return n, nil
}

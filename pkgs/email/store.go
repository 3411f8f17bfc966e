package email

import (
	"context"
	"fmt"
	"time"
)

// MessageID identifies a message inside the folder selected by the Session
// that returned it. It must not be reused across sessions.
type MessageID uint32

// IdleStatus classifies why an idle wait returned.
type IdleStatus int

const (
	// IdleTimeout means the wait hit its deadline without a notification.
	IdleTimeout IdleStatus = iota + 1
	// IdleNotified means the server pushed a mailbox change.
	IdleNotified
	// IdleUnexpected means the wait ended for any other reason.
	IdleUnexpected
)

func (s IdleStatus) String() string {
	switch s {
	case IdleTimeout:
		return "TIMEOUT"
	case IdleNotified:
		return "NOTIFIED"
	case IdleUnexpected:
		return "UNEXPECTED"
	default:
		return fmt.Sprintf("IdleStatus(%d)", int(s))
	}
}

// IdleResponse is the result of one idle wait. Payload carries the raw
// server response (or termination reason) for diagnostics.
type IdleResponse struct {
	Status  IdleStatus
	Payload string
}

// MailStore opens sessions against a mail server.
type MailStore interface {
	// Connect dials address and returns an unauthenticated session.
	Connect(ctx context.Context, address string) (Session, error)
}

// Session is a single connection to the mail server. A Session is not safe
// for concurrent use; the underlying channel is single-streamed.
type Session interface {
	Authenticate(username, password string) error

	// Select opens folder for read-write access.
	Select(folder string) error

	// SearchAll lists every message currently in the selected folder, in
	// server order.
	SearchAll() ([]MessageID, error)

	// Fetch returns the full RFC 5322 payload of id. ok is false when the
	// server had nothing for id (removed by another client in the meantime).
	Fetch(id MessageID) (raw []byte, ok bool, err error)

	Copy(id MessageID, folder string) error

	// MarkDeleted flags id as \Deleted. The message stays until Expunge.
	MarkDeleted(id MessageID) error

	Expunge() error

	// Idle blocks until the server pushes a change, timeout elapses, or the
	// wait is terminated otherwise, and reports which one happened.
	Idle(ctx context.Context, timeout time.Duration) (IdleResponse, error)

	// Logout ends the session and closes the connection.
	Logout() error
}

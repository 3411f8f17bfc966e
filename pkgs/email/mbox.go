package email

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/emersion/go-mbox"
)

// MboxSpool is a Parser that keeps a local mbox copy of every message its
// inner Parser accepted. Messages the inner Parser rejects are not written.
type MboxSpool struct {
	next Parser
	now  func() time.Time

	mu     sync.Mutex
	w      *mbox.Writer
	closer io.Closer
}

// NewMboxSpool wraps next, appending accepted messages to w.
func NewMboxSpool(w io.Writer, next Parser) *MboxSpool {
	if next == nil {
		next = DefaultParser
	}
	s := &MboxSpool{
		next: next,
		now:  time.Now,
		w:    mbox.NewWriter(w),
	}
	if c, ok := w.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// OpenMboxSpool opens (or creates) the mbox file at path in append mode.
func OpenMboxSpool(path string, next Parser) (*MboxSpool, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open mbox %s: %w", path, err)
	}
	return NewMboxSpool(f, next), nil
}

// Parse parses raw with the inner Parser, then spools raw.
func (s *MboxSpool) Parse(raw []byte) (ParsedMessage, error) {
	msg, err := s.next.Parse(raw)
	if err != nil {
		return msg, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	mw, err := s.w.CreateMessage(msg.From, s.now())
	if err != nil {
		return msg, fmt.Errorf("creating mbox entry: %w", err)
	}
	if _, err := mw.Write(raw); err != nil {
		return msg, fmt.Errorf("writing mbox entry: %w", err)
	}
	return msg, nil
}

// Close flushes the mbox writer and closes the underlying file, if any.
func (s *MboxSpool) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.w.Close()
	if s.closer != nil {
		if cerr := s.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-sasl"
)

// Auth mechanisms for IMAPConfig.Auth.
const (
	AuthLogin = "login"
	AuthPlain = "plain"
)

// IMAPConfig holds IMAP transport configuration
type IMAPConfig struct {
	SSL      bool
	StartTLS bool
	// Auth selects LOGIN (AuthLogin, default) or SASL PLAIN (AuthPlain).
	Auth string
	// TLSConfig overrides the TLS settings used with SSL or StartTLS.
	TLSConfig *tls.Config
}

// IMAPStore is a MailStore backed by go-imap.
type IMAPStore struct {
	config IMAPConfig
}

// NewIMAPStore creates a new IMAP store
func NewIMAPStore(config IMAPConfig) *IMAPStore {
	return &IMAPStore{config: config}
}

// Connect establishes a connection to the IMAP server at address.
func (st *IMAPStore) Connect(ctx context.Context, address string) (Session, error) {
	s := &imapSession{
		auth:    st.config.Auth,
		updates: make(chan uint32, 1),
	}
	opts := &imapclient.Options{
		TLSConfig: st.config.TLSConfig,
		UnilateralDataHandler: &imapclient.UnilateralDataHandler{
			Mailbox: s.mailboxUpdate,
		},
	}

	var client *imapclient.Client
	var err error

	switch {
	case st.config.SSL:
		var conn net.Conn
		conn, err = st.dialTLS(ctx, address)
		if err == nil {
			client = imapclient.New(conn, opts)
		}
	case st.config.StartTLS:
		client, err = imapclient.DialStartTLS(address, opts)
	default:
		var conn net.Conn
		var d net.Dialer
		conn, err = d.DialContext(ctx, "tcp", address)
		if err == nil {
			client = imapclient.New(conn, opts)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IMAP server %s: %w", address, err)
	}

	s.client = client
	return s, nil
}

func (st *IMAPStore) dialTLS(ctx context.Context, address string) (net.Conn, error) {
	cfg := st.config.TLSConfig
	if cfg == nil {
		host, _, err := net.SplitHostPort(address)
		if err != nil {
			return nil, err
		}
		cfg = &tls.Config{ServerName: host}
	}
	d := tls.Dialer{Config: cfg}
	return d.DialContext(ctx, "tcp", address)
}

// imapSession implements Session on top of one imapclient.Client.
type imapSession struct {
	client *imapclient.Client
	auth   string
	// updates receives the new message count pushed by the server. It holds
	// at most one pending value; further pushes are coalesced.
	updates chan uint32
}

// mailboxUpdate runs on the client's reader goroutine and must not block.
func (s *imapSession) mailboxUpdate(d *imapclient.UnilateralDataMailbox) {
	if d.NumMessages == nil {
		return
	}
	select {
	case s.updates <- *d.NumMessages:
	default:
	}
}

func (s *imapSession) Authenticate(username, password string) error {
	switch s.auth {
	case "", AuthLogin:
		if err := s.client.Login(username, password).Wait(); err != nil {
			return fmt.Errorf("IMAP authentication failed: %w", err)
		}
	case AuthPlain:
		if err := s.client.Authenticate(sasl.NewPlainClient("", username, password)); err != nil {
			return fmt.Errorf("IMAP authentication failed: %w", err)
		}
	default:
		return fmt.Errorf("unsupported auth mechanism %q", s.auth)
	}
	return nil
}

func (s *imapSession) Select(folder string) error {
	if _, err := s.client.Select(folder, nil).Wait(); err != nil {
		return fmt.Errorf("failed to select folder %s: %w", folder, err)
	}
	return nil
}

func (s *imapSession) SearchAll() ([]MessageID, error) {
	data, err := s.client.UIDSearch(&imap.SearchCriteria{}, nil).Wait()
	if err != nil {
		return nil, err
	}
	uids := data.AllUIDs()
	ids := make([]MessageID, 0, len(uids))
	for _, uid := range uids {
		ids = append(ids, MessageID(uid))
	}
	return ids, nil
}

func (s *imapSession) Fetch(id MessageID) ([]byte, bool, error) {
	section := &imap.FetchItemBodySection{}
	msgs, err := s.client.Fetch(imap.UIDSetNum(imap.UID(id)), &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{section},
	}).Collect()
	if err != nil {
		return nil, false, err
	}
	if len(msgs) == 0 {
		return nil, false, nil
	}
	raw := msgs[0].FindBodySection(section)
	if raw == nil {
		return nil, false, nil
	}
	return raw, true, nil
}

func (s *imapSession) Copy(id MessageID, folder string) error {
	_, err := s.client.Copy(imap.UIDSetNum(imap.UID(id)), folder).Wait()
	return err
}

func (s *imapSession) MarkDeleted(id MessageID) error {
	return s.client.Store(imap.UIDSetNum(imap.UID(id)), &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagDeleted},
	}, nil).Close()
}

func (s *imapSession) Expunge() error {
	return s.client.Expunge().Close()
}

// Idle issues IDLE and waits for a new-message push, the timeout, context
// cancellation or the server ending IDLE by itself. The IDLE command is
// always terminated before Idle returns.
func (s *imapSession) Idle(ctx context.Context, timeout time.Duration) (IdleResponse, error) {
	// SELECT reports its EXISTS count through the command, not the update
	// channel, so a pending count means mail arrived after selecting and is
	// reported at once.
	idleCmd, err := s.client.Idle()
	if err != nil {
		return IdleResponse{}, fmt.Errorf("IDLE start failed: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- idleCmd.Wait()
	}()
	stop := func() error {
		return errors.Join(idleCmd.Close(), <-done)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case n := <-s.updates:
		if err := stop(); err != nil {
			return IdleResponse{}, fmt.Errorf("failed to terminate IDLE: %w", err)
		}
		return IdleResponse{Status: IdleNotified, Payload: fmt.Sprintf("%d EXISTS", n)}, nil

	case <-timer.C:
		if err := stop(); err != nil {
			return IdleResponse{}, fmt.Errorf("failed to terminate IDLE: %w", err)
		}
		return IdleResponse{Status: IdleTimeout, Payload: "TIMEOUT"}, nil

	case <-ctx.Done():
		_ = stop()
		return IdleResponse{}, ctx.Err()

	case err := <-done:
		_ = idleCmd.Close()
		reason := "IDLE terminated by server"
		if err != nil {
			reason = err.Error()
		}
		return IdleResponse{Status: IdleUnexpected, Payload: reason}, nil
	}
}

// Logout sends LOGOUT and closes the connection.
func (s *imapSession) Logout() error {
	err := s.client.Logout().Wait()
	_ = s.client.Close()
	if err != nil {
		return fmt.Errorf("IMAP logout failed: %w", err)
	}
	return nil
}

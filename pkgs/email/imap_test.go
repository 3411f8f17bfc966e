package email

import (
	"context"
	"crypto/tls"
	"net"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-imap/v2/imapserver"
	"github.com/emersion/go-imap/v2/imapserver/imapmemserver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// IMAP mock server helper
// ---------------------------------------------------------------------------

const (
	imapTestUser = "testuser"
	imapTestPass = "testpass"
)

// newTestIMAPServer starts an in-memory IMAP server and returns the listen
// address. The server is closed via t.Cleanup.
func newTestIMAPServer(t *testing.T) string {
	t.Helper()
	return startTestIMAPServer(t, nil)
}

// startTestIMAPServer serves INBOX and Processed, over TLS when tlsConfig is
// set.
func startTestIMAPServer(t *testing.T, tlsConfig *tls.Config) string {
	t.Helper()
	addr, _ := serveTestIMAP(t, tlsConfig)
	return addr
}

// serveTestIMAP is startTestIMAPServer that also hands back the server, for
// tests that shut it down early.
func serveTestIMAP(t *testing.T, tlsConfig *tls.Config) (string, *imapserver.Server) {
	t.Helper()

	memSrv := imapmemserver.New()
	user := imapmemserver.NewUser(imapTestUser, imapTestPass)
	user.Create("INBOX", nil)
	user.Create(DefaultArchiveFolder, nil)
	memSrv.AddUser(user)

	srv := imapserver.New(&imapserver.Options{
		NewSession: func(_ *imapserver.Conn) (imapserver.Session, *imapserver.GreetingData, error) {
			return memSrv.NewSession(), nil, nil
		},
		InsecureAuth: true,
		Caps: imap.CapSet{
			imap.CapIMAP4rev1:      {},
			imap.CapIdle:           {},
			imap.Cap("AUTH=PLAIN"): {},
		},
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	if tlsConfig != nil {
		ln = tls.NewListener(ln, tlsConfig)
	}

	go srv.Serve(ln)
	t.Cleanup(func() { srv.Close() })

	return ln.Addr().String(), srv
}

// appendTestMail appends a raw RFC 5322 message to the given mailbox via
// a direct IMAP client (not through our wrapper).
func appendTestMail(t *testing.T, addr, mailbox, rawMsg string) {
	t.Helper()
	if err := appendMail(addr, mailbox, rawMsg); err != nil {
		t.Fatal(err)
	}
}

func appendMail(addr, mailbox, rawMsg string) error {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return err
	}
	c := imapclient.New(conn, nil)
	defer c.Close()
	if err := c.Login(imapTestUser, imapTestPass).Wait(); err != nil {
		return err
	}

	appendCmd := c.Append(mailbox, int64(len(rawMsg)), nil)
	if _, err := appendCmd.Write([]byte(rawMsg)); err != nil {
		return err
	}
	if err := appendCmd.Close(); err != nil {
		return err
	}
	_, err = appendCmd.Wait()
	return err
}

// countMessages returns the number of messages in mailbox.
func countMessages(t *testing.T, addr, mailbox string) uint32 {
	t.Helper()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	c := imapclient.New(conn, nil)
	defer c.Close()
	if err := c.Login(imapTestUser, imapTestPass).Wait(); err != nil {
		t.Fatal(err)
	}
	data, err := c.Status(mailbox, &imap.StatusOptions{NumMessages: true}).Wait()
	if err != nil {
		t.Fatal(err)
	}
	return *data.NumMessages
}

// openTestSession returns an authenticated session with INBOX selected.
func openTestSession(t *testing.T, addr string) Session {
	t.Helper()

	s, err := NewIMAPStore(IMAPConfig{}).Connect(context.Background(), addr)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Authenticate(imapTestUser, imapTestPass); err != nil {
		t.Fatal(err)
	}
	if err := s.Select("INBOX"); err != nil {
		t.Fatal(err)
	}
	return s
}

func testServerConfig(addr string) ServerConfig {
	return ServerConfig{
		Address:  addr,
		Username: imapTestUser,
		Password: imapTestPass,
	}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestIMAPConnect(t *testing.T) {
	addr := newTestIMAPServer(t)

	s := openTestSession(t, addr)
	if err := s.Logout(); err != nil {
		t.Fatalf("Logout() error: %v", err)
	}
}

func TestIMAPConnect_AuthPlain(t *testing.T) {
	addr := newTestIMAPServer(t)

	s, err := NewIMAPStore(IMAPConfig{Auth: AuthPlain}).Connect(context.Background(), addr)
	require.NoError(t, err)
	defer s.Logout()

	require.NoError(t, s.Authenticate(imapTestUser, imapTestPass))
	require.NoError(t, s.Select("INBOX"))
}

func TestIMAPConnect_TLS(t *testing.T) {
	addr := startTestIMAPServer(t, newTestTLSConfig(t))
	store := NewIMAPStore(IMAPConfig{SSL: true, TLSConfig: insecureTLSConfig()})
	s, err := store.Connect(context.Background(), addr)
	require.NoError(t, err)
	defer s.Logout()
	require.NoError(t, s.Authenticate(imapTestUser, imapTestPass))
	require.NoError(t, s.Select("INBOX"))
}

func TestIMAPConnect_BadCredentials(t *testing.T) {
	addr := newTestIMAPServer(t)

	server := testServerConfig(addr)
	server.Password = "wrong"

	_, err := Watch(context.Background(), NewIMAPStore(IMAPConfig{}), server, DefaultWatchOptions())
	var cerr *ConnectionError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "authenticate", cerr.Stage)
}

func TestIMAPConnect_Refused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	_, err = Watch(context.Background(), NewIMAPStore(IMAPConfig{}), testServerConfig(addr), DefaultWatchOptions())
	var cerr *ConnectionError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "connect", cerr.Stage)
}

func TestIMAPSelect_MissingFolder(t *testing.T) {
	addr := newTestIMAPServer(t)

	server := testServerConfig(addr)
	server.Folder = "Nope"

	_, err := Watch(context.Background(), NewIMAPStore(IMAPConfig{}), server, DefaultWatchOptions())
	var cerr *ConnectionError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "select", cerr.Stage)
}

func TestIMAPDrain(t *testing.T) {
	addr := newTestIMAPServer(t)
	appendTestMail(t, addr, "INBOX", testMailRFC822)
	appendTestMail(t, addr, "INBOX", testMailImageFirst)

	s := openTestSession(t, addr)
	defer s.Logout()

	msgs, err := ListAndArchiveNew(s, DefaultParser, DefaultArchiveFolder)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "jane@x.com", msgs[0].From)
	assert.Equal(t, "Hello", msgs[0].Body)
	assert.Equal(t, "see attached", msgs[1].Body)

	assert.Equal(t, uint32(0), countMessages(t, addr, "INBOX"))
	assert.Equal(t, uint32(2), countMessages(t, addr, DefaultArchiveFolder))

	// nothing new arrived
	again, err := ListAndArchiveNew(s, DefaultParser, DefaultArchiveFolder)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestIMAPDrain_MissingArchive(t *testing.T) {
	addr := newTestIMAPServer(t)
	appendTestMail(t, addr, "INBOX", testMailRFC822)

	s := openTestSession(t, addr)
	defer s.Logout()

	msgs, err := ListAndArchiveNew(s, DefaultParser, "Missing")
	require.Error(t, err)
	assert.Len(t, msgs, 1)

	// the copy failed, so the message was never flagged and stays put
	assert.Equal(t, uint32(1), countMessages(t, addr, "INBOX"))
}

func TestIMAPFetch_Vanished(t *testing.T) {
	addr := newTestIMAPServer(t)

	s := openTestSession(t, addr)
	defer s.Logout()

	raw, ok, err := s.Fetch(MessageID(42))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, raw)
}

func TestIMAPIdle_Timeout(t *testing.T) {
	addr := newTestIMAPServer(t)

	s := openTestSession(t, addr)
	defer s.Logout()

	resp, err := s.Idle(context.Background(), 200*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, IdleTimeout, resp.Status)

	// the connection is usable after IDLE ended
	ids, err := s.SearchAll()
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestIMAPIdle_Notification(t *testing.T) {
	addr := newTestIMAPServer(t)

	s := openTestSession(t, addr)
	defer s.Logout()

	go func() {
		time.Sleep(200 * time.Millisecond)
		if err := appendMail(addr, "INBOX", testMailRFC822); err != nil {
			t.Error(err)
		}
	}()

	resp, err := s.Idle(context.Background(), 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, IdleNotified, resp.Status)
	assert.Equal(t, "1 EXISTS", resp.Payload)

	msgs, err := ListAndArchiveNew(s, nil, "")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Hi", msgs[0].Subject)
}

func TestIMAPIdle_PendingNotification(t *testing.T) {
	addr := newTestIMAPServer(t)

	s := openTestSession(t, addr)
	defer s.Logout()

	// mail that lands between SELECT and IDLE must not be missed
	appendTestMail(t, addr, "INBOX", testMailRFC822)
	ids, err := s.SearchAll()
	require.NoError(t, err)
	require.Len(t, ids, 1)

	resp, err := s.Idle(context.Background(), 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, IdleNotified, resp.Status)
}

func TestIMAPIdle_ServerShutdown(t *testing.T) {
	addr, srv := serveTestIMAP(t, nil)

	s := openTestSession(t, addr)
	defer s.Logout()

	go func() {
		time.Sleep(200 * time.Millisecond)
		srv.Close()
	}()

	resp, err := s.Idle(context.Background(), 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, IdleUnexpected, resp.Status)
	assert.NotEmpty(t, resp.Payload)
}

func TestIMAPWatch_ServerShutdown(t *testing.T) {
	addr, srv := serveTestIMAP(t, nil)

	go func() {
		time.Sleep(200 * time.Millisecond)
		srv.Close()
	}()

	_, err := Watch(context.Background(), NewIMAPStore(IMAPConfig{}), testServerConfig(addr), DefaultWatchOptions())

	var unexpected *UnexpectedResponseError
	require.ErrorAs(t, err, &unexpected)
	assert.Equal(t, IdleUnexpected, unexpected.Status)
}

func TestIMAPIdle_ContextCanceled(t *testing.T) {
	addr := newTestIMAPServer(t)

	s := openTestSession(t, addr)
	defer s.Logout()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := s.Idle(ctx, 10*time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestIMAPWatch_TolerantTimeout(t *testing.T) {
	addr := newTestIMAPServer(t)
	appendTestMail(t, addr, "INBOX", testMailRFC822)

	opts := DefaultWatchOptions()
	opts.IdleTimeout = 200 * time.Millisecond
	opts.TolerateTimeout = true

	msgs, err := Watch(context.Background(), NewIMAPStore(IMAPConfig{}), testServerConfig(addr), opts)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	// a timed out cycle leaves the folder alone
	assert.Equal(t, uint32(1), countMessages(t, addr, "INBOX"))
}

func TestIMAPWatch_Timeout(t *testing.T) {
	addr := newTestIMAPServer(t)

	opts := DefaultWatchOptions()
	opts.IdleTimeout = 200 * time.Millisecond

	_, err := Watch(context.Background(), NewIMAPStore(IMAPConfig{}), testServerConfig(addr), opts)
	assert.ErrorIs(t, err, ErrIdleTimeout)
}

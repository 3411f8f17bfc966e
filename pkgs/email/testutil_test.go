package email

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"math/big"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"
)

// newTestTLSConfig generates a self-signed TLS config for mock servers.
func newTestTLSConfig(t *testing.T) *tls.Config {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		DNSNames:     []string{"localhost", "127.0.0.1"},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1)},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}
	certDER, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}

	cert := tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  key,
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
	}
}

// insecureTLSConfig returns a client-side TLS config that skips verification.
func insecureTLSConfig() *tls.Config {
	return &tls.Config{InsecureSkipVerify: true}
}

// splitHostPort splits "host:port" into (host, int port).
func splitHostPort(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatal(err)
	}
	return host, port
}

// testMailRFC822 is a minimal RFC 5322 message for testing.
const testMailRFC822 = "MIME-Version: 1.0\r\n" +
	"From: Jane Doe <jane@x.com>\r\n" +
	"To: rcpt@example.com\r\n" +
	"Subject: Hi\r\n" +
	"Date: Mon, 3 Jun 2024 10:00:00 +0000\r\n" +
	"Message-Id: <test-1@example.com>\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Hello\r\n"

// testMailImageFirst is a multipart/mixed message whose first part is an image.
const testMailImageFirst = "MIME-Version: 1.0\r\n" +
	"From: \"Bob\" <bob@example.com>\r\n" +
	"To: rcpt@example.com\r\n" +
	"Subject: Picture\r\n" +
	"Date: Tue, 10 Feb 2026 08:00:00 -0700\r\n" +
	"Content-Type: multipart/mixed; boundary=\"TESTBOUNDARY\"\r\n" +
	"\r\n" +
	"--TESTBOUNDARY\r\n" +
	"Content-Type: image/png\r\n" +
	"Content-Disposition: attachment; filename=\"pic.png\"\r\n" +
	"\r\n" +
	"PNG-DATA\r\n" +
	"--TESTBOUNDARY\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"  see attached  \r\n" +
	"--TESTBOUNDARY--\r\n"

// testMailNested is a multipart/mixed containing a multipart/alternative.
const testMailNested = "MIME-Version: 1.0\r\n" +
	"From: sender@example.com\r\n" +
	"To: rcpt@example.com\r\n" +
	"Subject: Nested Multipart\r\n" +
	"Date: Mon, 10 Feb 2026 08:00:00 +0000 (UTC)\r\n" +
	"Content-Type: multipart/mixed; boundary=\"OUTER\"\r\n" +
	"\r\n" +
	"--OUTER\r\n" +
	"Content-Type: multipart/alternative; boundary=\"INNER\"\r\n" +
	"\r\n" +
	"--INNER\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Plain version\r\n" +
	"--INNER\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<p>HTML version</p>\r\n" +
	"--INNER--\r\n" +
	"--OUTER\r\n" +
	"Content-Type: image/png\r\n" +
	"Content-Disposition: attachment; filename=\"image.png\"\r\n" +
	"\r\n" +
	"PNG-DATA\r\n" +
	"--OUTER--\r\n"

// testMailNoText is a multipart message without any text part.
const testMailNoText = "MIME-Version: 1.0\r\n" +
	"From: <scanner@example.com>\r\n" +
	"Subject: Scan\r\n" +
	"Date: 1 Mar 2025 12:30:00 GMT\r\n" +
	"Content-Type: multipart/mixed; boundary=\"B\"\r\n" +
	"\r\n" +
	"--B\r\n" +
	"Content-Type: application/pdf\r\n" +
	"\r\n" +
	"PDF-DATA\r\n" +
	"--B--\r\n"

// testMailUnknownEncoding declares a transfer encoding go-message cannot
// decode.
const testMailUnknownEncoding = "From: a@x.com\r\n" +
	"Date: Mon, 3 Jun 2024 10:00:00 +0000\r\n" +
	"Subject: legacy\r\n" +
	"Content-Transfer-Encoding: x-uuencode\r\n" +
	"\r\n" +
	"hi\r\n"

// testMailUnknownPartEncoding carries the unknown encoding on its text part.
const testMailUnknownPartEncoding = "MIME-Version: 1.0\r\n" +
	"From: a@x.com\r\n" +
	"Date: Mon, 3 Jun 2024 10:00:00 +0000\r\n" +
	"Subject: legacy parts\r\n" +
	"Content-Type: multipart/mixed; boundary=\"U\"\r\n" +
	"\r\n" +
	"--U\r\n" +
	"Content-Type: text/plain\r\n" +
	"Content-Transfer-Encoding: 7-bit\r\n" +
	"\r\n" +
	"raw part\r\n" +
	"--U--\r\n"

// recordLogger keeps every message it is given.
type recordLogger struct {
	mu    *sync.Mutex
	lines *[]string
	attrs []any
}

func newRecordLogger() recordLogger {
	return recordLogger{mu: &sync.Mutex{}, lines: &[]string{}}
}

func (l recordLogger) add(level, msg string) {
	l.mu.Lock()
	*l.lines = append(*l.lines, level+" "+msg)
	l.mu.Unlock()
}

func (l recordLogger) Debug(msg string, _ ...any) { l.add("DEBUG", msg) }
func (l recordLogger) Info(msg string, _ ...any)  { l.add("INFO", msg) }
func (l recordLogger) Warn(msg string, _ ...any)  { l.add("WARN", msg) }
func (l recordLogger) Error(msg string, _ ...any) { l.add("ERROR", msg) }

func (l recordLogger) WithAttrs(args ...any) Logger {
	return recordLogger{mu: l.mu, lines: l.lines, attrs: append(append([]any(nil), l.attrs...), args...)}
}

func (l recordLogger) Lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), *l.lines...)
}

// ---------------------------------------------------------------------------
// Session test double
// ---------------------------------------------------------------------------

// fakeStore hands out one fakeSession per Connect.
type fakeStore struct {
	session    *fakeSession
	connectErr error
	addresses  []string
}

func (st *fakeStore) Connect(_ context.Context, address string) (Session, error) {
	st.addresses = append(st.addresses, address)
	if st.connectErr != nil {
		return nil, st.connectErr
	}
	return st.session, nil
}

// fakeSession is an in-memory folder. Messages whose payload is nil behave
// as if they vanished between search and fetch.
type fakeSession struct {
	mu sync.Mutex

	ids      []MessageID
	messages map[MessageID][]byte
	idle     IdleResponse

	authErr, selectErr, searchErr  error
	fetchErr, copyErr, flagErr     map[MessageID]error
	idleErr, expungeErr, logoutErr error

	// Recorded calls.
	calls    []string
	selected string
	idleWait time.Duration
	copied   map[MessageID]string
	deleted  []MessageID
	expunges int
	logouts  int
	archive  map[string][]MessageID
}

func newFakeSession(msgs map[MessageID]string, order ...MessageID) *fakeSession {
	s := &fakeSession{
		ids:      order,
		messages: make(map[MessageID][]byte),
		copied:   make(map[MessageID]string),
		archive:  make(map[string][]MessageID),
		idle:     IdleResponse{Status: IdleNotified, Payload: "1 EXISTS"},
	}
	for id, raw := range msgs {
		s.messages[id] = []byte(raw)
	}
	return s
}

func (s *fakeSession) record(call string) {
	s.mu.Lock()
	s.calls = append(s.calls, call)
	s.mu.Unlock()
}

func (s *fakeSession) Authenticate(_, _ string) error {
	s.record("authenticate")
	return s.authErr
}

func (s *fakeSession) Select(folder string) error {
	s.record("select")
	s.selected = folder
	return s.selectErr
}

func (s *fakeSession) SearchAll() ([]MessageID, error) {
	s.record("search")
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	return append([]MessageID(nil), s.ids...), nil
}

func (s *fakeSession) Fetch(id MessageID) ([]byte, bool, error) {
	s.record("fetch")
	if err := s.fetchErr[id]; err != nil {
		return nil, false, err
	}
	raw := s.messages[id]
	if raw == nil {
		return nil, false, nil
	}
	return raw, true, nil
}

func (s *fakeSession) Copy(id MessageID, folder string) error {
	s.record("copy")
	if err := s.copyErr[id]; err != nil {
		return err
	}
	s.copied[id] = folder
	s.archive[folder] = append(s.archive[folder], id)
	return nil
}

func (s *fakeSession) MarkDeleted(id MessageID) error {
	s.record("flag")
	if err := s.flagErr[id]; err != nil {
		return err
	}
	s.deleted = append(s.deleted, id)
	return nil
}

// Expunge removes flagged messages from the folder, like the server does.
func (s *fakeSession) Expunge() error {
	s.record("expunge")
	s.expunges++
	if s.expungeErr != nil {
		return s.expungeErr
	}
	gone := make(map[MessageID]bool, len(s.deleted))
	for _, id := range s.deleted {
		gone[id] = true
	}
	kept := s.ids[:0:0]
	for _, id := range s.ids {
		if !gone[id] {
			kept = append(kept, id)
		}
	}
	s.ids = kept
	s.deleted = nil
	return nil
}

func (s *fakeSession) Idle(_ context.Context, timeout time.Duration) (IdleResponse, error) {
	s.record("idle")
	s.idleWait = timeout
	if s.idleErr != nil {
		return IdleResponse{}, s.idleErr
	}
	return s.idle, nil
}

func (s *fakeSession) Logout() error {
	s.record("logout")
	s.logouts++
	return s.logoutErr
}

func (s *fakeSession) count(call string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c == call {
			n++
		}
	}
	return n
}

package email

import (
	"bytes"
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// SMTPConfig holds SMTP configuration
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	SSL      bool
	StartTLS bool
	// TLSConfig overrides the TLS settings used with SSL or StartTLS.
	TLSConfig *tls.Config
}

// Forwarder relays parsed messages to a fixed set of recipients over SMTP.
type Forwarder struct {
	config SMTPConfig
	from   string
	to     []string
	now    func() time.Time
	logger Logger
}

// NewForwarder creates a Forwarder sending from the given address to the
// given recipients.
func NewForwarder(config SMTPConfig, from string, to []string) *Forwarder {
	return &Forwarder{
		config: config,
		from:   from,
		to:     to,
		now:    time.Now,
	}
}

// WithLogger sets the logger used for delivery reports.
func (f *Forwarder) WithLogger(l Logger) *Forwarder {
	f.logger = l
	return f
}

func (f *Forwarder) dial() (*smtp.Client, error) {
	tlsCfg := f.config.TLSConfig
	if tlsCfg == nil {
		tlsCfg = &tls.Config{ServerName: f.config.Host}
	}

	addr := fmt.Sprintf("%s:%d", f.config.Host, f.config.Port)

	var client *smtp.Client
	var err error
	switch {
	case f.config.SSL:
		client, err = smtp.DialTLS(addr, tlsCfg)
	case f.config.StartTLS:
		client, err = smtp.DialStartTLS(addr, tlsCfg)
	default:
		client, err = smtp.Dial(addr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SMTP server: %w", err)
	}

	if f.config.Password != "" {
		auth := sasl.NewPlainClient("", f.config.Username, f.config.Password)
		if err := client.Auth(auth); err != nil {
			client.Close()
			return nil, fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}
	return client, nil
}

// Forward sends every message in msgs over a single SMTP connection. It
// stops at the first failed delivery.
func (f *Forwarder) Forward(msgs []ParsedMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	if len(f.to) == 0 {
		return fmt.Errorf("no forward recipients configured")
	}

	client, err := f.dial()
	if err != nil {
		return err
	}
	defer client.Close()

	logger := loggerOr(f.logger)
	for _, msg := range msgs {
		buf, err := f.buildMessage(msg)
		if err != nil {
			return fmt.Errorf("failed to build message: %w", err)
		}
		if err := client.SendMail(f.from, f.to, buf); err != nil {
			return fmt.Errorf("failed to forward message from %s: %w", msg.From, err)
		}
		logger.Debug("message forwarded", "from", msg.From, "subject", msg.Subject)
	}
	return client.Quit()
}

// buildMessage composes a text/plain mail carrying msg.
func (f *Forwarder) buildMessage(msg ParsedMessage) (*bytes.Buffer, error) {
	var buf bytes.Buffer

	var header mail.Header
	header.SetDate(f.now())
	header.SetSubject("Fwd: " + msg.Subject)
	header.SetAddressList("From", []*mail.Address{{Address: f.from}})

	toAddrs := make([]*mail.Address, len(f.to))
	for i, addr := range f.to {
		toAddrs[i] = &mail.Address{Address: addr}
	}
	header.SetAddressList("To", toAddrs)
	header.Set("Message-ID", GenerateMessageID(f.from))
	if msg.From != "" {
		header.SetAddressList("Reply-To", []*mail.Address{{Address: msg.From}})
	}

	iw, err := mail.CreateInlineWriter(&buf, header)
	if err != nil {
		return nil, err
	}

	var h mail.InlineHeader
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	w, err := iw.CreatePart(h)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(w, "From: %s\r\nDate: %s\r\nSubject: %s\r\n\r\n%s\r\n", msg.From, msg.Date, msg.Subject, msg.Body)
	if err := w.Close(); err != nil {
		return nil, err
	}
	if err := iw.Close(); err != nil {
		return nil, err
	}
	return &buf, nil
}

// GenerateMessageID produces a RFC 5322 compliant Message-ID using the
// domain extracted from the sender's email address.
// Format: <timestamp.random@domain>
func GenerateMessageID(fromEmail string) string {
	domain := "localhost"
	if idx := strings.Index(fromEmail, "@"); idx >= 0 {
		domain = fromEmail[idx+1:]
	}

	b := make([]byte, 8)
	_, _ = rand.Read(b)
	randomPart := hex.EncodeToString(b)

	return fmt.Sprintf("<%d.%s@%s>", time.Now().UnixNano(), randomPart, domain)
}

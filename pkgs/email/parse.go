package email

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	gomessage "github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

var errStopWalk = errors.New("stop walk")

// ParseMessage parses raw RFC 5322 bytes. It fails with a
// *MalformedMessageError when the From or Date header is missing.
func ParseMessage(raw []byte) (ParsedMessage, error) {
	entity, err := gomessage.Read(bytes.NewReader(raw))
	if err != nil && !readable(err) {
		return ParsedMessage{}, fmt.Errorf("failed to read message: %w", err)
	}

	h := mail.Header{Header: entity.Header}
	from := headerText(h, "From")
	if from == "" {
		return ParsedMessage{}, &MalformedMessageError{Field: "From"}
	}
	date := h.Get("Date")
	if strings.TrimSpace(date) == "" {
		return ParsedMessage{}, &MalformedMessageError{Field: "Date"}
	}

	subject, err := h.Subject()
	if err != nil {
		subject = h.Get("Subject")
	}

	body, err := entityBody(entity)
	if err != nil {
		return ParsedMessage{}, err
	}

	return ParsedMessage{
		From:    bareAddress(from),
		Subject: subject,
		Date:    normalizeDate(date),
		Body:    strings.TrimSpace(body),
	}, nil
}

// entityBody returns the payload of a single-part entity, or of the first
// text part of a multipart one (depth first).
func entityBody(entity *gomessage.Entity) (string, error) {
	if entity.MultipartReader() == nil {
		b, err := io.ReadAll(entity.Body)
		if err != nil {
			return "", fmt.Errorf("failed to read body: %w", err)
		}
		return string(b), nil
	}

	var body string
	err := entity.Walk(func(_ []int, part *gomessage.Entity, err error) error {
		if err != nil && !readable(err) {
			return err
		}
		if !strings.HasPrefix(contentType(part.Header), "text") {
			return nil
		}
		b, err := io.ReadAll(part.Body)
		if err != nil {
			return fmt.Errorf("failed to read part: %w", err)
		}
		body = string(b)
		return errStopWalk
	})
	if err != nil && !errors.Is(err, errStopWalk) {
		return "", err
	}
	return body, nil
}

// readable reports whether err still leaves the entity readable. An unknown
// charset or transfer encoding leaves the body undecoded.
func readable(err error) bool {
	return gomessage.IsUnknownCharset(err) || gomessage.IsUnknownEncoding(err)
}

// contentType returns the media type of h; a part without one is text/plain.
func contentType(h gomessage.Header) string {
	if h.Get("Content-Type") == "" {
		return "text/plain"
	}
	t, _, err := h.ContentType()
	if err != nil {
		return ""
	}
	return strings.ToLower(t)
}

func headerText(h mail.Header, key string) string {
	v, err := h.Text(key)
	if err != nil {
		v = h.Get(key)
	}
	return strings.TrimSpace(v)
}

// bareAddress returns the text between the first '<' and the following '>'.
// Without angle brackets the whole value is the address.
func bareAddress(from string) string {
	i := strings.Index(from, "<")
	if i < 0 {
		return strings.TrimSpace(from)
	}
	addr := from[i+1:]
	if j := strings.Index(addr, ">"); j >= 0 {
		addr = addr[:j]
	}
	return strings.TrimSpace(addr)
}

var weekdays = map[string]bool{
	"mon": true, "tue": true, "wed": true, "thu": true,
	"fri": true, "sat": true, "sun": true,
}

// normalizeDate drops the leading weekday token and the trailing zone token
// (and any trailing comment) of an RFC 5322 date, so that
// "Mon, 3 Jun 2024 10:00:00 +0000" becomes "3 Jun 2024 10:00:00".
func normalizeDate(date string) string {
	fields := strings.Fields(date)

	if len(fields) > 0 {
		first := fields[0]
		if strings.HasSuffix(first, ",") || (len(first) >= 3 && weekdays[strings.ToLower(first[:3])] && isLetters(first)) {
			fields = fields[1:]
		}
	}

	// "(UTC)" and multi-word comments like "(Pacific Standard Time)"
	if n := len(fields); n > 0 && strings.HasSuffix(fields[n-1], ")") {
		for i := n - 1; i >= 0; i-- {
			if strings.HasPrefix(fields[i], "(") {
				fields = fields[:i]
				break
			}
		}
	}

	if n := len(fields); n > 0 && isZone(fields[n-1]) {
		fields = fields[:n-1]
	}

	return strings.Join(fields, " ")
}

// isZone reports whether tok is a numeric offset ("+0000", "-0700") or an
// alphabetic zone name ("GMT", "UT", "EST").
func isZone(tok string) bool {
	if len(tok) == 5 && (tok[0] == '+' || tok[0] == '-') {
		for _, c := range tok[1:] {
			if c < '0' || c > '9' {
				return false
			}
		}
		return true
	}
	return len(tok) <= 5 && isLetters(tok) && strings.ToUpper(tok) == tok
}

func isLetters(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') {
			return false
		}
	}
	return true
}

package email

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/jhillyerd/enmime/v2"
)

// EnmimeParser is an alternative Parser built on enmime. It follows the same
// contract as DefaultParser.
var EnmimeParser Parser = ParserFunc(parseEnmime)

func parseEnmime(raw []byte) (ParsedMessage, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return ParsedMessage{}, fmt.Errorf("failed to read message: %w", err)
	}

	from := strings.TrimSpace(env.GetHeader("From"))
	if from == "" {
		return ParsedMessage{}, &MalformedMessageError{Field: "From"}
	}
	date := strings.TrimSpace(env.GetHeader("Date"))
	if date == "" {
		return ParsedMessage{}, &MalformedMessageError{Field: "Date"}
	}

	return ParsedMessage{
		From:    bareAddress(from),
		Subject: env.GetHeader("Subject"),
		Date:    normalizeDate(date),
		Body:    strings.TrimSpace(enmimeBody(env.Root)),
	}, nil
}

func enmimeBody(root *enmime.Part) string {
	if root == nil {
		return ""
	}
	if root.FirstChild == nil {
		return string(root.Content)
	}
	body, _ := firstTextPart(root)
	return body
}

func firstTextPart(p *enmime.Part) (string, bool) {
	for c := p.FirstChild; c != nil; c = c.NextSibling {
		if c.FirstChild != nil {
			if body, ok := firstTextPart(c); ok {
				return body, true
			}
			continue
		}
		ct := strings.ToLower(c.ContentType)
		if ct == "" || strings.HasPrefix(ct, "text") {
			return string(c.Content), true
		}
	}
	return "", false
}

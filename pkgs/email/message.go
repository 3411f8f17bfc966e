package email

// ParsedMessage is the structured form of one retrieved message.
type ParsedMessage struct {
	// From is the bare sender address, without display name.
	From    string `json:"from"`
	Subject string `json:"subject"`
	// Date is the Date header without weekday and zone, e.g. "3 Jun 2024 10:00:00".
	Date string `json:"date"`
	// Body is the first text part of the message, whitespace trimmed.
	Body string `json:"body"`
}

// Parser converts a raw RFC 5322 message into a ParsedMessage.
type Parser interface {
	Parse(raw []byte) (ParsedMessage, error)
}

// ParserFunc adapts an ordinary function to the Parser interface.
type ParserFunc func(raw []byte) (ParsedMessage, error)

// Parse calls f(raw).
func (f ParserFunc) Parse(raw []byte) (ParsedMessage, error) {
	return f(raw)
}

// DefaultParser is the reference Parser, built on go-message.
var DefaultParser Parser = ParserFunc(ParseMessage)

// ParserByName returns the Parser registered under name: "message" (or "")
// for DefaultParser and "enmime" for EnmimeParser.
func ParserByName(name string) (Parser, bool) {
	switch name {
	case "", "message":
		return DefaultParser, true
	case "enmime":
		return EnmimeParser, true
	default:
		return nil, false
	}
}

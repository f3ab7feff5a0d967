// Package protocol defines the newline-delimited text records exchanged
// between relay clients and the server, together with the framing and
// size rules every transport enforces.
package protocol

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// MaxLen is the maximum size of an encoded record, including the
// trailing newline.
const MaxLen = 255

// Recognized message tags.
const (
	TagErr      = "err"
	TagOK       = "ok"
	TagSLogin   = "slogin"
	TagRLogin   = "rlogin"
	TagJoin     = "join"
	TagLeave    = "leave"
	TagSendAll  = "sendall"
	TagSendUser = "senduser" // reserved
	TagQuit     = "quit"
	TagDelivery = "delivery"
	TagEmpty    = "empty" // reserved
)

// Protocol errors. Every framing or size violation wraps ErrInvalidMessage.
var (
	ErrInvalidMessage   = errors.New("invalid message")
	ErrMissingSeparator = fmt.Errorf("%w: missing ':' separator", ErrInvalidMessage)
	ErrTooLong          = fmt.Errorf("%w: encoded record exceeds %d bytes", ErrInvalidMessage, MaxLen)
	ErrInvalidTag       = fmt.Errorf("%w: tag is empty or contains reserved characters", ErrInvalidMessage)
	ErrInvalidData      = fmt.Errorf("%w: data contains a line break", ErrInvalidMessage)
)

// Message is a single tagged record. Messages are plain values and are
// copied, never shared, across goroutines.
type Message struct {
	Tag  string
	Data string
}

// New is shorthand for constructing a Message.
func New(tag, data string) Message {
	return Message{Tag: tag, Data: data}
}

// Encode renders the message as tag ":" data "\n". It does not enforce
// MaxLen; callers transmitting the result must check the length or use
// Validate first.
func (m Message) Encode() []byte {
	buf := make([]byte, 0, len(m.Tag)+len(m.Data)+2)
	buf = append(buf, m.Tag...)
	buf = append(buf, ':')
	buf = append(buf, m.Data...)
	buf = append(buf, '\n')
	return buf
}

// EncodedLen returns the length Encode would produce.
func (m Message) EncodedLen() int {
	return len(m.Tag) + len(m.Data) + 2
}

// String implements fmt.Stringer without the trailing newline.
func (m Message) String() string {
	return m.Tag + ":" + m.Data
}

// Validate reports whether the message can be framed safely and fits
// within MaxLen once encoded.
func (m Message) Validate() error {
	if m.Tag == "" || strings.ContainsFunc(m.Tag, func(r rune) bool {
		return r == ':' || unicode.IsControl(r)
	}) {
		return ErrInvalidTag
	}
	if strings.ContainsAny(m.Data, "\r\n") {
		return ErrInvalidData
	}
	if m.EncodedLen() > MaxLen {
		return ErrTooLong
	}
	return nil
}

// Decode parses one raw record. Only the first ':' separates tag from
// data; trailing '\n' and '\r' characters are stripped from the data.
func Decode(line string) (Message, error) {
	tag, data, ok := strings.Cut(line, ":")
	if !ok {
		return Message{}, ErrMissingSeparator
	}
	return Message{Tag: tag, Data: strings.TrimRight(data, "\r\n")}, nil
}

// Is reports whether the message carries the given tag.
func (m Message) Is(tag string) bool {
	return m.Tag == tag
}

package protocol

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxNameLength bounds usernames and room names.
const MaxNameLength = 64

// Name validation errors.
var (
	ErrNameEmpty   = errors.New("name cannot be empty")
	ErrNameTooLong = errors.New("name exceeds maximum length")
	ErrNameInvalid = errors.New("name contains invalid characters")
	ErrBadDelivery = errors.New("malformed delivery payload")
)

// Delivery is the decoded payload of a delivery record.
type Delivery struct {
	Room   string
	Sender string
	Text   string
}

// DeliveryPayload builds the room:sender:text payload carried by
// delivery records.
func DeliveryPayload(room, sender, text string) string {
	return room + ":" + sender + ":" + text
}

// NewDelivery builds a complete delivery record.
func NewDelivery(room, sender, text string) Message {
	return Message{Tag: TagDelivery, Data: DeliveryPayload(room, sender, text)}
}

// ParseDelivery splits a delivery payload. The text may itself contain
// colons; room and sender may not.
func ParseDelivery(data string) (Delivery, error) {
	room, rest, ok := strings.Cut(data, ":")
	if !ok {
		return Delivery{}, ErrBadDelivery
	}
	sender, text, ok := strings.Cut(rest, ":")
	if !ok {
		return Delivery{}, ErrBadDelivery
	}
	return Delivery{Room: room, Sender: sender, Text: text}, nil
}

// ValidateName checks a username or room name. Names end up inside
// delivery payloads, so they must not contain the ':' separator.
func ValidateName(name string) error {
	if name == "" {
		return ErrNameEmpty
	}
	if len(name) > MaxNameLength {
		return ErrNameTooLong
	}
	if !utf8.ValidString(name) || strings.ContainsFunc(name, func(r rune) bool {
		return r == ':' || unicode.IsControl(r)
	}) {
		return ErrNameInvalid
	}
	return nil
}

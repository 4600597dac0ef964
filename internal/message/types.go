// Package message decodes forwarded messages: an outer envelope whose single
// attachment carries the original message as it was received.
package message

import (
	"errors"
	"strings"
)

// ErrMalformedMessage is returned when bytes cannot be decoded as a message of
// the expected shape.
var ErrMalformedMessage = errors.New("malformed message")

// Attachment is one attachment part of a message, fully decoded.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Envelope is the outer forwarding message.
type Envelope struct {
	Subject  string
	Original Attachment
}

// OriginalMessage is the embedded message carried by an Envelope.
type OriginalMessage struct {
	From        string
	To          []string
	Cc          string
	Bcc         string
	Subject     string
	Text        string
	HTML        string
	MessageID   string
	InReplyTo   string
	Attachments []Attachment

	// Raw is the undecoded source of the message.
	Raw []byte
}

// Recipient returns the first To address, or "" if there is none.
func (m *OriginalMessage) Recipient() string {
	if len(m.To) == 0 {
		return ""
	}
	return m.To[0]
}

// LocalPart returns the part of an address before the last '@'.
func LocalPart(address string) string {
	if i := strings.LastIndex(address, "@"); i >= 0 {
		return address[:i]
	}
	return address
}

package message

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	netmail "net/mail"
	"strings"

	gomessage "github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"

	"github.com/jarrod-lowe/inbound-mail-sync/internal/charset"
	"github.com/jarrod-lowe/inbound-mail-sync/internal/htmlstrip"
)

// wordDecoder decodes RFC 2047 header words. go-message's global charset
// hook stays unset so attachment bodies are never transcoded.
var wordDecoder = &mime.WordDecoder{CharsetReader: charset.Reader}

// Extract decodes raw as an envelope and then decodes the message it carries.
func Extract(raw []byte) (*OriginalMessage, error) {
	env, err := DecodeEnvelope(raw)
	if err != nil {
		return nil, err
	}
	return DecodeOriginal(env.Original.Data)
}

// DecodeEnvelope decodes the outer message. It must carry exactly one
// attachment; parts of type message/rfc822 count as attachments whatever
// their disposition.
func DecodeEnvelope(raw []byte) (*Envelope, error) {
	mr, err := openReader(raw)
	if err != nil {
		return nil, err
	}

	env := &Envelope{Subject: subject(mr.Header)}
	var found []Attachment
	err = walkParts(mr, func(p *mail.Part) error {
		att, ok, err := readAttachment(p, true)
		if err != nil {
			return err
		}
		if ok {
			found = append(found, att)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(found) != 1 {
		return nil, fmt.Errorf("%w: envelope carries %d attachments, want 1", ErrMalformedMessage, len(found))
	}
	env.Original = found[0]
	return env, nil
}

// DecodeOriginal decodes the embedded message. The first unnamed text/plain
// and text/html inline parts become the bodies, converted to UTF-8. Every
// other part that is named, has a Content-Id or is not text is kept in order
// as an attachment with its bytes untouched. A message with no text body gets
// one derived from its HTML.
func DecodeOriginal(raw []byte) (*OriginalMessage, error) {
	mr, err := openReader(raw)
	if err != nil {
		return nil, err
	}

	msg := &OriginalMessage{
		Subject:   subject(mr.Header),
		MessageID: strings.TrimSpace(mr.Header.Get("Message-Id")),
		InReplyTo: strings.TrimSpace(mr.Header.Get("In-Reply-To")),
		Raw:       raw,
	}

	from, err := addressList(mr.Header, "From")
	if err != nil {
		return nil, err
	}
	if len(from) > 0 {
		msg.From = from[0].Address
	}

	to, err := addressList(mr.Header, "To")
	if err != nil {
		return nil, err
	}
	for _, a := range to {
		msg.To = append(msg.To, a.Address)
	}

	cc, err := addressList(mr.Header, "Cc")
	if err != nil {
		return nil, err
	}
	msg.Cc = formatList(cc)

	bcc, err := addressList(mr.Header, "Bcc")
	if err != nil {
		return nil, err
	}
	msg.Bcc = formatList(bcc)

	if msg.MessageID == "" {
		return nil, fmt.Errorf("%w: missing Message-Id", ErrMalformedMessage)
	}
	if msg.Recipient() == "" {
		return nil, fmt.Errorf("%w: missing recipient", ErrMalformedMessage)
	}

	err = walkParts(mr, func(p *mail.Part) error {
		att, ok, err := readAttachment(p, false)
		if err != nil {
			return err
		}
		if ok {
			msg.Attachments = append(msg.Attachments, att)
			return nil
		}

		h, isInline := p.Header.(*mail.InlineHeader)
		if !isInline {
			return nil
		}
		ct, params, err := h.ContentType()
		if err != nil {
			ct = "text/plain"
		}
		name := filename(&h.Header)
		contentID := h.Get("Content-Id")

		switch {
		case name == "" && ct == "text/html" && msg.HTML == "":
			msg.HTML, err = readText(p, params["charset"])
			return err
		case name == "" && ct == "text/plain" && msg.Text == "":
			msg.Text, err = readText(p, params["charset"])
			return err
		case name != "" || contentID != "" || (ct != "text/plain" && ct != "text/html"):
			att, err := readPart(p, ct, name)
			if err != nil {
				return err
			}
			msg.Attachments = append(msg.Attachments, att)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if msg.Text == "" && msg.HTML != "" {
		msg.Text = htmlstrip.Text(msg.HTML)
	}
	return msg, nil
}

func openReader(raw []byte) (*mail.Reader, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("%w: empty message", ErrMalformedMessage)
	}
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !gomessage.IsUnknownCharset(err) {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if mr == nil {
		return nil, fmt.Errorf("%w: unreadable message", ErrMalformedMessage)
	}
	return mr, nil
}

// walkParts calls fn for every leaf part of the message.
func walkParts(mr *mail.Reader, fn func(*mail.Part) error) error {
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			return nil
		}
		if err != nil && !(p != nil && gomessage.IsUnknownCharset(err)) {
			return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		if err := fn(p); err != nil {
			return err
		}
	}
}

// readAttachment reads p if it is an attachment. Inline message/rfc822 parts
// are attachments only when inlineMessages is set.
func readAttachment(p *mail.Part, inlineMessages bool) (Attachment, bool, error) {
	switch h := p.Header.(type) {
	case *mail.AttachmentHeader:
		ct, _, err := h.ContentType()
		if err != nil {
			ct = ""
		}
		att, err := readPart(p, ct, filename(&h.Header))
		return att, err == nil, err
	case *mail.InlineHeader:
		ct, _, _ := h.ContentType()
		if !inlineMessages || ct != "message/rfc822" {
			return Attachment{}, false, nil
		}
		att, err := readPart(p, ct, filename(&h.Header))
		return att, err == nil, err
	}
	return Attachment{}, false, nil
}

// readPart reads the transfer-decoded bytes of p unchanged.
func readPart(p *mail.Part, ct, name string) (Attachment, error) {
	data, err := io.ReadAll(p.Body)
	if err != nil {
		return Attachment{}, fmt.Errorf("%w: read attachment %q: %v", ErrMalformedMessage, name, err)
	}
	if ct == "" {
		ct = "application/octet-stream"
	}
	return Attachment{Filename: name, ContentType: ct, Data: data}, nil
}

// readText reads a body part and converts it from its declared charset to
// UTF-8. Unknown charsets are read as UTF-8 with the Latin-1 fallback.
func readText(p *mail.Part, cs string) (string, error) {
	data, err := io.ReadAll(p.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read body: %v", ErrMalformedMessage, err)
	}
	r, err := charset.Reader(cs, bytes.NewReader(data))
	if err != nil {
		r, err = charset.Reader("", bytes.NewReader(data))
		if err != nil {
			return "", fmt.Errorf("%w: decode body: %v", ErrMalformedMessage, err)
		}
	}
	text, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("%w: decode body: %v", ErrMalformedMessage, err)
	}
	return string(text), nil
}

// filename returns the part's filename from Content-Disposition, falling back
// to the Content-Type name parameter.
func filename(h *gomessage.Header) string {
	_, params, _ := h.ContentDisposition()
	name := params["filename"]
	if name == "" {
		_, params, _ = h.ContentType()
		name = params["name"]
	}
	return decodeWords(name)
}

func decodeWords(s string) string {
	if !strings.Contains(s, "=?") {
		return s
	}
	decoded, err := wordDecoder.DecodeHeader(s)
	if err != nil {
		return s
	}
	return decoded
}

func subject(h mail.Header) string {
	return decodeWords(h.Get("Subject"))
}

func addressList(h mail.Header, key string) ([]*netmail.Address, error) {
	v := h.Get(key)
	if v == "" {
		return nil, nil
	}
	parser := netmail.AddressParser{WordDecoder: wordDecoder}
	list, err := parser.ParseList(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %s header: %v", ErrMalformedMessage, key, err)
	}
	return list, nil
}

func formatList(list []*netmail.Address) string {
	parts := make([]string, 0, len(list))
	for _, a := range list {
		parts = append(parts, a.String())
	}
	return strings.Join(parts, ", ")
}

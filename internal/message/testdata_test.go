package message

import (
	"encoding/base64"
	"strings"
)

// originalPDF is the forwarded original: one text body and one PDF attachment.
const originalPDF = "MIME-Version: 1.0\r\n" +
	"From: Bob Sender <bob@example.org>\r\n" +
	"To: Alice <alice@example.com>\r\n" +
	"Cc: Carol <carol@example.com>, dave@example.com\r\n" +
	"Subject: =?utf-8?q?Quarterly_report_=E2=80=93_Q1?=\r\n" +
	"Message-Id: <abc123@mail.example.org>\r\n" +
	"In-Reply-To: <prev@mail.example.org>\r\n" +
	"Content-Type: multipart/mixed; boundary=\"ORIG\"\r\n" +
	"\r\n" +
	"--ORIG\r\n" +
	"Content-Type: multipart/alternative; boundary=\"ALT\"\r\n" +
	"\r\n" +
	"--ALT\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Please find the report attached.\r\n" +
	"--ALT\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<p>Please find the report attached.</p>\r\n" +
	"--ALT--\r\n" +
	"--ORIG\r\n" +
	"Content-Type: application/pdf\r\n" +
	"Content-Disposition: attachment; filename=\"report.pdf\"\r\n" +
	"Content-Transfer-Encoding: base64\r\n" +
	"\r\n" +
	"JVBERi0xLjQKJcOkw7zDtsOf\r\n" +
	"--ORIG--\r\n"

// originalHTMLOnly has an HTML body in a legacy charset and no text part.
const originalHTMLOnly = "MIME-Version: 1.0\r\n" +
	"From: shop@example.net\r\n" +
	"To: orders@example.com\r\n" +
	"Subject: Receipt\r\n" +
	"Message-Id: <r-1@example.net>\r\n" +
	"Content-Type: text/html; charset=iso-8859-1\r\n" +
	"Content-Transfer-Encoding: quoted-printable\r\n" +
	"\r\n" +
	"<p>Caf=E9 order</p><p>Total: 4</p>\r\n"

// wrap builds an outer envelope carrying inner as a message/rfc822 attachment.
func wrap(inner string) []byte {
	encoded := base64.StdEncoding.EncodeToString([]byte(inner))
	var lines []string
	for len(encoded) > 76 {
		lines = append(lines, encoded[:76])
		encoded = encoded[76:]
	}
	lines = append(lines, encoded)

	return []byte("MIME-Version: 1.0\r\n" +
		"From: forwarder@example.com\r\n" +
		"To: inbound@example.com\r\n" +
		"Subject: Fwd: original\r\n" +
		"Content-Type: multipart/mixed; boundary=\"OUTER\"\r\n" +
		"\r\n" +
		"--OUTER\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"Forwarded as attachment.\r\n" +
		"--OUTER\r\n" +
		"Content-Type: message/rfc822; name=\"original.eml\"\r\n" +
		"Content-Disposition: attachment; filename=\"original.eml\"\r\n" +
		"Content-Transfer-Encoding: base64\r\n" +
		"\r\n" +
		strings.Join(lines, "\r\n") + "\r\n" +
		"--OUTER--\r\n")
}

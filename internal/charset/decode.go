// Package charset converts MIME text parts in legacy character sets to UTF-8.
package charset

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"
)

// aliases covers labels seen in real mail that neither index resolves.
var aliases = map[string]encoding.Encoding{
	"latin1":      charmap.ISO8859_1,
	"latin-1":     charmap.ISO8859_1,
	"cp1252":      charmap.Windows1252,
	"x-mac-roman": charmap.Macintosh,
}

// Reader returns a reader producing UTF-8 from input encoded in charset.
// Its signature matches mime.WordDecoder.CharsetReader.
//
// UTF-8 and ASCII input is validated and falls back to Latin-1 when it holds
// invalid bytes, since mislabelled Latin-1 is far more common than real
// corruption.
func Reader(charset string, input io.Reader) (io.Reader, error) {
	name := strings.ToLower(strings.TrimSpace(charset))
	switch name {
	case "", "utf-8", "utf8", "us-ascii", "ascii":
		return validatedUTF8(input)
	}

	enc, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	return transform.NewReader(input, enc.NewDecoder()), nil
}

// Lookup resolves a charset label to an encoding.
func Lookup(name string) (encoding.Encoding, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if enc, ok := aliases[name]; ok {
		return enc, nil
	}
	if enc, err := htmlindex.Get(name); err == nil && enc != nil {
		return enc, nil
	}
	enc, err := ianaindex.MIME.Encoding(name)
	if err != nil || enc == nil {
		return nil, fmt.Errorf("unsupported charset %q", name)
	}
	return enc, nil
}

func validatedUTF8(r io.Reader) (io.Reader, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if utf8.Valid(content) {
		return bytes.NewReader(content), nil
	}
	decoded, _, err := transform.Bytes(charmap.ISO8859_1.NewDecoder(), content)
	if err != nil {
		return bytes.NewReader(content), nil
	}
	return bytes.NewReader(decoded), nil
}

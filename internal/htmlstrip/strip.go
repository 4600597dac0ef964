// Package htmlstrip derives a plain text body from an HTML body.
package htmlstrip

import (
	"strings"

	"golang.org/x/net/html"
)

var skipElements = map[string]bool{
	"head":     true,
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
}

// lineElements end the current line.
var lineElements = map[string]bool{
	"div": true, "li": true, "tr": true, "ul": true, "ol": true,
	"section": true, "article": true, "header": true, "footer": true, "hr": true,
}

// paragraphElements are followed by a blank line.
var paragraphElements = map[string]bool{
	"p": true, "h1": true, "h2": true, "h3": true, "h4": true, "h5": true,
	"h6": true, "blockquote": true, "pre": true, "table": true,
}

// Text converts an HTML document to plain text. Block elements and <br> become
// line breaks, runs of inline whitespace collapse to one space, and the
// content of script, style and head elements is dropped.
func Text(doc string) string {
	z := html.NewTokenizer(strings.NewReader(doc))
	w := &lineWriter{}
	skip := 0

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return w.String()

		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if skipElements[tag] {
				if tt == html.StartTagToken {
					skip++
				}
				continue
			}
			if skip > 0 {
				continue
			}
			switch {
			case tag == "br" || lineElements[tag]:
				w.newline()
			case paragraphElements[tag]:
				w.paragraph()
			case tag == "td" || tag == "th":
				w.space()
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if skipElements[tag] {
				if skip > 0 {
					skip--
				}
				continue
			}
			if skip > 0 {
				continue
			}
			switch {
			case lineElements[tag]:
				w.newline()
			case paragraphElements[tag]:
				w.paragraph()
			}

		case html.TextToken:
			if skip == 0 {
				w.text(string(z.Text()))
			}
		}
	}
}

// lineWriter accumulates words into lines.
type lineWriter struct {
	out       strings.Builder
	line      strings.Builder
	pendSpace bool
}

func (w *lineWriter) text(s string) {
	if s == "" {
		return
	}
	if isSpace(s[0]) {
		w.pendSpace = true
	}
	for i, f := range strings.Fields(s) {
		if (i > 0 || w.pendSpace) && w.line.Len() > 0 {
			w.line.WriteByte(' ')
		}
		w.line.WriteString(f)
		w.pendSpace = false
	}
	if isSpace(s[len(s)-1]) {
		w.pendSpace = true
	}
}

func (w *lineWriter) space() {
	w.pendSpace = true
}

func (w *lineWriter) newline() {
	w.pendSpace = false
	if w.line.Len() == 0 {
		return
	}
	w.out.WriteString(w.line.String())
	w.out.WriteByte('\n')
	w.line.Reset()
}

func (w *lineWriter) paragraph() {
	w.newline()
	s := w.out.String()
	if s != "" && !strings.HasSuffix(s, "\n\n") {
		w.out.WriteByte('\n')
	}
}

func (w *lineWriter) String() string {
	w.newline()
	return strings.TrimSpace(w.out.String())
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f'
}

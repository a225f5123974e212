// Package encoding provides shared text encoding and escaping utilities.
package encoding

import (
	"bytes"
	"encoding/xml"
	"strings"
)

// EscapeXML escapes special characters for XML content.
// Uses the standard library's xml.EscapeText for proper escaping.
func EscapeXML(s string) string {
	var buf bytes.Buffer
	xml.EscapeText(&buf, []byte(s))
	return buf.String()
}

// EscapeXMLText escapes only the basic XML entities for text content.
// This is a lighter-weight alternative to EscapeXML.
func EscapeXMLText(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

// EscapeXMLAttr escapes text for use in XML attributes.
// Includes quote escaping in addition to basic XML entities.
func EscapeXMLAttr(s string) string {
	s = EscapeXMLText(s)
	s = strings.ReplaceAll(s, "\"", "&quot;")
	return s
}

// NeedsAngleDestination reports whether a link destination would break the
// plain [text](dest) form and must be rendered in angle brackets instead.
func NeedsAngleDestination(dest string) bool {
	if dest == "" {
		return false
	}
	depth := 0
	for _, r := range dest {
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r < 0x20:
			return true
		case r == '(':
			depth++
		case r == ')':
			depth--
			if depth < 0 {
				return true
			}
		}
	}
	return depth != 0
}

// EscapeAngleDestination encodes a destination for the <dest> form: angle
// brackets and newlines become percent escapes so the closing bracket
// stays unambiguous.
func EscapeAngleDestination(dest string) string {
	r := strings.NewReplacer(
		"<", "%3C",
		">", "%3E",
		"\n", "%0A",
	)
	return r.Replace(dest)
}

// UnescapeAngleDestination reverses EscapeAngleDestination.
func UnescapeAngleDestination(dest string) string {
	r := strings.NewReplacer(
		"%3C", "<",
		"%3E", ">",
		"%0A", "\n",
	)
	return r.Replace(dest)
}

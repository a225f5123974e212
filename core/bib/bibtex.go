// Package bib parses bracketed bibliography files and resolves citation
// keys against them. Entries may carry two custom fields, a stable item
// key and a dereferenceable URI, which let the resolver reconstruct
// provenance-rich citation fields that compatible reference managers can
// re-resolve later.
package bib

import (
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"

	"github.com/markweave/markweave/core/errors"
)

// Field names recognized for external-reference reconstruction.
const (
	// FieldItemKey is the stable item key assigned by the reference
	// manager (e.g. a Zotero item key).
	FieldItemKey = "zoterokey"

	// FieldURI is the dereferenceable URI of the entry.
	FieldURI = "zoterouri"
)

// Entry is one bibliography entry.
type Entry struct {
	// Type is the entry type (article, book, ...), lowercased.
	Type string `json:"type"`

	// Key is the citation key.
	Key string `json:"key"`

	// Fields maps lowercased field names to their unwrapped values.
	Fields map[string]string `json:"fields"`
}

// Field returns the named field value, or "".
func (e *Entry) Field(name string) string {
	return e.Fields[strings.ToLower(name)]
}

// ItemKey returns the stable external item key, or "".
func (e *Entry) ItemKey() string { return e.Field(FieldItemKey) }

// URI returns the dereferenceable external URI, or "".
func (e *Entry) URI() string { return e.Field(FieldURI) }

// HasProvenance reports whether the entry carries both external-reference
// fields needed for structured citation reconstruction.
func (e *Entry) HasProvenance() bool {
	return e.ItemKey() != "" && e.URI() != ""
}

// Library is a parsed bibliography, indexed by citation key.
type Library struct {
	entries map[string]*Entry
	order   []string
}

// Lookup returns the entry for a citation key, or nil.
func (l *Library) Lookup(key string) *Entry {
	if l == nil {
		return nil
	}
	return l.entries[key]
}

// Len returns the number of entries.
func (l *Library) Len() int {
	if l == nil {
		return 0
	}
	return len(l.entries)
}

// Keys returns the citation keys in file order.
func (l *Library) Keys() []string {
	if l == nil {
		return nil
	}
	return append([]string(nil), l.order...)
}

// entryBody is the participle grammar for the inside of one entry:
// the citation key followed by comma-separated field assignments.
// Example body: smith2020, author = {Smith, John}, year = 2020
//
//nolint:govet // participle grammar tags are not standard struct tags
type entryBody struct {
	Key    string          `parser:"@( Ident | Number )"`
	Fields []*fieldGrammar `parser:"( \",\" @@? )*"`
}

//nolint:govet // participle grammar tags are not standard struct tags
type fieldGrammar struct {
	Name  string `parser:"@Ident \"=\""`
	Value string `parser:"@( Braced | Quoted | Number | Ident )"`
}

// bodyLexer tokenizes an entry body. Braced values support two levels of
// nested braces, which covers the usual protected-case and name-list
// payloads.
var bodyLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Braced", Pattern: `\{(?:[^{}]|\{(?:[^{}]|\{[^{}]*\})*\})*\}`},
	{Name: "Quoted", Pattern: `"[^"]*"`},
	{Name: "Number", Pattern: `[0-9]+`},
	{Name: "Ident", Pattern: `[A-Za-z][A-Za-z0-9_:.+/-]*`},
	{Name: "Punct", Pattern: `[,=]`},
	{Name: "Whitespace", Pattern: `\s+`},
})

var bodyParser = participle.MustBuild[entryBody](
	participle.Lexer(bodyLexer),
	participle.Elide("Whitespace"),
)

// Parse parses bibliography source into a Library. The outer scan finds
// each @type{...} block with balanced braces; the participle grammar
// parses the block body. Text between entries (including % comments) is
// ignored, matching the usual bibliography file conventions.
func Parse(data []byte) (*Library, error) {
	src := string(data)
	lib := &Library{entries: make(map[string]*Entry)}

	for i := 0; i < len(src); i++ {
		if src[i] != '@' {
			continue
		}
		typ, bodyStart := scanEntryType(src, i+1)
		if typ == "" {
			continue
		}
		body, next, ok := scanBracedBody(src, bodyStart)
		if !ok {
			return nil, errors.NewParse("BibTeX", "", "unbalanced braces in entry body")
		}
		if strings.EqualFold(typ, "comment") || strings.EqualFold(typ, "preamble") {
			i = next - 1
			continue
		}

		parsed, err := bodyParser.ParseString("", strings.TrimSpace(body))
		if err != nil {
			return nil, errors.NewParse("BibTeX", "", err.Error())
		}

		entry := &Entry{
			Type:   strings.ToLower(typ),
			Key:    parsed.Key,
			Fields: make(map[string]string),
		}
		for _, f := range parsed.Fields {
			if f == nil {
				continue
			}
			entry.Fields[strings.ToLower(f.Name)] = unwrapValue(f.Value)
		}
		if _, dup := lib.entries[entry.Key]; !dup {
			lib.order = append(lib.order, entry.Key)
		}
		lib.entries[entry.Key] = entry
		i = next - 1
	}
	return lib, nil
}

// scanEntryType reads the entry type following "@" and returns it along
// with the index of the opening brace. Returns "" when no well-formed
// type/brace pair follows.
func scanEntryType(src string, i int) (string, int) {
	start := i
	for i < len(src) && (isAlpha(src[i]) || src[i] == '_') {
		i++
	}
	typ := src[start:i]
	for i < len(src) && (src[i] == ' ' || src[i] == '\t' || src[i] == '\n' || src[i] == '\r') {
		i++
	}
	if typ == "" || i >= len(src) || src[i] != '{' {
		return "", 0
	}
	return typ, i
}

// scanBracedBody returns the text between the brace at src[open] and its
// balanced closing brace, plus the index just past the close.
func scanBracedBody(src string, open int) (string, int, bool) {
	depth := 0
	for i := open; i < len(src); i++ {
		switch src[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return src[open+1 : i], i + 1, true
			}
		}
	}
	return "", 0, false
}

func isAlpha(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// unwrapValue strips one layer of braces or quotes and collapses internal
// whitespace runs to single spaces.
func unwrapValue(v string) string {
	v = strings.TrimSpace(v)
	if len(v) >= 2 {
		if v[0] == '{' && v[len(v)-1] == '}' {
			v = v[1 : len(v)-1]
		} else if v[0] == '"' && v[len(v)-1] == '"' {
			v = v[1 : len(v)-1]
		}
	}
	return strings.Join(strings.Fields(v), " ")
}

// Package metadata implements the side-channel codec that stores
// string-keyed values inside the package's custom document-properties
// part. The part has no rendering effect, which makes it a safe carrier
// for information the package format cannot natively express: exact
// inter-group blank-line counts, citation provenance, syntax-variant
// flags, and the source fingerprint.
package metadata

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/ulikunitz/xz"

	"github.com/markweave/markweave/core/encoding"
	"github.com/markweave/markweave/core/errors"
)

// PartName is the package path of the custom-properties part.
const PartName = "docProps/custom.xml"

// ContentType is the declared content type of the custom-properties part.
const ContentType = "application/vnd.openxmlformats-officedocument.custom-properties+xml"

// maxValueLen is the per-entry value limit. Word truncates custom
// property strings around 255 characters, so anything longer is
// compressed and chunked across numbered entries.
const maxValueLen = 255

// compressedPrefix marks a chunked payload as xz-compressed base64.
const compressedPrefix = "xz64:"

// Namespaced key schema. Each concern owns its own prefix so the two
// independently-implemented walks (generation and extraction) agree on
// the wire contract without sharing code.
const (
	keyPrefix = "markweave."

	// keyGroupCount holds the number of blockquote/alert groups.
	keyGroupCount = keyPrefix + "group.count"

	// keyGap holds the blank-line count following group N.
	keyGapFmt = keyPrefix + "gap.%d"

	// keyCite holds the key/locator provenance for citation N.
	keyCiteFmt = keyPrefix + "cite.%d"

	// keyVariant holds a syntax-variant flag by name.
	keyVariantFmt = keyPrefix + "variant.%s"

	// keySourceHash holds the fingerprint of the dialect source.
	keySourceHash = keyPrefix + "source.hash"
)

// GapKey returns the codec key recording the blank-line count between
// group index and its successor.
func GapKey(index int) string { return fmt.Sprintf(keyGapFmt, index) }

// CiteKey returns the codec key for citation provenance entry n.
func CiteKey(n int) string { return fmt.Sprintf(keyCiteFmt, n) }

// VariantKey returns the codec key for a named syntax-variant flag.
func VariantKey(name string) string { return fmt.Sprintf(keyVariantFmt, name) }

// GroupCountKey returns the codec key holding the group count.
func GroupCountKey() string { return keyGroupCount }

// GroupLenKey returns the codec key holding the paragraph count of
// group index. Extraction uses it to split adjacent same-type groups
// that the package format renders identically.
func GroupLenKey(index int) string {
	return fmt.Sprintf(keyPrefix+"group.%d.len", index)
}

// CommentLabelKey returns the codec key holding the explicit dialect
// range label of comment id.
func CommentLabelKey(id int) string {
	return fmt.Sprintf(keyPrefix+"comment.%d.label", id)
}

// SourceHashKey returns the codec key holding the source fingerprint.
func SourceHashKey() string { return keySourceHash }

// UnresolvedCiteKey returns the codec key holding the literal bracket
// text of the n-th unresolved citation, so extraction can tell it apart
// from escaped bracket prose.
func UnresolvedCiteKey(n int) string {
	return fmt.Sprintf(keyPrefix+"ucite.%d", n)
}

// VariantName extracts the variant flag name from a codec key, for
// walking all recorded variants.
func VariantName(key string) (string, bool) {
	return strings.CutPrefix(key, keyPrefix+"variant.")
}

// VariantSeqKey returns the codec key holding the per-occurrence
// spelling sequence of a variant construct, comma-joined in document
// order.
func VariantSeqKey(name string) string {
	return keyPrefix + "variants." + name
}

// VariantSeqName extracts the variant name from a per-occurrence
// sequence key.
func VariantSeqName(key string) (string, bool) {
	return strings.CutPrefix(key, keyPrefix+"variants.")
}

// ParaGapKey returns the codec key holding the blank-line count before
// paragraph n, stored only when it differs from the structural default.
func ParaGapKey(n int) string {
	return fmt.Sprintf(keyPrefix+"pgap.%d", n)
}

// TrailingGapKey returns the codec key holding the blank-line count
// after the final paragraph.
func TrailingGapKey() string { return keyPrefix + "tgap" }

// EscapesKey returns the codec key holding the comma-joined text-stream
// offsets of backslash-escaped source characters.
func EscapesKey() string { return keyPrefix + "escapes" }

// AuthorKey returns the codec key holding the default identity used at
// generation time, so extraction renders comments and revisions with the
// same attribution defaults.
func AuthorKey() string { return keyPrefix + "author" }

// Codec is a string-keyed map persisted as custom document properties.
// One Codec instance lives for the duration of a single conversion call.
type Codec struct {
	entries map[string]string
}

// New returns an empty codec.
func New() *Codec {
	return &Codec{entries: make(map[string]string)}
}

// Set stores a value under key, replacing any previous value.
func (c *Codec) Set(key, value string) {
	c.entries[key] = value
}

// SetInt stores an integer value under key.
func (c *Codec) SetInt(key string, value int) {
	c.Set(key, strconv.Itoa(value))
}

// Get returns the value stored under key.
func (c *Codec) Get(key string) (string, bool) {
	v, ok := c.entries[key]
	return v, ok
}

// GetInt returns the integer stored under key, or def when the entry is
// missing or malformed. Malformed side-channel data degrades to the
// documented default rather than failing extraction.
func (c *Codec) GetInt(key string, def int) int {
	v, ok := c.entries[key]
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

// Len returns the number of entries.
func (c *Codec) Len() int { return len(c.entries) }

// Keys returns all keys in sorted order.
func (c *Codec) Keys() []string {
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MarshalPart serializes the codec as a custom-properties XML part.
// Values over the per-entry limit are xz-compressed, base64-encoded, and
// split across numbered chunk entries plus a chunk-count entry.
// Output is deterministic: entries appear in sorted key order.
func (c *Codec) MarshalPart() []byte {
	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n")
	buf.WriteString(`<Properties xmlns="http://schemas.openxmlformats.org/officeDocument/2006/custom-properties" xmlns:vt="http://schemas.openxmlformats.org/officeDocument/2006/docPropsVTypes">`)

	pid := 2
	writeProp := func(name, value string) {
		fmt.Fprintf(&buf,
			`<property fmtid="{D5CDD505-2E9C-101B-9397-08002B2CF9AE}" pid="%d" name="%s"><vt:lpwstr>%s</vt:lpwstr></property>`,
			pid, encoding.EscapeXMLAttr(name), encoding.EscapeXMLText(value))
		pid++
	}

	for _, key := range c.Keys() {
		value := c.entries[key]
		if len(value) <= maxValueLen {
			writeProp(key, value)
			continue
		}
		payload := compressedPrefix + compress(value)
		chunks := splitChunks(payload, maxValueLen)
		writeProp(key+"#len", strconv.Itoa(len(chunks)))
		for i, chunk := range chunks {
			writeProp(fmt.Sprintf("%s#%d", key, i), chunk)
		}
	}

	buf.WriteString(`</Properties>`)
	return buf.Bytes()
}

// ParsePart reads a custom-properties part back into a codec,
// reassembling chunked values. Unknown or malformed entries are kept as
// raw strings; callers fall back to defaults through GetInt and friends.
func ParsePart(data []byte) (*Codec, error) {
	doc, err := xmlquery.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, errors.NewParse("custom properties", PartName, err.Error())
	}

	raw := make(map[string]string)
	for _, node := range xmlquery.Find(doc, "//*[local-name()='property']") {
		name := node.SelectAttr("name")
		if name == "" {
			continue
		}
		raw[name] = strings.TrimSpace(node.InnerText())
	}

	c := New()
	for name, value := range raw {
		if strings.Contains(name, "#") {
			continue // chunk entries handled via their #len record
		}
		c.entries[name] = value
	}

	// Reassemble chunked values.
	for name, countStr := range raw {
		base, found := strings.CutSuffix(name, "#len")
		if !found {
			continue
		}
		count, err := strconv.Atoi(countStr)
		if err != nil || count <= 0 {
			continue
		}
		var joined strings.Builder
		complete := true
		for i := 0; i < count; i++ {
			chunk, ok := raw[fmt.Sprintf("%s#%d", base, i)]
			if !ok {
				complete = false
				break
			}
			joined.WriteString(chunk)
		}
		if !complete {
			continue // missing chunk: degrade to absent entry
		}
		payload := joined.String()
		if enc, found := strings.CutPrefix(payload, compressedPrefix); found {
			if plain, err := decompress(enc); err == nil {
				c.entries[base] = plain
			}
			continue
		}
		c.entries[base] = payload
	}

	return c, nil
}

func compress(value string) string {
	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	if err != nil {
		// The writer only fails on invalid options; fall back to the
		// uncompressed payload so the value still survives.
		return base64.StdEncoding.EncodeToString([]byte(value))
	}
	if _, err := w.Write([]byte(value)); err != nil {
		return base64.StdEncoding.EncodeToString([]byte(value))
	}
	if err := w.Close(); err != nil {
		return base64.StdEncoding.EncodeToString([]byte(value))
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func decompress(enc string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return "", err
	}
	r, err := xz.NewReader(bytes.NewReader(data))
	if err != nil {
		// Not an xz stream: the writer fell back to plain base64.
		return string(data), nil
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func splitChunks(s string, size int) []string {
	var chunks []string
	for len(s) > size {
		chunks = append(chunks, s[:size])
		s = s[size:]
	}
	return append(chunks, s)
}

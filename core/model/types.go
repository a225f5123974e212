package model

// types.go - Consolidated content model type definitions
// This file contains the shared intermediate representation used by both
// conversion directions. The tokenizer and the package extractor both
// produce these types; the generator and the dialect renderer consume them.

import (
	"sort"
	"time"
)

// Kind discriminates the ContentItem union.
type Kind string

// Content item kinds.
const (
	// KindText is a run of literal text with formatting.
	KindText Kind = "TEXT"
	// KindCitation is a resolved or unresolved citation item.
	KindCitation Kind = "CITATION"
	// KindParagraph is a paragraph boundary carrying block-level metadata.
	KindParagraph Kind = "PARAGRAPH"
)

// validKinds is the set of valid content item kinds.
var validKinds = map[Kind]bool{
	KindText:      true,
	KindCitation:  true,
	KindParagraph: true,
}

// IsValid returns true if the kind is valid.
func (k Kind) IsValid() bool {
	return validKinds[k]
}

// RevisionKind marks a run as belonging to a tracked change.
type RevisionKind string

// Revision kinds. A substitution is represented as a deletion item
// immediately followed by an insertion item with the same attribution.
const (
	RevNone   RevisionKind = ""
	RevInsert RevisionKind = "INSERT"
	RevDelete RevisionKind = "DELETE"
)

// Revision is the attribution attached to a tracked-change span.
type Revision struct {
	// Author is the display name of the revision author.
	Author string `json:"author"`

	// Date is the revision timestamp.
	Date time.Time `json:"date"`
}

// RunFormatting is the set of independent character-formatting toggles
// carried by a text run. Superscript and Subscript are mutually exclusive.
type RunFormatting struct {
	Bold        bool `json:"bold,omitempty"`
	Italic      bool `json:"italic,omitempty"`
	Underline   bool `json:"underline,omitempty"`
	Strike      bool `json:"strike,omitempty"`
	Superscript bool `json:"superscript,omitempty"`
	Subscript   bool `json:"subscript,omitempty"`

	// Highlight marks the run as highlighted. HighlightColor is an
	// optional named color token or #rrggbb value; empty means the
	// default highlight color.
	Highlight      bool   `json:"highlight,omitempty"`
	HighlightColor string `json:"highlight_color,omitempty"`
}

// IsZero returns true if no formatting toggle is active.
func (f RunFormatting) IsZero() bool {
	return f == RunFormatting{}
}

// Equal reports whether two formatting records are identical, including
// the highlight color.
func (f RunFormatting) Equal(o RunFormatting) bool {
	return f == o
}

// Merge overlays the toggles o explicitly declares onto f. Used for
// paragraph-default inheritance: a run only overrides what it declares,
// it never resets inherited toggles to off.
func (f RunFormatting) Merge(o RunFormatting) RunFormatting {
	out := f
	if o.Bold {
		out.Bold = true
	}
	if o.Italic {
		out.Italic = true
	}
	if o.Underline {
		out.Underline = true
	}
	if o.Strike {
		out.Strike = true
	}
	if o.Superscript {
		out.Superscript = true
		out.Subscript = false
	}
	if o.Subscript && !o.Superscript {
		out.Subscript = true
		out.Superscript = false
	}
	if o.Highlight {
		out.Highlight = true
		out.HighlightColor = o.HighlightColor
	}
	return out
}

// ListKind is the kind of a list item.
type ListKind string

// List kinds.
const (
	ListBullet  ListKind = "BULLET"
	ListOrdered ListKind = "ORDERED"
)

// ListInfo carries the list metadata of a paragraph boundary.
type ListInfo struct {
	// Kind is the list kind (bullet or ordered).
	Kind ListKind `json:"kind"`

	// Level is the zero-based nesting level.
	Level int `json:"level"`
}

// CiteKey is one key inside a citation bracket, with its optional locator.
type CiteKey struct {
	// Key is the citation key without the leading "@".
	Key string `json:"key"`

	// Locator is the optional locator text (e.g. "p. 20").
	Locator string `json:"locator,omitempty"`
}

// ContentItem is one unit of document content. It is a tagged union over
// Kind; consumers must switch exhaustively over all three kinds.
type ContentItem struct {
	Kind Kind `json:"kind"`

	// Text is the literal payload for KindText, or the rendered display
	// form for KindCitation.
	Text string `json:"text,omitempty"`

	// Format applies to KindText runs.
	Format RunFormatting `json:"format,omitempty"`

	// Link is the hyperlink target for KindText runs; empty means none.
	Link string `json:"link,omitempty"`

	// CommentIDs is the sorted set of comment anchors covering this run.
	// Anchors nest but never partially overlap.
	CommentIDs []int `json:"comment_ids,omitempty"`

	// Rev and Attr mark the run as part of a tracked change.
	Rev  RevisionKind `json:"rev,omitempty"`
	Attr Revision     `json:"attr,omitempty"`

	// Keys holds the citation keys for KindCitation.
	Keys []CiteKey `json:"keys,omitempty"`

	// The fields below apply to KindParagraph boundaries.

	// Heading is the heading level 1-6, or 0 for body text.
	Heading int `json:"heading,omitempty"`

	// List is the list metadata, nil for non-list paragraphs.
	List *ListInfo `json:"list,omitempty"`

	// Quote is the blockquote nesting depth, 0 outside blockquotes.
	Quote int `json:"quote,omitempty"`

	// Alert is the alert type of the containing blockquote group, empty
	// for plain blockquotes and non-blockquote paragraphs.
	Alert AlertType `json:"alert,omitempty"`

	// Group is the sequence index of the containing blockquote group,
	// -1 outside any group.
	Group int `json:"group,omitempty"`

	// Gap is the exact number of blank source lines preceding this
	// boundary. Recorded by the tokenizer and replayed by the renderer.
	Gap int `json:"gap,omitempty"`
}

// TextItem builds a plain text run.
func TextItem(s string, f RunFormatting) ContentItem {
	return ContentItem{Kind: KindText, Text: s, Format: f}
}

// ParagraphItem builds a bare paragraph boundary.
func ParagraphItem() ContentItem {
	return ContentItem{Kind: KindParagraph, Group: -1}
}

// HasComment reports whether the item carries the given comment anchor.
func (c *ContentItem) HasComment(id int) bool {
	for _, v := range c.CommentIDs {
		if v == id {
			return true
		}
	}
	return false
}

// SameAnchors reports whether two items carry an identical comment
// anchor set.
func (c *ContentItem) SameAnchors(o *ContentItem) bool {
	if len(c.CommentIDs) != len(o.CommentIDs) {
		return false
	}
	for i, v := range c.CommentIDs {
		if o.CommentIDs[i] != v {
			return false
		}
	}
	return true
}

// AddComment inserts a comment anchor, keeping the set sorted and unique.
func (c *ContentItem) AddComment(id int) {
	if c.HasComment(id) {
		return
	}
	c.CommentIDs = append(c.CommentIDs, id)
	sort.Ints(c.CommentIDs)
}

// Mergeable reports whether o can be merged into c without losing
// information: both are text runs sharing formatting, link target,
// revision marker, and comment anchor set.
func (c *ContentItem) Mergeable(o *ContentItem) bool {
	if c.Kind != KindText || o.Kind != KindText {
		return false
	}
	if !c.Format.Equal(o.Format) || c.Link != o.Link {
		return false
	}
	if c.Rev != o.Rev || c.Attr != o.Attr {
		return false
	}
	return c.SameAnchors(o)
}

// Comment is one comment entry, referenced from anchor spans by ID.
type Comment struct {
	// ID is the monotonic per-document comment identifier.
	ID int `json:"id"`

	// Author is the comment author display name.
	Author string `json:"author"`

	// Date is the comment timestamp.
	Date time.Time `json:"date"`

	// Text is the comment body.
	Text string `json:"text"`

	// Label is the explicit dialect range identifier ({#label}...{/label}),
	// empty for comments bound by adjacency.
	Label string `json:"label,omitempty"`
}

// Syntax-variant flag names and values. The dialect allows more than one
// spelling for some constructs; the chosen spelling is carried through
// the side channel so extraction replays it.
const (
	VariantItalic    = "italic"
	VariantHighlight = "highlight"

	ItalicStar       = "star"       // *italic*
	ItalicUnderscore = "underscore" // _italic_
	HighlightBraced  = "braced"     // {==text==}
	HighlightBare    = "bare"       // ==text==
)

// Document is the full content model for one conversion call: the item
// stream plus the comment entries its anchors reference and the
// syntax-variant flags observed while tokenizing.
type Document struct {
	Items    []ContentItem `json:"items"`
	Comments []Comment     `json:"comments,omitempty"`

	// Variants records document-level dialect spelling flags (first
	// occurrence wins), keyed by variant name.
	Variants map[string]string `json:"variants,omitempty"`

	// VariantSeqs records the spelling of every occurrence of a variant
	// construct in document order, keyed by variant name. A document may
	// mix spellings, so the renderer replays them positionally.
	VariantSeqs map[string][]string `json:"variant_seqs,omitempty"`

	// Escapes holds the offsets, into the concatenated text of all text
	// runs in item order, of characters that were backslash-escaped in
	// the source. The renderer re-escapes exactly these positions.
	Escapes []int `json:"escapes,omitempty"`

	// TrailingGap is the number of blank source lines after the final
	// paragraph.
	TrailingGap int `json:"trailing_gap,omitempty"`
}

// Variant returns the recorded spelling for a variant flag, or def.
func (d *Document) Variant(name, def string) string {
	if v, ok := d.Variants[name]; ok && v != "" {
		return v
	}
	return def
}

// PushVariant appends the spelling of one more occurrence of a variant
// construct.
func (d *Document) PushVariant(name, value string) {
	if d.VariantSeqs == nil {
		d.VariantSeqs = make(map[string][]string)
	}
	d.VariantSeqs[name] = append(d.VariantSeqs[name], value)
}

// VariantAt returns the recorded spelling for the i-th occurrence of a
// variant construct, or def when none was recorded.
func (d *Document) VariantAt(name string, i int, def string) string {
	if seq := d.VariantSeqs[name]; i < len(seq) && seq[i] != "" {
		return seq[i]
	}
	return def
}

// SetVariant records a spelling choice unless one is already recorded.
func (d *Document) SetVariant(name, value string) {
	if d.Variants == nil {
		d.Variants = make(map[string]string)
	}
	if _, ok := d.Variants[name]; !ok {
		d.Variants[name] = value
	}
}

// Comment returns the comment entry with the given ID, or nil.
func (d *Document) Comment(id int) *Comment {
	for i := range d.Comments {
		if d.Comments[i].ID == id {
			return &d.Comments[i]
		}
	}
	return nil
}

// MergeRuns collapses adjacent mergeable text runs into one, so a logical
// span never fragments into several formatting elements. Both conversion
// directions call this before emitting.
func MergeRuns(items []ContentItem) []ContentItem {
	if len(items) == 0 {
		return items
	}
	out := make([]ContentItem, 0, len(items))
	for _, it := range items {
		if len(out) > 0 {
			last := &out[len(out)-1]
			if last.Mergeable(&it) {
				last.Text += it.Text
				continue
			}
		}
		out = append(out, it)
	}
	return out
}

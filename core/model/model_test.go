package model

import (
	"reflect"
	"testing"
	"time"
)

func TestKindIsValid(t *testing.T) {
	tests := []struct {
		kind Kind
		want bool
	}{
		{KindText, true},
		{KindCitation, true},
		{KindParagraph, true},
		{Kind("FOOTNOTE"), false},
		{Kind(""), false},
	}
	for _, tt := range tests {
		if got := tt.kind.IsValid(); got != tt.want {
			t.Errorf("Kind(%q).IsValid() = %v, want %v", tt.kind, got, tt.want)
		}
	}
}

func TestRunFormattingMerge(t *testing.T) {
	tests := []struct {
		name string
		base RunFormatting
		over RunFormatting
		want RunFormatting
	}{
		{
			name: "overlay adds toggles",
			base: RunFormatting{Bold: true},
			over: RunFormatting{Italic: true},
			want: RunFormatting{Bold: true, Italic: true},
		},
		{
			name: "overlay never clears inherited toggles",
			base: RunFormatting{Bold: true, Underline: true},
			over: RunFormatting{},
			want: RunFormatting{Bold: true, Underline: true},
		},
		{
			name: "superscript displaces inherited subscript",
			base: RunFormatting{Subscript: true},
			over: RunFormatting{Superscript: true},
			want: RunFormatting{Superscript: true},
		},
		{
			name: "subscript displaces inherited superscript",
			base: RunFormatting{Superscript: true},
			over: RunFormatting{Subscript: true},
			want: RunFormatting{Subscript: true},
		},
		{
			name: "highlight color follows the overlay",
			base: RunFormatting{Highlight: true, HighlightColor: "blue"},
			over: RunFormatting{Highlight: true, HighlightColor: "#ffcc00"},
			want: RunFormatting{Highlight: true, HighlightColor: "#ffcc00"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.base.Merge(tt.over); !got.Equal(tt.want) {
				t.Errorf("Merge() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestAddComment(t *testing.T) {
	it := TextItem("anchored", RunFormatting{})
	it.AddComment(3)
	it.AddComment(1)
	it.AddComment(3)
	it.AddComment(2)
	want := []int{1, 2, 3}
	if !reflect.DeepEqual(it.CommentIDs, want) {
		t.Errorf("CommentIDs = %v, want %v", it.CommentIDs, want)
	}
	if !it.HasComment(2) {
		t.Error("HasComment(2) = false, want true")
	}
	if it.HasComment(7) {
		t.Error("HasComment(7) = true, want false")
	}
}

func TestMergeRuns(t *testing.T) {
	bold := RunFormatting{Bold: true}
	rev := Revision{Author: "alice", Date: time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)}

	tests := []struct {
		name  string
		items []ContentItem
		want  []ContentItem
	}{
		{
			name: "adjacent plain runs collapse",
			items: []ContentItem{
				TextItem("Hello, ", RunFormatting{}),
				TextItem("world.", RunFormatting{}),
			},
			want: []ContentItem{TextItem("Hello, world.", RunFormatting{})},
		},
		{
			name: "formatting boundary blocks the merge",
			items: []ContentItem{
				TextItem("plain ", RunFormatting{}),
				TextItem("bold", bold),
			},
			want: []ContentItem{
				TextItem("plain ", RunFormatting{}),
				TextItem("bold", bold),
			},
		},
		{
			name: "revision attribution blocks the merge",
			items: []ContentItem{
				{Kind: KindText, Text: "kept ", Rev: RevInsert, Attr: rev},
				TextItem("plain", RunFormatting{}),
			},
			want: []ContentItem{
				{Kind: KindText, Text: "kept ", Rev: RevInsert, Attr: rev},
				TextItem("plain", RunFormatting{}),
			},
		},
		{
			name: "matching revision runs collapse",
			items: []ContentItem{
				{Kind: KindText, Text: "added ", Rev: RevInsert, Attr: rev},
				{Kind: KindText, Text: "text", Rev: RevInsert, Attr: rev},
			},
			want: []ContentItem{
				{Kind: KindText, Text: "added text", Rev: RevInsert, Attr: rev},
			},
		},
		{
			name: "comment anchor set blocks the merge",
			items: []ContentItem{
				{Kind: KindText, Text: "in ", CommentIDs: []int{0}},
				TextItem("out", RunFormatting{}),
			},
			want: []ContentItem{
				{Kind: KindText, Text: "in ", CommentIDs: []int{0}},
				TextItem("out", RunFormatting{}),
			},
		},
		{
			name: "paragraph boundary is never merged",
			items: []ContentItem{
				TextItem("one", RunFormatting{}),
				ParagraphItem(),
				TextItem("two", RunFormatting{}),
			},
			want: []ContentItem{
				TextItem("one", RunFormatting{}),
				ParagraphItem(),
				TextItem("two", RunFormatting{}),
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MergeRuns(tt.items); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("MergeRuns() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDocumentVariants(t *testing.T) {
	var d Document
	if got := d.Variant(VariantItalic, ItalicStar); got != ItalicStar {
		t.Errorf("Variant default = %q, want %q", got, ItalicStar)
	}
	d.SetVariant(VariantItalic, ItalicUnderscore)
	d.SetVariant(VariantItalic, ItalicStar) // first occurrence wins
	if got := d.Variant(VariantItalic, ItalicStar); got != ItalicUnderscore {
		t.Errorf("Variant = %q, want %q", got, ItalicUnderscore)
	}
}

func TestDocumentVariantSequence(t *testing.T) {
	var d Document
	d.PushVariant(VariantItalic, ItalicStar)
	d.PushVariant(VariantItalic, ItalicUnderscore)
	if got := d.VariantAt(VariantItalic, 0, ItalicUnderscore); got != ItalicStar {
		t.Errorf("VariantAt(0) = %q, want %q", got, ItalicStar)
	}
	if got := d.VariantAt(VariantItalic, 1, ItalicStar); got != ItalicUnderscore {
		t.Errorf("VariantAt(1) = %q, want %q", got, ItalicUnderscore)
	}
	// Past the recorded occurrences the default applies.
	if got := d.VariantAt(VariantItalic, 2, ItalicStar); got != ItalicStar {
		t.Errorf("VariantAt(2) = %q, want %q", got, ItalicStar)
	}
}

func TestDocumentComment(t *testing.T) {
	d := Document{Comments: []Comment{{ID: 0, Text: "first"}, {ID: 2, Text: "third"}}}
	if c := d.Comment(2); c == nil || c.Text != "third" {
		t.Errorf("Comment(2) = %+v, want text %q", c, "third")
	}
	if c := d.Comment(1); c != nil {
		t.Errorf("Comment(1) = %+v, want nil", c)
	}
}

func TestParseAlertType(t *testing.T) {
	tests := []struct {
		tag  string
		want AlertType
	}{
		{"NOTE", AlertNote},
		{"tip", AlertTip},
		{" Warning ", AlertWarning},
		{"IMPORTANT", AlertImportant},
		{"caution", AlertCaution},
		{"DANGER", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ParseAlertType(tt.tag); got != tt.want {
			t.Errorf("ParseAlertType(%q) = %q, want %q", tt.tag, got, tt.want)
		}
	}
}

func TestStripLeadIn(t *testing.T) {
	tests := []struct {
		name     string
		alert    AlertType
		text     string
		want     string
		stripped bool
	}{
		{"full lead-in", AlertNote, "ℹ️ Note", "", true},
		{"lead-in with body", AlertNote, "ℹ️ Note body text", "body text", true},
		{"colon separator", AlertTip, "\U0001f4a1 Tip: do this", "do this", true},
		{"missing glyph", AlertWarning, "Warning body", "body", true},
		{"wrong type", AlertNote, "⚠️ Warning body", "⚠️ Warning body", false},
		{"plain text", AlertCaution, "no lead-in here", "no lead-in here", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, stripped := StripLeadIn(tt.alert, tt.text)
			if got != tt.want || stripped != tt.stripped {
				t.Errorf("StripLeadIn(%q, %q) = (%q, %v), want (%q, %v)",
					tt.alert, tt.text, got, stripped, tt.want, tt.stripped)
			}
		})
	}
}

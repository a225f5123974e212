package convert

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/markweave/markweave/core/bib"
	"github.com/markweave/markweave/core/errors"
)

const testBib = `@book{smith2020,
  author = {Smith, John},
  title = {The Title},
  year = {2020},
  zoterokey = {ABCD1234},
  zoterouri = {http://zotero.org/users/7/items/ABCD1234}
}
@article{doe2021,
  author = {Doe, Jane},
  title = {An Article},
  year = {2021},
  zoterokey = {EFGH5678},
  zoterouri = {http://zotero.org/users/7/items/EFGH5678}
}`

func testOptions(t *testing.T) Options {
	t.Helper()
	lib, err := bib.Parse([]byte(testBib))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return Options{
		Now: func() time.Time {
			return time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
		},
		Bibliography: lib,
	}
}

// roundTrip converts source to a package and back, requiring the exact
// source bytes out of the far side.
func roundTrip(t *testing.T, source string, opts Options) *Extracted {
	t.Helper()
	res, err := ToPackage([]byte(source), opts)
	if err != nil {
		t.Fatalf("ToPackage: %v", err)
	}
	ext, err := FromPackage(res.Bytes, opts)
	if err != nil {
		t.Fatalf("FromPackage: %v", err)
	}
	if ext.Text != source {
		t.Errorf("round trip:\n got %q\nwant %q", ext.Text, source)
	}
	return ext
}

func TestRoundTripSources(t *testing.T) {
	cases := []struct {
		name string
		src  string
	}{
		{"plain", "A plain paragraph.\n"},
		{"no_trailing_newline", "no final newline"},
		{"wide_gap", "first\n\nsecond\n\n\n\nthird\n"},
		{"trailing_blanks", "closing para\n\n\n"},
		{"inline_formats", "**bold** and *star* and ~~gone~~ and ++kept++ and x^2^ and H~2~O\n"},
		{"underscore_variant", "an _italic_ word\n"},
		{"mixed_italics", "*a* and _b_ and *c*\n"},
		{"nested_formats", "**bold with *italic* inside**\n"},
		{"highlights", "{==marked==} then ==bare== then {==tinted==}{blue}\n"},
		{"hex_highlight", "color ==coded=={#ffcc00} here\n"},
		{"tracked_changes", "{++added++} and {--removed--} and {~~old~>new~~}\n"},
		{"standalone_comment", "word{>>a note<<}\n"},
		{"adjacent_comment", "{==span==}{>>bound note<<}\n"},
		{"authored_comment", "{>>alice: signed note<<}\n"},
		{"explicit_range", "before {#r1}ranged words{/r1}{>>range body<<} after\n"},
		{"soft_break", "line one\nline two\n"},
		{"heading_and_text", "# Title\n\nSome body text.\n"},
		{"lists", "- one\n- two\n  - nested\n\n1. first\n2. second\n"},
		{"quote", "> a quoted line\n"},
		{"quote_groups", "> first group\n\n> second group\n"},
		{"alert_two_blank_lines", "> [!NOTE]\n> A.\n\n\n> [!TIP]\n> B.\n"},
		{"alert_zero_gap", "> [!NOTE]\n> A.\n> [!WARNING]\n> B.\n"},
		{"alert_multi_paragraph", "> [!CAUTION]\n> First.\n> Second.\n"},
		{"plain_quote_after_alert", "> [!IMPORTANT]\n> A.\n\n> plain quote\n"},
		{"quote_title_word_after_alert", "> [!NOTE]\n> A.\n\n> Note taking is fun\n"},
		{"quote_glyph_after_alert", "> [!NOTE]\n> A.\n\n> ℹ️ Note\n"},
		{"citation", "see [@smith2020, p. 3] here\n"},
		{"citation_group", "both [@smith2020; @doe2021] agree\n"},
		{"link", "a [link](https://example.com/) inline\n"},
		{"angle_link", "a [spaced](<https://example.com/a b>) target\n"},
		{"escaped_markers", "literal \\*stars\\* stay put\n"},
	}
	opts := testOptions(t)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ext := roundTrip(t, tc.src, opts)
			if !ext.Metadata.SourceMatch {
				t.Errorf("source hash mismatch")
			}
		})
	}
}

func TestRoundTripUnresolvedCitation(t *testing.T) {
	src := "nothing [@nope] found\n"
	res, err := ToPackage([]byte(src), Options{})
	if err != nil {
		t.Fatalf("ToPackage: %v", err)
	}
	warned := false
	for _, w := range res.Warnings {
		if strings.Contains(w, "nope") {
			warned = true
		}
	}
	if !warned {
		t.Errorf("warnings = %v, want unresolved key notice", res.Warnings)
	}

	ext, err := FromPackage(res.Bytes, Options{})
	if err != nil {
		t.Fatalf("FromPackage: %v", err)
	}
	if ext.Text != src {
		t.Errorf("round trip:\n got %q\nwant %q", ext.Text, src)
	}
}

func TestToPackageDeterministic(t *testing.T) {
	src := "# Title\n\n**bold** text with {++an insert++}\n"
	opts := testOptions(t)
	a, err := ToPackage([]byte(src), opts)
	if err != nil {
		t.Fatalf("ToPackage: %v", err)
	}
	b, err := ToPackage([]byte(src), opts)
	if err != nil {
		t.Fatalf("ToPackage: %v", err)
	}
	if !bytes.Equal(a.Bytes, b.Bytes) {
		t.Errorf("identical input produced different archives")
	}
}

func TestAuthorCarriedThrough(t *testing.T) {
	opts := testOptions(t)
	opts.Author = "carol"
	ext := roundTrip(t, "note{>>from the default identity<<}\n", opts)
	if ext.Metadata.Author != "carol" {
		t.Errorf("author = %q, want carol", ext.Metadata.Author)
	}
}

func TestVariantsReported(t *testing.T) {
	ext := roundTrip(t, "an _italic_ word\n", testOptions(t))
	if got := ext.Metadata.Variants["italic"]; got != "underscore" {
		t.Errorf("italic variant = %q, want underscore", got)
	}
}

func TestFromPackageCorrupt(t *testing.T) {
	_, err := FromPackage([]byte("junk"), Options{})
	if !errors.Is(err, errors.ErrCorruptPackage) {
		t.Fatalf("err = %v, want ErrCorruptPackage", err)
	}
}

func TestSourceHashRecorded(t *testing.T) {
	res, err := ToPackage([]byte("plain text\n"), Options{})
	if err != nil {
		t.Fatalf("ToPackage: %v", err)
	}
	ext, err := FromPackage(res.Bytes, Options{})
	if err != nil {
		t.Fatalf("FromPackage: %v", err)
	}
	if ext.Metadata.SourceHash == "" || !ext.Metadata.SourceMatch {
		t.Fatalf("expected recorded hash for own package")
	}
}

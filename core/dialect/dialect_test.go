package dialect

import (
	"testing"
	"time"

	"github.com/markweave/markweave/core/model"
)

func testConfig() Config {
	return Config{
		Author: "markweave",
		Now: func() time.Time {
			return time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
		},
	}
}

// roundTrip tokenizes src and renders it back, expecting byte-identical
// output.
func roundTrip(t *testing.T, src string) *model.Document {
	t.Helper()
	cfg := testConfig()
	doc := Tokenize([]byte(src), cfg)
	out := Render(doc, cfg)
	if out != src {
		t.Errorf("round trip mismatch:\n  in:  %q\n  out: %q", src, out)
	}
	return doc
}

func TestRoundTripFormatting(t *testing.T) {
	cases := []struct {
		name string
		src  string
	}{
		{"plain", "Just a sentence."},
		{"bold", "Hello **world** now."},
		{"italic_star", "a *lean* b"},
		{"italic_underscore", "a _lean_ b"},
		{"bold_italic", "both ***ways*** here"},
		{"strike", "old ~~gone~~ text"},
		{"underline", "an ++underlined++ word"},
		{"superscript", "x^2^ squared"},
		{"subscript", "H~2~O"},
		{"nested", "**bold *and italic* bold**"},
		{"lone_star", "a * b"},
		{"intraword_underscore", "snake_case_name stays"},
		{"highlight_braced", "see {==this part==} here"},
		{"highlight_bare", "see ==this part== here"},
		{"highlight_color", "{==urgent==}{yellow} items"},
		{"highlight_hex", "{==tinted==}{#ff0000} items"},
		{"mixed_italics", "*a* and _b_ and *c*"},
		{"mixed_highlights", "{==marked==} then ==bare== then {==tinted==}{blue}"},
		{"bold_italic_then_underscore", "***x*** then _y_"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			roundTrip(t, tc.src)
		})
	}
}

func TestRoundTripTrackedChanges(t *testing.T) {
	cases := []struct {
		name string
		src  string
	}{
		{"insert", "before {++added++} after"},
		{"delete", "before {--removed--} after"},
		{"substitution", "the {~~old~>new~~} wording"},
		{"formatted_insert", "{++a **bold** add++}"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			roundTrip(t, tc.src)
		})
	}
}

func TestTrackedChangeAttribution(t *testing.T) {
	cfg := testConfig()
	doc := Tokenize([]byte("{++new words++}"), cfg)
	var run *model.ContentItem
	for i := range doc.Items {
		if doc.Items[i].Kind == model.KindText && doc.Items[i].Text != "" {
			run = &doc.Items[i]
			break
		}
	}
	if run == nil {
		t.Fatal("no text run produced")
	}
	if run.Rev != model.RevInsert {
		t.Fatalf("Rev = %q, want insert", run.Rev)
	}
	if run.Attr.Author != "markweave" {
		t.Errorf("Attr.Author = %q", run.Attr.Author)
	}
	if !run.Attr.Date.Equal(cfg.now()) {
		t.Errorf("Attr.Date = %v", run.Attr.Date)
	}
}

func TestSubstitutionIsDeleteThenInsert(t *testing.T) {
	doc := Tokenize([]byte("{~~old~>new~~}"), testConfig())
	var revs []model.RevisionKind
	for _, it := range doc.Items {
		if it.Kind == model.KindText {
			revs = append(revs, it.Rev)
		}
	}
	if len(revs) != 2 || revs[0] != model.RevDelete || revs[1] != model.RevInsert {
		t.Fatalf("revision sequence = %v", revs)
	}
}

func TestRoundTripComments(t *testing.T) {
	cases := []struct {
		name string
		src  string
	}{
		{"standalone", "Some text.{>>todo: revisit<<}"},
		{"adjacent_highlight", "{==highlighted text==}{>>alice: note<<}"},
		{"adjacent_bold", "**a claim**{>>citation needed<<}"},
		{"adjacent_insert", "{++new line++}{>>why this<<}"},
		{"explicit_range", "{#r1}the target{/r1}{>>flagged<<}"},
		{"range_no_body", "{#a}kept{/a} rest"},
		{"two_comments_one_span", "{==spot==}{>>first<<}{>>second<<}"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			roundTrip(t, tc.src)
		})
	}
}

func TestCommentAuthorParsing(t *testing.T) {
	doc := Tokenize([]byte("{==x==}{>>alice: looks wrong<<}"), testConfig())
	if len(doc.Comments) != 1 {
		t.Fatalf("got %d comments", len(doc.Comments))
	}
	c := doc.Comments[0]
	if c.Author != "alice" || c.Text != "looks wrong" {
		t.Errorf("comment = %q/%q", c.Author, c.Text)
	}
	if c.ID != 0 {
		t.Errorf("ID = %d", c.ID)
	}
}

func TestCommentBindsToPrecedingSpan(t *testing.T) {
	doc := Tokenize([]byte("{==spot==}{>>note<<} tail"), testConfig())
	var anchored, free int
	for _, it := range doc.Items {
		if it.Kind != model.KindText {
			continue
		}
		if len(it.CommentIDs) > 0 {
			anchored++
			if !it.Format.Highlight {
				t.Errorf("anchored run %q not highlighted", it.Text)
			}
		} else if it.Text != "" {
			free++
		}
	}
	if anchored != 1 || free != 1 {
		t.Errorf("anchored=%d free=%d", anchored, free)
	}
}

func TestExplicitRangeSharedID(t *testing.T) {
	doc := Tokenize([]byte("{#r}a **b** c{/r}{>>all of it<<}"), testConfig())
	if len(doc.Comments) != 1 {
		t.Fatalf("got %d comments", len(doc.Comments))
	}
	id := doc.Comments[0].ID
	covered := 0
	for _, it := range doc.Items {
		if it.Kind == model.KindText && it.HasComment(id) {
			covered++
		}
	}
	if covered < 3 {
		t.Errorf("anchor covers %d runs, want at least 3", covered)
	}
	if doc.Comments[0].Text != "all of it" {
		t.Errorf("body = %q", doc.Comments[0].Text)
	}
}

func TestRoundTripBlocks(t *testing.T) {
	cases := []struct {
		name string
		src  string
	}{
		{"heading", "# Title\n\nBody text."},
		{"deep_heading", "###### Fine print"},
		{"bullets", "- one\n- two\n  - nested"},
		{"ordered", "1. first\n2. second"},
		{"ordered_nested", "1. outer\n   1. inner\n2. outer again"},
		{"quote", "> quoted **text**"},
		{"quote_nested", "> outer\n> > inner"},
		{"soft_break", "line a\nline b"},
		{"paragraph_gap", "Para one.\n\nPara two."},
		{"double_gap", "Para one.\n\n\nPara two."},
		{"trailing_newline", "With newline.\n"},
		{"trailing_blanks", "Para one.\n\n\n"},
		{"leading_blank", "\nAfter a blank."},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			roundTrip(t, tc.src)
		})
	}
}

func TestRoundTripAlerts(t *testing.T) {
	cases := []struct {
		name string
		src  string
	}{
		{"single", "> [!NOTE]\n> A."},
		{"two_blank_lines", "> [!NOTE]\n> A.\n\n\n> [!TIP]\n> B."},
		{"zero_gap_boundary", "> [!NOTE]\n> A.\n> [!WARNING]\n> B."},
		{"multi_paragraph", "> [!CAUTION]\n> First.\n> Second."},
		{"plain_quote_after_alert", "> [!IMPORTANT]\n> A.\n\n> plain quote"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			roundTrip(t, tc.src)
		})
	}
}

func TestAlertGroupIndexes(t *testing.T) {
	doc := Tokenize([]byte("> [!NOTE]\n> A.\n> [!WARNING]\n> B."), testConfig())
	var groups []int
	var alerts []model.AlertType
	gaps := map[int]int{}
	for _, it := range doc.Items {
		if it.Kind != model.KindParagraph || it.Quote == 0 {
			continue
		}
		groups = append(groups, it.Group)
		alerts = append(alerts, it.Alert)
		gaps[it.Group] = it.Gap
	}
	if len(groups) != 2 || groups[0] == groups[1] {
		t.Fatalf("groups = %v, want two distinct", groups)
	}
	if alerts[0] != model.AlertNote || alerts[1] != model.AlertWarning {
		t.Errorf("alerts = %v", alerts)
	}
	if gaps[groups[1]] != 0 {
		t.Errorf("gap before second group = %d, want 0", gaps[groups[1]])
	}
}

func TestRoundTripCitationsAndLinks(t *testing.T) {
	cases := []struct {
		name string
		src  string
	}{
		{"single_key", "see [@smith2020]"},
		{"locator", "see [@smith2020, p. 20]"},
		{"group", "see [@smith2020, p. 20; @jones2019]"},
		{"link", "the [docs](https://example.com/guide) say"},
		{"link_formatted_text", "[**bold** link](https://example.com)"},
		{"link_angle_dest", "[odd](<https://example.com/a b>)"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			roundTrip(t, tc.src)
		})
	}
}

func TestCitationKeys(t *testing.T) {
	doc := Tokenize([]byte("[@smith2020, p. 20; @jones2019]"), testConfig())
	var cite *model.ContentItem
	for i := range doc.Items {
		if doc.Items[i].Kind == model.KindCitation {
			cite = &doc.Items[i]
		}
	}
	if cite == nil {
		t.Fatal("no citation item")
	}
	want := []model.CiteKey{
		{Key: "smith2020", Locator: "p. 20"},
		{Key: "jones2019"},
	}
	if len(cite.Keys) != len(want) {
		t.Fatalf("keys = %v", cite.Keys)
	}
	for i, k := range want {
		if cite.Keys[i] != k {
			t.Errorf("key %d = %v, want %v", i, cite.Keys[i], k)
		}
	}
}

// Malformed markers degrade to literal text. The re-rendered form may
// escape differently, but tokenizing it again must yield the same model.
func TestMalformedDegradesToLiteral(t *testing.T) {
	cases := []struct {
		name string
		src  string
		want string // visible text after tokenizing
	}{
		{"unterminated_insert", "{++oops", "{++oops"},
		{"unterminated_highlight", "{==half", "{==half"},
		{"bad_substitution", "{~~no arrow~~}", "{~~no arrow~~}"},
		{"unclosed_comment", "{>>dangling", "{>>dangling"},
		{"stray_close", "{/nope} text", "{/nope} text"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			doc := Tokenize([]byte(tc.src), cfg)
			got := visibleText(doc)
			if got != tc.want {
				t.Fatalf("text = %q, want %q", got, tc.want)
			}
			// Stability: render and re-tokenize.
			again := Tokenize([]byte(Render(doc, cfg)), cfg)
			if visibleText(again) != tc.want {
				t.Errorf("re-tokenized text = %q", visibleText(again))
			}
		})
	}
}

func visibleText(doc *model.Document) string {
	var out string
	for _, it := range doc.Items {
		if it.Kind == model.KindText {
			out += it.Text
		}
	}
	return out
}

func TestEscapedMarkersStayLiteral(t *testing.T) {
	roundTrip(t, `literal \*\*stars\*\* here`)
	doc := Tokenize([]byte(`literal \*\*stars\*\* here`), testConfig())
	if got := visibleText(doc); got != "literal **stars** here" {
		t.Errorf("text = %q", got)
	}

	// The final escaped marker has no later sibling, so only the
	// recorded escape offsets can restore its backslash.
	roundTrip(t, `literal \*stars\* stay put`)
	roundTrip(t, `a \_word\_ alone`)
}

func TestVariantFlags(t *testing.T) {
	cfg := testConfig()

	doc := Tokenize([]byte("a _x_ b"), cfg)
	if doc.Variant(model.VariantItalic, "") != model.ItalicUnderscore {
		t.Errorf("italic variant = %q", doc.Variant(model.VariantItalic, ""))
	}

	doc = Tokenize([]byte("a ==x== b"), cfg)
	if doc.Variant(model.VariantHighlight, "") != model.HighlightBare {
		t.Errorf("highlight variant = %q", doc.Variant(model.VariantHighlight, ""))
	}

	doc = Tokenize([]byte("no newline"), cfg)
	if doc.Variant("trailing_newline", "") != "no" {
		t.Errorf("trailing_newline = %q", doc.Variant("trailing_newline", ""))
	}
}

// A plain unformatted run carrying a comment anchor (as produced by
// package extraction) renders with an explicit labeled range, and the
// label survives re-tokenizing.
func TestRenderSynthesizesRangeLabels(t *testing.T) {
	cfg := testConfig()
	run := model.TextItem("flagged words", model.RunFormatting{})
	run.AddComment(0)
	doc := &model.Document{
		Items: []model.ContentItem{
			model.TextItem("before ", model.RunFormatting{}),
			run,
			model.TextItem(" after", model.RunFormatting{}),
			model.ParagraphItem(),
		},
		Comments: []model.Comment{
			{ID: 0, Author: "markweave", Date: cfg.now(), Text: "check"},
		},
	}
	out := Render(doc, cfg)
	want := "before {#c0}flagged words{/c0}{>>check<<} after\n"
	if out != want {
		t.Fatalf("rendered %q, want %q", out, want)
	}

	again := Tokenize([]byte(out), cfg)
	c := again.Comment(0)
	if c == nil || c.Text != "check" || c.Label != "c0" {
		t.Errorf("re-tokenized comment = %+v", c)
	}
}

func TestMergeRunsCollapsesSpans(t *testing.T) {
	items := []model.ContentItem{
		model.TextItem("a", model.RunFormatting{Bold: true}),
		model.TextItem("b", model.RunFormatting{Bold: true}),
		model.TextItem("c", model.RunFormatting{}),
	}
	merged := model.MergeRuns(items)
	if len(merged) != 2 {
		t.Fatalf("merged to %d items", len(merged))
	}
	if merged[0].Text != "ab" {
		t.Errorf("merged text = %q", merged[0].Text)
	}
}

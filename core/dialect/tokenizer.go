// Package dialect parses the annotated-Markdown dialect into the shared
// content model and renders the content model back to dialect text. The
// two halves are exact inverses for every supported construct.
//
// Annotation syntax never fails hard: malformed or unterminated markers
// degrade to literal text.
package dialect

import (
	"regexp"
	"strings"
	"time"

	"github.com/markweave/markweave/core/model"
)

// Config carries the default revision identity used when a span has no
// explicit attribution.
type Config struct {
	// Author is the default author name. Empty means "markweave".
	Author string

	// Now supplies timestamps. Nil means time.Now. Tests inject a fixed
	// clock to keep output deterministic.
	Now func() time.Time
}

func (c Config) author() string {
	if c.Author == "" {
		return "markweave"
	}
	return c.Author
}

func (c Config) now() time.Time {
	if c.Now == nil {
		return time.Now().UTC().Truncate(time.Second)
	}
	return c.Now()
}

var (
	alertHeaderRe = regexp.MustCompile(`^\[!([A-Za-z]+)\]\s*$`)
	headingRe     = regexp.MustCompile(`^(#{1,6}) (.*)$`)
	bulletRe      = regexp.MustCompile(`^( *)[-*] (.*)$`)
	orderedRe     = regexp.MustCompile(`^( *)\d+\. (.*)$`)
	colorSuffixRe = regexp.MustCompile(`^\{(#[0-9a-fA-F]{3,8}|[A-Za-z]+)\}`)
	authorBodyRe  = regexp.MustCompile(`^(\w+):\s?(.*)$`)
	anchorOpenRe  = regexp.MustCompile(`^\{#([A-Za-z0-9_-]+)\}`)
	anchorCloseRe = regexp.MustCompile(`^\{/([A-Za-z0-9_-]+)\}`)
	anchorBodyRe  = regexp.MustCompile(`^\{#([A-Za-z0-9_-]+)>>`)
)

// tokenizer holds per-call state for one Tokenize invocation.
type tokenizer struct {
	cfg Config
	doc *model.Document

	commentSeq  int
	labels      map[string]int // explicit range label -> comment ID
	openAnchors []int          // explicit anchors currently open

	group      int // current blockquote group index
	groupAlert model.AlertType
	inQuote    bool
	quoteLevel int
	heldGap    int // gap waiting for the first paragraph of a new group
	hasHeldGap bool

	// textLen is the running length of all emitted text runs, the offset
	// space in which backslash escapes are recorded.
	textLen int
}

// Tokenize parses dialect source into the content model.
func Tokenize(source []byte, cfg Config) *model.Document {
	t := &tokenizer{
		cfg:    cfg,
		doc:    &model.Document{},
		labels: make(map[string]int),
		group:  -1,
	}
	t.run(string(source))
	return t.doc
}

func (t *tokenizer) run(src string) {
	if strings.HasSuffix(src, "\n") {
		t.doc.SetVariant("trailing_newline", "yes")
	} else {
		t.doc.SetVariant("trailing_newline", "no")
	}
	src = strings.ReplaceAll(src, "\r\n", "\n")
	lines := strings.Split(src, "\n")
	// A trailing newline produces one empty trailing element; drop it so
	// it does not count as a blank line.
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}

	gap := 0 // blank lines since the previous paragraph
	var plain []string
	plainGap := 0

	flushPlain := func() {
		if len(plain) == 0 {
			return
		}
		for i, line := range plain {
			if i > 0 {
				// Soft line break inside one paragraph.
				t.doc.Items = append(t.doc.Items, model.TextItem("\n", model.RunFormatting{}))
				t.textLen++
			}
			t.inline(line)
		}
		b := model.ParagraphItem()
		b.Gap = plainGap
		t.doc.Items = append(t.doc.Items, b)
		plain = nil
	}

	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			flushPlain()
			gap++
			t.inQuote = false
			continue
		}

		level, rest := quotePrefix(line)
		if level > 0 {
			flushPlain()
			t.quoteLine(level, rest, gap)
			gap = 0
			continue
		}

		if m := headingRe.FindStringSubmatch(line); m != nil {
			flushPlain()
			t.inline(m[2])
			b := model.ParagraphItem()
			b.Heading = len(m[1])
			b.Gap = gap
			t.doc.Items = append(t.doc.Items, b)
			gap = 0
			t.inQuote = false
			continue
		}

		if m := orderedRe.FindStringSubmatch(line); m != nil {
			flushPlain()
			t.inline(m[2])
			b := model.ParagraphItem()
			b.List = &model.ListInfo{Kind: model.ListOrdered, Level: len(m[1]) / 3}
			b.Gap = gap
			t.doc.Items = append(t.doc.Items, b)
			gap = 0
			t.inQuote = false
			continue
		}

		if m := bulletRe.FindStringSubmatch(line); m != nil {
			flushPlain()
			t.inline(m[2])
			b := model.ParagraphItem()
			b.List = &model.ListInfo{Kind: model.ListBullet, Level: len(m[1]) / 2}
			b.Gap = gap
			t.doc.Items = append(t.doc.Items, b)
			gap = 0
			t.inQuote = false
			continue
		}

		if len(plain) == 0 {
			plainGap = gap
		}
		plain = append(plain, line)
		gap = 0
		t.inQuote = false
	}
	flushPlain()
	t.doc.TrailingGap = gap
}

// quoteLine handles one blockquote source line. A new group starts on a
// quote-depth change, a blank-line separation, an alert header, or when
// the previous paragraph was not a blockquote.
func (t *tokenizer) quoteLine(level int, rest string, gap int) {
	newGroup := !t.inQuote || gap > 0 || level != t.quoteLevel

	if m := alertHeaderRe.FindStringSubmatch(rest); m != nil {
		if alert := model.ParseAlertType(m[1]); alert != "" {
			// Header line: starts a new group and produces no paragraph.
			t.group++
			t.groupAlert = alert
			t.inQuote = true
			t.quoteLevel = level
			t.pendingGap(gap)
			return
		}
	}

	if newGroup {
		t.group++
		t.groupAlert = ""
		t.pendingGap(gap)
		gap = 0
	} else {
		gap = 0
	}
	t.inQuote = true
	t.quoteLevel = level

	t.inline(rest)
	b := model.ParagraphItem()
	b.Quote = level
	b.Alert = t.groupAlert
	b.Group = t.group
	b.Gap = t.takePendingGap()
	t.doc.Items = append(t.doc.Items, b)
}

// pendingGap holds the blank-line count preceding a group whose first
// paragraph has not been emitted yet: an alert header line may sit
// between the blank lines and the first content paragraph.
func (t *tokenizer) pendingGap(gap int) {
	t.heldGap = gap
	t.hasHeldGap = true
}

func (t *tokenizer) takePendingGap() int {
	if t.hasHeldGap {
		t.hasHeldGap = false
		return t.heldGap
	}
	return 0
}

// newComment allocates the next comment ID and records the comment. The
// body may carry an "author: text" prefix overriding the default author.
func (t *tokenizer) newComment(body, label string) int {
	id := t.commentSeq
	t.commentSeq++
	c := model.Comment{
		ID:     id,
		Author: t.cfg.author(),
		Date:   t.cfg.now(),
		Label:  label,
	}
	t.doc.Comments = append(t.doc.Comments, c)
	t.setCommentBody(id, body)
	return id
}

// labelID returns the comment ID for an explicit range label, allocating
// a comment with an empty body on first sight.
func (t *tokenizer) labelID(label string) int {
	if id, ok := t.labels[label]; ok {
		return id
	}
	id := t.newComment("", label)
	t.labels[label] = id
	return id
}

// setCommentBody fills in the text of comment id, splitting off an
// "author: text" prefix when present.
func (t *tokenizer) setCommentBody(id int, body string) {
	for i := range t.doc.Comments {
		if t.doc.Comments[i].ID != id {
			continue
		}
		if m := authorBodyRe.FindStringSubmatch(body); m != nil {
			t.doc.Comments[i].Author = m[1]
			t.doc.Comments[i].Text = m[2]
		} else {
			t.doc.Comments[i].Text = body
		}
		return
	}
}

package dialect

import (
	"fmt"
	"sort"
	"strings"

	"github.com/markweave/markweave/core/encoding"
	"github.com/markweave/markweave/core/model"
)

// Render turns the content model back into dialect source text. Render
// and Tokenize are inverses: tokenizing rendered output reproduces the
// model, and rendering a tokenized document reproduces the source for
// every supported construct.
func Render(doc *model.Document, cfg Config) string {
	r := &renderer{
		doc:       doc,
		cfg:       cfg,
		items:     model.MergeRuns(doc.Items),
		counters:  make(map[int]int),
		escSet:    make(map[int]bool, len(doc.Escapes)),
		varCursor: make(map[string]int),
	}
	for _, off := range doc.Escapes {
		r.escSet[off] = true
	}
	r.planComments()
	r.run()

	out := r.b.String()
	if suffix := r.danglingBodies(); suffix != "" {
		hadNL := strings.HasSuffix(out, "\n")
		out = strings.TrimSuffix(out, "\n") + suffix
		if hadNL {
			out += "\n"
		}
	}
	if doc.Variant("trailing_newline", "yes") == "no" {
		out = strings.TrimSuffix(out, "\n")
	}
	return out
}

// commentPlan decides how one comment anchor renders: a standalone
// marker, a marker adjacent to the span it covers, or an explicit
// labeled range.
type commentPlan struct {
	id         int
	start, end int // inclusive item interval
	standalone bool
	adjacent   bool
	label      string
}

type renderer struct {
	doc   *model.Document
	cfg   Config
	items []model.ContentItem
	b     strings.Builder

	plans   map[int]*commentPlan
	openAt  map[int][]int // item index -> range IDs opening there, outer first
	closeAt map[int][]int // item index -> range IDs closing there, inner first

	counters  map[int]int // ordered-list numbering per level
	lastGroup int

	// Escape replay: escSet holds source offsets of backslash-escaped
	// characters, in the concatenated text of all text runs; textOff is
	// the rendered position in that same offset space.
	escSet  map[int]bool
	textOff int

	varCursor map[string]int // per-variant occurrence counter
}

// nextVariant returns the recorded spelling for the next occurrence of
// a variant construct, falling back to the document-wide flag and then
// the default when no per-occurrence record exists.
func (r *renderer) nextVariant(name, def string) string {
	i := r.varCursor[name]
	r.varCursor[name]++
	return r.doc.VariantAt(name, i, r.doc.Variant(name, def))
}

func (r *renderer) planComments() {
	r.plans = make(map[int]*commentPlan)
	r.openAt = make(map[int][]int)
	r.closeAt = make(map[int][]int)

	for i := range r.items {
		for _, id := range r.items[i].CommentIDs {
			p, ok := r.plans[id]
			if !ok {
				p = &commentPlan{id: id, start: i}
				r.plans[id] = p
			}
			p.end = i
		}
	}

	for id, p := range r.plans {
		if c := r.doc.Comment(id); c != nil {
			p.label = c.Label
		}
		first := &r.items[p.start]
		if p.start == p.end && first.Kind == model.KindText && first.Text == "" &&
			first.Format.IsZero() && first.Rev == model.RevNone {
			p.standalone = true
			continue
		}
		if p.label == "" && r.adjacencyOK(p) {
			p.adjacent = true
			continue
		}
		if p.label == "" {
			p.label = fmt.Sprintf("c%d", id)
		}
		r.openAt[p.start] = append(r.openAt[p.start], id)
		r.closeAt[p.end] = append(r.closeAt[p.end], id)
	}

	// Outer ranges open first and close last.
	for i, ids := range r.openAt {
		sort.Slice(ids, func(a, b int) bool {
			pa, pb := r.plans[ids[a]], r.plans[ids[b]]
			if pa.end != pb.end {
				return pa.end > pb.end
			}
			return ids[a] < ids[b]
		})
		r.openAt[i] = ids
	}
	for i, ids := range r.closeAt {
		sort.Slice(ids, func(a, b int) bool {
			pa, pb := r.plans[ids[a]], r.plans[ids[b]]
			if pa.start != pb.start {
				return pa.start > pb.start
			}
			return ids[a] > ids[b]
		})
		r.closeAt[i] = ids
	}
}

// adjacencyOK reports whether the comment's interval coincides with one
// renderable span, so a {>>...<<} marker placed directly after the span
// re-binds to exactly the same items.
func (r *renderer) adjacencyOK(p *commentPlan) bool {
	s, e := r.groupExtent(p.start)
	if s != p.start || e != p.end+1 {
		return false
	}
	first := &r.items[p.start]
	if first.Kind == model.KindCitation || first.Rev != model.RevNone || first.Link != "" {
		return true
	}
	return !commonFormats(r.items[s:e]).IsZero()
}

// groupExtent finds the maximal span group containing item i: a full
// tracked-change group, a hyperlink group, a citation, or a run of plain
// text items.
func (r *renderer) groupExtent(i int) (int, int) {
	it := &r.items[i]
	switch {
	case it.Rev != model.RevNone:
		a := i
		for a > 0 && r.items[a-1].Kind != model.KindParagraph &&
			r.items[a-1].Rev != model.RevNone && r.items[a-1].Attr == it.Attr {
			a--
		}
		b := i + 1
		for b < len(r.items) && r.items[b].Kind != model.KindParagraph &&
			r.items[b].Rev != model.RevNone && r.items[b].Attr == it.Attr {
			b++
		}
		// Split the contiguous run into delete-then-insert groups and
		// return the one containing i.
		for p := a; p < b; {
			q := p
			for q < b && r.items[q].Rev == model.RevDelete {
				q++
			}
			for q < b && r.items[q].Rev == model.RevInsert {
				q++
			}
			if q == p {
				q = p + 1
			}
			if i < q {
				return p, q
			}
			p = q
		}
		return i, i + 1
	case it.Kind == model.KindCitation:
		return i, i + 1
	case it.Link != "":
		a := i
		for a > 0 && r.items[a-1].Kind == model.KindText &&
			r.items[a-1].Rev == model.RevNone && r.items[a-1].Link == it.Link {
			a--
		}
		b := i + 1
		for b < len(r.items) && r.items[b].Kind == model.KindText &&
			r.items[b].Rev == model.RevNone && r.items[b].Link == it.Link {
			b++
		}
		return a, b
	default:
		a := i
		for a > 0 && plainText(&r.items[a-1]) {
			a--
		}
		b := i + 1
		for b < len(r.items) && plainText(&r.items[b]) {
			b++
		}
		return a, b
	}
}

func plainText(it *model.ContentItem) bool {
	return it.Kind == model.KindText && it.Rev == model.RevNone && it.Link == ""
}

func (r *renderer) run() {
	r.lastGroup = -1
	start := 0
	for i := range r.items {
		if r.items[i].Kind != model.KindParagraph {
			continue
		}
		r.paragraph(start, i)
		start = i + 1
	}
	for i := 0; i < r.doc.TrailingGap; i++ {
		r.b.WriteString("\n")
	}
}

func (r *renderer) paragraph(start, bi int) {
	b := &r.items[bi]
	for i := 0; i < b.Gap; i++ {
		r.b.WriteString("\n")
	}

	if b.List == nil {
		r.counters = make(map[int]int)
	}

	prefix := ""
	switch {
	case b.Quote > 0:
		prefix = strings.Repeat("> ", b.Quote)
		if b.Alert != "" && b.Group != r.lastGroup {
			r.b.WriteString(prefix + "[!" + string(b.Alert) + "]\n")
		}
	case b.Heading > 0:
		prefix = strings.Repeat("#", b.Heading) + " "
	case b.List != nil:
		if b.List.Kind == model.ListOrdered {
			for lvl := range r.counters {
				if lvl > b.List.Level {
					delete(r.counters, lvl)
				}
			}
			r.counters[b.List.Level]++
			prefix = strings.Repeat("   ", b.List.Level) +
				fmt.Sprintf("%d. ", r.counters[b.List.Level])
		} else {
			prefix = strings.Repeat("  ", b.List.Level) + "- "
		}
	}
	r.lastGroup = b.Group

	content := r.inlineRange(start, bi)
	for _, line := range strings.Split(content, "\n") {
		if prefix == "" {
			line = escapeBlockStart(line)
		}
		r.b.WriteString(prefix + line + "\n")
	}
}

// inlineRange renders the runs of one paragraph, interleaving comment
// range markers and bodies at the planned item boundaries.
func (r *renderer) inlineRange(start, end int) string {
	var sb strings.Builder
	i := start
	for i < end {
		for _, id := range r.openAt[i] {
			sb.WriteString("{#" + r.plans[id].label + "}")
		}
		if ids := r.standaloneIDs(i); len(ids) > 0 {
			for _, id := range ids {
				sb.WriteString(r.commentMarker(id, true))
			}
			for _, id := range r.closeAt[i] {
				sb.WriteString("{/" + r.plans[id].label + "}")
				sb.WriteString(r.commentMarker(id, false))
			}
			i++
			continue
		}
		j := r.segmentEnd(i, end)
		sb.WriteString(r.segment(i, j))
		for _, p := range r.adjacentAt(i, j) {
			sb.WriteString(r.commentMarker(p.id, true))
		}
		for _, id := range r.closeAt[j-1] {
			sb.WriteString("{/" + r.plans[id].label + "}")
			sb.WriteString(r.commentMarker(id, false))
		}
		i = j
	}
	return sb.String()
}

func (r *renderer) standaloneIDs(i int) []int {
	var ids []int
	for _, id := range r.items[i].CommentIDs {
		if p := r.plans[id]; p != nil && p.standalone && p.start == i {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids
}

func (r *renderer) adjacentAt(i, j int) []*commentPlan {
	var out []*commentPlan
	for _, id := range r.items[i].CommentIDs {
		if p := r.plans[id]; p != nil && p.adjacent && p.start == i && p.end == j-1 {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].id < out[b].id })
	return out
}

// segmentEnd finds the end of the span group starting at i, clipped at
// any planned comment marker boundary.
func (r *renderer) segmentEnd(i, end int) int {
	_, ge := r.groupExtent(i)
	if ge > end {
		ge = end
	}
	j := i + 1
	for j < ge {
		if len(r.openAt[j]) > 0 || len(r.closeAt[j-1]) > 0 || len(r.standaloneIDs(j)) > 0 {
			break
		}
		j++
	}
	return j
}

func (r *renderer) segment(i, j int) string {
	it := &r.items[i]
	switch {
	case it.Rev == model.RevDelete:
		k := i
		for k < j && r.items[k].Rev == model.RevDelete {
			k++
		}
		if k < j {
			return "{~~" + r.inner(i, k) + "~>" + r.inner(k, j) + "~~}"
		}
		return "{--" + r.inner(i, j) + "--}"
	case it.Rev == model.RevInsert:
		return "{++" + r.inner(i, j) + "++}"
	default:
		return r.inner(i, j)
	}
}

// inner renders a marker-free run range: citations, hyperlink groups,
// and formatted text.
func (r *renderer) inner(i, j int) string {
	var sb strings.Builder
	p := i
	for p < j {
		it := &r.items[p]
		switch {
		case it.Kind == model.KindCitation:
			sb.WriteString(renderCitation(it))
			p++
		case it.Link != "":
			q := p
			for q < j && r.items[q].Kind == model.KindText && r.items[q].Link == it.Link {
				q++
			}
			text := r.renderFmt(r.items[p:q], model.RunFormatting{})
			if encoding.NeedsAngleDestination(it.Link) {
				sb.WriteString("[" + text + "](<" + encoding.EscapeAngleDestination(it.Link) + ">)")
			} else {
				sb.WriteString("[" + text + "](" + it.Link + ")")
			}
			p = q
		default:
			q := p
			for q < j && r.items[q].Kind == model.KindText && r.items[q].Link == "" {
				q++
			}
			sb.WriteString(r.renderFmt(r.items[p:q], model.RunFormatting{}))
			p = q
		}
	}
	return sb.String()
}

// renderFmt wraps a run range in formatting delimiters, factoring flags
// shared by the whole range into one delimiter pair. Delimiters nest in
// a fixed order: bold, italic, strikethrough, underline, highlight,
// super/subscript.
func (r *renderer) renderFmt(items []model.ContentItem, applied model.RunFormatting) string {
	if len(items) == 0 {
		return ""
	}
	common := subtractFormats(commonFormats(items), applied)
	if !common.IsZero() {
		f := firstFormat(common)
		op, cl := r.delims(f)
		return op + r.renderFmt(items, orFormats(applied, f)) + cl
	}

	var sb strings.Builder
	p := 0
	for p < len(items) {
		rem := subtractFormats(items[p].Format, applied)
		if rem.IsZero() {
			sb.WriteString(r.escapeText(items[p].Text))
			p++
			continue
		}
		f := firstFormat(rem)
		q := p
		for q < len(items) && hasFormat(subtractFormats(items[q].Format, applied), f) {
			q++
		}
		sb.WriteString(r.renderFmt(items[p:q], applied))
		p = q
	}
	return sb.String()
}

// delims returns the opening and closing delimiter for one formatting
// flag, honoring the document's recorded spelling variants.
func (r *renderer) delims(f model.RunFormatting) (string, string) {
	switch {
	case f.Bold:
		return "**", "**"
	case f.Italic:
		if r.nextVariant(model.VariantItalic, model.ItalicStar) == model.ItalicUnderscore {
			return "_", "_"
		}
		return "*", "*"
	case f.Strike:
		return "~~", "~~"
	case f.Underline:
		return "++", "++"
	case f.Highlight:
		suffix := ""
		if f.HighlightColor != "" {
			suffix = "{" + f.HighlightColor + "}"
		}
		if r.nextVariant(model.VariantHighlight, model.HighlightBraced) == model.HighlightBare {
			return "==", "==" + suffix
		}
		return "{==", "==}" + suffix
	case f.Superscript:
		return "^", "^"
	case f.Subscript:
		return "~", "~"
	}
	return "", ""
}

func renderCitation(it *model.ContentItem) string {
	if len(it.Keys) == 0 {
		return escapeInline(it.Text)
	}
	parts := make([]string, 0, len(it.Keys))
	for _, k := range it.Keys {
		s := "@" + k.Key
		if k.Locator != "" {
			s += ", " + k.Locator
		}
		parts = append(parts, s)
	}
	return "[" + strings.Join(parts, "; ") + "]"
}

// commentMarker renders the {>>...<<} marker for a comment. The author
// prefix is emitted when the author differs from the configured default,
// or when the body itself would misparse as an author prefix.
func (r *renderer) commentMarker(id int, always bool) string {
	c := r.doc.Comment(id)
	if c == nil {
		return ""
	}
	if !always && c.Text == "" && c.Author == r.cfg.author() {
		// A labeled range that was never given a body.
		return ""
	}
	body := c.Text
	if c.Author != r.cfg.author() || authorBodyRe.MatchString(body) {
		body = c.Author + ": " + body
	}
	return "{>>" + body + "<<}"
}

// danglingBodies renders {#label>>body<<} markers for comments whose
// anchors cover no items, appended at the end of the output.
func (r *renderer) danglingBodies() string {
	var sb strings.Builder
	for _, c := range r.doc.Comments {
		if _, ok := r.plans[c.ID]; ok {
			continue
		}
		if c.Text == "" || c.Label == "" {
			continue
		}
		body := c.Text
		if c.Author != r.cfg.author() || authorBodyRe.MatchString(body) {
			body = c.Author + ": " + body
		}
		sb.WriteString("{#" + c.Label + ">>" + body + "<<}")
	}
	return sb.String()
}

// Format set helpers. HighlightColor rides with the Highlight flag, so
// two highlights with different colors never factor together.

func commonFormats(items []model.ContentItem) model.RunFormatting {
	f := items[0].Format
	for k := 1; k < len(items); k++ {
		f = intersectFormats(f, items[k].Format)
	}
	return f
}

func intersectFormats(a, b model.RunFormatting) model.RunFormatting {
	out := model.RunFormatting{
		Bold:        a.Bold && b.Bold,
		Italic:      a.Italic && b.Italic,
		Underline:   a.Underline && b.Underline,
		Strike:      a.Strike && b.Strike,
		Superscript: a.Superscript && b.Superscript,
		Subscript:   a.Subscript && b.Subscript,
	}
	if a.Highlight && b.Highlight && a.HighlightColor == b.HighlightColor {
		out.Highlight = true
		out.HighlightColor = a.HighlightColor
	}
	return out
}

func subtractFormats(a, b model.RunFormatting) model.RunFormatting {
	out := model.RunFormatting{
		Bold:        a.Bold && !b.Bold,
		Italic:      a.Italic && !b.Italic,
		Underline:   a.Underline && !b.Underline,
		Strike:      a.Strike && !b.Strike,
		Superscript: a.Superscript && !b.Superscript,
		Subscript:   a.Subscript && !b.Subscript,
	}
	if a.Highlight && !b.Highlight {
		out.Highlight = true
		out.HighlightColor = a.HighlightColor
	}
	return out
}

func orFormats(a, b model.RunFormatting) model.RunFormatting {
	out := model.RunFormatting{
		Bold:        a.Bold || b.Bold,
		Italic:      a.Italic || b.Italic,
		Underline:   a.Underline || b.Underline,
		Strike:      a.Strike || b.Strike,
		Superscript: a.Superscript || b.Superscript,
		Subscript:   a.Subscript || b.Subscript,
	}
	if a.Highlight || b.Highlight {
		out.Highlight = true
		out.HighlightColor = a.HighlightColor
		if b.Highlight {
			out.HighlightColor = b.HighlightColor
		}
	}
	return out
}

// firstFormat isolates the outermost active flag in canonical nesting
// order as a single-flag value.
func firstFormat(f model.RunFormatting) model.RunFormatting {
	switch {
	case f.Bold:
		return model.RunFormatting{Bold: true}
	case f.Italic:
		return model.RunFormatting{Italic: true}
	case f.Strike:
		return model.RunFormatting{Strike: true}
	case f.Underline:
		return model.RunFormatting{Underline: true}
	case f.Highlight:
		return model.RunFormatting{Highlight: true, HighlightColor: f.HighlightColor}
	case f.Superscript:
		return model.RunFormatting{Superscript: true}
	case f.Subscript:
		return model.RunFormatting{Subscript: true}
	}
	return model.RunFormatting{}
}

func hasFormat(f, flag model.RunFormatting) bool {
	switch {
	case flag.Bold:
		return f.Bold
	case flag.Italic:
		return f.Italic
	case flag.Strike:
		return f.Strike
	case flag.Underline:
		return f.Underline
	case flag.Highlight:
		return f.Highlight && f.HighlightColor == flag.HighlightColor
	case flag.Superscript:
		return f.Superscript
	case flag.Subscript:
		return f.Subscript
	}
	return false
}

// escapeText renders one text run's literal bytes, re-inserting the
// backslash at every source offset recorded as escaped and falling back
// to escapeInline's heuristic for the rest. Offsets advance through the
// concatenated text of all runs, mirroring the tokenizer's bookkeeping.
func (r *renderer) escapeText(s string) string {
	base := r.textOff
	r.textOff += len(s)
	if len(r.escSet) == 0 {
		return escapeInline(s)
	}
	return escapeWith(s, func(i int) bool { return r.escSet[base+i] })
}

// escapeInline backslash-escapes literal text that would otherwise
// re-parse as annotation or formatting markup. Lone marker characters
// with no possible closer stay unescaped, so ordinary prose survives
// byte-for-byte.
func escapeInline(s string) string {
	return escapeWith(s, nil)
}

// escapeWith runs the escaping loop with an optional set of positions
// that must be escaped regardless of the heuristic, re-creating the
// source's own backslashes at exactly the offsets they were consumed.
func escapeWith(s string, forced func(int) bool) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if forced != nil && forced(i) {
			b.WriteByte('\\')
			b.WriteByte(c)
			continue
		}
		switch c {
		case '\\':
			b.WriteString(`\\`)
		case '{':
			rest := s[i:]
			if strings.HasPrefix(rest, "{++") || strings.HasPrefix(rest, "{--") ||
				strings.HasPrefix(rest, "{~~") || strings.HasPrefix(rest, "{==") ||
				strings.HasPrefix(rest, "{>>") || anchorOpenRe.MatchString(rest) ||
				anchorCloseRe.MatchString(rest) {
				b.WriteString(`\{`)
			} else {
				b.WriteByte(c)
			}
		case '*', '_', '^', '~':
			// Intra-word underscores never open an italic span, so
			// they stay literal without escaping.
			intraWord := c == '_' && i > 0 && isWordByte(s[i-1])
			if !intraWord && strings.IndexByte(s[i+1:], c) >= 0 {
				b.WriteByte('\\')
			}
			b.WriteByte(c)
		case '=', '+':
			if i+1 < len(s) && s[i+1] == c {
				b.WriteByte('\\')
			}
			b.WriteByte(c)
		case '[':
			rest := s[i:]
			if strings.HasPrefix(rest, "[@") || strings.Contains(rest, "](") {
				b.WriteByte('\\')
			}
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func isWordByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

// escapeBlockStart protects a plain paragraph line whose first characters
// would re-parse as a block construct (heading, list item, blockquote).
func escapeBlockStart(line string) string {
	if line == "" {
		return line
	}
	if strings.HasPrefix(line, ">") || headingRe.MatchString(line) ||
		bulletRe.MatchString(line) || orderedRe.MatchString(line) {
		return "\\" + line
	}
	return line
}

package dialect

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/markweave/markweave/core/encoding"
	"github.com/markweave/markweave/core/model"
)

// highlightColors is the highlight palette the package format accepts as
// named colors. Hex values pass through unchanged.
var highlightColors = map[string]bool{
	"black": true, "blue": true, "cyan": true, "darkblue": true,
	"darkcyan": true, "darkgray": true, "darkgreen": true,
	"darkmagenta": true, "darkred": true, "darkyellow": true,
	"green": true, "lightgray": true, "magenta": true, "red": true,
	"white": true, "yellow": true,
}

// quotePrefix strips the leading blockquote markers from line and
// returns the nesting level and the remaining content.
func quotePrefix(line string) (int, string) {
	level := 0
	for strings.HasPrefix(line, ">") {
		level++
		line = line[1:]
		line = strings.TrimPrefix(line, " ")
	}
	return level, line
}

// inlineState is the formatting context active at one scan position.
type inlineState struct {
	fmt  model.RunFormatting
	rev  model.RevisionKind
	attr model.Revision
}

// inlineParser scans one line of inline content, appending items to the
// tokenizer's document. Malformed markers degrade to literal text.
type inlineParser struct {
	t   *tokenizer
	src string
	pos int
	buf strings.Builder
	st  inlineState

	// spanStart/spanEnd frame the items of the most recently completed
	// annotation span, so a directly following comment can bind to it.
	spanStart int
	spanEnd   int

	// closedAnchor is the comment ID of a labeled range closed at the
	// current position, so {/x}{>>body<<} supplies that range's body.
	closedAnchor int
}

// inline parses one line of inline content in the document context.
func (t *tokenizer) inline(line string) {
	p := &inlineParser{t: t, src: line, spanStart: -1, spanEnd: -1, closedAnchor: -1}
	p.parse()
}

func (p *inlineParser) parse() {
	for p.pos < len(p.src) {
		p.parseStep()
	}
	p.flush()
}

// parseStep runs one iteration of the scan loop, with a safety net
// against scanner stalls.
func (p *inlineParser) parseStep() {
	before := p.pos
	src := p.src
	p.parseOnce()
	if p.pos == before && p.src == src {
		_, size := utf8.DecodeRuneInString(p.src[p.pos:])
		p.buf.WriteString(p.src[p.pos : p.pos+size])
		p.pos += size
	}
}

func (p *inlineParser) parseOnce() {
	rest := p.src[p.pos:]
	switch {
	case rest[0] == '\\' && len(rest) > 1:
		_, size := utf8.DecodeRuneInString(rest[1:])
		// Record where the escaped character lands in the text stream, so
		// rendering restores the backslash at exactly this position.
		p.t.doc.Escapes = append(p.t.doc.Escapes, p.t.textLen+p.buf.Len())
		p.buf.WriteString(rest[1 : 1+size])
		p.pos += 1 + size
	case strings.HasPrefix(rest, "{++"):
		p.tracked("{++", "++}", model.RevInsert)
	case strings.HasPrefix(rest, "{--"):
		p.tracked("{--", "--}", model.RevDelete)
	case strings.HasPrefix(rest, "{~~"):
		p.substitution()
	case strings.HasPrefix(rest, "{=="):
		p.highlight(true)
	case strings.HasPrefix(rest, "{>>"):
		p.comment()
	case anchorBodyRe.MatchString(rest):
		p.anchorBody()
	case anchorOpenRe.MatchString(rest):
		p.anchorOpen()
	case anchorCloseRe.MatchString(rest):
		p.anchorClose()
	case strings.HasPrefix(rest, "=="):
		p.highlight(false)
	case strings.HasPrefix(rest, "***"):
		// Bold+italic in one run of asterisks.
		if inner, ok := cut(rest, "***", "***"); ok && inner != "" {
			st := p.st
			st.fmt.Bold = true
			st.fmt.Italic = true
			p.t.doc.SetVariant(model.VariantItalic, model.ItalicStar)
			p.t.doc.PushVariant(model.VariantItalic, model.ItalicStar)
			p.span("***", "***", inner, st)
		} else {
			p.emphasis("**", func(f *model.RunFormatting) { f.Bold = true })
		}
	case strings.HasPrefix(rest, "**"):
		p.emphasis("**", func(f *model.RunFormatting) { f.Bold = true })
	case strings.HasPrefix(rest, "~~"):
		p.emphasis("~~", func(f *model.RunFormatting) { f.Strike = true })
	case strings.HasPrefix(rest, "++"):
		p.emphasis("++", func(f *model.RunFormatting) { f.Underline = true })
	case rest[0] == '*':
		p.italic("*", model.ItalicStar)
	case rest[0] == '_':
		p.italic("_", model.ItalicUnderscore)
	case rest[0] == '^':
		p.emphasis("^", func(f *model.RunFormatting) {
			f.Superscript = true
			f.Subscript = false
		})
	case rest[0] == '~':
		p.emphasis("~", func(f *model.RunFormatting) {
			f.Subscript = true
			f.Superscript = false
		})
	case strings.HasPrefix(rest, "[@"):
		p.citation()
	case rest[0] == '[':
		p.link()
	default:
		_, size := utf8.DecodeRuneInString(rest)
		p.buf.WriteString(rest[:size])
		p.pos += size
	}
}

// flush emits the pending literal text as one run. Literal text breaks
// comment adjacency with any earlier span.
func (p *inlineParser) flush() {
	if p.buf.Len() == 0 {
		return
	}
	it := model.TextItem(p.buf.String(), p.st.fmt)
	it.Rev = p.st.rev
	it.Attr = p.st.attr
	for _, id := range p.t.openAnchors {
		it.AddComment(id)
	}
	p.t.doc.Items = append(p.t.doc.Items, it)
	p.t.textLen += p.buf.Len()
	p.buf.Reset()
	p.spanStart, p.spanEnd = -1, -1
	p.closedAnchor = -1
}

// literal appends marker text verbatim (degradation path).
func (p *inlineParser) literal(s string) {
	p.buf.WriteString(s)
	p.pos += len(s)
}

// parseSub parses a nested source fragment under a modified state.
func (p *inlineParser) parseSub(src string, st inlineState) {
	savedSrc, savedPos, savedSt := p.src, p.pos, p.st
	p.src, p.pos, p.st = src, 0, st
	for p.pos < len(p.src) {
		p.parseStep()
	}
	p.flush()
	p.src, p.pos, p.st = savedSrc, savedPos, savedSt
}

// span runs the shared open/close machinery: flush pending text, parse
// the inner fragment under st, and frame the produced items for comment
// adjacency.
func (p *inlineParser) span(open, close string, inner string, st inlineState) {
	p.flush()
	start := len(p.t.doc.Items)
	p.parseSub(inner, st)
	p.pos += len(open) + len(inner) + len(close)
	p.spanStart, p.spanEnd = start, len(p.t.doc.Items)
	p.closedAnchor = -1
}

func (p *inlineParser) tracked(open, close string, rev model.RevisionKind) {
	inner, ok := cut(p.src[p.pos:], open, close)
	if !ok {
		p.literal(open)
		return
	}
	st := p.st
	st.rev = rev
	st.attr = model.Revision{Author: p.t.cfg.author(), Date: p.t.cfg.now()}
	p.span(open, close, inner, st)
}

func (p *inlineParser) substitution() {
	inner, ok := cut(p.src[p.pos:], "{~~", "~~}")
	if !ok {
		p.literal("{~~")
		return
	}
	old, repl, found := strings.Cut(inner, "~>")
	if !found {
		p.literal("{~~")
		return
	}
	p.flush()
	start := len(p.t.doc.Items)
	attr := model.Revision{Author: p.t.cfg.author(), Date: p.t.cfg.now()}

	st := p.st
	st.rev = model.RevDelete
	st.attr = attr
	p.parseSub(old, st)

	st.rev = model.RevInsert
	p.parseSub(repl, st)

	p.pos += len("{~~") + len(inner) + len("~~}")
	p.spanStart, p.spanEnd = start, len(p.t.doc.Items)
	p.closedAnchor = -1
}

func (p *inlineParser) highlight(braced bool) {
	open, close := "==", "=="
	variant := model.HighlightBare
	if braced {
		open, close = "{==", "==}"
		variant = model.HighlightBraced
	}
	inner, ok := cut(p.src[p.pos:], open, close)
	if !ok || (!braced && inner == "") {
		p.literal(open)
		return
	}

	// Optional color suffix directly after the closing delimiter.
	color := ""
	suffixLen := 0
	after := p.src[p.pos+len(open)+len(inner)+len(close):]
	if m := colorSuffixRe.FindStringSubmatch(after); m != nil {
		tok := m[1]
		if strings.HasPrefix(tok, "#") || highlightColors[strings.ToLower(tok)] {
			color = tok
			suffixLen = len(m[0])
		}
	}

	st := p.st
	st.fmt.Highlight = true
	st.fmt.HighlightColor = color
	p.t.doc.SetVariant(model.VariantHighlight, variant)
	p.t.doc.PushVariant(model.VariantHighlight, variant)
	p.span(open, close, inner, st)
	p.pos += suffixLen
}

func (p *inlineParser) emphasis(delim string, mod func(*model.RunFormatting)) {
	inner, ok := cutEmphasis(p.src[p.pos:], delim)
	if !ok || inner == "" {
		p.literal(delim)
		return
	}
	st := p.st
	mod(&st.fmt)
	p.span(delim, delim, inner, st)
}

// italic handles the single-character italic delimiters with basic
// word-boundary rules so intra-word underscores stay literal.
func (p *inlineParser) italic(delim string, variant string) {
	if delim == "_" && p.pos > 0 {
		prev, _ := utf8.DecodeLastRuneInString(p.src[:p.pos])
		if unicode.IsLetter(prev) || unicode.IsDigit(prev) {
			p.literal(delim)
			return
		}
	}
	inner, ok := cutEmphasis(p.src[p.pos:], delim)
	if !ok || inner == "" {
		p.literal(delim)
		return
	}
	if delim == "_" {
		after := p.src[p.pos+len(delim)+len(inner)+len(delim):]
		if after != "" {
			next, _ := utf8.DecodeRuneInString(after)
			if unicode.IsLetter(next) || unicode.IsDigit(next) {
				p.literal(delim)
				return
			}
		}
	}
	st := p.st
	st.fmt.Italic = true
	p.t.doc.SetVariant(model.VariantItalic, variant)
	p.t.doc.PushVariant(model.VariantItalic, variant)
	p.span(delim, delim, inner, st)
}

func (p *inlineParser) comment() {
	inner, ok := cut(p.src[p.pos:], "{>>", "<<}")
	if !ok {
		p.literal("{>>")
		return
	}
	p.flush()
	if p.closedAnchor >= 0 {
		// Supplies the body of the labeled range just closed.
		p.t.setCommentBody(p.closedAnchor, inner)
		p.closedAnchor = -1
		p.pos += len("{>>") + len(inner) + len("<<}")
		return
	}
	id := p.t.newComment(inner, "")
	if p.spanStart >= 0 && p.spanEnd == len(p.t.doc.Items) {
		// Binds to the directly preceding annotation span.
		for i := p.spanStart; i < p.spanEnd; i++ {
			p.t.doc.Items[i].AddComment(id)
		}
	} else {
		// Standalone: zero-width anchor at this position.
		it := model.TextItem("", model.RunFormatting{})
		it.AddComment(id)
		p.t.doc.Items = append(p.t.doc.Items, it)
		p.spanStart, p.spanEnd = -1, -1
	}
	p.pos += len("{>>") + len(inner) + len("<<}")
}

func (p *inlineParser) anchorOpen() {
	m := anchorOpenRe.FindStringSubmatch(p.src[p.pos:])
	label := m[1]
	p.flush()
	id := p.t.labelID(label)
	p.t.openAnchors = append(p.t.openAnchors, id)
	p.pos += len(m[0])
	p.spanStart, p.spanEnd = -1, -1
	p.closedAnchor = -1
}

func (p *inlineParser) anchorClose() {
	m := anchorCloseRe.FindStringSubmatch(p.src[p.pos:])
	label := m[1]
	id, known := p.t.labels[label]
	if !known {
		p.literal(m[0])
		return
	}
	p.flush()
	for i, open := range p.t.openAnchors {
		if open == id {
			p.t.openAnchors = append(p.t.openAnchors[:i], p.t.openAnchors[i+1:]...)
			break
		}
	}
	p.pos += len(m[0])
	p.spanStart, p.spanEnd = -1, -1
	p.closedAnchor = id
}

func (p *inlineParser) anchorBody() {
	m := anchorBodyRe.FindStringSubmatch(p.src[p.pos:])
	label := m[1]
	open := m[0]
	inner, ok := cut(p.src[p.pos:], open, "<<}")
	if !ok {
		p.literal(open)
		return
	}
	p.flush()
	id := p.t.labelID(label)
	p.t.setCommentBody(id, inner)
	p.pos += len(open) + len(inner) + len("<<}")
}

func (p *inlineParser) citation() {
	rest := p.src[p.pos:]
	end := strings.Index(rest, "]")
	if end < 0 {
		p.literal("[")
		return
	}
	content := rest[1:end]
	keys, ok := parseCiteKeys(content)
	if !ok {
		p.literal("[")
		return
	}
	p.flush()
	start := len(p.t.doc.Items)
	it := model.ContentItem{Kind: model.KindCitation, Keys: keys, Rev: p.st.rev, Attr: p.st.attr}
	for _, id := range p.t.openAnchors {
		it.AddComment(id)
	}
	p.t.doc.Items = append(p.t.doc.Items, it)
	p.pos += end + 1
	p.spanStart, p.spanEnd = start, len(p.t.doc.Items)
	p.closedAnchor = -1
}

func (p *inlineParser) link() {
	rest := p.src[p.pos:]
	mid := strings.Index(rest, "](")
	if mid < 0 {
		p.literal("[")
		return
	}
	text := rest[1:mid]
	destPart := rest[mid+2:]
	var dest string
	var consumed int
	if strings.HasPrefix(destPart, "<") {
		gt := strings.Index(destPart, ">")
		if gt < 0 || !strings.HasPrefix(destPart[gt+1:], ")") {
			p.literal("[")
			return
		}
		dest = encoding.UnescapeAngleDestination(destPart[1:gt])
		consumed = gt + 2
	} else {
		end := strings.Index(destPart, ")")
		if end < 0 {
			p.literal("[")
			return
		}
		dest = destPart[:end]
		consumed = end + 1
	}

	p.flush()
	start := len(p.t.doc.Items)
	p.parseSub(text, p.st)
	for i := start; i < len(p.t.doc.Items); i++ {
		p.t.doc.Items[i].Link = dest
	}
	p.pos += mid + 2 + consumed
	p.spanStart, p.spanEnd = start, len(p.t.doc.Items)
	p.closedAnchor = -1
}

// cut extracts the inner text between open (at the start of s) and the
// first occurrence of close.
func cut(s, open, close string) (string, bool) {
	body := s[len(open):]
	idx := strings.Index(body, close)
	if idx < 0 {
		return "", false
	}
	return body[:idx], true
}

// cutEmphasis finds the inner text of a single-rune emphasis delimiter,
// skipping doubled occurrences that belong to a different construct
// (e.g. the "**" inside "*a **b** c*").
func cutEmphasis(s, delim string) (string, bool) {
	if len(delim) > 1 {
		return cut(s, delim, delim)
	}
	body := s[len(delim):]
	for i := 0; i < len(body); i++ {
		if body[i] != delim[0] {
			continue
		}
		if i+1 < len(body) && body[i+1] == delim[0] {
			i++ // doubled delimiter, not our closer
			continue
		}
		return body[:i], true
	}
	return "", false
}

// parseCiteKeys parses "@key1, loc; @key2" bracket content.
func parseCiteKeys(content string) ([]model.CiteKey, bool) {
	var keys []model.CiteKey
	for _, seg := range strings.Split(content, ";") {
		seg = strings.TrimSpace(seg)
		rest, found := strings.CutPrefix(seg, "@")
		if !found || rest == "" {
			return nil, false
		}
		key, locator, _ := strings.Cut(rest, ",")
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, false
		}
		keys = append(keys, model.CiteKey{Key: key, Locator: strings.TrimSpace(locator)})
	}
	return keys, len(keys) > 0
}

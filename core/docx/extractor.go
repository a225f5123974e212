package docx

import (
	"bytes"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/antchfx/xmlquery"

	"github.com/markweave/markweave/core/bib"
	"github.com/markweave/markweave/core/errors"
	"github.com/markweave/markweave/core/metadata"
	"github.com/markweave/markweave/core/model"
)

// ExtractInfo carries the extraction byproducts that live outside the
// content model.
type ExtractInfo struct {
	// Author is the default identity recorded in the side channel at
	// generation time, or "markweave" when the package carries none.
	Author string

	// SourceHash is the source fingerprint recorded at generation time,
	// empty when the package carries none.
	SourceHash string

	Warnings []string
}

// Extract parses a package back into the content model. Only container
// corruption is fatal; every other problem degrades to a warning and a
// best-effort fallback, so third-party packages still extract.
func Extract(pkg *Package) (*model.Document, ExtractInfo, error) {
	e := &extractor{
		pkg:       pkg,
		rels:      make(map[string]string),
		openCount: make(map[int]int),
		skipped:   make(map[string]bool),
	}

	docPart := pkg.Part(PartDocument)
	if docPart == nil {
		return nil, ExtractInfo{}, errors.NewPackage(PartDocument, "missing document part", errors.ErrCorruptPackage)
	}

	e.codec = metadata.New()
	if props := pkg.Part(PartCustomProps); props != nil {
		if codec, err := metadata.ParsePart(props); err != nil {
			e.warn("custom properties unreadable: " + err.Error())
		} else {
			e.codec = codec
		}
	}

	e.readRels(pkg.Part(PartDocumentRels))
	e.readComments(pkg.Part(PartComments))

	root, err := xmlquery.Parse(bytes.NewReader(docPart))
	if err != nil {
		return nil, ExtractInfo{}, errors.NewPackage(PartDocument, "malformed XML", err)
	}
	body := xmlquery.FindOne(root, "//*[local-name()='body']")
	if body == nil {
		return nil, ExtractInfo{}, errors.NewPackage(PartDocument, "no body element", errors.ErrCorruptPackage)
	}

	for n := body.FirstChild; n != nil; n = n.NextSibling {
		if n.Type != xmlquery.ElementNode {
			continue
		}
		switch n.Data {
		case "p":
			e.paragraph(n)
		case "sectPr", "bookmarkStart", "bookmarkEnd":
			// Layout and anchor bookkeeping with no content.
		default:
			e.skipElement(n.Data)
		}
	}

	doc := e.assemble()
	e.attachComments(doc)

	for _, key := range e.codec.Keys() {
		if name, ok := metadata.VariantSeqName(key); ok {
			if v, found := e.codec.Get(key); found && v != "" {
				for _, entry := range strings.Split(v, ",") {
					doc.PushVariant(name, entry)
				}
			}
			continue
		}
		if name, ok := metadata.VariantName(key); ok {
			if v, found := e.codec.Get(key); found {
				doc.SetVariant(name, v)
			}
		}
	}
	doc.TrailingGap = e.codec.GetInt(metadata.TrailingGapKey(), 0)
	if raw, ok := e.codec.Get(metadata.EscapesKey()); ok && raw != "" {
		for _, s := range strings.Split(raw, ",") {
			if off, err := strconv.Atoi(s); err == nil {
				doc.Escapes = append(doc.Escapes, off)
			}
		}
	}

	info := ExtractInfo{Author: "markweave", Warnings: e.warnings}
	if a, ok := e.codec.Get(metadata.AuthorKey()); ok && a != "" {
		info.Author = a
	}
	if h, ok := e.codec.Get(metadata.SourceHashKey()); ok {
		info.SourceHash = h
	}
	return doc, info, nil
}

// paraData is one extracted paragraph before group and gap assignment.
type paraData struct {
	items       []model.ContentItem
	heading     int
	quote       int
	list        *model.ListInfo
	alert       model.AlertType
	afterSpacer bool
}

// runCtx is the inline wrapper context inherited by runs: tracked-change
// attribution, hyperlink target, and the paragraph-default formatting.
type runCtx struct {
	rev  model.RevisionKind
	attr model.Revision
	link string
	base model.RunFormatting
}

// fieldState tracks one complex field between its begin and end
// characters.
type fieldState struct {
	active  bool
	display bool
	instr   strings.Builder
	text    strings.Builder
	ctx     runCtx
}

type extractor struct {
	pkg      *Package
	codec    *metadata.Codec
	rels     map[string]string // rId -> target
	comments []model.Comment
	warnings []string
	skipped  map[string]bool

	paras []paraData
	cur   *paraData

	open      []int       // open comment anchors, document order
	openCount map[int]int // items tagged since each anchor opened

	field    fieldState
	fieldSeq int

	sawSpacer bool
}

func (e *extractor) warn(msg string) {
	e.warnings = append(e.warnings, msg)
}

// skipElement records one warning per unrecognized element name, so a
// foreign document full of the same extension does not flood the log.
func (e *extractor) skipElement(name string) {
	if e.skipped[name] {
		return
	}
	e.skipped[name] = true
	e.warn("skipping unrecognized element " + name)
}

// paragraph extracts one w:p. Spacer paragraphs around alert groups are
// recognized by their structural fingerprint and dropped.
func (e *extractor) paragraph(p *xmlquery.Node) {
	if isSpacer(p) {
		e.sawSpacer = true
		return
	}

	e.paras = append(e.paras, paraData{afterSpacer: e.sawSpacer})
	e.cur = &e.paras[len(e.paras)-1]
	e.sawSpacer = false

	ctx := runCtx{}
	if pPr := childElem(p, "pPr"); pPr != nil {
		ctx.base = e.paraProps(pPr, e.cur)
	}
	e.inline(p, ctx)

	if e.field.active {
		e.warn("field not closed before paragraph end")
		e.endField()
	}
	e.stripLeadIn(e.cur)
	e.cur = nil
}

// inline walks the ordered inline children of a paragraph or wrapper
// element, threading the wrapper context through.
func (e *extractor) inline(n *xmlquery.Node, ctx runCtx) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != xmlquery.ElementNode {
			continue
		}
		switch c.Data {
		case "pPr", "proofErr":
			// Handled separately / no content.
		case "r":
			e.run(c, ctx)
		case "ins":
			sub := ctx
			sub.rev = model.RevInsert
			sub.attr = e.revision(c)
			e.inline(c, sub)
		case "del":
			sub := ctx
			sub.rev = model.RevDelete
			sub.attr = e.revision(c)
			e.inline(c, sub)
		case "hyperlink":
			sub := ctx
			rid := attrVal(c, "id")
			if target, ok := e.rels[rid]; ok {
				sub.link = target
			} else {
				e.warn("hyperlink relationship " + rid + " not found, keeping text only")
			}
			e.inline(c, sub)
		case "commentRangeStart":
			if id, err := strconv.Atoi(attrVal(c, "id")); err == nil {
				e.open = append(e.open, id)
				e.openCount[id] = 0
			}
		case "commentRangeEnd":
			if id, err := strconv.Atoi(attrVal(c, "id")); err == nil {
				e.closeRange(id, ctx)
			}
		case "bookmarkStart", "bookmarkEnd":
		default:
			e.skipElement(c.Data)
		}
	}
}

// closeRange closes a comment anchor. A range that covered no run is a
// zero-width anchor; materialize it so the comment keeps its position.
func (e *extractor) closeRange(id int, ctx runCtx) {
	if count, ok := e.openCount[id]; ok && count == 0 {
		it := model.TextItem("", model.RunFormatting{})
		it.Rev = ctx.rev
		it.Attr = ctx.attr
		e.append(it)
	}
	for i, v := range e.open {
		if v == id {
			e.open = append(e.open[:i], e.open[i+1:]...)
			break
		}
	}
	delete(e.openCount, id)
}

// append adds one extracted item to the current paragraph, tagging it
// with every open comment anchor.
func (e *extractor) append(it model.ContentItem) {
	for _, id := range e.open {
		it.AddComment(id)
		e.openCount[id]++
	}
	e.cur.items = append(e.cur.items, it)
}

// run extracts one w:r, feeding complex-field runs into the field state
// machine instead of the item stream.
func (e *extractor) run(r *xmlquery.Node, ctx runCtx) {
	format := ctx.base
	if rPr := childElem(r, "rPr"); rPr != nil {
		format = format.Merge(e.runProps(rPr))
	}

	for c := r.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != xmlquery.ElementNode {
			continue
		}
		switch c.Data {
		case "rPr", "commentReference", "lastRenderedPageBreak":
		case "fldChar":
			switch attrVal(c, "fldCharType") {
			case "begin":
				if e.field.active {
					e.warn("nested field, flattening")
					e.endField()
				}
				e.field = fieldState{active: true, ctx: ctx}
			case "separate":
				e.field.display = true
			case "end":
				e.endField()
			}
		case "instrText":
			if e.field.active {
				e.field.instr.WriteString(c.InnerText())
			}
		case "t", "delText":
			if e.field.active {
				if e.field.display {
					e.field.text.WriteString(c.InnerText())
				}
				continue
			}
			it := model.TextItem(c.InnerText(), format)
			it.Link = ctx.link
			it.Rev = ctx.rev
			it.Attr = ctx.attr
			e.append(it)
		case "br":
			if e.field.active {
				if e.field.display {
					e.field.text.WriteString("\n")
				}
				continue
			}
			it := model.TextItem("\n", format)
			it.Link = ctx.link
			it.Rev = ctx.rev
			it.Attr = ctx.attr
			e.append(it)
		case "tab":
			it := model.TextItem("\t", format)
			it.Link = ctx.link
			it.Rev = ctx.rev
			it.Attr = ctx.attr
			e.append(it)
		default:
			e.skipElement(c.Data)
		}
	}
}

// endField resolves one completed complex field. Citation fields become
// citation items, recovering keys from the embedded instruction or,
// failing that, from the side channel. Anything else degrades to its
// display text.
func (e *extractor) endField() {
	f := e.field
	e.field = fieldState{}
	if !f.active {
		e.warn("field end without begin")
		return
	}

	instr := f.instr.String()
	display := f.text.String()
	citeField := strings.Contains(instr, "ZOTERO_ITEM") || strings.Contains(instr, "CSL_CITATION")

	var keys []model.CiteKey
	if citeField {
		parsed, parsedDisplay, ok := bib.ParseInstruction(instr)
		switch {
		case ok:
			keys = parsed
			if display == "" {
				display = parsedDisplay
			}
		default:
			if bracket, found := e.codec.Get(metadata.CiteKey(e.fieldSeq)); found {
				keys, _ = bib.ParseBracketText(bracket)
			}
			if keys == nil {
				e.warn("citation field instruction unreadable, keeping display text")
			}
		}
		e.fieldSeq++
	} else if strings.TrimSpace(instr) != "" {
		e.warn("unsupported field " + strings.Fields(instr)[0] + ", keeping display text")
	}

	it := model.ContentItem{Kind: model.KindText, Text: display}
	if keys != nil {
		it = model.ContentItem{Kind: model.KindCitation, Text: display, Keys: keys}
	}
	it.Rev = f.ctx.rev
	it.Attr = f.ctx.attr
	it.Link = f.ctx.link
	if it.Kind == model.KindText && display == "" {
		return
	}
	e.append(it)
}

// revision parses the author and date attributes of a w:ins or w:del
// wrapper.
func (e *extractor) revision(n *xmlquery.Node) model.Revision {
	attr := model.Revision{Author: attrVal(n, "author")}
	if raw := attrVal(n, "date"); raw != "" {
		t, err := time.Parse("2006-01-02T15:04:05Z", raw)
		if err != nil {
			t, err = time.Parse(time.RFC3339, raw)
		}
		if err != nil {
			e.warn("unreadable revision date " + raw)
		} else {
			attr.Date = t.UTC()
		}
	}
	return attr
}

// paraProps reads the paragraph style, indentation, and numbering, and
// returns the paragraph-default run formatting that seeds every run.
func (e *extractor) paraProps(pPr *xmlquery.Node, pd *paraData) model.RunFormatting {
	var base model.RunFormatting
	indLeft := 0
	for c := pPr.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != xmlquery.ElementNode {
			continue
		}
		switch c.Data {
		case "pStyle":
			val := attrVal(c, "val")
			if lvl, ok := strings.CutPrefix(val, "Heading"); ok {
				if n, err := strconv.Atoi(lvl); err == nil && n >= 1 && n <= 6 {
					pd.heading = n
				}
			} else if val == "Quote" {
				pd.quote = 1
			}
		case "ind":
			if left, err := strconv.Atoi(attrVal(c, "left")); err == nil {
				indLeft = left
			}
		case "numPr":
			list := &model.ListInfo{Kind: model.ListBullet}
			if ilvl := childElem(c, "ilvl"); ilvl != nil {
				list.Level, _ = strconv.Atoi(attrVal(ilvl, "val"))
			}
			if numID := childElem(c, "numId"); numID != nil {
				if id, _ := strconv.Atoi(attrVal(numID, "val")); id == numIDOrdered {
					list.Kind = model.ListOrdered
				}
			}
			pd.list = list
		case "rPr":
			base = e.runProps(c)
		}
	}
	if pd.quote > 0 && indLeft >= 720 {
		pd.quote = indLeft / 720
	}
	if pd.heading > 0 || pd.quote > 0 {
		pd.list = nil
	}
	return base
}

// runProps parses w:rPr into formatting toggles. Style references are
// ignored; only direct formatting round-trips.
func (e *extractor) runProps(rPr *xmlquery.Node) model.RunFormatting {
	var f model.RunFormatting
	for c := rPr.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != xmlquery.ElementNode {
			continue
		}
		on := toggleOn(attrVal(c, "val"))
		switch c.Data {
		case "b":
			f.Bold = on
		case "i":
			f.Italic = on
		case "strike":
			f.Strike = on
		case "u":
			f.Underline = attrVal(c, "val") != "none"
		case "highlight":
			color := attrVal(c, "val")
			if color != "none" && color != "" {
				f.Highlight = true
				if color != "yellow" {
					f.HighlightColor = color
				}
			}
		case "vertAlign":
			switch attrVal(c, "val") {
			case "superscript":
				f.Superscript = true
			case "subscript":
				f.Subscript = true
			}
		}
	}
	return f
}

func toggleOn(val string) bool {
	return val != "0" && val != "false" && val != "none"
}

// stripLeadIn removes the rendered alert lead-in from the first
// paragraph after a spacer, recovering the alert type. Only the exact
// shape the generator writes qualifies: a bold run holding the whole
// glyph+title, then a bare line break. Quote text that merely starts
// with a title word stays untouched.
func (e *extractor) stripLeadIn(pd *paraData) {
	if pd.quote == 0 || !pd.afterSpacer || len(pd.items) < 2 {
		return
	}
	lead := &pd.items[0]
	if lead.Kind != model.KindText || lead.Rev != model.RevNone || lead.Link != "" ||
		!lead.Format.Equal(model.RunFormatting{Bold: true}) {
		return
	}
	br := &pd.items[1]
	if br.Kind != model.KindText || br.Text != "\n" || !br.Format.IsZero() {
		return
	}
	for _, at := range model.AlertTypes() {
		rest, ok := model.StripLeadIn(at, lead.Text)
		if !ok || rest != "" {
			continue
		}
		pd.alert = at
		pd.items = pd.items[2:]
		return
	}
}

// assemble turns the extracted paragraphs into the item stream,
// reconstructing blockquote groups and replaying blank-line gaps from
// the side channel.
func (e *extractor) assemble() *model.Document {
	var items []model.ContentItem
	var prev *model.ContentItem

	curGroup := -1
	groupQuote := 0
	var groupAlert model.AlertType
	remaining := 0
	nextGroup := 0

	for par := range e.paras {
		pd := &e.paras[par]
		b := model.ParagraphItem()
		b.Heading = pd.heading
		b.Quote = pd.quote
		b.List = pd.list

		switch {
		case pd.quote > 0:
			fresh := curGroup < 0 || remaining == 0 || pd.quote != groupQuote ||
				pd.alert != "" || pd.afterSpacer
			if fresh {
				curGroup = nextGroup
				nextGroup++
				groupQuote = pd.quote
				groupAlert = pd.alert
				remaining = e.codec.GetInt(metadata.GroupLenKey(curGroup), math.MaxInt)
				b.Group = curGroup
				b.Alert = groupAlert
				b.Gap = e.codec.GetInt(metadata.GapKey(curGroup), defaultGap(prev, &b))
			} else {
				b.Group = curGroup
				b.Alert = groupAlert
				b.Gap = 0
			}
			if remaining > 0 {
				remaining--
			}
		default:
			curGroup = -1
			remaining = 0
			b.Gap = e.codec.GetInt(metadata.ParaGapKey(par), defaultGap(prev, &b))
		}

		items = append(items, pd.items...)
		items = append(items, b)
		prev = &items[len(items)-1]
	}

	items = e.splitUnresolved(items)
	return &model.Document{Items: model.MergeRuns(items)}
}

// splitUnresolved rebuilds citation items from literal bracket text.
// Unresolved brackets were generated as plain runs; the side channel
// records each one in document order, distinguishing them from escaped
// bracket prose that must stay literal.
func (e *extractor) splitUnresolved(items []model.ContentItem) []model.ContentItem {
	var queue []string
	for i := 0; ; i++ {
		v, ok := e.codec.Get(metadata.UnresolvedCiteKey(i))
		if !ok {
			break
		}
		queue = append(queue, v)
	}
	if len(queue) == 0 {
		return items
	}

	var out []model.ContentItem
	for _, it := range items {
		split := false
		for len(queue) > 0 && it.Kind == model.KindText && it.Text != "" {
			idx := strings.Index(it.Text, queue[0])
			if idx < 0 {
				break
			}
			keys, ok := bib.ParseBracketText(queue[0])
			if !ok {
				queue = queue[1:]
				continue
			}
			if idx > 0 {
				pre := it
				pre.Text = it.Text[:idx]
				out = append(out, pre)
			}
			cite := it
			cite.Kind = model.KindCitation
			cite.Text = queue[0]
			cite.Format = model.RunFormatting{}
			cite.Keys = keys
			out = append(out, cite)
			it.Text = it.Text[idx+len(queue[0]):]
			queue = queue[1:]
			split = true
		}
		if split && it.Text == "" {
			continue
		}
		out = append(out, it)
	}
	return out
}

// attachComments wires the comment entries to the document, inventing
// an empty entry for any anchor whose comment record is missing.
func (e *extractor) attachComments(doc *model.Document) {
	doc.Comments = e.comments
	seen := make(map[int]bool, len(e.comments))
	for _, c := range e.comments {
		seen[c.ID] = true
	}
	for i := range doc.Items {
		for _, id := range doc.Items[i].CommentIDs {
			if seen[id] {
				continue
			}
			seen[id] = true
			e.warn("comment " + strconv.Itoa(id) + " has no entry, keeping empty anchor")
			doc.Comments = append(doc.Comments, model.Comment{ID: id})
		}
	}
}

// readRels parses the document relationship table for hyperlink targets.
func (e *extractor) readRels(data []byte) {
	if data == nil {
		return
	}
	root, err := xmlquery.Parse(bytes.NewReader(data))
	if err != nil {
		e.warn("document relationships unreadable: " + err.Error())
		return
	}
	for _, rel := range xmlquery.Find(root, "//*[local-name()='Relationship']") {
		if id := attrVal(rel, "Id"); id != "" {
			e.rels[id] = attrVal(rel, "Target")
		}
	}
}

// readComments parses the comments part, joining multi-paragraph bodies
// with newlines and restoring explicit range labels from the side
// channel.
func (e *extractor) readComments(data []byte) {
	if data == nil {
		return
	}
	root, err := xmlquery.Parse(bytes.NewReader(data))
	if err != nil {
		e.warn("comments part unreadable: " + err.Error())
		return
	}
	for _, cn := range xmlquery.Find(root, "//*[local-name()='comment']") {
		id, err := strconv.Atoi(attrVal(cn, "id"))
		if err != nil {
			continue
		}
		c := model.Comment{ID: id, Author: attrVal(cn, "author")}
		if raw := attrVal(cn, "date"); raw != "" {
			if t, err := time.Parse("2006-01-02T15:04:05Z", raw); err == nil {
				c.Date = t.UTC()
			}
		}
		var parts []string
		for p := cn.FirstChild; p != nil; p = p.NextSibling {
			if p.Type == xmlquery.ElementNode && p.Data == "p" {
				parts = append(parts, inlineText(p))
			}
		}
		c.Text = strings.Join(parts, "\n")
		if label, ok := e.codec.Get(metadata.CommentLabelKey(id)); ok {
			c.Label = label
		}
		e.comments = append(e.comments, c)
	}
}

// inlineText flattens the run text of one paragraph, turning soft
// breaks into newlines.
func inlineText(n *xmlquery.Node) string {
	var b strings.Builder
	var walk func(*xmlquery.Node)
	walk = func(c *xmlquery.Node) {
		for ; c != nil; c = c.NextSibling {
			if c.Type != xmlquery.ElementNode {
				continue
			}
			switch c.Data {
			case "t", "delText":
				b.WriteString(c.InnerText())
			case "br":
				b.WriteString("\n")
			case "rPr", "pPr":
			default:
				walk(c.FirstChild)
			}
		}
	}
	walk(n.FirstChild)
	return b.String()
}

// isSpacer matches the structural fingerprint of alert-group padding:
// no paragraph style, an exact 40-twip line, a decorative border, and
// no text content.
func isSpacer(p *xmlquery.Node) bool {
	pPr := childElem(p, "pPr")
	if pPr == nil || childElem(pPr, "pStyle") != nil || childElem(pPr, "pBdr") == nil {
		return false
	}
	spacing := childElem(pPr, "spacing")
	if spacing == nil || attrVal(spacing, "line") != "40" || attrVal(spacing, "lineRule") != "exact" {
		return false
	}
	return !hasRunText(p)
}

func hasRunText(n *xmlquery.Node) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != xmlquery.ElementNode {
			continue
		}
		if c.Data == "t" || c.Data == "delText" {
			return true
		}
		if hasRunText(c) {
			return true
		}
	}
	return false
}

// childElem returns the first child element with the given local name.
func childElem(n *xmlquery.Node, name string) *xmlquery.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode && c.Data == name {
			return c
		}
	}
	return nil
}

// attrVal returns an attribute value by local name, ignoring the
// namespace prefix.
func attrVal(n *xmlquery.Node, name string) string {
	for _, a := range n.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

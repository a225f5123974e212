package docx

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/markweave/markweave/core/bib"
	"github.com/markweave/markweave/core/encoding"
	"github.com/markweave/markweave/core/metadata"
	"github.com/markweave/markweave/core/model"
)

// GenerateOptions carries the optional collaborators of one generation
// call.
type GenerateOptions struct {
	// Author is the default identity recorded in the side channel so
	// extraction attributes comments and revisions the same way.
	Author string

	// Library resolves citation brackets; nil leaves all brackets
	// unresolved.
	Library *bib.Library

	// Template is an optional style-template package whose styling parts
	// replace the defaults.
	Template []byte

	// SourceHash is the fingerprint of the dialect source this document
	// was tokenized from, recorded in the side channel so extraction can
	// tell whether the package was edited since generation.
	SourceHash string
}

func (o GenerateOptions) author() string {
	if o.Author == "" {
		return "markweave"
	}
	return o.Author
}

// Generate walks the content model into a complete package byte stream.
// It never aborts mid-document: every problem becomes a warning and a
// best-effort fallback.
func Generate(doc *model.Document, opts GenerateOptions) ([]byte, []string, error) {
	g := &generator{
		doc:      doc,
		opts:     opts,
		items:    model.MergeRuns(doc.Items),
		codec:    metadata.New(),
		resolver: bib.NewResolver(opts.Library),
		rels:     make(map[string]string),
	}
	g.planComments()
	g.planGroups()
	g.walk()
	g.writeSideChannel()

	pkg := NewPackage()
	pkg.SetPart(PartDocument, g.documentXML())
	pkg.SetPart(PartStyles, defaultStyles())
	if g.usesLists {
		pkg.SetPart(PartNumbering, defaultNumbering())
	}
	if len(doc.Comments) > 0 {
		pkg.SetPart(PartComments, g.commentsXML())
	}
	if len(g.relOrder) > 0 || len(doc.Comments) > 0 {
		pkg.SetPart(PartDocumentRels, g.documentRelsXML())
	}
	if g.codec.Len() > 0 {
		pkg.SetPart(PartCustomProps, g.codec.MarshalPart())
	}
	g.warnings = append(g.warnings, applyTemplate(pkg, opts.Template)...)
	pkg.SetPart(PartContentTypes, pkg.contentTypes())
	pkg.SetPart(PartRootRels, pkg.rootRels())

	data, err := pkg.Write()
	if err != nil {
		return nil, g.warnings, err
	}
	return data, g.warnings, nil
}

// groupInfo summarizes one blockquote/alert group for spacer emission
// and side-channel bookkeeping.
type groupInfo struct {
	index    int
	alert    model.AlertType
	gap      int
	count    int // paragraphs in the group
	firstPar int // paragraph sequence index of the first paragraph
	lastPar  int
}

type generator struct {
	doc   *model.Document
	opts  GenerateOptions
	items []model.ContentItem

	codec    *metadata.Codec
	resolver *bib.Resolver
	warnings []string

	rels     map[string]string // target -> rId
	relOrder []string          // targets in first-seen order

	openAt  map[int][]int
	closeAt map[int][]int

	groups    map[int]*groupInfo
	usesLists bool

	body     strings.Builder
	revSeq   int
	citeSeq  int
	uciteSeq int
}

// planComments computes, per merged item index, which comment ranges
// open and close there.
func (g *generator) planComments() {
	g.openAt = make(map[int][]int)
	g.closeAt = make(map[int][]int)
	first := make(map[int]int)
	last := make(map[int]int)
	var order []int
	for i := range g.items {
		for _, id := range g.items[i].CommentIDs {
			if _, seen := first[id]; !seen {
				first[id] = i
				order = append(order, id)
			}
			last[id] = i
		}
	}
	for _, id := range order {
		g.openAt[first[id]] = append(g.openAt[first[id]], id)
		g.closeAt[last[id]] = append(g.closeAt[last[id]], id)
	}
}

// planGroups walks paragraph boundaries once to collect group gaps,
// lengths, and spacer positions.
func (g *generator) planGroups() {
	g.groups = make(map[int]*groupInfo)
	par := 0
	for i := range g.items {
		b := &g.items[i]
		if b.Kind != model.KindParagraph {
			continue
		}
		if b.List != nil {
			g.usesLists = true
		}
		if b.Group >= 0 {
			gi, ok := g.groups[b.Group]
			if !ok {
				gi = &groupInfo{index: b.Group, alert: b.Alert, gap: b.Gap, firstPar: par}
				g.groups[b.Group] = gi
			}
			gi.count++
			gi.lastPar = par
		}
		par++
	}
}

func (g *generator) walk() {
	start := 0
	par := 0
	for i := range g.items {
		if g.items[i].Kind != model.KindParagraph {
			continue
		}
		g.paragraph(start, i, par)
		start = i + 1
		par++
	}
}

// paragraph emits one w:p (plus alert spacers around alert groups).
func (g *generator) paragraph(start, bi, par int) {
	b := &g.items[bi]

	gi := g.groups[b.Group]
	alertFirst := gi != nil && gi.alert != "" && gi.firstPar == par
	alertLast := gi != nil && gi.alert != "" && gi.lastPar == par

	if alertFirst {
		g.body.WriteString(spacerXML)
	}

	g.body.WriteString(`<w:p>`)
	g.body.WriteString(g.paragraphProps(b))
	if alertFirst {
		g.body.WriteString(`<w:r><w:rPr><w:b/></w:rPr><w:t xml:space="preserve">` +
			encoding.EscapeXMLText(gi.alert.LeadIn()) + `</w:t></w:r>`)
		g.body.WriteString(`<w:r><w:br/></w:r>`)
	}
	g.runs(start, bi)
	g.body.WriteString(`</w:p>`)

	if alertLast {
		g.body.WriteString(spacerXML)
	}
}

// spacerXML is the thin padding paragraph around alert groups. Its
// structural fingerprint (no style, exact 40-twip line, decorative
// border, no text) lets extraction drop it unambiguously.
const spacerXML = `<w:p><w:pPr>` +
	`<w:spacing w:line="40" w:lineRule="exact"/>` +
	`<w:pBdr><w:top w:val="single" w:sz="2" w:space="0" w:color="DDDDDD"/></w:pBdr>` +
	`</w:pPr></w:p>`

func (g *generator) paragraphProps(b *model.ContentItem) string {
	var p strings.Builder
	p.WriteString(`<w:pPr>`)
	switch {
	case b.Heading >= 1 && b.Heading <= 6:
		fmt.Fprintf(&p, `<w:pStyle w:val="Heading%d"/>`, b.Heading)
	case b.Quote > 0:
		p.WriteString(`<w:pStyle w:val="Quote"/>`)
		if b.Quote > 1 {
			fmt.Fprintf(&p, `<w:ind w:left="%d"/>`, 720*b.Quote)
		}
	case b.List != nil:
		numID := numIDBullet
		if b.List.Kind == model.ListOrdered {
			numID = numIDOrdered
		}
		p.WriteString(`<w:pStyle w:val="ListParagraph"/>`)
		fmt.Fprintf(&p, `<w:numPr><w:ilvl w:val="%d"/><w:numId w:val="%d"/></w:numPr>`,
			b.List.Level, numID)
	}
	p.WriteString(`</w:pPr>`)
	return p.String()
}

// runs emits the inline content of one paragraph: comment markers, run
// groups wrapped in revision or hyperlink elements, citation fields.
func (g *generator) runs(start, end int) {
	i := start
	for i < end {
		for _, id := range g.openAt[i] {
			fmt.Fprintf(&g.body, `<w:commentRangeStart w:id="%d"/>`, id)
		}
		j := g.segmentEnd(i, end)
		g.segment(i, j)
		for _, id := range g.closeAt[j-1] {
			fmt.Fprintf(&g.body, `<w:commentRangeEnd w:id="%d"/>`, id)
			fmt.Fprintf(&g.body, `<w:r><w:rPr><w:rStyle w:val="CommentReference"/></w:rPr>`+
				`<w:commentReference w:id="%d"/></w:r>`, id)
		}
		i = j
	}
}

// segmentEnd extends the homogeneous run group starting at i, clipped so
// comment markers never land inside a revision or hyperlink wrapper.
func (g *generator) segmentEnd(i, end int) int {
	it := &g.items[i]
	if it.Kind == model.KindCitation {
		return i + 1
	}
	j := i + 1
	same := func(k int) bool {
		o := &g.items[k]
		if o.Kind == model.KindParagraph {
			return false
		}
		if it.Rev != model.RevNone {
			return o.Rev == it.Rev && o.Attr == it.Attr && o.Kind == model.KindText
		}
		if it.Kind == model.KindCitation || o.Kind == model.KindCitation {
			return false
		}
		return o.Rev == model.RevNone && o.Link == it.Link
	}
	for j < end && same(j) {
		if len(g.openAt[j]) > 0 || len(g.closeAt[j-1]) > 0 {
			break
		}
		j++
	}
	return j
}

func (g *generator) segment(i, j int) {
	it := &g.items[i]
	switch {
	case it.Kind == model.KindCitation:
		switch it.Rev {
		case model.RevInsert:
			g.revSeq++
			fmt.Fprintf(&g.body, `<w:ins w:id="%d" w:author="%s" w:date="%s">`,
				g.revSeq, encoding.EscapeXMLAttr(it.Attr.Author), wmlDate(it.Attr))
			g.citation(it)
			g.body.WriteString(`</w:ins>`)
		case model.RevDelete:
			g.revSeq++
			fmt.Fprintf(&g.body, `<w:del w:id="%d" w:author="%s" w:date="%s">`,
				g.revSeq, encoding.EscapeXMLAttr(it.Attr.Author), wmlDate(it.Attr))
			g.citation(it)
			g.body.WriteString(`</w:del>`)
		default:
			g.citation(it)
		}
	case it.Rev == model.RevInsert:
		g.revSeq++
		fmt.Fprintf(&g.body, `<w:ins w:id="%d" w:author="%s" w:date="%s">`,
			g.revSeq, encoding.EscapeXMLAttr(it.Attr.Author), wmlDate(it.Attr))
		g.textRuns(i, j, false)
		g.body.WriteString(`</w:ins>`)
	case it.Rev == model.RevDelete:
		g.revSeq++
		fmt.Fprintf(&g.body, `<w:del w:id="%d" w:author="%s" w:date="%s">`,
			g.revSeq, encoding.EscapeXMLAttr(it.Attr.Author), wmlDate(it.Attr))
		g.textRuns(i, j, true)
		g.body.WriteString(`</w:del>`)
	case it.Link != "":
		rid := g.relID(it.Link)
		fmt.Fprintf(&g.body, `<w:hyperlink r:id="%s">`, rid)
		g.textRuns(i, j, false)
		g.body.WriteString(`</w:hyperlink>`)
	default:
		g.textRuns(i, j, false)
	}
}

// textRuns emits w:r elements for items[i:j], splitting embedded soft
// breaks into w:br elements.
func (g *generator) textRuns(i, j int, deleted bool) {
	for k := i; k < j; k++ {
		it := &g.items[k]
		if it.Kind == model.KindCitation {
			g.citation(it)
			continue
		}
		rPr := g.runProps(it)
		segs := strings.Split(it.Text, "\n")
		for s, seg := range segs {
			if s > 0 {
				g.body.WriteString(`<w:r>` + rPr + `<w:br/></w:r>`)
			}
			if seg == "" {
				if len(segs) == 1 && len(it.CommentIDs) > 0 {
					// Zero-width comment anchor: the range markers around
					// this position carry the comment, no run needed.
					continue
				}
				if s > 0 || len(segs) > 1 {
					continue
				}
			}
			tag := "w:t"
			if deleted {
				tag = "w:delText"
			}
			g.body.WriteString(`<w:r>` + rPr +
				`<` + tag + ` xml:space="preserve">` + encoding.EscapeXMLText(seg) +
				`</` + tag + `></w:r>`)
		}
	}
}

// runProps renders w:rPr in the canonical child order: bold, italic,
// strikethrough, underline, highlight, vertical alignment.
func (g *generator) runProps(it *model.ContentItem) string {
	f := it.Format
	var linkStyle string
	if it.Link != "" {
		linkStyle = `<w:rStyle w:val="Hyperlink"/>`
	}
	if f.IsZero() && linkStyle == "" {
		return ""
	}
	var p strings.Builder
	p.WriteString(`<w:rPr>`)
	p.WriteString(linkStyle)
	if f.Bold {
		p.WriteString(`<w:b/>`)
	}
	if f.Italic {
		p.WriteString(`<w:i/>`)
	}
	if f.Strike {
		p.WriteString(`<w:strike/>`)
	}
	if f.Underline {
		p.WriteString(`<w:u w:val="single"/>`)
	}
	if f.Highlight {
		color := f.HighlightColor
		if color == "" {
			color = "yellow"
		}
		p.WriteString(`<w:highlight w:val="` + encoding.EscapeXMLAttr(color) + `"/>`)
	}
	if f.Superscript {
		p.WriteString(`<w:vertAlign w:val="superscript"/>`)
	} else if f.Subscript {
		p.WriteString(`<w:vertAlign w:val="subscript"/>`)
	}
	p.WriteString(`</w:rPr>`)
	return p.String()
}

// citation emits one citation bracket as a field, or falls back to the
// literal bracket text when the bracket does not resolve.
func (g *generator) citation(it *model.ContentItem) {
	res, warns := g.resolver.Resolve(it.Keys)
	g.warnings = append(g.warnings, warns...)

	if res.Instruction == "" {
		// Plain text fallback. Unresolved brackets additionally record
		// their literal text so extraction can rebuild the citation
		// instead of treating it as escaped prose.
		if !res.Resolved {
			g.codec.Set(metadata.UnresolvedCiteKey(g.uciteSeq), res.Text)
			g.uciteSeq++
		}
		g.body.WriteString(`<w:r><w:t xml:space="preserve">` +
			encoding.EscapeXMLText(res.Text) + `</w:t></w:r>`)
		return
	}

	// Keys and locators go to the side channel keyed by field position,
	// so extraction can reconstruct the bracket even when the embedded
	// instruction is damaged.
	g.codec.Set(metadata.CiteKey(g.citeSeq), bib.BracketText(it.Keys))
	g.citeSeq++
	g.body.WriteString(`<w:r><w:fldChar w:fldCharType="begin"/></w:r>`)
	g.body.WriteString(`<w:r><w:instrText xml:space="preserve"> ` +
		encoding.EscapeXMLText(res.Instruction) + ` </w:instrText></w:r>`)
	g.body.WriteString(`<w:r><w:fldChar w:fldCharType="separate"/></w:r>`)
	g.body.WriteString(`<w:r><w:t xml:space="preserve">` +
		encoding.EscapeXMLText(res.Text) + `</w:t></w:r>`)
	g.body.WriteString(`<w:r><w:fldChar w:fldCharType="end"/></w:r>`)
}

// relID returns the relationship ID for a hyperlink target, allocating
// one entry per unique target.
func (g *generator) relID(target string) string {
	if id, ok := g.rels[target]; ok {
		return id
	}
	id := fmt.Sprintf("rId%d", len(g.relOrder)+1)
	g.rels[target] = id
	g.relOrder = append(g.relOrder, target)
	return id
}

// writeSideChannel records everything the package format cannot
// represent natively: gaps, group shapes, variants, comment labels, and
// the default identity.
func (g *generator) writeSideChannel() {
	g.codec.Set(metadata.AuthorKey(), g.opts.author())
	if g.opts.SourceHash != "" {
		g.codec.Set(metadata.SourceHashKey(), g.opts.SourceHash)
	}

	for name, value := range g.doc.Variants {
		g.codec.Set(metadata.VariantKey(name), value)
	}
	for name, seq := range g.doc.VariantSeqs {
		g.codec.Set(metadata.VariantSeqKey(name), strings.Join(seq, ","))
	}
	if g.doc.TrailingGap > 0 {
		g.codec.SetInt(metadata.TrailingGapKey(), g.doc.TrailingGap)
	}
	if len(g.doc.Escapes) > 0 {
		offs := make([]string, len(g.doc.Escapes))
		for i, off := range g.doc.Escapes {
			offs[i] = strconv.Itoa(off)
		}
		g.codec.Set(metadata.EscapesKey(), strings.Join(offs, ","))
	}
	for _, c := range g.doc.Comments {
		if c.Label != "" {
			g.codec.Set(metadata.CommentLabelKey(c.ID), c.Label)
		}
	}

	maxGroup := -1
	for idx, gi := range g.groups {
		if idx > maxGroup {
			maxGroup = idx
		}
		g.codec.SetInt(metadata.GapKey(idx), gi.gap)
		g.codec.SetInt(metadata.GroupLenKey(idx), gi.count)
	}
	if maxGroup >= 0 {
		g.codec.SetInt(metadata.GroupCountKey(), maxGroup+1)
	}

	// Blank-line counts for non-group paragraphs, stored only when they
	// differ from the structural default.
	var prev *model.ContentItem
	par := 0
	for i := range g.items {
		b := &g.items[i]
		if b.Kind != model.KindParagraph {
			continue
		}
		inGroup := b.Group >= 0
		firstOfGroup := inGroup && g.groups[b.Group].firstPar == par
		if !inGroup || !firstOfGroup {
			if b.Gap != defaultGap(prev, b) {
				g.codec.SetInt(metadata.ParaGapKey(par), b.Gap)
			}
		}
		prev = b
		par++
	}
}

// defaultGap is the blank-line count assumed when the side channel has
// no entry for a paragraph: none inside a blockquote group or between
// list items, one everywhere else, none before the first paragraph.
func defaultGap(prev, cur *model.ContentItem) int {
	if prev == nil {
		return 0
	}
	if cur.Group >= 0 && cur.Group == prev.Group {
		return 0
	}
	if cur.List != nil && prev.List != nil {
		return 0
	}
	return 1
}

func wmlDate(attr model.Revision) string {
	return attr.Date.UTC().Format("2006-01-02T15:04:05Z")
}

func (g *generator) documentXML() []byte {
	var b strings.Builder
	b.WriteString(xmlHeader)
	b.WriteString(`<w:document ` + wNamespaces + `><w:body>`)
	b.WriteString(g.body.String())
	b.WriteString(`<w:sectPr><w:pgSz w:w="12240" w:h="15840"/>` +
		`<w:pgMar w:top="1440" w:right="1440" w:bottom="1440" w:left="1440"/></w:sectPr>`)
	b.WriteString(`</w:body></w:document>`)
	return []byte(b.String())
}

func (g *generator) commentsXML() []byte {
	var b strings.Builder
	b.WriteString(xmlHeader)
	b.WriteString(`<w:comments ` + wNamespaces + `>`)
	for _, c := range g.doc.Comments {
		initials := ""
		if c.Author != "" {
			r, _ := utf8.DecodeRuneInString(c.Author)
			initials = strings.ToUpper(string(r))
		}
		fmt.Fprintf(&b, `<w:comment w:id="%d" w:author="%s" w:date="%s" w:initials="%s">`,
			c.ID, encoding.EscapeXMLAttr(c.Author),
			c.Date.UTC().Format("2006-01-02T15:04:05Z"),
			encoding.EscapeXMLAttr(initials))
		b.WriteString(`<w:p><w:r><w:t xml:space="preserve">` +
			encoding.EscapeXMLText(c.Text) + `</w:t></w:r></w:p>`)
		b.WriteString(`</w:comment>`)
	}
	b.WriteString(`</w:comments>`)
	return []byte(b.String())
}

func (g *generator) documentRelsXML() []byte {
	var b strings.Builder
	b.WriteString(xmlHeader)
	b.WriteString(`<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">`)
	for _, target := range g.relOrder {
		fmt.Fprintf(&b, `<Relationship Id="%s" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/hyperlink" Target="%s" TargetMode="External"/>`,
			g.rels[target], encoding.EscapeXMLAttr(target))
	}
	if len(g.doc.Comments) > 0 {
		fmt.Fprintf(&b, `<Relationship Id="rId%d" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/comments" Target="comments.xml"/>`,
			len(g.relOrder)+1)
	}
	b.WriteString(`</Relationships>`)
	return []byte(b.String())
}

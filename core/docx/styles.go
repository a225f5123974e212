package docx

import (
	"fmt"
	"strings"
)

const wNamespaces = `xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main" ` +
	`xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships"`

// defaultStyles builds word/styles.xml: document defaults plus the named
// styles the generator references.
func defaultStyles() []byte {
	var b strings.Builder
	b.WriteString(xmlHeader)
	b.WriteString(`<w:styles ` + wNamespaces + `>`)
	b.WriteString(`<w:docDefaults><w:rPrDefault><w:rPr>` +
		`<w:rFonts w:ascii="Calibri" w:hAnsi="Calibri"/>` +
		`<w:sz w:val="22"/>` +
		`</w:rPr></w:rPrDefault>` +
		`<w:pPrDefault><w:pPr><w:spacing w:after="160" w:line="259" w:lineRule="auto"/></w:pPr></w:pPrDefault>` +
		`</w:docDefaults>`)
	b.WriteString(`<w:style w:type="paragraph" w:default="1" w:styleId="Normal">` +
		`<w:name w:val="Normal"/></w:style>`)
	for i := 1; i <= 6; i++ {
		sz := 32 - (i-1)*2
		if sz < 22 {
			sz = 22
		}
		b.WriteString(fmt.Sprintf(
			`<w:style w:type="paragraph" w:styleId="Heading%d">`+
				`<w:name w:val="heading %d"/><w:basedOn w:val="Normal"/>`+
				`<w:pPr><w:keepNext/><w:outlineLvl w:val="%d"/></w:pPr>`+
				`<w:rPr><w:b/><w:sz w:val="%d"/></w:rPr></w:style>`,
			i, i, i-1, sz))
	}
	b.WriteString(`<w:style w:type="paragraph" w:styleId="Quote">` +
		`<w:name w:val="Quote"/><w:basedOn w:val="Normal"/>` +
		`<w:pPr><w:ind w:left="720"/></w:pPr>` +
		`<w:rPr><w:i/><w:color w:val="404040"/></w:rPr></w:style>`)
	b.WriteString(`<w:style w:type="paragraph" w:styleId="ListParagraph">` +
		`<w:name w:val="List Paragraph"/><w:basedOn w:val="Normal"/>` +
		`<w:pPr><w:contextualSpacing/></w:pPr></w:style>`)
	b.WriteString(`<w:style w:type="character" w:styleId="Hyperlink">` +
		`<w:name w:val="Hyperlink"/>` +
		`<w:rPr><w:color w:val="0563C1"/><w:u w:val="single"/></w:rPr></w:style>`)
	b.WriteString(`<w:style w:type="character" w:styleId="CommentReference">` +
		`<w:name w:val="annotation reference"/>` +
		`<w:rPr><w:sz w:val="16"/></w:rPr></w:style>`)
	b.WriteString(`</w:styles>`)
	return []byte(b.String())
}

// Numbering definition IDs referenced from w:numPr.
const (
	numIDBullet  = 1
	numIDOrdered = 2
)

// defaultNumbering builds word/numbering.xml with the two canonical list
// definitions. Indentation steps 360 twips per level from a 720 base.
func defaultNumbering() []byte {
	var b strings.Builder
	b.WriteString(xmlHeader)
	b.WriteString(`<w:numbering ` + wNamespaces + `>`)

	b.WriteString(`<w:abstractNum w:abstractNumId="0">`)
	bullets := []string{"•", "o", "▪"}
	for lvl := 0; lvl < 9; lvl++ {
		b.WriteString(fmt.Sprintf(
			`<w:lvl w:ilvl="%d"><w:start w:val="1"/><w:numFmt w:val="bullet"/>`+
				`<w:lvlText w:val="%s"/><w:lvlJc w:val="left"/>`+
				`<w:pPr><w:ind w:left="%d" w:hanging="360"/></w:pPr></w:lvl>`,
			lvl, bullets[lvl%len(bullets)], 720+360*lvl))
	}
	b.WriteString(`</w:abstractNum>`)

	b.WriteString(`<w:abstractNum w:abstractNumId="1">`)
	for lvl := 0; lvl < 9; lvl++ {
		b.WriteString(fmt.Sprintf(
			`<w:lvl w:ilvl="%d"><w:start w:val="1"/><w:numFmt w:val="decimal"/>`+
				`<w:lvlText w:val="%%%d."/><w:lvlJc w:val="left"/>`+
				`<w:pPr><w:ind w:left="%d" w:hanging="360"/></w:pPr></w:lvl>`,
			lvl, lvl+1, 720+360*lvl))
	}
	b.WriteString(`</w:abstractNum>`)

	b.WriteString(fmt.Sprintf(`<w:num w:numId="%d"><w:abstractNumId w:val="0"/></w:num>`, numIDBullet))
	b.WriteString(fmt.Sprintf(`<w:num w:numId="%d"><w:abstractNumId w:val="1"/></w:num>`, numIDOrdered))
	b.WriteString(`</w:numbering>`)
	return []byte(b.String())
}

// templateParts are the styling parts an optional style template may
// override. The template's document content is ignored.
var templateParts = []string{PartStyles, PartTheme, PartSettings}

// applyTemplate copies styling parts from a caller-supplied template
// package into pkg, replacing defaults. Returns a warning per problem
// instead of failing.
func applyTemplate(pkg *Package, template []byte) []string {
	if len(template) == 0 {
		return nil
	}
	src, err := ReadPackage(template)
	if err != nil {
		return []string{"style template: cannot open archive, using defaults"}
	}
	var warnings []string
	applied := false
	for _, name := range templateParts {
		if data := src.Part(name); data != nil {
			pkg.SetPart(name, data)
			applied = true
		}
	}
	if !applied {
		warnings = append(warnings, "style template: no styling parts found, using defaults")
	}
	return warnings
}

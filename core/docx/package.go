// Package docx reads and writes the word-processing package format: a
// zip archive of OOXML parts. The Generator walks the content model into
// package XML and the Extractor walks package XML back into the content
// model; the two are independent state machines sharing only the wire
// contract (part layout plus the metadata codec's key schema).
package docx

import (
	"archive/zip"
	"bytes"
	"io"
	"sort"
	"strings"

	"github.com/markweave/markweave/core/errors"
)

// Part names used by the engine.
const (
	PartContentTypes = "[Content_Types].xml"
	PartRootRels     = "_rels/.rels"
	PartDocument     = "word/document.xml"
	PartStyles       = "word/styles.xml"
	PartNumbering    = "word/numbering.xml"
	PartComments     = "word/comments.xml"
	PartDocumentRels = "word/_rels/document.xml.rels"
	PartCustomProps  = "docProps/custom.xml"
	PartTheme        = "word/theme/theme1.xml"
	PartSettings     = "word/settings.xml"
)

// partOrder fixes the zip entry order so identical input yields
// byte-identical archives.
var partOrder = []string{
	PartContentTypes,
	PartRootRels,
	PartDocument,
	PartStyles,
	PartNumbering,
	PartSettings,
	PartTheme,
	PartComments,
	PartDocumentRels,
	PartCustomProps,
}

// Package is an in-memory document package: named parts plus media.
type Package struct {
	parts map[string][]byte
}

// NewPackage returns an empty package.
func NewPackage() *Package {
	return &Package{parts: make(map[string][]byte)}
}

// SetPart stores a part, replacing any previous content.
func (p *Package) SetPart(name string, data []byte) {
	p.parts[name] = data
}

// Part returns a part's content, or nil if absent.
func (p *Package) Part(name string) []byte {
	return p.parts[name]
}

// HasPart reports whether the part exists.
func (p *Package) HasPart(name string) bool {
	_, ok := p.parts[name]
	return ok
}

// PartNames returns all part names in deterministic write order.
func (p *Package) PartNames() []string {
	out := make([]string, 0, len(p.parts))
	seen := make(map[string]bool, len(p.parts))
	for _, name := range partOrder {
		if _, ok := p.parts[name]; ok {
			out = append(out, name)
			seen[name] = true
		}
	}
	var rest []string
	for name := range p.parts {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}

// Write serializes the package as a zip archive.
func (p *Package) Write() ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range p.PartNames() {
		w, err := zw.Create(name)
		if err != nil {
			return nil, errors.Wrapf(err, "creating zip entry %s", name)
		}
		if _, err := w.Write(p.parts[name]); err != nil {
			return nil, errors.Wrapf(err, "writing zip entry %s", name)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, errors.Wrap(err, "closing package archive")
	}
	return buf.Bytes(), nil
}

// ReadPackage opens a package archive. A zip that cannot be opened at
// all is the engine's only fatal condition.
func ReadPackage(data []byte) (*Package, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, errors.NewPackage("package", "cannot open archive", errors.ErrCorruptPackage)
	}
	p := NewPackage()
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			return nil, errors.NewPackage(f.Name, "cannot open part", errors.ErrCorruptPackage)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, errors.NewPackage(f.Name, "cannot read part", errors.ErrCorruptPackage)
		}
		p.SetPart(f.Name, content)
	}
	return p, nil
}

// contentTypes builds [Content_Types].xml for the parts present.
func (p *Package) contentTypes() []byte {
	var b strings.Builder
	b.WriteString(xmlHeader)
	b.WriteString(`<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">`)
	b.WriteString(`<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>`)
	b.WriteString(`<Default Extension="xml" ContentType="application/xml"/>`)
	overrides := []struct {
		part string
		ct   string
	}{
		{PartDocument, "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"},
		{PartStyles, "application/vnd.openxmlformats-officedocument.wordprocessingml.styles+xml"},
		{PartNumbering, "application/vnd.openxmlformats-officedocument.wordprocessingml.numbering+xml"},
		{PartSettings, "application/vnd.openxmlformats-officedocument.wordprocessingml.settings+xml"},
		{PartTheme, "application/vnd.openxmlformats-officedocument.theme+xml"},
		{PartComments, "application/vnd.openxmlformats-officedocument.wordprocessingml.comments+xml"},
		{PartCustomProps, "application/vnd.openxmlformats-officedocument.custom-properties+xml"},
	}
	for _, o := range overrides {
		if p.HasPart(o.part) {
			b.WriteString(`<Override PartName="/` + o.part + `" ContentType="` + o.ct + `"/>`)
		}
	}
	b.WriteString(`</Types>`)
	return []byte(b.String())
}

// rootRels builds _rels/.rels.
func (p *Package) rootRels() []byte {
	var b strings.Builder
	b.WriteString(xmlHeader)
	b.WriteString(`<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">`)
	b.WriteString(`<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/>`)
	if p.HasPart(PartCustomProps) {
		b.WriteString(`<Relationship Id="rId2" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/custom-properties" Target="docProps/custom.xml"/>`)
	}
	b.WriteString(`</Relationships>`)
	return []byte(b.String())
}

const xmlHeader = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n"

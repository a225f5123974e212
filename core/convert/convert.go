// Package convert exposes the two conversion entry points: annotated
// dialect text to a word-processing package and back. All state is per
// call; the only fatal error either direction reports is container
// corruption, everything else degrades to warnings.
package convert

import (
	"encoding/hex"
	"time"

	"github.com/zeebo/blake3"

	"github.com/markweave/markweave/core/bib"
	"github.com/markweave/markweave/core/dialect"
	"github.com/markweave/markweave/core/docx"
)

// MathTranslator converts math expressions to OMML markup and back. It
// is an extension point for hosts that carry equations; the engine
// itself never produces math content.
type MathTranslator interface {
	ToOMML(expr string) (string, error)
	FromOMML(omml string) (string, error)
}

// ImageStore resolves image references to binary content and back. Like
// MathTranslator it is a host-side extension point.
type ImageStore interface {
	Load(ref string) ([]byte, error)
	Store(name string, data []byte) (string, error)
}

// Options carries the optional collaborators of one conversion call.
// The zero value is usable.
type Options struct {
	// Author is the default identity for revisions and comments. On
	// extraction it overrides the identity recorded in the package.
	Author string

	// Now supplies timestamps for newly attributed revisions and
	// comments; nil means wall-clock time. Inject a fixed clock for
	// deterministic output.
	Now func() time.Time

	// Bibliography resolves citation brackets; nil leaves brackets
	// unresolved.
	Bibliography *bib.Library

	// Template is an optional style-template package whose styling
	// parts replace the built-in defaults.
	Template []byte

	// Math and Images are host extension points; both may be nil.
	Math   MathTranslator
	Images ImageStore
}

// Result is the outcome of ToPackage.
type Result struct {
	// Bytes is the complete package archive.
	Bytes []byte

	Warnings []string
}

// Metadata is the side-channel state recovered by FromPackage.
type Metadata struct {
	// Author is the default identity the output text was rendered with.
	Author string

	// Variants are the dialect spelling choices recorded at generation.
	Variants map[string]string

	// SourceHash is the fingerprint of the original dialect source,
	// empty for packages not generated by this engine.
	SourceHash string

	// SourceMatch is true when the extracted text hashes back to
	// SourceHash, i.e. the package was not edited since generation.
	SourceMatch bool
}

// Extracted is the outcome of FromPackage.
type Extracted struct {
	// Text is the rendered dialect source.
	Text string

	Metadata Metadata
	Warnings []string
}

// ToPackage converts annotated dialect text into a package archive.
func ToPackage(source []byte, opts Options) (*Result, error) {
	doc := dialect.Tokenize(source, dialect.Config{Author: opts.Author, Now: opts.Now})

	data, warnings, err := docx.Generate(doc, docx.GenerateOptions{
		Author:     opts.Author,
		Library:    opts.Bibliography,
		Template:   opts.Template,
		SourceHash: hashText(source),
	})
	if err != nil {
		return nil, err
	}
	return &Result{Bytes: data, Warnings: warnings}, nil
}

// FromPackage converts a package archive back into dialect text.
func FromPackage(data []byte, opts Options) (*Extracted, error) {
	pkg, err := docx.ReadPackage(data)
	if err != nil {
		return nil, err
	}
	doc, info, err := docx.Extract(pkg)
	if err != nil {
		return nil, err
	}

	author := info.Author
	if opts.Author != "" {
		author = opts.Author
	}
	text := dialect.Render(doc, dialect.Config{Author: author, Now: opts.Now})

	meta := Metadata{
		Author:     author,
		Variants:   doc.Variants,
		SourceHash: info.SourceHash,
	}
	if info.SourceHash != "" {
		meta.SourceMatch = hashText([]byte(text)) == info.SourceHash
	}
	return &Extracted{Text: text, Metadata: meta, Warnings: info.Warnings}, nil
}

func hashText(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

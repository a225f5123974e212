// Command markweave converts annotated Markdown to word-processing
// packages and back. It owns all file I/O; the conversion engine only
// sees byte buffers.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/alecthomas/kong"

	"github.com/markweave/markweave/core/bib"
	"github.com/markweave/markweave/core/convert"
	"github.com/markweave/markweave/internal/logging"
)

const version = "0.1.0"

// CLI defines the command-line interface for markweave.
var CLI struct {
	Verbose bool `help:"Enable debug logging" short:"v"`

	ToDocx   ToDocxCmd   `cmd:"" name:"to-docx" help:"Convert annotated Markdown to a DOCX package"`
	FromDocx FromDocxCmd `cmd:"" name:"from-docx" help:"Convert a DOCX package back to annotated Markdown"`
	Version  VersionCmd  `cmd:"" help:"Print version information"`
}

// ToDocxCmd converts annotated Markdown into a DOCX package.
type ToDocxCmd struct {
	Input    string `arg:"" help:"Input Markdown file" type:"existingfile"`
	Output   string `help:"Output path (default: input with .docx extension)" short:"o" type:"path"`
	Bib      string `help:"BibTeX bibliography for citation resolution" type:"existingfile"`
	Template string `help:"Style template DOCX whose styles replace the defaults" type:"existingfile"`
	Author   string `help:"Default identity for revisions and comments"`
}

func (c *ToDocxCmd) Run() error {
	source, err := os.ReadFile(c.Input)
	if err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	opts := convert.Options{Author: c.Author}
	if c.Bib != "" {
		data, err := os.ReadFile(c.Bib)
		if err != nil {
			return fmt.Errorf("reading bibliography: %w", err)
		}
		lib, err := bib.Parse(data)
		if err != nil {
			return fmt.Errorf("parsing bibliography: %w", err)
		}
		opts.Bibliography = lib
	}
	if c.Template != "" {
		opts.Template, err = os.ReadFile(c.Template)
		if err != nil {
			return fmt.Errorf("reading template: %w", err)
		}
	}

	res, err := convert.ToPackage(source, opts)
	if err != nil {
		return err
	}
	logging.ConversionWarnings("to-docx", c.Input, res.Warnings)

	out := c.Output
	if out == "" {
		out = replaceExt(c.Input, ".docx")
	}
	if err := os.WriteFile(out, res.Bytes, 0644); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}
	fmt.Printf("Wrote %s (%d bytes, %d warnings)\n", out, len(res.Bytes), len(res.Warnings))
	return nil
}

// FromDocxCmd converts a DOCX package back into annotated Markdown.
type FromDocxCmd struct {
	Input  string `arg:"" help:"Input DOCX file" type:"existingfile"`
	Output string `help:"Output path (default: input with .md extension, - for stdout)" short:"o" type:"path"`
	Author string `help:"Override the default identity recorded in the package"`
}

func (c *FromDocxCmd) Run() error {
	data, err := os.ReadFile(c.Input)
	if err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	ext, err := convert.FromPackage(data, convert.Options{Author: c.Author})
	if err != nil {
		return err
	}
	logging.ConversionWarnings("from-docx", c.Input, ext.Warnings)
	if ext.Metadata.SourceHash != "" && !ext.Metadata.SourceMatch {
		logging.Info("package edited since generation", "input", c.Input)
	}

	if c.Output == "-" {
		fmt.Print(ext.Text)
		return nil
	}
	out := c.Output
	if out == "" {
		out = replaceExt(c.Input, ".md")
	}
	if err := os.WriteFile(out, []byte(ext.Text), 0644); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}
	fmt.Printf("Wrote %s (%d warnings)\n", out, len(ext.Warnings))
	return nil
}

// VersionCmd prints version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("markweave version %s\n", version)
	return nil
}

// replaceExt swaps the file extension of path for ext.
func replaceExt(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("markweave"),
		kong.Description("markweave - annotated Markdown / DOCX round-trip converter"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
	)
	if CLI.Verbose {
		logging.InitLogger(logging.LevelDebug, logging.FormatText)
	}
	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}

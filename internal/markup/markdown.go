package markup

import (
	"bytes"
	"fmt"
	"regexp"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
)

// mdMetaRe matches one `key: value` header line.
var mdMetaRe = regexp.MustCompile(`^[ ]{0,3}([A-Za-z0-9_-]+):\s*(.*)$`)

// Markdown renders pages written in Markdown via goldmark.
type Markdown struct {
	engine goldmark.Markdown
}

// NewMarkdown returns a Markdown processor with GFM tables, autolinks, and
// task lists enabled.
func NewMarkdown() *Markdown {
	return &Markdown{
		engine: goldmark.New(
			goldmark.WithExtensions(
				extension.GFM,
				extension.Linkify,
				extension.TaskList,
			),
			goldmark.WithParserOptions(parser.WithAutoHeadingID()),
		),
	}
}

// Name implements Processor.
func (m *Markdown) Name() string { return "markdown" }

// Extension implements Processor.
func (m *Markdown) Extension() string { return ".md" }

// MetaLine implements Processor.
func (m *Markdown) MetaLine(key, value string) string {
	return fmt.Sprintf("%s: %s\n", key, value)
}

// Process splits the metadata header from the body and renders the body.
func (m *Markdown) Process(raw string) (Result, error) {
	meta, body := splitMeta(raw, mdMetaRe)
	var buf bytes.Buffer
	if err := m.engine.Convert([]byte(body), &buf); err != nil {
		return Result{}, fmt.Errorf("markup: render markdown: %w", err)
	}
	return Result{HTML: buf.String(), Body: body, Meta: meta}, nil
}

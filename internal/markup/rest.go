package markup

import (
	"fmt"
	"html"
	"regexp"
	"strings"
)

// restMetaRe matches one `.. key: value` header line.
var restMetaRe = regexp.MustCompile(`^\.\.\s+([A-Za-z0-9_-]+):\s*(.*)$`)

// RestructuredText handles pages written in reStructuredText. There is no Go
// docutils, so rendering is a minimal paragraph/literal-block conversion; the
// header format and extension are the authoritative part of this processor.
type RestructuredText struct{}

// NewRestructuredText returns a reStructuredText processor.
func NewRestructuredText() *RestructuredText { return &RestructuredText{} }

// Name implements Processor.
func (r *RestructuredText) Name() string { return "restructuredtext" }

// Extension implements Processor.
func (r *RestructuredText) Extension() string { return ".rst" }

// MetaLine implements Processor.
func (r *RestructuredText) MetaLine(key, value string) string {
	return fmt.Sprintf(".. %s: %s\n", key, value)
}

// Process splits the metadata header from the body and renders the body.
func (r *RestructuredText) Process(raw string) (Result, error) {
	meta, body := splitMeta(raw, restMetaRe)
	return Result{HTML: renderParagraphs(body), Body: body, Meta: meta}, nil
}

// renderParagraphs converts text into escaped HTML paragraphs: blocks are
// separated by blank lines, and indented blocks become <pre> literals.
func renderParagraphs(body string) string {
	var out strings.Builder
	for _, block := range strings.Split(strings.TrimRight(body, "\n"), "\n\n") {
		if strings.TrimSpace(block) == "" {
			continue
		}
		if indented(block) {
			out.WriteString("<pre>")
			out.WriteString(html.EscapeString(block))
			out.WriteString("</pre>\n")
			continue
		}
		out.WriteString("<p>")
		out.WriteString(html.EscapeString(strings.TrimSpace(block)))
		out.WriteString("</p>\n")
	}
	return out.String()
}

func indented(block string) bool {
	for _, line := range strings.Split(block, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if !strings.HasPrefix(line, "    ") && !strings.HasPrefix(line, "\t") {
			return false
		}
	}
	return true
}

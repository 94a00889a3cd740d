// Package markup defines the pluggable markup capability: each Processor
// owns a file extension, a metadata-line format, and the single pass that
// turns raw page text into (rendered HTML, body, metadata).
package markup

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Result holds the output of processing raw page text.
type Result struct {
	HTML string
	Body string
	Meta *Meta
}

// Processor converts raw page text into rendered output, editable body, and
// metadata. Implementations must be stateless so a single instance can be
// shared across calls.
type Processor interface {
	// Name is the registry key, e.g. "markdown".
	Name() string
	// Extension is the file suffix including the dot, e.g. ".md".
	Extension() string
	// MetaLine serializes one metadata key/value pair as a header line,
	// including the trailing newline.
	MetaLine(key, value string) string
	// Process parses raw text into rendered HTML, body, and metadata.
	Process(raw string) (Result, error)
}

var registry = map[string]Processor{}

// Register adds a processor under its name, replacing any previous entry.
func Register(p Processor) {
	registry[p.Name()] = p
}

// Get returns the processor registered under name.
func Get(name string) (Processor, error) {
	p, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("markup: unknown processor %q (have %s)", name, strings.Join(Names(), ", "))
	}
	return p, nil
}

// Names returns the registered processor names in sorted order.
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func init() {
	Register(NewMarkdown())
	Register(NewRestructuredText())
}

// splitMeta separates the metadata header from the body. The header is the
// block before the first blank line, accepted only when every one of its
// lines matches lineRe; otherwise the whole input is body. A file whose
// every line is a metadata line is a header-only page with an empty body.
// Keys are lowercased; repeated keys append values in order.
// Line endings are normalized to "\n" first, so CRLF-authored files parse
// the same as LF ones (universal-newline reads).
func splitMeta(raw string, lineRe *regexp.Regexp) (*Meta, string) {
	meta := NewMeta()

	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	raw = strings.ReplaceAll(raw, "\r", "\n")

	head := raw
	body := ""
	if i := strings.Index(raw, "\n\n"); i >= 0 {
		head = raw[:i]
		body = raw[i+2:]
	}

	for _, line := range strings.Split(head, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		m := lineRe.FindStringSubmatch(line)
		if m == nil {
			// Not a pure metadata header.
			return NewMeta(), raw
		}
		key := strings.ToLower(strings.TrimSpace(m[1]))
		meta.Add(key, strings.TrimSpace(m[2]))
	}
	if meta.Len() == 0 {
		return meta, raw
	}
	return meta, body
}

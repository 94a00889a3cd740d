// Package wiki implements the page content model and the repository that
// resolves URLs to pages, walks the content tree, and runs tag and regex
// search over the whole collection.
package wiki

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/zwegner/waliki/internal/apperr"
	"github.com/zwegner/waliki/internal/markup"
	"github.com/zwegner/waliki/internal/rendercache"
	"github.com/zwegner/waliki/internal/storage"
)

// Page is one wiki document: identity (URL), backing file, metadata, body,
// and derived rendered output. Load and Render form the canonical two-step
// pipeline: read-and-keep raw text, then process it into HTML, body, and
// metadata in one pass.
type Page struct {
	url  string
	path string // relative path within the content tree, url + extension

	proc  markup.Processor
	store storage.Provider
	cache *rendercache.Cache // may be nil

	raw  string
	body string
	html string
	meta *markup.Meta
}

func newPage(store storage.Provider, proc markup.Processor, cache *rendercache.Cache, url, path string) *Page {
	return &Page{
		url:   url,
		path:  path,
		proc:  proc,
		store: store,
		cache: cache,
		meta:  markup.NewMeta(),
	}
}

// URL returns the page's logical slash-separated identity.
func (p *Page) URL() string { return p.url }

// Path returns the page's file path relative to the content root.
func (p *Page) Path() string { return p.path }

// Raw returns the raw file text as of the last Load.
func (p *Page) Raw() string { return p.raw }

// Body returns the content text after the metadata header.
func (p *Page) Body() string { return p.body }

// SetBody replaces the body text. Render after Save re-derives it from the
// file.
func (p *Page) SetBody(body string) { p.body = body }

// HTML returns the rendered output as of the last Render.
func (p *Page) HTML() string { return p.html }

// Meta returns the page's metadata map.
func (p *Page) Meta() *markup.Meta { return p.meta }

// Load replaces the page's raw text with content.
func (p *Page) Load(content string) {
	p.raw = content
}

// LoadFile reads the backing file into the page's raw text. A missing file
// is reported as apperr.ErrNotFound.
func (p *Page) LoadFile() error {
	data, err := p.store.Read(p.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("wiki: page %q: %w", p.url, apperr.ErrNotFound)
		}
		return err
	}
	p.raw = string(data)
	return nil
}

// Render processes the raw text, (re)computing rendered output, body, and
// metadata.
func (p *Page) Render() error {
	res, err := p.proc.Process(p.raw)
	if err != nil {
		return err
	}
	p.html = res.HTML
	p.body = res.Body
	p.meta = res.Meta
	return nil
}

// Save overwrites the backing file: one metadata line per value in
// lexicographic key order, a blank separator line, then the body with line
// endings collapsed to the platform convention. When update is true the page
// reloads and re-renders from the just-written file.
func (p *Page) Save(update bool) error {
	var buf strings.Builder
	for _, key := range p.meta.SortedKeys() {
		values, err := p.meta.Values(key)
		if err != nil {
			return err
		}
		for _, value := range values {
			buf.WriteString(p.proc.MetaLine(key, value))
		}
	}
	buf.WriteString("\n")
	buf.WriteString(strings.ReplaceAll(p.body, "\r\n", lineSeparator))

	if err := p.store.Write(p.path, []byte(buf.String())); err != nil {
		return err
	}
	if update {
		if err := p.LoadFile(); err != nil {
			return err
		}
		return p.Render()
	}
	return nil
}

// DeleteCache invalidates the memoized rendered output for this page. The
// cache is never auto-invalidated on write, so writers call this after Save
// changes content. A page without a cache is a no-op.
func (p *Page) DeleteCache() error {
	if p.cache == nil {
		return nil
	}
	return p.cache.Invalidate(p.url)
}

// CachedHTML returns the rendered output through the render cache: a hit
// requires the stored fingerprint to match the current raw content, and a
// miss stores the freshly rendered output. Without a cache it is HTML.
func (p *Page) CachedHTML() (string, error) {
	if p.cache == nil {
		return p.html, nil
	}
	fp := rendercache.Fingerprint([]byte(p.raw))
	if html, ok, err := p.cache.Get(p.url, fp); err != nil {
		return "", err
	} else if ok {
		return html, nil
	}
	if err := p.cache.Put(p.url, fp, p.html); err != nil {
		return "", err
	}
	return p.html, nil
}

// Title returns the "title" metadata value.
func (p *Page) Title() (string, error) {
	return p.meta.Scalar("title")
}

// SetTitle replaces the "title" metadata value.
func (p *Page) SetTitle(title string) {
	p.meta.Set("title", title)
}

// Tags returns the raw "tags" metadata value, a single comma-separated
// string (the on-disk convention).
func (p *Page) Tags() (string, error) {
	return p.meta.Scalar("tags")
}

// SetTags replaces the "tags" metadata value.
func (p *Page) SetTags(tags string) {
	p.meta.Set("tags", tags)
}

// TagList returns the parsed view of the tags string: comma-split, trimmed,
// empty segments dropped, order preserved.
func (p *Page) TagList() []string {
	raw, err := p.Tags()
	if err != nil {
		return nil
	}
	var out []string
	for _, seg := range strings.Split(raw, ",") {
		if tag := strings.TrimSpace(seg); tag != "" {
			out = append(out, tag)
		}
	}
	return out
}

// Attr returns the named attribute used by grouped indexing and search:
// "url", "title", "tags", or "body". Metadata-backed attributes report
// apperr.ErrMissingMeta when the page lacks them.
func (p *Page) Attr(name string) (string, error) {
	switch name {
	case "url":
		return p.url, nil
	case "title":
		return p.Title()
	case "tags":
		return p.Tags()
	case "body":
		return p.body, nil
	default:
		return "", fmt.Errorf("wiki: unknown page attribute %q", name)
	}
}

// String returns a debug form identifying the page. Logging only, not a
// contract surface.
func (p *Page) String() string {
	return fmt.Sprintf("Page(%s)", p.path)
}

var lineSeparator = func() string {
	if runtime.GOOS == "windows" {
		return "\r\n"
	}
	return "\n"
}()

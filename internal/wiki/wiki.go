package wiki

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/zwegner/waliki/internal/apperr"
	"github.com/zwegner/waliki/internal/markup"
	"github.com/zwegner/waliki/internal/rendercache"
	"github.com/zwegner/waliki/internal/storage"
)

// DefaultSearchAttrs is the attribute order tried by Search when the caller
// passes none.
var DefaultSearchAttrs = []string{"title", "tags", "body"}

// Wiki resolves URLs to pages and builds derived views over the content
// tree. It keeps no cross-call state: every index, tag, and search call
// performs a fresh traversal, so the tree stays the single source of truth.
type Wiki struct {
	root   string
	store  storage.Provider
	proc   markup.Processor
	cache  *rendercache.Cache
	logger *slog.Logger
}

// Option is a functional option for configuring a Wiki.
type Option func(*Wiki)

// WithCache attaches a render cache consulted by Page.CachedHTML and
// invalidated on Delete and Move.
func WithCache(c *rendercache.Cache) Option {
	return func(w *Wiki) { w.cache = c }
}

// WithLogger sets the logger used by traversal warnings.
func WithLogger(l *slog.Logger) Option {
	return func(w *Wiki) { w.logger = l }
}

// New creates a Wiki over the content tree rooted at root. The directory
// must already exist.
func New(root string, proc markup.Processor, opts ...Option) (*Wiki, error) {
	fs, err := storage.NewFS(root)
	if err != nil {
		return nil, err
	}
	w := &Wiki{
		root:   fs.Root(),
		store:  fs,
		proc:   proc,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Root returns the absolute content root.
func (w *Wiki) Root() string { return w.root }

// Processor returns the active markup capability.
func (w *Wiki) Processor() markup.Processor { return w.proc }

// relPath maps a URL to its file path relative to the content root.
func (w *Wiki) relPath(url string) string {
	return url + w.proc.Extension()
}

// FilePath maps a URL to its absolute file path.
func (w *Wiki) FilePath(url string) string {
	return filepath.Join(w.root, filepath.FromSlash(w.relPath(url)))
}

// Exists reports whether a page exists at url.
func (w *Wiki) Exists(url string) bool {
	return w.store.Exists(w.relPath(url))
}

// Get returns the fully loaded and rendered page at url, or (nil, nil) when
// no page exists there.
func (w *Wiki) Get(url string) (*Page, error) {
	if !w.Exists(url) {
		return nil, nil
	}
	return w.load(url)
}

// GetOr404 is Get, but an absent page is reported as apperr.ErrNotFound.
func (w *Wiki) GetOr404(url string) (*Page, error) {
	page, err := w.Get(url)
	if err != nil {
		return nil, err
	}
	if page == nil {
		return nil, fmt.Errorf("wiki: page %q: %w", url, apperr.ErrNotFound)
	}
	return page, nil
}

// GetBare returns a new unsaved page at url with empty metadata and body,
// ready for population and Save. When a page already exists at url it
// reports apperr.ErrAlreadyExists so the caller cannot overwrite it.
func (w *Wiki) GetBare(url string) (*Page, error) {
	if w.Exists(url) {
		return nil, fmt.Errorf("wiki: page %q: %w", url, apperr.ErrAlreadyExists)
	}
	return newPage(w.store, w.proc, w.cache, url, w.relPath(url)), nil
}

// Move renames the backing file of url to newURL. Moving onto an existing
// page fails and leaves the source untouched. Any in-memory Page for url is
// stale afterwards and must be discarded.
func (w *Wiki) Move(url, newURL string) error {
	if err := w.store.Move(w.relPath(url), w.relPath(newURL)); err != nil {
		return err
	}
	if w.cache != nil {
		if err := w.cache.Invalidate(url); err != nil {
			w.logger.Warn("wiki: invalidate after move failed",
				slog.String("url", url), slog.String("error", err.Error()))
		}
	}
	return nil
}

// Delete removes the page at url. It returns false when no page exists
// there.
func (w *Wiki) Delete(url string) (bool, error) {
	if !w.Exists(url) {
		return false, nil
	}
	if err := w.store.Delete(w.relPath(url)); err != nil {
		return false, err
	}
	if w.cache != nil {
		if err := w.cache.Invalidate(url); err != nil {
			w.logger.Warn("wiki: invalidate after delete failed",
				slog.String("url", url), slog.String("error", err.Error()))
		}
	}
	return true, nil
}

// load constructs, loads, and renders the page at url.
func (w *Wiki) load(url string) (*Page, error) {
	page := newPage(w.store, w.proc, w.cache, url, w.relPath(url))
	if err := page.LoadFile(); err != nil {
		return nil, err
	}
	if err := page.Render(); err != nil {
		return nil, err
	}
	return page, nil
}

// walk loads every page under root in traversal (directory-walk) order. URL
// for a file is its path relative to root with the extension stripped and
// separators normalized to "/".
func (w *Wiki) walk() ([]*Page, error) {
	rels, err := w.store.Walk(w.proc.Extension())
	if err != nil {
		return nil, err
	}
	pages := make([]*Page, 0, len(rels))
	for _, rel := range rels {
		url := strings.TrimSuffix(rel, w.proc.Extension())
		page, err := w.load(url)
		if err != nil {
			return nil, err
		}
		pages = append(pages, page)
	}
	return pages, nil
}

// Index returns every page sorted case-insensitively by title, ties broken
// by URL. Pages without a title sort as the empty string.
func (w *Wiki) Index() ([]*Page, error) {
	pages, err := w.walk()
	if err != nil {
		return nil, err
	}
	sortByTitle(pages)
	return pages, nil
}

// IndexByAttr returns a mapping from each page's named attribute value to
// that page, in traversal order. Later pages with a colliding attribute
// value overwrite earlier ones; pages lacking the attribute are skipped.
func (w *Wiki) IndexByAttr(attr string) (*orderedmap.OrderedMap[string, *Page], error) {
	pages, err := w.walk()
	if err != nil {
		return nil, err
	}
	out := orderedmap.New[string, *Page]()
	for _, page := range pages {
		value, err := page.Attr(attr)
		if err != nil {
			continue
		}
		out.Set(value, page)
	}
	return out, nil
}

// GetByTitle returns the page whose title is title, or (nil, nil) when no
// page carries it. Each call rebuilds the title map from a fresh traversal.
func (w *Wiki) GetByTitle(title string) (*Page, error) {
	byTitle, err := w.IndexByAttr("title")
	if err != nil {
		return nil, err
	}
	page, ok := byTitle.Get(title)
	if !ok {
		return nil, nil
	}
	return page, nil
}

// GetTags returns a mapping from tag to the pages carrying it, tags in
// first-encounter order. Tag strings are comma-split; segments are deduped
// before trimming, so a page whose tags read "a, b, a" appears under "a"
// twice ("a" and " a" are distinct raw segments).
func (w *Wiki) GetTags() (*orderedmap.OrderedMap[string, []*Page], error) {
	pages, err := w.Index()
	if err != nil {
		return nil, err
	}
	tags := orderedmap.New[string, []*Page]()
	for _, page := range pages {
		raw, err := page.Tags()
		if err != nil {
			continue
		}
		seen := make(map[string]struct{})
		for _, seg := range strings.Split(raw, ",") {
			if _, dup := seen[seg]; dup {
				continue
			}
			seen[seg] = struct{}{}
			tag := strings.TrimSpace(seg)
			if tag == "" {
				continue
			}
			existing, _ := tags.Get(tag)
			tags.Set(tag, append(existing, page))
		}
	}
	return tags, nil
}

// IndexByTag returns the pages whose raw tags string contains tag as a
// substring, sorted case-insensitively by title.
func (w *Wiki) IndexByTag(tag string) ([]*Page, error) {
	pages, err := w.walk()
	if err != nil {
		return nil, err
	}
	var tagged []*Page
	for _, page := range pages {
		raw, err := page.Tags()
		if err != nil {
			continue
		}
		if strings.Contains(raw, tag) {
			tagged = append(tagged, page)
		}
	}
	sortByTitle(tagged)
	return tagged, nil
}

// Search returns pages where term, compiled as a regular expression,
// matches at least one of the named attributes. Each page is included once,
// at its first matching attribute, in traversal order (not title order).
// attrs defaults to DefaultSearchAttrs; attributes a page lacks are
// skipped. A term that does not compile is reported as
// apperr.ErrInvalidPattern.
func (w *Wiki) Search(term string, attrs []string) ([]*Page, error) {
	re, err := regexp.Compile(term)
	if err != nil {
		return nil, fmt.Errorf("wiki: term %q: %w: %v", term, apperr.ErrInvalidPattern, err)
	}
	if len(attrs) == 0 {
		attrs = DefaultSearchAttrs
	}
	pages, err := w.walk()
	if err != nil {
		return nil, err
	}
	var matched []*Page
	for _, page := range pages {
		for _, attr := range attrs {
			value, err := page.Attr(attr)
			if err != nil {
				continue
			}
			if re.MatchString(value) {
				matched = append(matched, page)
				break
			}
		}
	}
	return matched, nil
}

func sortByTitle(pages []*Page) {
	sort.SliceStable(pages, func(i, j int) bool {
		ti, _ := pages[i].Title()
		tj, _ := pages[j].Title()
		li, lj := strings.ToLower(ti), strings.ToLower(tj)
		if li != lj {
			return li < lj
		}
		return pages[i].URL() < pages[j].URL()
	})
}

var (
	urlSpaceRe  = regexp.MustCompile(`\s+`)
	urlUnsafeRe = regexp.MustCompile(`[^A-Za-z0-9_/-]`)
)

// URLify normalizes a user-entered URL: surrounding space and slashes are
// trimmed, whitespace runs become underscores, and remaining unsafe
// characters are dropped.
func URLify(s string) string {
	s = strings.Trim(strings.TrimSpace(s), "/")
	s = urlSpaceRe.ReplaceAllString(s, "_")
	return urlUnsafeRe.ReplaceAllString(s, "")
}

package wiki

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/zwegner/waliki/internal/apperr"
	"github.com/zwegner/waliki/internal/markup"
	"github.com/zwegner/waliki/internal/rendercache"
)

func newTestWiki(t *testing.T, opts ...Option) *Wiki {
	t.Helper()
	proc, err := markup.Get("markdown")
	if err != nil {
		t.Fatalf("markup.Get: %v", err)
	}
	w, err := New(t.TempDir(), proc, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return w
}

func mustWrite(t *testing.T, w *Wiki, rel, content string) {
	t.Helper()
	abs := filepath.Join(w.Root(), filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
}

func urls(pages []*Page) []string {
	out := make([]string, len(pages))
	for i, p := range pages {
		out[i] = p.URL()
	}
	return out
}

func TestGet_ParsesMetadataAndBody(t *testing.T) {
	w := newTestWiki(t)
	mustWrite(t, w, "home.md", "title: Home\ntags: intro, start\n\nHello *world*.")

	page, err := w.Get("home")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if page == nil {
		t.Fatal("Get returned nil for existing page")
	}
	if title, err := page.Title(); err != nil || title != "Home" {
		t.Errorf("title = %q, %v; want Home", title, err)
	}
	if tags, err := page.Tags(); err != nil || tags != "intro, start" {
		t.Errorf("tags = %q, %v; want %q", tags, err, "intro, start")
	}
	if page.Body() != "Hello *world*." {
		t.Errorf("body = %q", page.Body())
	}
	if !strings.Contains(page.HTML(), "<em>world</em>") {
		t.Errorf("html = %q, want emphasis", page.HTML())
	}
}

func TestGet_WindowsLineEndings(t *testing.T) {
	w := newTestWiki(t)
	mustWrite(t, w, "crlf.md", "title: Crlf\ntags: win\n\nHello *world*.\n")
	mustWrite(t, w, "crlf2.md", "title: Apple\r\ntags: win\r\n\r\nHello *world*.\r\n")

	page, err := w.GetOr404("crlf2")
	if err != nil {
		t.Fatalf("GetOr404: %v", err)
	}
	if title, err := page.Title(); err != nil || title != "Apple" {
		t.Errorf("title = %q, %v; want Apple", title, err)
	}
	if page.Body() != "Hello *world*.\n" {
		t.Errorf("body = %q, want metadata stripped", page.Body())
	}

	// The CRLF page sorts by its real title and carries its tag.
	pages, err := w.Index()
	if err != nil {
		t.Fatalf("Index: %v", err)
	}
	if diff := cmp.Diff([]string{"crlf2", "crlf"}, urls(pages)); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
	tags, err := w.GetTags()
	if err != nil {
		t.Fatalf("GetTags: %v", err)
	}
	winPages, _ := tags.Get("win")
	if len(winPages) != 2 {
		t.Errorf("pages under win = %d, want 2", len(winPages))
	}
}

func TestGet_Absent(t *testing.T) {
	w := newTestWiki(t)
	page, err := w.Get("nowhere")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if page != nil {
		t.Errorf("Get(absent) = %v, want nil", page)
	}
}

func TestGetOr404(t *testing.T) {
	w := newTestWiki(t)
	mustWrite(t, w, "home.md", "title: Home\n\nhi")

	if _, err := w.GetOr404("ghost"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("GetOr404(absent) err = %v, want ErrNotFound", err)
	}

	got, err := w.GetOr404("home")
	if err != nil {
		t.Fatalf("GetOr404: %v", err)
	}
	want, _ := w.Get("home")
	if got.Body() != want.Body() || got.HTML() != want.HTML() {
		t.Error("GetOr404 content differs from Get")
	}
}

func TestGetBare(t *testing.T) {
	w := newTestWiki(t)
	mustWrite(t, w, "taken.md", "title: Taken\n\nx")

	if _, err := w.GetBare("taken"); !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Errorf("GetBare(existing) err = %v, want ErrAlreadyExists", err)
	}

	page, err := w.GetBare("fresh")
	if err != nil {
		t.Fatalf("GetBare: %v", err)
	}
	if page.Body() != "" {
		t.Errorf("bare body = %q, want empty", page.Body())
	}
	if page.Meta().Len() != 0 {
		t.Errorf("bare meta keys = %v, want none", page.Meta().Keys())
	}
	if w.Exists("fresh") {
		t.Error("bare page must not touch the file system")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	w := newTestWiki(t)
	page, err := w.GetBare("notes/new")
	if err != nil {
		t.Fatalf("GetBare: %v", err)
	}
	page.SetTitle("New Page")
	page.SetTags("draft, test")
	page.SetBody("Line one\r\nLine two\n")

	if err := page.Save(true); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reread, err := w.GetOr404("notes/new")
	if err != nil {
		t.Fatalf("GetOr404 after save: %v", err)
	}
	if title, err := reread.Title(); err != nil || title != "New Page" {
		t.Errorf("title = %q, %v", title, err)
	}
	if tags, err := reread.Tags(); err != nil || tags != "draft, test" {
		t.Errorf("tags = %q, %v", tags, err)
	}
	// Line endings are normalized on write; only the endings may differ.
	body := strings.ReplaceAll(reread.Body(), "\r\n", "\n")
	if body != "Line one\nLine two\n" {
		t.Errorf("body = %q", body)
	}
}

func TestSave_MetadataKeyOrder(t *testing.T) {
	w := newTestWiki(t)
	page, _ := w.GetBare("ordered")
	page.SetTitle("Ordered")
	page.SetTags("z")
	page.Meta().Set("author", "ann")
	page.SetBody("text")

	if err := page.Save(false); err != nil {
		t.Fatalf("Save: %v", err)
	}
	data, err := os.ReadFile(w.FilePath("ordered"))
	if err != nil {
		t.Fatalf("read saved file: %v", err)
	}
	want := "author: ann\ntags: z\ntitle: Ordered\n\ntext"
	if string(data) != want {
		t.Errorf("file = %q, want %q", data, want)
	}
}

func TestSave_MultiValueMetadata(t *testing.T) {
	w := newTestWiki(t)
	page, _ := w.GetBare("multi")
	page.SetTitle("Multi")
	page.Meta().Set("author", "ann", "bob")
	page.SetBody("x")

	if err := page.Save(true); err != nil {
		t.Fatalf("Save: %v", err)
	}
	values, err := page.Meta().Values("author")
	if err != nil {
		t.Fatalf("Values: %v", err)
	}
	if diff := cmp.Diff([]string{"ann", "bob"}, values); diff != "" {
		t.Errorf("author values mismatch (-want +got):\n%s", diff)
	}
}

func TestIndex_SortedByTitleCaseInsensitive(t *testing.T) {
	w := newTestWiki(t)
	mustWrite(t, w, "c.md", "title: Cherry\n\nx")
	mustWrite(t, w, "a.md", "title: apple\n\nx")
	mustWrite(t, w, "b.md", "title: Banana\n\nx")
	mustWrite(t, w, "sub/d.md", "title: apricot\n\nx")

	pages, err := w.Index()
	if err != nil {
		t.Fatalf("Index: %v", err)
	}
	want := []string{"a", "sub/d", "b", "c"} // apple, apricot, Banana, Cherry
	if diff := cmp.Diff(want, urls(pages)); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}

	seen := make(map[string]struct{})
	for _, p := range pages {
		if _, dup := seen[p.URL()]; dup {
			t.Errorf("duplicate url %q", p.URL())
		}
		seen[p.URL()] = struct{}{}
	}
	if len(pages) != 4 {
		t.Errorf("len = %d, want 4", len(pages))
	}
}

func TestIndex_TitleTieBreakByURL(t *testing.T) {
	w := newTestWiki(t)
	mustWrite(t, w, "z.md", "title: Same\n\nx")
	mustWrite(t, w, "a.md", "title: Same\n\nx")

	pages, err := w.Index()
	if err != nil {
		t.Fatalf("Index: %v", err)
	}
	if diff := cmp.Diff([]string{"a", "z"}, urls(pages)); diff != "" {
		t.Errorf("tie-break mismatch (-want +got):\n%s", diff)
	}
}

func TestIndex_MissingTitleSortsAsEmpty(t *testing.T) {
	w := newTestWiki(t)
	mustWrite(t, w, "titled.md", "title: Apple\n\nx")
	mustWrite(t, w, "untitled.md", "no metadata, just body\n")

	pages, err := w.Index()
	if err != nil {
		t.Fatalf("Index: %v", err)
	}
	if diff := cmp.Diff([]string{"untitled", "titled"}, urls(pages)); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestIndexByAttr_LastWriterWins(t *testing.T) {
	w := newTestWiki(t)
	mustWrite(t, w, "a.md", "title: Shared\n\nfirst")
	mustWrite(t, w, "b.md", "title: Shared\n\nsecond")

	byTitle, err := w.IndexByAttr("title")
	if err != nil {
		t.Fatalf("IndexByAttr: %v", err)
	}
	page, ok := byTitle.Get("Shared")
	if !ok {
		t.Fatal("missing entry for Shared")
	}
	// Traversal order is a.md then b.md, so the later page wins.
	if page.URL() != "b" {
		t.Errorf("winner = %q, want b (documented quirk)", page.URL())
	}
}

func TestGetByTitle(t *testing.T) {
	w := newTestWiki(t)
	mustWrite(t, w, "home.md", "title: Home\n\nx")

	page, err := w.GetByTitle("Home")
	if err != nil {
		t.Fatalf("GetByTitle: %v", err)
	}
	if page == nil || page.URL() != "home" {
		t.Errorf("page = %v, want home", page)
	}

	missing, err := w.GetByTitle("Nope")
	if err != nil {
		t.Fatalf("GetByTitle: %v", err)
	}
	if missing != nil {
		t.Errorf("GetByTitle(absent) = %v, want nil", missing)
	}
}

func TestGetTags_DuplicateSegmentQuirk(t *testing.T) {
	// "a, b, a" holds three raw segments: "a", " b", " a". The first and
	// last trim to the same tag but are distinct before trimming, so the
	// page appends under "a" twice. Documented quirk, asserted literally.
	w := newTestWiki(t)
	mustWrite(t, w, "quirky.md", "tags: a, b, a\ntitle: Quirky\n\nx")

	tags, err := w.GetTags()
	if err != nil {
		t.Fatalf("GetTags: %v", err)
	}
	a, _ := tags.Get("a")
	if len(a) != 2 {
		t.Errorf("pages under a = %d, want 2", len(a))
	}
	b, _ := tags.Get("b")
	if len(b) != 1 {
		t.Errorf("pages under b = %d, want 1", len(b))
	}
}

func TestGetTags_SharedAndMissing(t *testing.T) {
	w := newTestWiki(t)
	mustWrite(t, w, "one.md", "tags: go, wiki\ntitle: One\n\nx")
	mustWrite(t, w, "two.md", "tags: go\ntitle: Two\n\nx")
	mustWrite(t, w, "bare.md", "title: Bare\n\nno tags here")

	tags, err := w.GetTags()
	if err != nil {
		t.Fatalf("GetTags: %v", err)
	}
	goPages, _ := tags.Get("go")
	if len(goPages) != 2 {
		t.Errorf("pages under go = %d, want 2", len(goPages))
	}
	wikiPages, _ := tags.Get("wiki")
	if len(wikiPages) != 1 {
		t.Errorf("pages under wiki = %d, want 1", len(wikiPages))
	}
	if tags.Len() != 2 {
		t.Errorf("distinct tags = %d, want 2", tags.Len())
	}
}

func TestIndexByTag_SubstringMatch(t *testing.T) {
	w := newTestWiki(t)
	mustWrite(t, w, "a.md", "tags: introduction\ntitle: Zebra\n\nx")
	mustWrite(t, w, "b.md", "tags: intro\ntitle: Aardvark\n\nx")
	mustWrite(t, w, "c.md", "tags: other\ntitle: Car\n\nx")

	pages, err := w.IndexByTag("intro")
	if err != nil {
		t.Fatalf("IndexByTag: %v", err)
	}
	// Substring containment, sorted by title.
	if diff := cmp.Diff([]string{"b", "a"}, urls(pages)); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}
}

func TestSearch_WalkOrderAndSet(t *testing.T) {
	w := newTestWiki(t)
	// Walk order (a, b, c) deliberately differs from title order.
	mustWrite(t, w, "a.md", "title: Zulu\ntags: shared\n\ncommon term")
	mustWrite(t, w, "b.md", "title: Alpha\ntags: shared\n\ncommon term")
	mustWrite(t, w, "c.md", "title: Mike\ntags: other\n\nnothing here")

	pages, err := w.Search("common", nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if diff := cmp.Diff([]string{"a", "b"}, urls(pages)); diff != "" {
		t.Errorf("walk-order mismatch (-want +got):\n%s", diff)
	}

	// Attribute order changes which attribute wins per page, never the set.
	reordered, err := w.Search("common|shared", []string{"body", "tags", "title"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	defaultOrder, err := w.Search("common|shared", nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	a, b := urls(reordered), urls(defaultOrder)
	sort.Strings(a)
	sort.Strings(b)
	if diff := cmp.Diff(b, a); diff != "" {
		t.Errorf("result set depends on attr order (-want +got):\n%s", diff)
	}
}

func TestSearch_EachPageOnce(t *testing.T) {
	w := newTestWiki(t)
	mustWrite(t, w, "a.md", "title: hit\ntags: hit\n\nhit everywhere")

	pages, err := w.Search("hit", nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(pages) != 1 {
		t.Errorf("len = %d, want 1 (page included once)", len(pages))
	}
}

func TestSearch_InvalidPattern(t *testing.T) {
	w := newTestWiki(t)
	if _, err := w.Search("(", nil); !errors.Is(err, apperr.ErrInvalidPattern) {
		t.Errorf("err = %v, want ErrInvalidPattern", err)
	}
}

func TestMove(t *testing.T) {
	w := newTestWiki(t)
	mustWrite(t, w, "a.md", "title: A\n\nx")

	if err := w.Move("a", "b"); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if w.Exists("a") {
		t.Error("source url still exists")
	}
	if !w.Exists("b") {
		t.Error("destination url missing")
	}
}

func TestMove_DestinationExists(t *testing.T) {
	w := newTestWiki(t)
	mustWrite(t, w, "a.md", "title: A\n\nsource body")
	mustWrite(t, w, "b.md", "title: B\n\ndestination body")

	if err := w.Move("a", "b"); err == nil {
		t.Fatal("expected error moving onto existing page")
	}
	page, err := w.GetOr404("a")
	if err != nil {
		t.Fatalf("source gone after failed move: %v", err)
	}
	if page.Body() != "source body" {
		t.Errorf("source body = %q, want untouched", page.Body())
	}
}

func TestDelete(t *testing.T) {
	w := newTestWiki(t)

	ok, err := w.Delete("ghost")
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if ok {
		t.Error("Delete(absent) = true, want false")
	}

	mustWrite(t, w, "doomed.md", "title: Doomed\n\nx")
	ok, err = w.Delete("doomed")
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !ok {
		t.Error("Delete(existing) = false, want true")
	}
	if w.Exists("doomed") {
		t.Error("page still exists after delete")
	}
}

func TestCachedHTML(t *testing.T) {
	cache, err := rendercache.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("rendercache.Open: %v", err)
	}
	t.Cleanup(func() { _ = cache.Close() })

	w := newTestWiki(t, WithCache(cache))
	mustWrite(t, w, "home.md", "title: Home\n\nHello *world*.")

	page, err := w.GetOr404("home")
	if err != nil {
		t.Fatalf("GetOr404: %v", err)
	}
	first, err := page.CachedHTML()
	if err != nil {
		t.Fatalf("CachedHTML: %v", err)
	}
	fp := rendercache.Fingerprint([]byte(page.Raw()))
	if _, ok, _ := cache.Get("home", fp); !ok {
		t.Error("entry not stored after miss")
	}

	second, err := page.CachedHTML()
	if err != nil {
		t.Fatalf("CachedHTML: %v", err)
	}
	if first != second {
		t.Error("cached output differs")
	}

	// Content change means a new fingerprint: the stale entry must miss.
	mustWrite(t, w, "home.md", "title: Home\n\nChanged.")
	changed, err := w.GetOr404("home")
	if err != nil {
		t.Fatalf("GetOr404: %v", err)
	}
	html, err := changed.CachedHTML()
	if err != nil {
		t.Fatalf("CachedHTML: %v", err)
	}
	if !strings.Contains(html, "Changed.") {
		t.Errorf("html = %q, want re-rendered output", html)
	}

	// Explicit invalidation drops the entry.
	if err := changed.DeleteCache(); err != nil {
		t.Fatalf("DeleteCache: %v", err)
	}
	newFP := rendercache.Fingerprint([]byte(changed.Raw()))
	if _, ok, _ := cache.Get("home", newFP); ok {
		t.Error("entry survived DeleteCache")
	}
}

func TestURLify(t *testing.T) {
	cases := []struct{ in, want string }{
		{"My New Page", "My_New_Page"},
		{"/leading/and/trailing/", "leading/and/trailing"},
		{"weird!@#chars", "weirdchars"},
		{"  spaced  out  ", "spaced_out"},
	}
	for _, c := range cases {
		if got := URLify(c.in); got != c.want {
			t.Errorf("URLify(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestPageString(t *testing.T) {
	w := newTestWiki(t)
	page, _ := w.GetBare("debug")
	if page.String() != "Page(debug.md)" {
		t.Errorf("String = %q", page.String())
	}
}

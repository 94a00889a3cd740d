package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/zwegner/waliki/internal"
	"github.com/zwegner/waliki/internal/apperr"
	"github.com/zwegner/waliki/internal/markup"
	"github.com/zwegner/waliki/internal/rendercache"
	"github.com/zwegner/waliki/internal/wiki"
)

type app struct {
	cfg    *internal.Config
	logger *slog.Logger
	wiki   *wiki.Wiki
	cache  *rendercache.Cache
}

// setup loads config, builds the logger, opens the render cache, and
// constructs the wiki. The returned cleanup closes the cache.
func setup(cmd *cli.Command) (*app, func(), error) {
	cfg, err := internal.LoadConfig(cmd.String("config"))
	if err != nil {
		return nil, nil, err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	if err := os.MkdirAll(cfg.Content.Path, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create content dir: %w", err)
	}

	proc, err := markup.Get(cfg.Content.Markup)
	if err != nil {
		return nil, nil, err
	}

	opts := []wiki.Option{wiki.WithLogger(logger)}
	var cache *rendercache.Cache
	if cfg.Cache.Enabled() {
		cache, err = rendercache.Open(cfg.Cache.Path)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, wiki.WithCache(cache))
	}

	w, err := wiki.New(cfg.Content.Path, proc, opts...)
	if err != nil {
		if cache != nil {
			cache.Close()
		}
		return nil, nil, err
	}

	cleanup := func() {
		if cache != nil {
			_ = cache.Close()
		}
	}
	return &app{cfg: cfg, logger: logger, wiki: w, cache: cache}, cleanup, nil
}

func printPages(pages []*wiki.Page) {
	for _, page := range pages {
		title, _ := page.Title()
		fmt.Printf("%s\t%s\n", page.URL(), title)
	}
}

func showAction(_ context.Context, cmd *cli.Command) error {
	a, cleanup, err := setup(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	page, err := a.wiki.GetOr404(cmd.Args().First())
	if err != nil {
		return err
	}
	html, err := page.CachedHTML()
	if err != nil {
		return err
	}
	fmt.Println(html)
	return nil
}

func sourceAction(_ context.Context, cmd *cli.Command) error {
	a, cleanup, err := setup(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	page, err := a.wiki.GetOr404(cmd.Args().First())
	if err != nil {
		return err
	}
	fmt.Print(page.Body())
	return nil
}

func indexAction(_ context.Context, cmd *cli.Command) error {
	a, cleanup, err := setup(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	pages, err := a.wiki.Index()
	if err != nil {
		return err
	}
	printPages(pages)
	return nil
}

func tagsAction(_ context.Context, cmd *cli.Command) error {
	a, cleanup, err := setup(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	tags, err := a.wiki.GetTags()
	if err != nil {
		return err
	}
	for pair := tags.Oldest(); pair != nil; pair = pair.Next() {
		fmt.Printf("%s (%d)\n", pair.Key, len(pair.Value))
		for _, page := range pair.Value {
			fmt.Printf("\t%s\n", page.URL())
		}
	}
	return nil
}

func tagAction(_ context.Context, cmd *cli.Command) error {
	a, cleanup, err := setup(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	pages, err := a.wiki.IndexByTag(cmd.Args().First())
	if err != nil {
		return err
	}
	printPages(pages)
	return nil
}

func searchAction(_ context.Context, cmd *cli.Command) error {
	a, cleanup, err := setup(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	pages, err := a.wiki.Search(cmd.Args().First(), cmd.StringSlice("attr"))
	if err != nil {
		return err
	}
	printPages(pages)
	return nil
}

func createAction(_ context.Context, cmd *cli.Command) error {
	a, cleanup, err := setup(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	url := wiki.URLify(cmd.Args().First())
	if url == "" {
		return errors.New("create: empty url")
	}
	page, err := a.wiki.GetBare(url)
	if err != nil {
		if errors.Is(err, apperr.ErrAlreadyExists) {
			return fmt.Errorf("create: page %q exists already", url)
		}
		return err
	}

	body, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("create: read body: %w", err)
	}
	page.SetTitle(cmd.String("title"))
	if tags := cmd.String("tags"); tags != "" {
		page.SetTags(tags)
	}
	page.SetBody(string(body))

	if err := page.Save(true); err != nil {
		return err
	}
	if err := page.DeleteCache(); err != nil {
		return err
	}
	a.logger.Info("page created", slog.String("url", url))
	return nil
}

func editAction(_ context.Context, cmd *cli.Command) error {
	a, cleanup, err := setup(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	page, err := a.wiki.GetOr404(cmd.Args().First())
	if err != nil {
		return err
	}
	body, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("edit: read body: %w", err)
	}
	page.SetBody(string(body))
	if title := cmd.String("title"); title != "" {
		page.SetTitle(title)
	}
	if tags := cmd.String("tags"); tags != "" {
		page.SetTags(tags)
	}
	if err := page.Save(true); err != nil {
		return err
	}
	if err := page.DeleteCache(); err != nil {
		return err
	}
	a.logger.Info("page saved", slog.String("url", page.URL()))
	return nil
}

func mvAction(_ context.Context, cmd *cli.Command) error {
	a, cleanup, err := setup(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	oldURL, newURL := cmd.Args().Get(0), cmd.Args().Get(1)
	if err := a.wiki.Move(oldURL, newURL); err != nil {
		return err
	}
	a.logger.Info("page moved", slog.String("from", oldURL), slog.String("to", newURL))
	return nil
}

func rmAction(_ context.Context, cmd *cli.Command) error {
	a, cleanup, err := setup(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	url := cmd.Args().First()
	ok, err := a.wiki.Delete(url)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("rm: page %q: %w", url, apperr.ErrNotFound)
	}
	a.logger.Info("page deleted", slog.String("url", url))
	return nil
}

func watchAction(ctx context.Context, cmd *cli.Command) error {
	a, cleanup, err := setup(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(sigCtx)
	g.Go(func() error {
		return wiki.Watch(gCtx, a.wiki, a.logger, nil)
	})
	g.Go(func() error {
		<-gCtx.Done()
		a.logger.Info("shutting down watcher")
		return nil
	})
	return g.Wait()
}

func main() {
	cmd := &cli.Command{
		Name:  "waliki",
		Usage: "File-backed wiki engine: pages as plain-text files with metadata, rendering, tags, and search",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{Name: "show", Usage: "Print a page's rendered HTML", ArgsUsage: "<url>", Action: showAction},
			{Name: "source", Usage: "Print a page's body text", ArgsUsage: "<url>", Action: sourceAction},
			{Name: "index", Usage: "List every page sorted by title", Action: indexAction},
			{Name: "tags", Usage: "List tags and the pages carrying them", Action: tagsAction},
			{Name: "tag", Usage: "List pages tagged with a tag", ArgsUsage: "<tag>", Action: tagAction},
			{
				Name: "search", Usage: "Search pages by regular expression", ArgsUsage: "<term>",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{Name: "attr", Usage: "Attribute to match (repeatable): title, tags, body, url"},
				},
				Action: searchAction,
			},
			{
				Name: "create", Usage: "Create a new page, body from stdin", ArgsUsage: "<url>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "title", Usage: "Page title"},
					&cli.StringFlag{Name: "tags", Usage: "Comma-separated tags"},
				},
				Action: createAction,
			},
			{
				Name: "edit", Usage: "Replace a page's body from stdin", ArgsUsage: "<url>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "title", Usage: "New page title"},
					&cli.StringFlag{Name: "tags", Usage: "New comma-separated tags"},
				},
				Action: editAction,
			},
			{Name: "mv", Usage: "Move a page to a new URL", ArgsUsage: "<url> <newurl>", Action: mvAction},
			{Name: "rm", Usage: "Delete a page", ArgsUsage: "<url>", Action: rmAction},
			{Name: "watch", Usage: "Watch the content tree and keep the render cache fresh", Action: watchAction},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/madeddie/mebooks/acquire"
	"github.com/madeddie/mebooks/cache"
	"github.com/madeddie/mebooks/config"
	"github.com/madeddie/mebooks/crawler"
	"github.com/madeddie/mebooks/credentials"
	"github.com/madeddie/mebooks/fetch"
	"github.com/madeddie/mebooks/opds"
	"github.com/madeddie/mebooks/preview"
	"github.com/madeddie/mebooks/search"
	"github.com/madeddie/mebooks/server"
)

func main() {
	var (
		configPath string
		addr       string
		fetchURL   string
		resolveURL string
		version    string
		linkType   string
		depth      int
	)
	flag.StringVar(&configPath, "config", "", "Path to config file (default: search standard locations)")
	flag.StringVar(&addr, "addr", "", "Listen address (overrides config)")
	flag.StringVar(&fetchURL, "fetch", "", "Fetch and print one catalog page as JSON, then exit")
	flag.StringVar(&resolveURL, "resolve", "", "Resolve an acquisition link to a download URL, then exit")
	flag.StringVar(&version, "version", "auto", "OPDS version hint for -fetch and -resolve: auto, 1 or 2")
	flag.StringVar(&linkType, "type", "", "Media type of the -resolve link; picks the OPDS version when -version is auto")
	flag.IntVar(&depth, "depth", 0, "With -fetch, crawl navigation links this many levels deep")
	flag.Parse()

	if configPath == "" {
		configPath = config.FindConfig()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}

	logger, closeLog := newLogger(cfg.Log)
	defer closeLog()
	slog.SetDefault(logger)
	if configPath != "" {
		logger.Info("loaded config", "path", configPath)
	}

	a := build(cfg, logger)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case fetchURL != "":
		err = runFetch(ctx, a, fetchURL, opds.ParseVersion(version), depth)
	case resolveURL != "":
		err = runResolve(ctx, a, resolveURL, opds.ParseVersion(version), linkType)
	default:
		err = serve(ctx, cfg, a, logger)
	}
	if err != nil {
		logger.Error("exiting", "error", err)
		closeLog()
		os.Exit(1)
	}
}

// app holds the wired components.
type app struct {
	fetcher  *fetch.Fetcher
	resolver *acquire.Resolver
	crawler  *crawler.Crawler
	handler  *server.Handler
	creds    *credentials.MemoryStore
}

func build(cfg *config.Config, logger *slog.Logger) *app {
	client := fetch.NewHTTPClient(cfg.ClientSettings(), logger)
	proxy := cfg.ProxySettings()

	creds := credentials.NewMemoryStore()
	for _, c := range cfg.Catalogs {
		if c.Auth == nil || c.Auth.Username == "" {
			continue
		}
		if err := creds.SaveOPDSCredential(context.Background(), c.URL, c.Auth.Username, c.Auth.Password); err != nil {
			logger.Warn("could not store catalog credential", "name", c.Name, "error", err)
		}
	}

	fetcher := fetch.NewFetcher(client, fetch.Options{
		Proxy:        proxy,
		Credentials:  creds,
		Cache:        cache.NewETagCache(cfg.Fetch.CacheEntries, logger),
		MaxRedirects: cfg.Fetch.MaxRedirects,
		Logger:       logger,
	})
	prober := fetch.NewProber(client, proxy, logger)
	resolver := acquire.NewResolver(client, prober, proxy, acquire.Options{
		MaxRedirects: cfg.Fetch.MaxRedirects,
		Logger:       logger,
	})
	previews := preview.NewPool(fetcher, preview.Options{
		Workers: cfg.Fetch.PreviewWorkers,
		Limit:   cfg.Fetch.PreviewLimit,
		Cache:   cache.NewPreviewCache(0),
		Message: fetch.UserMessage,
		Logger:  logger,
	})
	crawl := crawler.New(fetcher, logger)

	return &app{
		fetcher:  fetcher,
		resolver: resolver,
		crawler:  crawl,
		creds:    creds,
		handler: server.NewHandler(cfg,
			fetcher,
			resolver,
			search.New(fetcher, logger),
			previews,
			crawl,
			creds,
			logger,
		),
	}
}

func serve(ctx context.Context, cfg *config.Config, a *app, logger *slog.Logger) error {
	srv := server.New(cfg, a.handler, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", cfg.Server.Addr, "catalogs", len(cfg.Catalogs))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runFetch(ctx context.Context, a *app, target string, version opds.Version, depth int) error {
	if depth > 0 {
		tree, err := a.crawler.Crawl(ctx, target, version, depth)
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, tree)
	}
	// The UI boundary: errors come back inside the result.
	return printJSON(os.Stdout, a.fetcher.Load(ctx, target, version))
}

func runResolve(ctx context.Context, a *app, href string, version opds.Version, mediaType string) error {
	var cred *credentials.Credential
	if c, ok, err := a.creds.FindCredentialForURL(ctx, href); err == nil && ok {
		cred = &c
	}
	final, err := a.resolver.Resolve(ctx, href, version, mediaType, cred)
	if err != nil {
		return fmt.Errorf("resolve %s: %s", href, fetch.UserMessage(err))
	}
	if final == "" {
		return fmt.Errorf("resolve %s: no download link found", href)
	}
	fmt.Println(final)
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newLogger builds the process logger. Output goes to stderr and, when
// log.file is set, also to a size-rotated file.
func newLogger(cfg config.LogConfig) (*slog.Logger, func()) {
	var out io.Writer = os.Stderr
	closeFn := func() {}
	if cfg.File != "" {
		rotation := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		out = io.MultiWriter(os.Stderr, rotation)
		closeFn = func() { rotation.Close() }
	}

	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	var h slog.Handler = slog.NewTextHandler(out, opts)
	if cfg.Format == "json" {
		h = slog.NewJSONHandler(out, opts)
	}
	return slog.New(h), closeFn
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/JeffSteinbok/ghcpCliSessionDashboard/internal/config"
	"github.com/JeffSteinbok/ghcpCliSessionDashboard/internal/history"
	"github.com/JeffSteinbok/ghcpCliSessionDashboard/internal/logging"
	"github.com/JeffSteinbok/ghcpCliSessionDashboard/internal/tracker"
	"github.com/JeffSteinbok/ghcpCliSessionDashboard/internal/web"
	"github.com/JeffSteinbok/ghcpCliSessionDashboard/internal/window"
)

// parseWebFlags applies web flags over cfg. Flags default to the config
// file's values so they only override what is given.
func parseWebFlags(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("web", flag.ContinueOnError)
	listenAddr := fs.String("listen", cfg.Web.Listen, "Listen address for the web server")
	readOnly := fs.Bool("read-only", cfg.Web.ReadOnly, "Disable kill actions")
	token := fs.String("token", cfg.Web.Token, "Bearer token required for API and stream access")
	watchEvents := fs.Bool("watch-events", cfg.Tracker.WatchEvents, "Refresh as soon as an event log changes")

	fs.Usage = func() {
		fmt.Println("Usage: copilot-deck web [options]")
		fmt.Println()
		fmt.Println("Start the web dashboard for live and past Copilot CLI sessions.")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
		fmt.Println()
		fmt.Println("Examples:")
		fmt.Println("  copilot-deck web")
		fmt.Println("  copilot-deck web --listen 0.0.0.0:5111 --token s3cret")
		fmt.Println("  copilot-deck web --read-only")
	}

	if err := fs.Parse(normalizeArgs(fs, args)); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	cfg.Web.Listen = *listenAddr
	cfg.Web.ReadOnly = *readOnly
	cfg.Web.Token = *token
	cfg.Tracker.WatchEvents = *watchEvents
	return nil
}

func handleWeb(args []string) {
	cfg := loadConfig()
	if err := parseWebFlags(cfg, args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	initLogging(cfg)
	defer logging.Shutdown()
	watchDumpSignal(cfg.Paths.LogDir)
	log := logging.ForComponent(logging.CompCLI)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runWeb(ctx, cfg); err != nil {
		log.Error("web_exited", slog.String("error", err.Error()))
		fatalf("%v", err)
	}
}

// runWeb serves the dashboard until ctx is cancelled. The cache, the log
// watcher and the HTTP server share one errgroup; the first to fail stops
// the others.
func runWeb(ctx context.Context, cfg *config.Config) error {
	var (
		server  *web.Server
		watcher *tracker.LogWatcher
	)
	d := newDeck(cfg, func(snap *tracker.Snapshot) {
		if watcher != nil {
			watcher.Sync(snap)
		}
		server.NotifySnapshot(snap)
	})

	if cfg.Tracker.WatchEvents {
		w, err := tracker.NewLogWatcher(cfg.Paths.StateDir, cfg.Tracker.PollInterval.Duration/8, d.cache.Wake)
		if err != nil {
			logging.ForComponent(logging.CompCLI).Warn("log_watcher_disabled", slog.String("error", err.Error()))
		} else {
			watcher = w
		}
	}

	store := history.NewLazyStore(cfg.Paths.HistoryDB)
	defer store.Close()

	server = web.NewServer(web.Config{
		ListenAddr: cfg.Web.Listen,
		ReadOnly:   cfg.Web.ReadOnly,
		Token:      cfg.Web.Token,
		Tracker:    d.cache,
		History:    store,
		Actions:    window.New(window.Options{}),
		Logs:       d.reader,
		Grouping: history.GroupRules{
			SkipDirs: cfg.Grouping.SkipDirs,
			Mappings: cfg.Grouping.Mappings,
		},
	})

	fmt.Printf("Dashboard: http://%s/\n", server.Addr())
	if cfg.Web.ReadOnly {
		fmt.Println("Read-only mode: kill is disabled")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ignoreCanceled(d.cache.Run(gctx))
	})
	if watcher != nil {
		g.Go(func() error {
			return ignoreCanceled(watcher.Run(gctx))
		})
	}
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"

	"gigclock/internal/capture"
	"gigclock/internal/config"
	"gigclock/internal/countdown"
	appLog "gigclock/internal/log"
	"gigclock/internal/provider"
	"gigclock/internal/tracker"
	"gigclock/internal/web"
)

const version = "0.1.0"

// flagConfig holds CLI flag values; non-empty ones override the config file
// and environment.
type flagConfig struct {
	configPath string
	listen     string
	username   string
	once       bool
	snapshot   string
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	conf.ApplyEnv()
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.username != "" {
		conf.Username = flags.username
	}
	conf.Normalize()
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	appLog.Info("gigclock starting", "version", version)
	appLog.Info("effective config",
		"listen", conf.Listen,
		"username", conf.Username,
		"timezone", conf.Timezone,
		"refresh", conf.RefreshCron,
		"cache_ttl_seconds", conf.CacheTTLSeconds,
		"source", conf.Source.Kind,
		"once", flags.once,
		"snapshot", flags.snapshot,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, conf, flags); err != nil {
		appLog.Error("gigclock failed", err)
		os.Exit(1)
	}
	appLog.Info("gigclock exiting")
}

func run(ctx context.Context, conf *config.Config, flags flagConfig) error {
	clk := clock.New()

	src, err := provider.New(conf, clk)
	if err != nil {
		return err
	}
	loc, err := time.LoadLocation(conf.Timezone)
	if err != nil {
		return fmt.Errorf("timezone %q: %w", conf.Timezone, err)
	}

	var srv *http.Server
	tr := tracker.New(src, tracker.Options{
		DefaultUsername: conf.Username,
		CacheTTL:        time.Duration(conf.CacheTTLSeconds) * time.Second,
		RefreshSpec:     conf.RefreshCron,
		Location:        loc,
		Clock:           clk,
		AfterRefresh: func(ctx context.Context, _ tracker.Selection) {
			if conf.SnapshotPath == "" || srv == nil {
				return
			}
			if err := takeSnapshot(ctx, conf, conf.SnapshotPath); err != nil {
				appLog.Error("scheduled snapshot failed", err, "path", conf.SnapshotPath)
			}
		},
	})

	if flags.once {
		sel, err := tr.Refresh(ctx, conf.Username)
		if err != nil {
			return err
		}
		printSelection(os.Stdout, sel, clk.Now())
		return nil
	}

	ws := web.NewServer(conf, tr, clk)
	srv = &http.Server{
		Addr:              conf.Listen,
		Handler:           ws.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv.RegisterOnShutdown(ws.Close)

	ln, err := net.Listen("tcp", conf.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", conf.Listen, err)
	}
	serveErr := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()
	defer shutdown(srv)

	if flags.snapshot != "" {
		if _, err := tr.Refresh(ctx, conf.Username); err != nil {
			return err
		}
		if err := takeSnapshot(ctx, conf, flags.snapshot); err != nil {
			return err
		}
		appLog.Info("snapshot written", "path", flags.snapshot)
		return nil
	}

	if conf.Username != "" {
		// Warm the cache so the first page load does not wait on the source.
		go func() {
			if _, err := tr.Refresh(ctx, conf.Username); err != nil {
				appLog.Error("initial refresh failed", err, "username", conf.Username)
			}
		}()
		if err := tr.Start(ctx); err != nil {
			return err
		}
		defer tr.Stop()
	} else {
		appLog.Info("no default username configured; scheduled refresh disabled")
	}

	select {
	case <-ctx.Done():
		appLog.Info("shutdown requested")
		return nil
	case err := <-serveErr:
		return err
	}
}

func shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		appLog.Error("HTTP server shutdown failed", err)
	}
}

// takeSnapshot captures the countdown page served by this process.
func takeSnapshot(ctx context.Context, conf *config.Config, path string) error {
	return capture.Snapshot(ctx, capture.Options{
		URL:        pageURL(conf),
		OutputPath: path,
	})
}

// pageURL is the local URL of the countdown page. Basic auth credentials
// are embedded so the headless browser can load it.
func pageURL(conf *config.Config) string {
	host := conf.Listen
	if h, port, err := net.SplitHostPort(conf.Listen); err == nil && (h == "" || h == "0.0.0.0" || h == "::") {
		host = net.JoinHostPort("127.0.0.1", port)
	}
	u := url.URL{Scheme: "http", Host: host, Path: "/"}
	if conf.Username != "" {
		u.RawQuery = url.Values{"username": {conf.Username}}.Encode()
	}
	if ba := conf.BasicAuth; ba != nil && ba.Username != "" && ba.Password != "" {
		u.User = url.UserPassword(ba.Username, ba.Password)
	}
	return u.String()
}

// printSelection writes the -once report.
func printSelection(w io.Writer, sel tracker.Selection, now time.Time) {
	if !sel.Found {
		fmt.Fprintf(w, "%s: no upcoming events\n", sel.Username)
		return
	}
	ev := sel.Next
	fmt.Fprintf(w, "%s: %s\n", sel.Username, ev.Title)
	if where := ev.Place.Location(); ev.Place.Venue != "" || where != "" {
		fmt.Fprintf(w, "  at %s (%s)\n", ev.Place.Venue, where)
	}
	fmt.Fprintf(w, "  starts %s\n", ev.Start.Format(time.RFC1123))
	fmt.Fprintf(w, "  in %s\n", countdown.Compute(ev.Start, now))
	if len(sel.Malformed) > 0 {
		fmt.Fprintf(w, "  (%d events skipped: unreadable start)\n", len(sel.Malformed))
	}
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/gigclock/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.username, "username", "", "Default username (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Fetch once, print the next event and countdown, and exit")
	flag.StringVar(&cfg.snapshot, "snapshot", "", "Write a PNG of the countdown page to this path and exit")

	flag.Parse()

	return cfg
}

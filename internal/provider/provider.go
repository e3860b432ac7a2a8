// Package provider defines where event batches come from and builds the
// configured source.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"

	"gigclock/internal/config"
	"gigclock/internal/fetch"
	"gigclock/internal/ics"
	"gigclock/internal/lastfm"
	"gigclock/internal/model"
)

// ErrUnknownSource is returned by New for an unsupported source kind.
var ErrUnknownSource = errors.New("provider: unknown source kind")

// Provider supplies the event batch for a username. Implementations return
// an empty batch, not an error, for an empty username.
type Provider interface {
	FetchEvents(ctx context.Context, username string) ([]model.EventRecord, error)
}

// Func adapts a plain function to Provider.
type Func func(ctx context.Context, username string) ([]model.EventRecord, error)

func (f Func) FetchEvents(ctx context.Context, username string) ([]model.EventRecord, error) {
	return f(ctx, username)
}

// New builds the provider selected by cfg.Source.Kind.
func New(cfg *config.Config, clk clock.Clock) (Provider, error) {
	if clk == nil {
		clk = clock.New()
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("provider: timezone %q: %w", cfg.Timezone, err)
	}
	timeout := time.Duration(cfg.Source.TimeoutSeconds) * time.Second

	switch cfg.Source.Kind {
	case config.SourceFeed:
		if cfg.Source.URL == "" {
			return nil, errors.New("provider: feed source needs a url")
		}
		f := fetch.New(cfg.CacheDir, fetch.WithHTTPClient(newHTTPClient(timeout)), fetch.WithAccept("application/json"))
		return NewFeed(f, cfg.Source.URL, loc), nil

	case config.SourceICS:
		if cfg.Source.URL == "" {
			return nil, errors.New("provider: ics source needs a url")
		}
		f := fetch.New(cfg.CacheDir, fetch.WithHTTPClient(newHTTPClient(timeout)), fetch.WithAccept("text/calendar"))
		horizon := time.Duration(cfg.HorizonDays) * 24 * time.Hour
		return ics.NewProvider(f, cfg.Source.URL, horizon, loc, clk), nil

	case config.SourceFixture:
		return LoadFixture(cfg.Source.Path, clk)

	case config.SourceLastFM:
		return lastfm.NewScraper(lastfm.Options{
			BaseURL:   cfg.Source.URL,
			MaxEvents: cfg.Source.MaxEvents,
			Timeout:   timeout,
			Location:  loc,
		}), nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, cfg.Source.Kind)
	}
}

// newHTTPClient returns the client used by HTTP-backed sources. A
// non-positive timeout falls back to fetch.DefaultTimeout.
func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = fetch.DefaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

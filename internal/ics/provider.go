package ics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"

	"gigclock/internal/fetch"
	appLog "gigclock/internal/log"
	"gigclock/internal/model"
)

// backfill keeps events that started recently in the batch, which lets
// callers see an event that is happening right now.
const backfill = 24 * time.Hour

// Provider serves events from an iCalendar subscription whose URL contains
// a "{username}" placeholder.
type Provider struct {
	fetcher     *fetch.Fetcher
	urlTemplate string
	horizon     time.Duration
	loc         *time.Location
	clock       clock.Clock
}

// NewProvider builds an ics Provider. horizon bounds recurring-event
// expansion; loc is the display zone for the resulting records.
func NewProvider(f *fetch.Fetcher, urlTemplate string, horizon time.Duration, loc *time.Location, clk clock.Clock) *Provider {
	if loc == nil {
		loc = time.Local
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Provider{
		fetcher:     f,
		urlTemplate: urlTemplate,
		horizon:     horizon,
		loc:         loc,
		clock:       clk,
	}
}

// FetchEvents downloads and expands the user's calendar. An empty username
// yields no events without touching the network.
func (p *Provider) FetchEvents(ctx context.Context, username string) ([]model.EventRecord, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, nil
	}

	u := fetch.ExpandURL(p.urlTemplate, username)
	res, err := p.fetcher.Get(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("ics: fetch %s: %w", fetch.RedactURL(u), err)
	}

	parsed, err := ParseICS(username, res.Body)
	if err != nil {
		return nil, fmt.Errorf("ics: parse: %w", err)
	}

	now := p.clock.Now()
	expanded, err := ExpandOccurrences(parsed, ExpandConfig{
		DisplayLocation: p.loc,
		RangeStart:      now.Add(-backfill),
		RangeEnd:        now.Add(p.horizon),
	})
	if err != nil {
		return nil, fmt.Errorf("ics: expand: %w", err)
	}

	appLog.Info("ics events loaded",
		"username", username,
		"vevents", len(parsed),
		"records", len(expanded.Records),
		"from_cache", res.FromCache,
	)
	return expanded.Records, nil
}

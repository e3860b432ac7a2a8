// Package lastfm reads a user's upcoming events from the Last.fm website
// with a headless Chromium driven by chromedp.
package lastfm

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"

	appLog "gigclock/internal/log"
	"gigclock/internal/model"
)

const (
	DefaultBaseURL   = "https://www.last.fm"
	DefaultMaxEvents = 2
	DefaultTimeout   = 60 * time.Second
)

// Options configures a Scraper.
type Options struct {
	// BaseURL is the site root, e.g. "https://www.last.fm".
	BaseURL string

	// MaxEvents stops the scrape after this many events were read.
	// Every event costs a page load, so keep this small.
	MaxEvents int

	// Timeout bounds one whole FetchEvents call.
	Timeout time.Duration

	// Location interprets the zoneless dates shown on event pages.
	Location *time.Location

	// AllocatorOptions are passed to chromedp when launching the browser.
	// Empty means chromedp.DefaultExecAllocatorOptions.
	AllocatorOptions []chromedp.ExecAllocatorOption
}

var errNoLink = errors.New("row has no event link")

// pageReader extracts the pieces the scraper needs from rendered pages.
type pageReader interface {
	ListRows(ctx context.Context, pageURL string) ([]listRow, error)
	EventDetail(ctx context.Context, pageURL string) (eventDetail, error)
	ArtistImage(ctx context.Context, pageURL string) (string, error)
}

// Scraper implements the provider contract over the Last.fm events page.
type Scraper struct {
	opts Options

	// newReader opens a browser session; the returned func releases it.
	newReader func(ctx context.Context) (pageReader, func(), error)

	imgMu        sync.Mutex
	artistImages map[string]string
}

// NewScraper returns a Scraper. No browser is started until FetchEvents.
func NewScraper(opts Options) *Scraper {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.MaxEvents <= 0 {
		opts.MaxEvents = DefaultMaxEvents
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}

	s := &Scraper{
		opts:         opts,
		artistImages: make(map[string]string),
	}
	s.newReader = s.openChrome
	return s
}

// FetchEvents opens the user's events page and reads rows until MaxEvents
// of them carry a start time, visiting each event page for it. Rows whose
// start cannot be parsed are kept with a zero Start and do not count toward
// MaxEvents. Rows that cannot be read at all are logged and skipped.
func (s *Scraper) FetchEvents(ctx context.Context, username string) ([]model.EventRecord, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	reader, release, err := s.newReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("lastfm: start browser: %w", err)
	}
	defer release()

	listURL := s.opts.BaseURL + "/user/" + url.PathEscape(username) + "/events"
	rows, err := reader.ListRows(ctx, listURL)
	if err != nil {
		return nil, fmt.Errorf("lastfm: read %s: %w", listURL, err)
	}
	appLog.Debug("lastfm rows found", "username", username, "rows", len(rows))

	records := make([]model.EventRecord, 0, s.opts.MaxEvents)
	dated := 0
	for i, row := range rows {
		if dated >= s.opts.MaxEvents {
			break
		}
		if err := ctx.Err(); err != nil {
			return records, fmt.Errorf("lastfm: %w", err)
		}

		rec, err := s.readRow(ctx, reader, row)
		if err != nil {
			appLog.Error("lastfm: skipping row", err, "row", i, "title", row.Title)
			continue
		}
		if rec.HasStart() {
			dated++
		}
		records = append(records, rec)
	}

	appLog.Info("lastfm events loaded", "username", username, "count", len(records))
	return records, nil
}

func (s *Scraper) readRow(ctx context.Context, reader pageReader, row listRow) (model.EventRecord, error) {
	href := row.EventHref
	if href == "" {
		href = row.Link
	}
	if href == "" {
		return model.EventRecord{}, errNoLink
	}

	detail, err := reader.EventDetail(ctx, absolute(s.opts.BaseURL, href))
	if err != nil {
		return model.EventRecord{}, fmt.Errorf("event page: %w", err)
	}

	rec, err := buildRecord(s.opts.BaseURL, row, detail, s.opts.Location)
	switch {
	case errors.Is(err, model.ErrMalformedStart):
		appLog.Error("lastfm: keeping row without start", err, "title", rec.Title)
	case err != nil:
		return model.EventRecord{}, err
	}
	rec.ID = uuid.NewString()

	artist := rec.Performers.Headliner
	if artist == "" || artist == model.UnknownArtist {
		if len(rec.Performers.Lineup) > 0 {
			artist = rec.Performers.Lineup[0]
		}
	}
	if artist != "" && artist != model.UnknownArtist {
		rec.ArtistImageURL = s.artistImage(ctx, reader, artist)
	}
	return rec, nil
}

// artistImage returns the header image of an artist's page. Answers, empty
// ones included, are kept for the life of the Scraper; failures are retried.
func (s *Scraper) artistImage(ctx context.Context, reader pageReader, artist string) string {
	s.imgMu.Lock()
	img, ok := s.artistImages[artist]
	s.imgMu.Unlock()
	if ok {
		return img
	}

	pageURL := s.opts.BaseURL + "/music/" + url.PathEscape(artist)
	img, err := reader.ArtistImage(ctx, pageURL)
	if err != nil {
		appLog.Error("lastfm: artist image lookup failed", err, "artist", artist)
		return ""
	}

	s.imgMu.Lock()
	s.artistImages[artist] = img
	s.imgMu.Unlock()
	return img
}

func (s *Scraper) openChrome(ctx context.Context) (pageReader, func(), error) {
	allocOpts := s.opts.AllocatorOptions
	if len(allocOpts) == 0 {
		allocOpts = chromedp.DefaultExecAllocatorOptions[:]
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocOpts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	// Start the browser now so a missing binary surfaces here.
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		allocCancel()
		return nil, nil, err
	}
	return &chromeReader{tab: tabCtx}, func() {
		tabCancel()
		allocCancel()
	}, nil
}

// chromeReader runs every navigation in a single tab.
type chromeReader struct {
	tab context.Context
}

const listRowsJS = `Array.from(document.querySelectorAll('tr.events-list-item')).map(row => {
  const q = s => row.querySelector(s);
  const text = s => (q(s) ? q(s).innerText : '').trim();
  const attr = (s, a) => (q(s) ? (q(s).getAttribute(a) || '') : '');
  return {
    datetime: attr('time', 'datetime'),
    link: attr('a.events-list-cover-link', 'href'),
    title: text('.events-list-item-event--title'),
    eventHref: attr('.events-list-item-event--title a', 'href'),
    lineup: text('.events-list-item-event--lineup'),
    location: text('.events-list-item-venue'),
  };
})`

const eventDetailJS = `(() => {
  const el = document.querySelector('p.qa-event-date span') || document.querySelector('p.qa-event-date strong');
  const img = document.querySelector('.event-expanded-image');
  return {
    text: el ? el.innerText.trim() : '',
    content: el ? (el.getAttribute('content') || '') : '',
    image: img ? (img.getAttribute('src') || '') : '',
  };
})()`

const artistImageJS = `(() => {
  const el = document.querySelector('.header-new-background-image');
  return el ? (el.getAttribute('content') || '') : '';
})()`

func (c *chromeReader) run(ctx context.Context, tasks chromedp.Tasks) error {
	// The tab context carries the browser; ctx only bounds this call.
	runCtx, cancel := context.WithCancel(c.tab)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, tasks)
}

func (c *chromeReader) ListRows(ctx context.Context, pageURL string) ([]listRow, error) {
	var rows []listRow
	err := c.run(ctx, chromedp.Tasks{
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Evaluate(listRowsJS, &rows),
	})
	return rows, err
}

func (c *chromeReader) EventDetail(ctx context.Context, pageURL string) (eventDetail, error) {
	var d eventDetail
	err := c.run(ctx, chromedp.Tasks{
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("p.qa-event-date", chromedp.ByQuery),
		chromedp.Evaluate(eventDetailJS, &d),
	})
	return d, err
}

func (c *chromeReader) ArtistImage(ctx context.Context, pageURL string) (string, error) {
	var img string
	err := c.run(ctx, chromedp.Tasks{
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Evaluate(artistImageJS, &img),
	})
	return img, err
}

package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gigclock/internal/config"
	"gigclock/internal/fetch"
	"gigclock/internal/ics"
	"gigclock/internal/lastfm"
	"gigclock/internal/model"
	"gigclock/internal/selector"
)

const feedBody = `{
  "events": [
    {
      "id": "a1",
      "title": "Radiohead - In Rainbows Tour",
      "artists": {"headliner": "Radiohead", "artist": ["Radiohead", " Support Act "]},
      "venue": {"name": "Columbiahalle", "location": {"city": "Berlin", "country": "Germany"}},
      "startDate": "2025-06-14T19:30:00",
      "description": "Radiohead at Columbiahalle",
      "image": "https://img.example.com/event.jpg",
      "artistImage": [{"#text": "https://img.example.com/s.jpg", "size": "small"}, {"#text": "https://img.example.com/xl.jpg", "size": "extralarge"}, {"#text": "", "size": "mega"}],
      "url": "https://www.last.fm/event/a1"
    },
    {
      "title": "Epoch Fest",
      "venue": {"name": "Field", "location": {"city": "Leeds", "country": "United Kingdom"}},
      "startDate": 1749150000
    },
    {
      "id": "broken",
      "title": "TBA",
      "startDate": "sometime soon"
    }
  ]
}`

func TestFeed_FetchEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/events/rj", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(feedBody))
	}))
	t.Cleanup(srv.Close)

	berlin := time.FixedZone("CEST", 2*60*60)
	feed := NewFeed(fetch.New("", fetch.WithHTTPClient(srv.Client())), srv.URL+"/api/events/{username}", berlin)

	records, err := feed.FetchEvents(context.Background(), "rj")
	require.NoError(t, err)
	require.Len(t, records, 3)

	first := records[0]
	assert.Equal(t, "a1", first.ID)
	assert.Equal(t, "Radiohead", first.Performers.Headliner)
	assert.Equal(t, []string{"Radiohead", "Support Act"}, first.Performers.Lineup)
	assert.Equal(t, model.Place{Venue: "Columbiahalle", City: "Berlin", Country: "Germany"}, first.Place)
	assert.True(t, first.Start.Equal(time.Date(2025, 6, 14, 17, 30, 0, 0, time.UTC)))
	assert.Equal(t, "https://img.example.com/event.jpg", first.ImageURL)
	assert.Equal(t, "https://img.example.com/xl.jpg", first.ArtistImageURL)

	second := records[1]
	assert.NotEmpty(t, second.ID)
	assert.Equal(t, "Epoch Fest", second.Performers.Headliner)
	assert.Equal(t, []string{"Epoch Fest"}, second.Performers.Lineup)
	assert.True(t, second.Start.Equal(time.Unix(1749150000, 0)))

	assert.Equal(t, "broken", records[2].ID)
	assert.False(t, records[2].HasStart())

	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	next, ok := selector.SelectNext(records, now)
	require.True(t, ok)
	assert.Equal(t, second.ID, next.ID)
}

func TestFeed_UpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"boom","events":[]}`))
	}))
	t.Cleanup(srv.Close)

	feed := NewFeed(fetch.New("", fetch.WithHTTPClient(srv.Client())), srv.URL+"/{username}", nil)
	_, err := feed.FetchEvents(context.Background(), "rj")
	assert.Error(t, err)
}

func TestFeed_ErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":"scrape failed","events":[]}`))
	}))
	t.Cleanup(srv.Close)

	feed := NewFeed(fetch.New("", fetch.WithHTTPClient(srv.Client())), srv.URL+"/{username}", nil)
	_, err := feed.FetchEvents(context.Background(), "rj")
	assert.ErrorContains(t, err, "scrape failed")
}

func TestFeed_EmptyUsername(t *testing.T) {
	feed := NewFeed(fetch.New(""), "http://unused.invalid/{username}", nil)
	records, err := feed.FetchEvents(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, records)
}

const fixtureDocBody = `
users:
  rj:
    - id: plus14d
      title: Radiohead - In Rainbows Tour
      venue: Columbiahalle
      city: Berlin
      country: Germany
      offset: 336h
    - id: plus21d
      title: Festival
      lineup: [Band A, Band B]
      offset: 504h
    - id: minus1h
      title: Yesterday's Gig
      offset: -1h
    - id: fixed
      title: Fixed Date
      start: "2020-01-01T20:00:00Z"
    - id: bad
      title: Bad Offset
      offset: soon
  "*":
    - title: Demo Gig
      offset: 48h
`

func TestFixture(t *testing.T) {
	mc := clock.NewMock()
	mc.Set(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	fx, err := ParseFixture([]byte(fixtureDocBody), mc)
	require.NoError(t, err)

	records, err := fx.FetchEvents(context.Background(), "rj")
	require.NoError(t, err)
	require.Len(t, records, 5)

	assert.Equal(t, "Radiohead", records[0].Performers.Headliner)
	assert.Equal(t, "Berlin", records[0].Place.City)
	assert.Equal(t, []string{"Band A", "Band B"}, records[1].Performers.Lineup)
	assert.False(t, records[4].HasStart())

	next, ok := selector.SelectNext(records, mc.Now())
	require.True(t, ok)
	assert.Equal(t, "plus14d", next.ID)
	assert.True(t, next.Start.Equal(mc.Now().Add(14*24*time.Hour)))
}

func TestFixture_FallbackUser(t *testing.T) {
	mc := clock.NewMock()
	fx, err := ParseFixture([]byte(fixtureDocBody), mc)
	require.NoError(t, err)

	records, err := fx.FetchEvents(context.Background(), "stranger")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "stranger-1", records[0].ID)
	assert.Equal(t, "Demo Gig", records[0].Performers.Headliner)
}

func TestFunc(t *testing.T) {
	p := Func(func(ctx context.Context, username string) ([]model.EventRecord, error) {
		return nil, errors.New("offline")
	})
	_, err := p.FetchEvents(context.Background(), "rj")
	assert.EqualError(t, err, "offline")
}

func TestNew(t *testing.T) {
	fixturePath := filepath.Join(t.TempDir(), "events.yaml")
	require.NoError(t, os.WriteFile(fixturePath, []byte(fixtureDocBody), 0o600))

	base := func(kind, url string) *config.Config {
		cfg := config.DefaultConfig()
		cfg.CacheDir = t.TempDir()
		cfg.Source = config.SourceConfig{Kind: kind, URL: url, Path: fixturePath}
		cfg.Normalize()
		return cfg
	}

	p, err := New(base(config.SourceFeed, "https://api.example.com/{username}"), nil)
	require.NoError(t, err)
	assert.IsType(t, &Feed{}, p)

	p, err = New(base(config.SourceICS, "https://cal.example.com/{username}.ics"), nil)
	require.NoError(t, err)
	assert.IsType(t, &ics.Provider{}, p)

	p, err = New(base(config.SourceFixture, ""), nil)
	require.NoError(t, err)
	assert.IsType(t, &Fixture{}, p)

	p, err = New(base(config.SourceLastFM, ""), nil)
	require.NoError(t, err)
	assert.IsType(t, &lastfm.Scraper{}, p)

	_, err = New(base(config.SourceFeed, ""), nil)
	assert.Error(t, err)

	_, err = New(base("myspace", ""), nil)
	assert.ErrorIs(t, err, ErrUnknownSource)

	bad := base(config.SourceFixture, "")
	bad.Timezone = "Mars/Olympus_Mons"
	_, err = New(bad, nil)
	assert.Error(t, err)
}

func TestNewHTTPClient(t *testing.T) {
	assert.Equal(t, 5*time.Second, newHTTPClient(5*time.Second).Timeout)
	assert.Equal(t, fetch.DefaultTimeout, newHTTPClient(0).Timeout)
}

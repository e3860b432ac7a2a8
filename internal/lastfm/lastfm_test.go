package lastfm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gigclock/internal/model"
)

func TestParseDetailStart(t *testing.T) {
	berlin := time.FixedZone("CEST", 2*60*60)

	tests := []struct {
		name   string
		detail eventDetail
		want   time.Time
		err    bool
	}{
		{
			name:   "time from text",
			detail: eventDetail{Text: "Saturday 14 June 2025 at 7:30pm", Content: "2025-06-14T00:00:00"},
			want:   time.Date(2025, 6, 14, 19, 30, 0, 0, berlin),
		},
		{
			name:   "hour only",
			detail: eventDetail{Text: "Friday 20 June 2025 at 8pm", Content: "2025-06-20"},
			want:   time.Date(2025, 6, 20, 20, 0, 0, 0, berlin),
		},
		{
			name:   "multi day listing",
			detail: eventDetail{Text: "Friday 20 June 2025 at 11:00am – Sunday 22 June 2025", Content: "2025-06-20T00:00:00"},
			want:   time.Date(2025, 6, 20, 11, 0, 0, 0, berlin),
		},
		{
			name:   "date only",
			detail: eventDetail{Text: "Saturday 14 June 2025", Content: "2025-06-14"},
			want:   time.Date(2025, 6, 14, 0, 0, 0, 0, berlin),
		},
		{
			name:   "no content",
			detail: eventDetail{Text: "Saturday 14 June 2025 at 7:30pm"},
			err:    true,
		},
		{
			name:   "garbage time",
			detail: eventDetail{Text: "Saturday 14 June 2025 at doors", Content: "2025-06-14"},
			err:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseDetailStart(tt.detail, berlin)
			if tt.err {
				assert.ErrorIs(t, err, model.ErrMalformedStart)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s want %s", got, tt.want)
		})
	}
}

func TestSplitVenue(t *testing.T) {
	assert.Equal(t, model.Place{Venue: "Berlin", City: "Berlin", Country: "Germany"}, splitVenue("Berlin, Germany"))
	assert.Equal(t, model.Place{Venue: "Columbiahalle", City: "Berlin", Country: "Germany"}, splitVenue("Columbiahalle\nBerlin, Germany"))
	assert.Equal(t, model.Place{Venue: "Leeds", City: "Leeds", Country: "Unknown Country"}, splitVenue("Leeds"))
	assert.Equal(t, model.Place{Venue: "Unknown City", City: "Unknown City", Country: "Unknown Country"}, splitVenue("  "))
}

func TestAbsolute(t *testing.T) {
	assert.Equal(t, "https://www.last.fm/event/1", absolute("https://www.last.fm", "/event/1"))
	assert.Equal(t, "https://www.last.fm/event/1", absolute("https://www.last.fm/", "event/1"))
	assert.Equal(t, "https://other.example.com/x", absolute("https://www.last.fm", "https://other.example.com/x"))
	assert.Equal(t, "", absolute("https://www.last.fm", ""))
}

// fakeReader serves canned pages keyed by URL.
type fakeReader struct {
	rows         []listRow
	details      map[string]eventDetail
	images       map[string]string
	listURL      string
	imageLookups int
}

func (f *fakeReader) ListRows(_ context.Context, pageURL string) ([]listRow, error) {
	f.listURL = pageURL
	return f.rows, nil
}

func (f *fakeReader) EventDetail(_ context.Context, pageURL string) (eventDetail, error) {
	d, ok := f.details[pageURL]
	if !ok {
		return eventDetail{}, errors.New("not found")
	}
	return d, nil
}

func (f *fakeReader) ArtistImage(_ context.Context, pageURL string) (string, error) {
	f.imageLookups++
	return f.images[pageURL], nil
}

func newTestScraper(reader *fakeReader, maxEvents int) *Scraper {
	s := NewScraper(Options{BaseURL: "https://lfm.test/", MaxEvents: maxEvents, Location: time.UTC})
	s.newReader = func(context.Context) (pageReader, func(), error) {
		return reader, func() {}, nil
	}
	return s
}

func TestScraper_FetchEvents(t *testing.T) {
	reader := &fakeReader{
		rows: []listRow{
			{Title: "Missing Page", EventHref: "/event/404"},
			{Title: "Radiohead - In Rainbows Tour", EventHref: "/event/1", Link: "/event/1+Radiohead", Lineup: "Radiohead, Support Act", Location: "Columbiahalle\nBerlin, Germany"},
			{Title: "Radiohead", EventHref: "/event/2", Location: "Paris, France"},
			{Title: "Never Read", EventHref: "/event/3"},
		},
		details: map[string]eventDetail{
			"https://lfm.test/event/1": {Text: "Saturday 14 June 2025 at 7:30pm", Content: "2025-06-14T00:00:00", ImageURL: "https://img.test/e1.jpg"},
			"https://lfm.test/event/2": {Text: "Sunday 15 June 2025 at 8pm", Content: "2025-06-15"},
			"https://lfm.test/event/3": {Text: "Monday 16 June 2025 at 8pm", Content: "2025-06-16"},
		},
		images: map[string]string{
			"https://lfm.test/music/Radiohead": "https://img.test/radiohead.jpg",
		},
	}
	s := newTestScraper(reader, 2)

	records, err := s.FetchEvents(context.Background(), "some user")
	require.NoError(t, err)
	assert.Equal(t, "https://lfm.test/user/some%20user/events", reader.listURL)
	require.Len(t, records, 2)

	first := records[0]
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, "Radiohead", first.Performers.Headliner)
	assert.Equal(t, []string{"Radiohead", "Support Act"}, first.Performers.Lineup)
	assert.Equal(t, model.Place{Venue: "Columbiahalle", City: "Berlin", Country: "Germany"}, first.Place)
	assert.True(t, first.Start.Equal(time.Date(2025, 6, 14, 19, 30, 0, 0, time.UTC)))
	assert.Equal(t, "Radiohead at Columbiahalle", first.Description)
	assert.Equal(t, "https://lfm.test/event/1+Radiohead", first.URL)
	assert.Equal(t, "https://img.test/e1.jpg", first.ImageURL)
	assert.Equal(t, "https://img.test/radiohead.jpg", first.ArtistImageURL)

	second := records[1]
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, []string{"Radiohead"}, second.Performers.Lineup)
	assert.Equal(t, "https://img.test/radiohead.jpg", second.ArtistImageURL)

	assert.Equal(t, 1, reader.imageLookups, "artist image is looked up once")
}

func TestScraper_KeepsRowWithMalformedStart(t *testing.T) {
	reader := &fakeReader{
		rows: []listRow{
			{Title: "Radiohead", EventHref: "/event/1", Location: "Paris, France"},
			{Title: "Mystery Gig", EventHref: "/event/2", Location: "Somewhere"},
			{Title: "Radiohead", EventHref: "/event/3", Location: "Lyon, France"},
			{Title: "Never Read", EventHref: "/event/4"},
		},
		details: map[string]eventDetail{
			"https://lfm.test/event/1": {Text: "Sunday 15 June 2025 at 8pm", Content: "2025-06-15"},
			"https://lfm.test/event/2": {Text: "sometime soon", Content: "not a date"},
			"https://lfm.test/event/3": {Text: "Monday 16 June 2025 at 8pm", Content: "2025-06-16"},
			"https://lfm.test/event/4": {Text: "Tuesday 17 June 2025 at 8pm", Content: "2025-06-17"},
		},
	}
	s := newTestScraper(reader, 2)

	records, err := s.FetchEvents(context.Background(), "rj")
	require.NoError(t, err)
	require.Len(t, records, 3)

	broken := records[1]
	assert.Equal(t, "Mystery Gig", broken.Title)
	assert.NotEmpty(t, broken.ID)
	assert.False(t, broken.HasStart())

	// The undated row does not use up the cap.
	assert.True(t, records[0].HasStart())
	assert.True(t, records[2].HasStart())
}

func TestBuildRecord_MalformedStart(t *testing.T) {
	rec, err := buildRecord("https://lfm.test", listRow{Title: "Mystery Gig"}, eventDetail{Content: "??"}, time.UTC)
	assert.ErrorIs(t, err, model.ErrMalformedStart)
	assert.Equal(t, "Mystery Gig", rec.Title)
	assert.True(t, rec.Start.IsZero())

	_, err = buildRecord("https://lfm.test", listRow{}, eventDetail{}, time.UTC)
	assert.ErrorIs(t, err, errNoTitle)
}

func TestScraper_EmptyUsername(t *testing.T) {
	s := newTestScraper(&fakeReader{}, 2)
	records, err := s.FetchEvents(context.Background(), "  ")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestScraper_BrowserFailure(t *testing.T) {
	s := NewScraper(Options{})
	s.newReader = func(context.Context) (pageReader, func(), error) {
		return nil, nil, errors.New("chrome not found")
	}
	_, err := s.FetchEvents(context.Background(), "rj")
	assert.ErrorContains(t, err, "chrome not found")
}

func TestNewScraper_Defaults(t *testing.T) {
	s := NewScraper(Options{})
	assert.Equal(t, DefaultBaseURL, s.opts.BaseURL)
	assert.Equal(t, DefaultMaxEvents, s.opts.MaxEvents)
	assert.Equal(t, DefaultTimeout, s.opts.Timeout)
	assert.Equal(t, time.UTC, s.opts.Location)
}

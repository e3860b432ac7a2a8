package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"gigclock/internal/fetch"
	appLog "gigclock/internal/log"
	"gigclock/internal/model"
)

// Feed reads a JSON events API that answers {"events":[...]} for a URL
// template containing "{username}".
type Feed struct {
	fetcher     *fetch.Fetcher
	urlTemplate string
	loc         *time.Location
}

// NewFeed builds a Feed. loc interprets start dates that carry no zone.
func NewFeed(f *fetch.Fetcher, urlTemplate string, loc *time.Location) *Feed {
	if loc == nil {
		loc = time.UTC
	}
	return &Feed{fetcher: f, urlTemplate: urlTemplate, loc: loc}
}

type feedResponse struct {
	Events []feedEvent `json:"events"`
	Error  string      `json:"error,omitempty"`
}

type feedEvent struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Artists struct {
		Headliner string   `json:"headliner"`
		Artist    []string `json:"artist"`
	} `json:"artists"`
	Venue struct {
		Name     string `json:"name"`
		Location struct {
			City    string `json:"city"`
			Country string `json:"country"`
		} `json:"location"`
	} `json:"venue"`
	StartDate   json.RawMessage `json:"startDate"`
	Description string          `json:"description"`
	Image       json.RawMessage `json:"image"`
	ArtistImage json.RawMessage `json:"artistImage"`
	URL         string          `json:"url"`
}

// imageVariant is one entry of an image array, largest last.
type imageVariant struct {
	URL  string `json:"#text"`
	Size string `json:"size"`
}

// FetchEvents requests the feed for username and normalizes every entry.
// Entries with an unparseable start are kept with a zero Start.
func (f *Feed) FetchEvents(ctx context.Context, username string) ([]model.EventRecord, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, nil
	}

	u := fetch.ExpandURL(f.urlTemplate, username)
	res, err := f.fetcher.Get(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("feed: fetch %s: %w", fetch.RedactURL(u), err)
	}

	var body feedResponse
	if err := json.Unmarshal(res.Body, &body); err != nil {
		return nil, fmt.Errorf("feed: decode: %w", err)
	}
	if body.Error != "" && len(body.Events) == 0 {
		return nil, fmt.Errorf("feed: upstream error: %s", body.Error)
	}

	records := make([]model.EventRecord, 0, len(body.Events))
	for _, fe := range body.Events {
		records = append(records, f.normalize(fe))
	}

	appLog.Info("feed events loaded", "username", username, "count", len(records), "from_cache", res.FromCache)
	return records, nil
}

func (f *Feed) normalize(fe feedEvent) model.EventRecord {
	id := strings.TrimSpace(fe.ID)
	if id == "" {
		id = uuid.NewString()
	}

	headliner := strings.TrimSpace(fe.Artists.Headliner)
	if headliner == "" {
		headliner = model.HeadlinerFromTitle(fe.Title)
	}
	lineup := make([]string, 0, len(fe.Artists.Artist))
	for _, a := range fe.Artists.Artist {
		if a = strings.TrimSpace(a); a != "" {
			lineup = append(lineup, a)
		}
	}
	if len(lineup) == 0 {
		lineup = append(lineup, headliner)
	}

	rec := model.EventRecord{
		ID:    id,
		Title: fe.Title,
		Performers: model.Performers{
			Headliner: headliner,
			Lineup:    lineup,
		},
		Place: model.Place{
			Venue:   fe.Venue.Name,
			City:    fe.Venue.Location.City,
			Country: fe.Venue.Location.Country,
		},
		Description:    fe.Description,
		ImageURL:       imageURL(fe.Image),
		ArtistImageURL: imageURL(fe.ArtistImage),
		URL:            fe.URL,
	}

	start, err := model.ParseInstant(rawScalar(fe.StartDate), f.loc)
	if err != nil {
		appLog.Error("feed: malformed start date", err, "id", id)
	} else {
		rec.Start = start
	}
	return rec
}

// rawScalar unwraps a JSON string or number into its text form.
func rawScalar(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// imageURL accepts either a plain URL string or an array of size variants
// and returns the largest non-empty one.
func imageURL(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var variants []imageVariant
	if err := json.Unmarshal(raw, &variants); err == nil {
		for i := len(variants) - 1; i >= 0; i-- {
			if variants[i].URL != "" {
				return variants[i].URL
			}
		}
	}
	return ""
}

package lastfm

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gigclock/internal/model"
)

// listRow is what the events list exposes per table row.
type listRow struct {
	Datetime  string `json:"datetime"`
	Link      string `json:"link"`
	Title     string `json:"title"`
	EventHref string `json:"eventHref"`
	Lineup    string `json:"lineup"`
	Location  string `json:"location"`
}

// eventDetail is read from an event's own page.
type eventDetail struct {
	// Text is the visible date line, e.g. "Saturday 14 June 2025 at 7:30pm".
	Text string `json:"text"`
	// Content is the machine-readable date attribute. Its time part is
	// always midnight, so the time comes from Text when present.
	Content  string `json:"content"`
	ImageURL string `json:"image"`
}

var clockLayouts = []string{"3:04PM", "3PM", "15:04"}

// parseDetailStart combines the date from Content with the time of day
// after " at " in Text. Without a time the Content value is used as is.
func parseDetailStart(d eventDetail, loc *time.Location) (time.Time, error) {
	content := strings.TrimSpace(d.Content)
	if content == "" {
		return time.Time{}, fmt.Errorf("%w: event page has no date", model.ErrMalformedStart)
	}

	_, clockPart, hasTime := strings.Cut(d.Text, " at ")
	if !hasTime || len(content) < len("2006-01-02") {
		return model.ParseInstant(content, loc)
	}

	day, err := time.ParseInLocation("2006-01-02", content[:10], loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", model.ErrMalformedStart, content)
	}

	clockPart = strings.ToUpper(strings.TrimSpace(clockPart))
	// Multi-day listings continue after the time ("7:30pm – 16 June").
	if i := strings.IndexAny(clockPart, " –-"); i > 0 {
		clockPart = clockPart[:i]
	}
	for _, layout := range clockLayouts {
		if tod, err := time.Parse(layout, clockPart); err == nil {
			return time.Date(day.Year(), day.Month(), day.Day(), tod.Hour(), tod.Minute(), 0, 0, loc), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: time %q", model.ErrMalformedStart, clockPart)
}

// splitVenue reads the list's venue cell, which is either "City, Country"
// or a venue name line followed by "City, Country".
func splitVenue(text string) model.Place {
	text = strings.TrimSpace(text)
	first, rest, multiline := strings.Cut(text, "\n")
	if !multiline {
		p := model.ParsePlace(text)
		if p.Country == "" && p.City != "" {
			p.Country = "Unknown Country"
		}
		if p.City == "" {
			p = model.Place{Venue: "Unknown City", City: "Unknown City", Country: "Unknown Country"}
		}
		return p
	}
	p := model.ParsePlace(rest)
	p.Venue = strings.TrimSpace(first)
	return p
}

// absolute turns a site-relative href into a full URL.
func absolute(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(href, "/")
}

var errNoTitle = errors.New("row has no title")

// buildRecord maps a list row plus its detail page onto an EventRecord.
// ID and artist image are filled in by the caller. An unreadable start
// still yields the record, with a zero Start, next to an error wrapping
// model.ErrMalformedStart.
func buildRecord(base string, row listRow, detail eventDetail, loc *time.Location) (model.EventRecord, error) {
	title := strings.TrimSpace(row.Title)
	if title == "" {
		return model.EventRecord{}, errNoTitle
	}

	start, startErr := parseDetailStart(detail, loc)

	headliner := model.HeadlinerFromTitle(title)
	place := splitVenue(row.Location)

	return model.EventRecord{
		Title: title,
		Performers: model.Performers{
			Headliner: headliner,
			Lineup:    model.SplitLineup(row.Lineup, headliner),
		},
		Place:       place,
		Start:       start,
		Description: headliner + " at " + place.Venue,
		ImageURL:    detail.ImageURL,
		URL:         absolute(base, row.Link),
	}, startErr
}

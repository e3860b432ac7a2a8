package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// UnknownArtist is the headliner placeholder used when a provider cannot
// determine who is playing.
const UnknownArtist = "Unknown Artist"

// ErrMalformedStart is returned by ParseInstant when a provider supplies a
// start value that cannot be turned into an absolute instant.
var ErrMalformedStart = errors.New("malformed start instant")

// Performers lists who is on the bill. Lineup is ordered as the provider
// lists it; Headliner may be empty or UnknownArtist.
type Performers struct {
	Headliner string   `yaml:"headliner"`
	Lineup    []string `yaml:"lineup"`
}

// Place is a venue name plus its city/country pair.
type Place struct {
	Venue   string `yaml:"venue"`
	City    string `yaml:"city"`
	Country string `yaml:"country"`
}

// Location renders "City, Country", skipping empty parts.
func (p Place) Location() string {
	parts := make([]string, 0, 2)
	if p.City != "" {
		parts = append(parts, p.City)
	}
	if p.Country != "" {
		parts = append(parts, p.Country)
	}
	return strings.Join(parts, ", ")
}

// EventRecord is one scheduled occurrence as normalized at the provider
// boundary. Start is the sole ordering key; a zero Start marks a record
// whose upstream start value could not be parsed.
type EventRecord struct {
	ID          string
	Title       string
	Performers  Performers
	Place       Place
	Start       time.Time
	Description string

	// ImageURL is event artwork, ArtistImageURL the headliner's picture.
	// Either may be empty.
	ImageURL       string
	ArtistImageURL string

	// URL is the canonical page for the event. Outbound navigation only.
	URL string
}

// HasStart reports whether the provider managed to parse a start instant.
func (e EventRecord) HasStart() bool {
	return !e.Start.IsZero()
}

// MediaRef picks the best available artwork, preferring the artist image.
func (e EventRecord) MediaRef() string {
	if e.ArtistImageURL != "" {
		return e.ArtistImageURL
	}
	return e.ImageURL
}

// Layouts accepted by ParseInstant for string values, tried in order.
// Zoned layouts come first; the rest are interpreted in the caller's
// location.
var (
	zonedLayouts = []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04Z07:00",
	}
	localLayouts = []string{
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04:05",
		"2006-01-02T15:04",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
		"2006-01-02",
	}
)

// epochMillisThreshold separates epoch seconds from epoch milliseconds.
// 1e11 seconds is in the year 5138, so anything above is milliseconds.
const epochMillisThreshold = 100_000_000_000

// ParseInstant converts the loose start shapes seen across providers into
// an absolute instant: RFC3339 strings, zoneless ISO-8601 strings and dates
// (interpreted in loc, UTC when nil), and numeric Unix epochs in seconds or
// milliseconds.
func ParseInstant(raw string, loc *time.Location) (time.Time, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return time.Time{}, fmt.Errorf("%w: empty value", ErrMalformedStart)
	}
	if loc == nil {
		loc = time.UTC
	}

	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		if n <= 0 {
			return time.Time{}, fmt.Errorf("%w: non-positive epoch %d", ErrMalformedStart, n)
		}
		if n >= epochMillisThreshold {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}

	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, v, loc); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("%w: %q", ErrMalformedStart, raw)
}

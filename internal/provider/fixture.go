package provider

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"gopkg.in/yaml.v3"

	appLog "gigclock/internal/log"
	"gigclock/internal/model"
)

// fallbackUser is the fixture key served to usernames without their own list.
const fallbackUser = "*"

// Fixture serves events from a YAML document, for demos and offline work.
//
//	users:
//	  rj:
//	    - id: gig-1
//	      title: Radiohead - In Rainbows Tour
//	      headliner: Radiohead
//	      venue: Columbiahalle
//	      city: Berlin
//	      country: Germany
//	      start: 2025-06-14T19:30:00+02:00
//	  "*":
//	    - title: Demo Gig
//	      offset: 336h   # relative to the time of the fetch
type Fixture struct {
	users map[string][]fixtureEvent
	clock clock.Clock
}

type fixtureDoc struct {
	Users map[string][]fixtureEvent `yaml:"users"`
}

type fixtureEvent struct {
	ID               string `yaml:"id"`
	Title            string `yaml:"title"`
	model.Performers `yaml:",inline"`
	model.Place      `yaml:",inline"`
	Start            string `yaml:"start"`
	Offset           string `yaml:"offset"`
	Description      string `yaml:"description"`
	Image            string `yaml:"image"`
	ArtistImage      string `yaml:"artist_image"`
	URL              string `yaml:"url"`
}

// LoadFixture reads the fixture file at path.
func LoadFixture(path string, clk clock.Clock) (*Fixture, error) {
	if path == "" {
		return nil, errors.New("fixture: path is empty")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("fixture: %w", err)
	}
	return ParseFixture(data, clk)
}

// ParseFixture decodes a fixture document.
func ParseFixture(data []byte, clk clock.Clock) (*Fixture, error) {
	var doc fixtureDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("fixture: decode: %w", err)
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Fixture{users: doc.Users, clock: clk}, nil
}

// FetchEvents resolves relative offsets against the current clock, so a
// fixture never runs out of upcoming events.
func (f *Fixture) FetchEvents(_ context.Context, username string) ([]model.EventRecord, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, nil
	}
	list, ok := f.users[username]
	if !ok {
		list = f.users[fallbackUser]
	}

	now := f.clock.Now()
	records := make([]model.EventRecord, 0, len(list))
	for i, fe := range list {
		id := fe.ID
		if id == "" {
			id = fmt.Sprintf("%s-%d", username, i+1)
		}
		headliner := fe.Headliner
		if headliner == "" {
			headliner = model.HeadlinerFromTitle(fe.Title)
		}
		lineup := fe.Lineup
		if len(lineup) == 0 {
			lineup = []string{headliner}
		}

		rec := model.EventRecord{
			ID:    id,
			Title: fe.Title,
			Performers: model.Performers{
				Headliner: headliner,
				Lineup:    append([]string(nil), lineup...),
			},
			Place:          fe.Place,
			Description:    fe.Description,
			ImageURL:       fe.Image,
			ArtistImageURL: fe.ArtistImage,
			URL:            fe.URL,
		}

		start, err := fixtureStart(fe, now)
		if err != nil {
			appLog.Error("fixture: malformed start", err, "id", id)
		} else {
			rec.Start = start
		}
		records = append(records, rec)
	}
	return records, nil
}

func fixtureStart(fe fixtureEvent, now time.Time) (time.Time, error) {
	if fe.Offset != "" {
		d, err := time.ParseDuration(fe.Offset)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: offset %q", model.ErrMalformedStart, fe.Offset)
		}
		return now.Add(d), nil
	}
	return model.ParseInstant(fe.Start, time.UTC)
}

package web

import (
	"time"

	"gigclock/internal/countdown"
	"gigclock/internal/model"
)

// eventsResponse is the JSON response shape for /api/events. Events use
// the same shape the feed provider reads, so one instance can serve as the
// feed of another.
type eventsResponse struct {
	Events []eventDTO `json:"events"`
}

type eventDTO struct {
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
	// StartDate is RFC3339, or empty when the upstream start was malformed.
	StartDate   string `json:"startDate"`
	Description string `json:"description"`
	Image       string `json:"image"`
	ArtistImage string `json:"artistImage"`
	Media       string `json:"media"`
	URL         string `json:"url"`
}

func toEventDTO(ev model.EventRecord) eventDTO {
	var dto eventDTO
	dto.ID = ev.ID
	dto.Title = ev.Title
	dto.Artists.Headliner = ev.Performers.Headliner
	dto.Artists.Artist = ev.Performers.Lineup
	if dto.Artists.Artist == nil {
		dto.Artists.Artist = []string{}
	}
	dto.Venue.Name = ev.Place.Venue
	dto.Venue.Location.City = ev.Place.City
	dto.Venue.Location.Country = ev.Place.Country
	if ev.HasStart() {
		dto.StartDate = ev.Start.Format(time.RFC3339)
	}
	dto.Description = ev.Description
	dto.Image = ev.ImageURL
	dto.ArtistImage = ev.ArtistImageURL
	dto.Media = ev.MediaRef()
	dto.URL = ev.URL
	return dto
}

// tickDTO is the payload of a "tick" stream event. Unit fields are display
// strings: days unpadded, the rest two digits.
type tickDTO struct {
	Days    string    `json:"days"`
	Hours   string    `json:"hours"`
	Minutes string    `json:"minutes"`
	Seconds string    `json:"seconds"`
	Expired bool      `json:"expired"`
	Display string    `json:"display"`
	Target  time.Time `json:"target"`
}

func toTickDTO(t countdown.Tick) tickDTO {
	f := t.Remaining.Fields()
	return tickDTO{
		Days:    f.Days,
		Hours:   f.Hours,
		Minutes: f.Minutes,
		Seconds: f.Seconds,
		Expired: t.Remaining.Expired,
		Display: t.Remaining.String(),
		Target:  t.Target,
	}
}

// selectionDTO is the payload of a "selection" stream event.
type selectionDTO struct {
	Username string    `json:"username"`
	Found    bool      `json:"found"`
	Event    *eventDTO `json:"event"`
}

func toSelectionDTO(username string, found bool, ev model.EventRecord) selectionDTO {
	dto := selectionDTO{Username: username, Found: found}
	if found {
		e := toEventDTO(ev)
		dto.Event = &e
	}
	return dto
}

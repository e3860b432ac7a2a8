package ics

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"

	appLog "gigclock/internal/log"
	"gigclock/internal/model"
)

const (
	defaultMaxOccurrencesPerEvent = 500
)

// ExpandConfig controls how recurrence expansion is performed.
type ExpandConfig struct {
	// DisplayLocation is the timezone to which all occurrences will be converted.
	// If nil, time.Local is used.
	DisplayLocation *time.Location

	// RangeStart / RangeEnd define the inclusive time window for occurrences.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent is a safety cap to avoid infinite or extremely
	// large expansions. If zero, defaultMaxOccurrencesPerEvent is used.
	MaxOccurrencesPerEvent int
}

// ExpandResult wraps the expanded records and truncation info.
type ExpandResult struct {
	Records []model.EventRecord
	// TruncatedEvents records UIDs that hit the MaxOccurrencesPerEvent cap.
	TruncatedEvents []string
}

// ExpandOccurrences turns parsed VEVENTs into event records inside the
// configured window. It handles single events, RRULE recurrences, EXDATE
// exceptions and RECURRENCE-ID overrides, and drops cancelled events.
// Events whose DTSTART could not be parsed are kept as records with a zero
// Start so that selection reports them instead of losing them. Output
// follows input order; recurring occurrences are in ascending order.
func ExpandOccurrences(events []ParsedEvent, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.DisplayLocation == nil {
		cfg.DisplayLocation = time.Local
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	overridesByUID := make(map[string][]ParsedEvent)
	for _, ev := range events {
		if ev.IsOverride && ev.Recurrence != nil {
			overridesByUID[ev.UID] = append(overridesByUID[ev.UID], ev)
		}
	}

	records := make([]model.EventRecord, 0, len(events))
	for _, ev := range events {
		if ev.IsOverride && ev.Recurrence != nil {
			continue
		}
		if ev.StartMalformed {
			records = append(records, makeRecord(ev, time.Time{}, false, cfg.DisplayLocation))
			continue
		}

		occ, hitCap := expandEvent(ev, overridesByUID[ev.UID], cfg)
		records = append(records, occ...)

		if hitCap {
			result.TruncatedEvents = append(result.TruncatedEvents, ev.UID)
			appLog.Error("expand: truncated occurrences for UID due to cap",
				errors.New("max occurrences reached"),
				"uid", ev.UID,
				"cap", cfg.MaxOccurrencesPerEvent,
			)
		}
	}

	result.Records = records
	return result, nil
}

func expandEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]model.EventRecord, bool) {
	if ev.RawRRule == "" {
		return expandSingleEvent(ev, overrides, cfg), false
	}
	return expandRecurringEvent(ev, overrides, cfg)
}

func expandSingleEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) []model.EventRecord {
	start := ev.Start
	if o, ok := findOverrideForStart(overrides, start); ok {
		ev, start = o, o.Start
	}
	if ev.Cancelled || !inRange(start, cfg) {
		return nil
	}
	return []model.EventRecord{makeRecord(ev, start, false, cfg.DisplayLocation)}
}

func expandRecurringEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]model.EventRecord, bool) {
	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("expand: failed to parse RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return nil, false
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	rangeStart := cfg.RangeStart.In(ev.Start.Location())
	rangeEnd := cfg.RangeEnd.In(ev.Start.Location())
	occTimes := set.Between(rangeStart, rangeEnd, true)

	hitCap := false
	if len(occTimes) > cfg.MaxOccurrencesPerEvent {
		occTimes = occTimes[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	out := make([]model.EventRecord, 0, len(occTimes))
	for _, occStart := range occTimes {
		base, start := ev, occStart
		if o, ok := findOverrideForStart(overrides, occStart); ok {
			base, start = o, o.Start
		}
		if base.Cancelled {
			continue
		}
		out = append(out, makeRecord(base, start, true, cfg.DisplayLocation))
	}
	return out, hitCap
}

// findOverrideForStart finds an override whose RECURRENCE-ID equals start.
func findOverrideForStart(overrides []ParsedEvent, start time.Time) (ParsedEvent, bool) {
	for _, ov := range overrides {
		if ov.Recurrence != nil && ov.Recurrence.Equal(start) {
			return ov, true
		}
	}
	return ParsedEvent{}, false
}

func inRange(t time.Time, cfg ExpandConfig) bool {
	return !t.Before(cfg.RangeStart) && !t.After(cfg.RangeEnd)
}

// makeRecord maps a VEVENT onto an EventRecord. Recurring occurrences get
// the start appended to the UID so IDs stay unique within a batch.
func makeRecord(ev ParsedEvent, start time.Time, recurring bool, displayLoc *time.Location) model.EventRecord {
	headliner := model.HeadlinerFromTitle(ev.Summary)
	place := model.ParsePlace(ev.Location)

	rec := model.EventRecord{
		ID:    ev.UID,
		Title: ev.Summary,
		Performers: model.Performers{
			Headliner: headliner,
			Lineup:    []string{headliner},
		},
		Place:       place,
		Description: ev.Description,
		ImageURL:    ev.ImageURL,
		URL:         ev.URL,
	}
	if !start.IsZero() {
		rec.Start = start.In(displayLoc)
	}
	if recurring {
		rec.ID = ev.UID + "@" + rec.Start.UTC().Format("20060102T150405Z")
	}
	if rec.Description == "" && place.Venue != "" {
		rec.Description = headliner + " at " + place.Venue
	}
	return rec
}

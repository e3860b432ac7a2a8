// Package selector picks the next upcoming event out of an unordered batch.
//
// A record qualifies only when its start is strictly after the reference
// instant; an event starting exactly now has nothing left to count down to.
// Records whose start could not be parsed upstream (zero Start) never
// qualify and are reported as malformed instead.
package selector

import (
	"sort"
	"time"

	appLog "gigclock/internal/log"
	"gigclock/internal/model"
)

// SelectNext returns the record with the earliest start strictly after now.
// The second result is false when no record qualifies, including for an
// empty batch. Among records sharing the earliest start, the first one in
// input order wins. events is never modified.
func SelectNext(events []model.EventRecord, now time.Time) (model.EventRecord, bool) {
	var (
		best  model.EventRecord
		found bool
	)
	for _, ev := range events {
		if !ev.HasStart() {
			appLog.Debug("selector: skipping event with malformed start", "id", ev.ID)
			continue
		}
		if !ev.Start.After(now) {
			continue
		}
		// Strict Before keeps the first-encountered record on ties.
		if !found || ev.Start.Before(best.Start) {
			best = ev
			found = true
		}
	}
	return best, found
}

// Upcoming returns every future record ordered by start (ties keep input
// order) together with the IDs of records excluded for a malformed start.
// The first element, when present, is the one SelectNext returns.
func Upcoming(events []model.EventRecord, now time.Time) (future []model.EventRecord, malformed []string) {
	future = make([]model.EventRecord, 0, len(events))
	for _, ev := range events {
		if !ev.HasStart() {
			malformed = append(malformed, ev.ID)
			continue
		}
		if ev.Start.After(now) {
			future = append(future, ev)
		}
	}
	sort.SliceStable(future, func(i, j int) bool {
		return future[i].Start.Before(future[j].Start)
	})
	return future, malformed
}

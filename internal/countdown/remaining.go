// Package countdown turns a target instant into a live days/hours/minutes/
// seconds countdown.
package countdown

import (
	"fmt"
	"strconv"
	"time"
)

const (
	secondsPerMinute = 60
	secondsPerHour   = 60 * secondsPerMinute
	secondsPerDay    = 24 * secondsPerHour
)

// Remaining is the time left until a target, split into calendar-style
// units. When Expired is set the unit fields are all zero.
type Remaining struct {
	Days    int  `json:"days"`
	Hours   int  `json:"hours"`
	Minutes int  `json:"minutes"`
	Seconds int  `json:"seconds"`
	Expired bool `json:"expired"`
}

// Compute derives the remaining time from target as seen at now.
// A target at or before now is Expired. Sub-second remainders are dropped.
func Compute(target, now time.Time) Remaining {
	delta := target.Sub(now)
	if delta <= 0 {
		return Remaining{Expired: true}
	}
	return FromSeconds(int64(delta / time.Second))
}

// FromSeconds splits a whole number of seconds into days, hours, minutes
// and seconds. Non-positive input is Expired.
func FromSeconds(total int64) Remaining {
	if total <= 0 {
		return Remaining{Expired: true}
	}
	return Remaining{
		Days:    int(total / secondsPerDay),
		Hours:   int(total % secondsPerDay / secondsPerHour),
		Minutes: int(total % secondsPerHour / secondsPerMinute),
		Seconds: int(total % secondsPerMinute),
	}
}

// TotalSeconds reassembles the span. Expired is zero.
func (r Remaining) TotalSeconds() int64 {
	if r.Expired {
		return 0
	}
	return int64(r.Days)*secondsPerDay +
		int64(r.Hours)*secondsPerHour +
		int64(r.Minutes)*secondsPerMinute +
		int64(r.Seconds)
}

// Fields holds display strings for each unit: days unpadded, the rest
// zero-padded to two digits.
type Fields struct {
	Days    string `json:"days"`
	Hours   string `json:"hours"`
	Minutes string `json:"minutes"`
	Seconds string `json:"seconds"`
}

func (r Remaining) Fields() Fields {
	return Fields{
		Days:    strconv.Itoa(r.Days),
		Hours:   pad2(r.Hours),
		Minutes: pad2(r.Minutes),
		Seconds: pad2(r.Seconds),
	}
}

func (r Remaining) String() string {
	if r.Expired {
		return "expired"
	}
	f := r.Fields()
	return fmt.Sprintf("%sd %s:%s:%s", f.Days, f.Hours, f.Minutes, f.Seconds)
}

func pad2(n int) string {
	return fmt.Sprintf("%02d", n)
}

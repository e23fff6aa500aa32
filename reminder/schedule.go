package reminder

import (
	"time"

	"notepush/model"
)

// NextFire returns the first fire time of p strictly after now, in UTC. ok is
// false when p is not schedulable or the next fire would be at or after EndAt.
//
// Hourly policies fire at Anchor + k hours, k >= 1. Daily policies fire at the
// policy's time of day in loc; a wall time skipped by a DST change is
// normalized forward by time.Date.
func NextFire(p model.ReminderPolicy, now time.Time, loc *time.Location) (time.Time, bool) {
	if !p.Schedulable() {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.UTC
	}

	var at time.Time
	switch p.Cadence {
	case model.CadenceHourly:
		at = nextHour(p.Anchor, now)
	case model.CadenceDaily:
		base := now
		if p.Anchor.After(base) {
			base = p.Anchor
		}
		local := base.In(loc)
		at = time.Date(local.Year(), local.Month(), local.Day(), p.At.Hour(), p.At.Minute(), 0, 0, loc)
		if !at.After(base) {
			at = time.Date(local.Year(), local.Month(), local.Day()+1, p.At.Hour(), p.At.Minute(), 0, 0, loc)
		}
	default:
		return time.Time{}, false
	}

	if !p.EndAt.IsZero() && !at.Before(p.EndAt) {
		return time.Time{}, false
	}
	return at.UTC(), true
}

// nextHour returns anchor + k hours for the smallest k >= 1 after now. Whole
// hours are counted in seconds, so anchors centuries back do not overflow a
// time.Duration.
func nextHour(anchor, now time.Time) time.Time {
	if now.Before(anchor) {
		return anchor.Add(time.Hour)
	}
	k := (now.Unix() - anchor.Unix()) / 3600
	at := time.Unix(anchor.Unix()+k*3600, int64(anchor.Nanosecond()))
	for !at.After(now) {
		at = at.Add(time.Hour)
	}
	return at
}

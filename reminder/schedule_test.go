package reminder

import (
	"testing"
	"time"

	"notepush/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var midnight = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func hourlyPolicy(end time.Time) model.ReminderPolicy {
	return model.ReminderPolicy{
		NoteID:  "n1",
		Owner:   "u1",
		Cadence: model.CadenceHourly,
		Anchor:  midnight,
		EndAt:   end,
		Active:  true,
	}
}

func TestNextFireHourly(t *testing.T) {
	p := hourlyPolicy(midnight.Add(10 * time.Hour))

	cases := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"before anchor", midnight.Add(-3 * time.Hour), midnight.Add(time.Hour)},
		{"at anchor", midnight, midnight.Add(time.Hour)},
		{"between", midnight.Add(5 * time.Minute), midnight.Add(time.Hour)},
		{"exactly on a fire", midnight.Add(2 * time.Hour), midnight.Add(3 * time.Hour)},
		{"just after a fire", midnight.Add(2*time.Hour + time.Second), midnight.Add(3 * time.Hour)},
	}
	for _, c := range cases {
		got, ok := NextFire(p, c.now, time.UTC)
		require.Truef(t, ok, c.name)
		assert.Truef(t, c.want.Equal(got), "%s: want %v, got %v", c.name, c.want, got)
	}
}

func TestNextFireHourlyAnchorCenturiesBack(t *testing.T) {
	p := hourlyPolicy(midnight.AddDate(1, 0, 0))
	p.Anchor = time.Date(1700, 1, 1, 0, 20, 0, 0, time.UTC)

	now := midnight.Add(5 * time.Minute)
	got, ok := NextFire(p, now, time.UTC)
	require.True(t, ok)
	assert.True(t, got.After(now))
	assert.True(t, midnight.Add(20*time.Minute).Equal(got), "got %v", got)

	got, ok = NextFire(p, midnight.Add(20*time.Minute), time.UTC)
	require.True(t, ok)
	assert.True(t, midnight.Add(80*time.Minute).Equal(got), "got %v", got)
}

func TestNextFireRespectsEnd(t *testing.T) {
	p := hourlyPolicy(midnight.Add(2*time.Hour + 30*time.Minute))

	got, ok := NextFire(p, midnight.Add(time.Hour), time.UTC)
	require.True(t, ok)
	assert.True(t, midnight.Add(2*time.Hour).Equal(got))

	_, ok = NextFire(p, midnight.Add(2*time.Hour), time.UTC)
	assert.False(t, ok)

	// a fire exactly at end is not delivered
	p.EndAt = midnight.Add(2 * time.Hour)
	_, ok = NextFire(p, midnight.Add(time.Hour), time.UTC)
	assert.False(t, ok)
}

func TestNextFireInactive(t *testing.T) {
	p := hourlyPolicy(midnight.Add(10 * time.Hour))
	p.Active = false
	_, ok := NextFire(p, midnight, time.UTC)
	assert.False(t, ok)

	p.Active = true
	p.Cadence = model.CadenceNone
	_, ok = NextFire(p, midnight, time.UTC)
	assert.False(t, ok)
}

func TestNextFireDaily(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	p := model.ReminderPolicy{
		NoteID:   "n1",
		Owner:    "u1",
		Cadence:  model.CadenceDaily,
		At:       model.TimeOfDay(9 * 60),
		TimeZone: "Europe/Berlin",
		Anchor:   midnight,
		EndAt:    midnight.Add(30 * 24 * time.Hour),
		Active:   true,
	}

	// 07:00 in Berlin, the same day
	got, ok := NextFire(p, time.Date(2024, 1, 3, 6, 0, 0, 0, time.UTC), loc)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 1, 3, 8, 0, 0, 0, time.UTC), got)

	// exactly 09:00 in Berlin moves to the next day
	got, ok = NextFire(p, time.Date(2024, 1, 3, 8, 0, 0, 0, time.UTC), loc)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 1, 4, 8, 0, 0, 0, time.UTC), got)

	// an anchor in the future is the lower bound
	p.Anchor = time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	got, ok = NextFire(p, time.Date(2024, 1, 3, 6, 0, 0, 0, time.UTC), loc)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 1, 11, 8, 0, 0, 0, time.UTC), got)
}

func TestNextFireDailyKeepsWallClockOverDST(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	start := time.Date(2024, 3, 9, 15, 0, 0, 0, time.UTC) // 10:00 EST
	p := model.ReminderPolicy{
		NoteID:   "n1",
		Owner:    "u1",
		Cadence:  model.CadenceDaily,
		At:       model.TimeOfDay(9 * 60),
		TimeZone: "America/New_York",
		Anchor:   start,
		EndAt:    start.Add(10 * 24 * time.Hour),
		Active:   true,
	}

	got, ok := NextFire(p, start, loc)
	require.True(t, ok)
	// 09:00 EDT
	assert.Equal(t, time.Date(2024, 3, 10, 13, 0, 0, 0, time.UTC), got)
}

func TestNextFireDailySkippedWallClock(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	start := time.Date(2024, 3, 9, 15, 0, 0, 0, time.UTC)
	p := model.ReminderPolicy{
		NoteID:   "n1",
		Owner:    "u1",
		Cadence:  model.CadenceDaily,
		At:       model.TimeOfDay(2*60 + 30), // doesn't exist on 2024-03-10
		TimeZone: "America/New_York",
		Anchor:   start,
		EndAt:    start.Add(10 * 24 * time.Hour),
		Active:   true,
	}

	got, ok := NextFire(p, start, loc)
	require.True(t, ok)
	assert.True(t, got.After(start))
	assert.Equal(t, 10, got.In(loc).Day())

	next, ok := NextFire(p, got, loc)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 3, 11, 6, 30, 0, 0, time.UTC), next)
}

package model

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeOfDay(t *testing.T) {
	tod, err := ParseTimeOfDay("07:45")
	require.NoError(t, err)
	assert.Equal(t, 7, tod.Hour())
	assert.Equal(t, 45, tod.Minute())
	assert.Equal(t, "07:45", tod.String())

	for _, bad := range []string{"", "7", "24:00", "12:60", "aa:10", "10:bb", "1:2:3"} {
		_, err := ParseTimeOfDay(bad)
		assert.Truef(t, errors.Is(err, ErrInvalidPolicy), "input %q", bad)
	}
}

func TestParseCadence(t *testing.T) {
	for in, want := range map[string]Cadence{"": CadenceNone, "none": CadenceNone, "Hourly": CadenceHourly, " daily ": CadenceDaily} {
		got, err := ParseCadence(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseCadence("weekly")
	assert.True(t, errors.Is(err, ErrInvalidPolicy))
}

func TestSameScheduleIgnoresIDAndLocation(t *testing.T) {
	anchor := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p := ReminderPolicy{NoteID: "n1", Owner: "u1", Cadence: CadenceHourly, Anchor: anchor, EndAt: anchor.Add(3 * time.Hour), Active: true}
	q := p
	q.Anchor = anchor.In(time.FixedZone("X", 3600))
	q.UpdatedAt = anchor.Add(time.Minute)
	assert.True(t, p.SameSchedule(q))

	q.EndAt = q.EndAt.Add(time.Hour)
	assert.False(t, p.SameSchedule(q))
}

func TestStorageErrorIs(t *testing.T) {
	cause := errors.New("connection reset")
	err := errors.Wrap(NewStorageError("upsert policy", cause), "failed saving policy")
	assert.True(t, errors.Is(err, ErrStorage))
	assert.True(t, errors.Is(err, cause))
	assert.Nil(t, NewStorageError("noop", nil))
}

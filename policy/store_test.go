package policy

import (
	"context"
	"testing"
	"time"

	"notepush/model"
	"notepush/timezone"

	"github.com/jmhodges/clock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var anchor = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newStore(t *testing.T) (*Store, *MemoryBackend, clock.FakeClock) {
	t.Helper()
	clk := clock.NewFake()
	clk.Set(anchor)
	zones, err := timezone.NewCache("UTC")
	require.NoError(t, err)
	backend := NewMemoryBackend()
	return NewStore(backend, zones, clk, zap.NewNop().Sugar()), backend, clk
}

func hourly(note model.NoteID, end time.Time) Spec {
	return Spec{NoteID: note, Owner: "u1", Cadence: model.CadenceHourly, Anchor: anchor, EndAt: end}
}

func TestUpsertValidates(t *testing.T) {
	s, _, _ := newStore(t)
	ctx := context.Background()
	seven := model.TimeOfDay(7 * 60)
	tooLate := model.TimeOfDay(24 * 60)

	cases := map[string]Spec{
		"missing end":     {NoteID: "n", Owner: "u1", Cadence: model.CadenceHourly, Anchor: anchor},
		"end at anchor":   hourly("n", anchor),
		"end before":      hourly("n", anchor.Add(-time.Minute)),
		"missing note":    {Owner: "u1", Cadence: model.CadenceHourly, Anchor: anchor, EndAt: anchor.Add(time.Hour)},
		"missing owner":   {NoteID: "n", Cadence: model.CadenceHourly, Anchor: anchor, EndAt: anchor.Add(time.Hour)},
		"bad zone":        {NoteID: "n", Owner: "u1", Cadence: model.CadenceDaily, At: &seven, TimeZone: "Moon/Base", Anchor: anchor, EndAt: anchor.Add(time.Hour)},
		"bad time of day": {NoteID: "n", Owner: "u1", Cadence: model.CadenceDaily, At: &tooLate, Anchor: anchor, EndAt: anchor.Add(time.Hour)},
		"bad cadence":     {NoteID: "n", Owner: "u1", Cadence: model.Cadence(9), Anchor: anchor, EndAt: anchor.Add(time.Hour)},
	}
	for name, spec := range cases {
		_, err := s.Upsert(ctx, spec)
		assert.Truef(t, errors.Is(err, model.ErrInvalidPolicy), "%s: %v", name, err)
	}

	_, ok, err := s.Get(ctx, "n")
	require.NoError(t, err)
	assert.False(t, ok, "rejected policies must not be persisted")
}

func TestUpsertIsIdempotent(t *testing.T) {
	s, _, clk := newStore(t)
	ctx := context.Background()
	spec := hourly("n1", anchor.Add(150*time.Minute))

	p1, err := s.Upsert(ctx, spec)
	require.NoError(t, err)
	assert.True(t, p1.Active)

	clk.Add(time.Minute)
	p2, err := s.Upsert(ctx, spec)
	require.NoError(t, err)
	assert.Equal(t, p1.ID, p2.ID)
	assert.Equal(t, p1.UpdatedAt, p2.UpdatedAt)

	spec.EndAt = spec.EndAt.Add(time.Hour)
	p3, err := s.Upsert(ctx, spec)
	require.NoError(t, err)
	assert.NotEqual(t, p1.ID, p3.ID)
	got, _, _ := s.Get(ctx, "n1")
	assert.Equal(t, p3.EndAt, got.EndAt)
}

func TestUpsertKeepsAnchorWhenOmitted(t *testing.T) {
	s, _, clk := newStore(t)
	ctx := context.Background()

	p1, err := s.Upsert(ctx, Spec{NoteID: "n1", Owner: "u1", Cadence: model.CadenceHourly, EndAt: anchor.Add(5 * time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, anchor, p1.Anchor)

	clk.Add(30 * time.Minute)
	p2, err := s.Upsert(ctx, Spec{NoteID: "n1", Owner: "u1", Cadence: model.CadenceHourly, EndAt: anchor.Add(5 * time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, p1.ID, p2.ID)
	assert.Equal(t, anchor, p2.Anchor)
}

func TestUpsertDailyDefaults(t *testing.T) {
	s, _, _ := newStore(t)
	p, err := s.Upsert(context.Background(), Spec{NoteID: "n1", Owner: "u1", Cadence: model.CadenceDaily, Anchor: anchor, EndAt: anchor.Add(48 * time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, model.DefaultTimeOfDay, p.At)
	assert.Equal(t, "UTC", p.TimeZone)
}

func TestUpsertNoneIsStoredInactive(t *testing.T) {
	s, _, _ := newStore(t)
	ctx := context.Background()

	_, err := s.Upsert(ctx, hourly("n1", anchor.Add(time.Hour)))
	require.NoError(t, err)

	p, err := s.Upsert(ctx, Spec{NoteID: "n1", Owner: "u1", Cadence: model.CadenceNone})
	require.NoError(t, err)
	assert.False(t, p.Active)

	count := 0
	require.NoError(t, s.ForEachActive(ctx, func(model.ReminderPolicy) error { count++; return nil }))
	assert.Zero(t, count)
}

func TestUpsertRejectsForeignNote(t *testing.T) {
	s, _, _ := newStore(t)
	ctx := context.Background()

	_, err := s.Upsert(ctx, hourly("n1", anchor.Add(time.Hour)))
	require.NoError(t, err)

	spec := hourly("n1", anchor.Add(2*time.Hour))
	spec.Owner = "intruder"
	_, err = s.Upsert(ctx, spec)
	assert.True(t, errors.Is(err, model.ErrForbidden))
}

func TestDeactivateIsIdempotent(t *testing.T) {
	s, _, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Deactivate(ctx, "missing"))

	_, err := s.Upsert(ctx, hourly("n1", anchor.Add(time.Hour)))
	require.NoError(t, err)
	require.NoError(t, s.Deactivate(ctx, "n1"))
	require.NoError(t, s.Deactivate(ctx, "n1"))

	p, ok, err := s.Get(ctx, "n1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, p.Active)
}

func TestForEachActiveIsRestartable(t *testing.T) {
	s, _, _ := newStore(t)
	ctx := context.Background()

	for _, n := range []model.NoteID{"c", "a", "b"} {
		_, err := s.Upsert(ctx, hourly(n, anchor.Add(time.Hour)))
		require.NoError(t, err)
	}
	require.NoError(t, s.Deactivate(ctx, "b"))

	collect := func() []model.NoteID {
		var notes []model.NoteID
		require.NoError(t, s.ForEachActive(ctx, func(p model.ReminderPolicy) error {
			notes = append(notes, p.NoteID)
			return nil
		}))
		return notes
	}
	assert.Equal(t, []model.NoteID{"a", "c"}, collect())
	assert.Equal(t, []model.NoteID{"a", "c"}, collect())

	stop := errors.New("stop")
	calls := 0
	err := s.ForEachActive(ctx, func(model.ReminderPolicy) error { calls++; return stop })
	assert.Equal(t, stop, err)
	assert.Equal(t, 1, calls)
}

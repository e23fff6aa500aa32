package policy

import (
	"context"
	"strings"
	"time"

	"notepush/logger"
	"notepush/model"
	"notepush/timezone"

	"github.com/google/uuid"
	"github.com/jmhodges/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Backend persists policies. *db.Database and *MemoryBackend implement it.
type Backend interface {
	PutPolicy(ctx context.Context, p model.ReminderPolicy) error
	DeactivatePolicy(ctx context.Context, note model.NoteID, at time.Time) error
	GetPolicy(ctx context.Context, note model.NoteID) (model.ReminderPolicy, bool, error)
	ForEachActivePolicy(ctx context.Context, fn func(model.ReminderPolicy) error) error
}

// Spec is a request to set the reminder of a note.
type Spec struct {
	NoteID   model.NoteID
	Owner    model.UserID
	Cadence  model.Cadence
	At       *model.TimeOfDay // daily only, 09:00 if nil
	TimeZone string
	Anchor   time.Time // now if zero
	EndAt    time.Time
}

// Store owns reminder policies, one per note.
type Store struct {
	backend Backend
	zones   *timezone.Cache
	clk     clock.Clock
	logger  *zap.SugaredLogger
}

func NewStore(backend Backend, zones *timezone.Cache, clk clock.Clock, l *zap.SugaredLogger) *Store {
	if clk == nil {
		clk = clock.New()
	}
	return &Store{backend: backend, zones: zones, clk: clk, logger: logger.Named(l, "policy")}
}

// Build validates a Spec and fills in defaults. It doesn't touch storage.
func (s *Store) Build(spec Spec) (model.ReminderPolicy, error) {
	if spec.NoteID == "" || spec.Owner == "" {
		return model.ReminderPolicy{}, errors.Wrap(model.ErrInvalidPolicy, "note and owner are required")
	}

	p := model.ReminderPolicy{
		NoteID:   spec.NoteID,
		Owner:    spec.Owner,
		Cadence:  spec.Cadence,
		TimeZone: strings.TrimSpace(spec.TimeZone),
		Anchor:   spec.Anchor.UTC(),
		EndAt:    spec.EndAt.UTC(),
	}
	if spec.Anchor.IsZero() {
		p.Anchor = s.clk.Now().UTC().Truncate(time.Second)
	}

	if p.TimeZone == "" {
		p.TimeZone = s.zones.Fallback().String()
	} else if _, err := s.zones.Load(p.TimeZone); err != nil {
		return model.ReminderPolicy{}, errors.Wrapf(model.ErrInvalidPolicy, "unknown time zone %q", p.TimeZone)
	}

	switch p.Cadence {
	case model.CadenceNone:
		p.Active = false
		return p, nil
	case model.CadenceHourly:
	case model.CadenceDaily:
		p.At = model.DefaultTimeOfDay
		if spec.At != nil {
			p.At = *spec.At
		}
		if !p.At.Valid() {
			return model.ReminderPolicy{}, errors.Wrapf(model.ErrInvalidPolicy, "time of day %d is out of range", int(p.At))
		}
	default:
		return model.ReminderPolicy{}, errors.Wrapf(model.ErrInvalidPolicy, "unknown cadence %d", p.Cadence)
	}

	if p.EndAt.IsZero() {
		return model.ReminderPolicy{}, errors.Wrap(model.ErrInvalidPolicy, "end_at is required for repeating reminders")
	}
	if !p.EndAt.After(p.Anchor) {
		return model.ReminderPolicy{}, errors.Wrap(model.ErrInvalidPolicy, "end_at must be after the anchor")
	}

	p.Active = true
	return p, nil
}

// Upsert validates a Spec and replaces the note's policy. Repeating an upsert
// with the same arguments returns the existing id and writes nothing.
func (s *Store) Upsert(ctx context.Context, spec Spec) (model.ReminderPolicy, error) {
	p, err := s.Build(spec)
	if err != nil {
		return model.ReminderPolicy{}, err
	}

	cur, ok, err := s.backend.GetPolicy(ctx, p.NoteID)
	if err != nil {
		return model.ReminderPolicy{}, errors.Wrap(err, "failed fetching current policy")
	}
	if ok {
		if cur.Owner != p.Owner {
			return model.ReminderPolicy{}, errors.Wrap(model.ErrForbidden, "note belongs to another user")
		}
		if spec.Anchor.IsZero() {
			// an omitted anchor keeps the one set when the reminder was created
			p.Anchor = cur.Anchor
			if p.Cadence != model.CadenceNone && !p.EndAt.After(p.Anchor) {
				return model.ReminderPolicy{}, errors.Wrap(model.ErrInvalidPolicy, "end_at must be after the anchor")
			}
		}
		if cur.SameSchedule(p) {
			return cur, nil
		}
	}

	p.ID = uuid.New()
	p.UpdatedAt = s.clk.Now().UTC()
	if err := s.backend.PutPolicy(ctx, p); err != nil {
		return model.ReminderPolicy{}, errors.Wrap(err, "failed saving policy")
	}

	logger.ForNote(s.logger, p.NoteID).Debugw("reminder policy saved",
		"cadence", p.Cadence.String(), "at", p.At.String(), "tz", p.TimeZone, "end_at", p.EndAt)
	return p, nil
}

// Deactivate turns the note's reminders off. It's idempotent.
func (s *Store) Deactivate(ctx context.Context, note model.NoteID) error {
	if err := s.backend.DeactivatePolicy(ctx, note, s.clk.Now().UTC()); err != nil {
		return errors.Wrap(err, "failed deactivating policy")
	}
	return nil
}

func (s *Store) Get(ctx context.Context, note model.NoteID) (model.ReminderPolicy, bool, error) {
	p, ok, err := s.backend.GetPolicy(ctx, note)
	if err != nil {
		return p, ok, errors.Wrap(err, "failed fetching policy")
	}
	return p, ok, nil
}

// ForEachActive calls fn for every active schedulable policy. Each call reads
// the store anew.
func (s *Store) ForEachActive(ctx context.Context, fn func(model.ReminderPolicy) error) error {
	return s.backend.ForEachActivePolicy(ctx, fn)
}

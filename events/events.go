// Package events applies note store changes to reminder policies.
package events

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"notepush/logger"
	"notepush/model"
	"notepush/policy"
	"notepush/reminder"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	TypeNoteUpserted = "note.upserted"
	TypeNoteDeleted  = "note.deleted"
)

var ErrBadEvent = errors.New("bad note event")

// Event is a change in the note store.
type Event struct {
	Type      string    `json:"type"`
	NoteID    string    `json:"note_id"`
	Owner     string    `json:"owner"`
	CreatedAt time.Time `json:"created_at"`
	Notify    *Notify   `json:"notify,omitempty"`
}

// Notify is the notification settings of a note.
type Notify struct {
	Enabled  bool       `json:"enabled"`
	Type     string     `json:"type"`
	Time     string     `json:"time,omitempty"`
	EndAt    *time.Time `json:"end_at,omitempty"`
	TimeZone string     `json:"time_zone,omitempty"`
}

// Policies is the part of the policy store events change.
type Policies interface {
	Upsert(ctx context.Context, spec policy.Spec) (model.ReminderPolicy, error)
	Deactivate(ctx context.Context, note model.NoteID) error
}

// Scheduler is told about changed policies right away so it doesn't wait for
// the next reconciliation.
type Scheduler interface {
	Arm(ctx context.Context, p model.ReminderPolicy) reminder.State
	Disarm(note model.NoteID)
}

type Handler struct {
	policies  Policies
	scheduler Scheduler
	logger    *zap.SugaredLogger
}

func NewHandler(policies Policies, scheduler Scheduler, l *zap.SugaredLogger) *Handler {
	return &Handler{policies: policies, scheduler: scheduler, logger: logger.Named(l, "events")}
}

// Decode parses an event. Errors wrap ErrBadEvent.
func Decode(raw []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Event{}, errors.Wrapf(ErrBadEvent, "malformed json: %v", err)
	}
	ev.Type = strings.TrimSpace(ev.Type)
	ev.NoteID = strings.TrimSpace(ev.NoteID)
	ev.Owner = strings.TrimSpace(ev.Owner)
	if ev.NoteID == "" {
		return Event{}, errors.Wrap(ErrBadEvent, "note_id is required")
	}
	if ev.Type != TypeNoteUpserted && ev.Type != TypeNoteDeleted {
		return Event{}, errors.Wrapf(ErrBadEvent, "unknown event type %q", ev.Type)
	}
	if ev.Type == TypeNoteUpserted && ev.Owner == "" {
		return Event{}, errors.Wrap(ErrBadEvent, "owner is required")
	}
	return ev, nil
}

// Handle applies a raw event.
func (h *Handler) Handle(ctx context.Context, raw []byte) error {
	ev, err := Decode(raw)
	if err != nil {
		return err
	}
	return h.Apply(ctx, ev)
}

// Apply makes the note's policy follow the event. A note deleted or upserted
// without enabled notifications has its policy deactivated.
func (h *Handler) Apply(ctx context.Context, ev Event) error {
	note := model.NoteID(ev.NoteID)
	l := logger.ForNote(h.logger, note)

	if ev.Type == TypeNoteDeleted || ev.Notify == nil || !ev.Notify.Enabled {
		if err := h.policies.Deactivate(ctx, note); err != nil {
			return err
		}
		h.scheduler.Disarm(note)
		l.Debugw("reminders turned off", "event", ev.Type)
		return nil
	}

	spec, err := specOf(ev)
	if err != nil {
		return err
	}
	p, err := h.policies.Upsert(ctx, spec)
	if err != nil {
		return err
	}
	st := h.scheduler.Arm(ctx, p)
	l.Debugw("reminder policy applied", "cadence", p.Cadence.String(), "state", st.String())
	return nil
}

func specOf(ev Event) (policy.Spec, error) {
	cadence, err := model.ParseCadence(ev.Notify.Type)
	if err != nil {
		return policy.Spec{}, err
	}
	spec := policy.Spec{
		NoteID:   model.NoteID(ev.NoteID),
		Owner:    model.UserID(ev.Owner),
		Cadence:  cadence,
		TimeZone: ev.Notify.TimeZone,
		Anchor:   ev.CreatedAt,
	}
	if ev.Notify.Time != "" {
		at, err := model.ParseTimeOfDay(ev.Notify.Time)
		if err != nil {
			return policy.Spec{}, err
		}
		spec.At = &at
	}
	if ev.Notify.EndAt != nil {
		spec.EndAt = *ev.Notify.EndAt
	}
	return spec, nil
}

// Permanent tells whether retrying the event can't help.
func Permanent(err error) bool {
	return errors.Is(err, ErrBadEvent) ||
		errors.Is(err, model.ErrInvalidPolicy) ||
		errors.Is(err, model.ErrForbidden)
}

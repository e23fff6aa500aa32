package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type (
	UserID   string
	NoteID   string
	PolicyID = uuid.UUID
)

// TokenStatus tells whether a delivery token may receive notifications.
type TokenStatus uint8

const (
	TokenActive TokenStatus = iota
	TokenInvalid
)

func (s TokenStatus) String() string {
	if s == TokenActive {
		return "active"
	}
	return "invalid"
}

// RegisterResult is what Register did with a token.
type RegisterResult uint8

const (
	Registered RegisterResult = iota
	Replaced
)

func (r RegisterResult) String() string {
	if r == Replaced {
		return "replaced"
	}
	return "registered"
}

// DeliveryToken is a provider-issued handle of a single device.
type DeliveryToken struct {
	Token         string
	Owner         UserID
	Device        string
	Status        TokenStatus
	LastSeen      time.Time
	CreatedAt     time.Time
	InvalidatedAt time.Time // zero while active
}

type Cadence uint8

const (
	CadenceNone Cadence = iota
	CadenceHourly
	CadenceDaily
)

func (c Cadence) String() string {
	switch c {
	case CadenceHourly:
		return "hourly"
	case CadenceDaily:
		return "daily"
	default:
		return "none"
	}
}

// ParseCadence accepts the names produced by Cadence.String.
func ParseCadence(s string) (Cadence, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return CadenceNone, nil
	case "hourly":
		return CadenceHourly, nil
	case "daily":
		return CadenceDaily, nil
	}
	return CadenceNone, errors.Wrapf(ErrInvalidPolicy, "unknown cadence %q", s)
}

// TimeOfDay is a remind time as number of minutes (hour * 60 + minute).
type TimeOfDay int

const (
	minutesPerDay    = 24 * 60
	DefaultTimeOfDay = TimeOfDay(9 * 60) // 9:00
)

func NewTimeOfDay(hour, minute int) (TimeOfDay, error) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, errors.Wrapf(ErrInvalidPolicy, "time of day %02d:%02d is out of range", hour, minute)
	}
	return TimeOfDay(hour*60 + minute), nil
}

// ParseTimeOfDay parses HH:MM.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, errors.Wrapf(ErrInvalidPolicy, "expected time in the format HH:MM, got %q", s)
	}
	hh, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidPolicy, "bad hour in %q", s)
	}
	mm, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidPolicy, "bad minute in %q", s)
	}
	return NewTimeOfDay(hh, mm)
}

func (t TimeOfDay) Hour() int   { return int(t) / 60 }
func (t TimeOfDay) Minute() int { return int(t) % 60 }

func (t TimeOfDay) Valid() bool { return t >= 0 && t < minutesPerDay }

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

// ReminderPolicy is the notification schedule of a single note.
type ReminderPolicy struct {
	ID        PolicyID
	NoteID    NoteID
	Owner     UserID
	Cadence   Cadence
	At        TimeOfDay // daily cadence only
	TimeZone  string    // IANA zone of the owner
	Anchor    time.Time
	EndAt     time.Time
	Active    bool
	UpdatedAt time.Time
}

// SameSchedule reports whether two policies produce the same fire times. ID and
// UpdatedAt are ignored.
func (p ReminderPolicy) SameSchedule(o ReminderPolicy) bool {
	return p.NoteID == o.NoteID &&
		p.Owner == o.Owner &&
		p.Cadence == o.Cadence &&
		p.At == o.At &&
		p.TimeZone == o.TimeZone &&
		p.Anchor.Equal(o.Anchor) &&
		p.EndAt.Equal(o.EndAt) &&
		p.Active == o.Active
}

// Schedulable is true for an active policy with a repeating cadence.
func (p ReminderPolicy) Schedulable() bool {
	return p.Active && p.Cadence != CadenceNone
}

// ScheduledJob is a single fire of a policy. It is derived, never stored.
type ScheduledJob struct {
	NoteID  NoteID
	Owner   UserID
	FireAt  time.Time
	Attempt int
}

type DeliveryResult uint8

const (
	Sent DeliveryResult = iota
	TransientFailure
	PermanentFailure
	NoRecipient
)

func (r DeliveryResult) String() string {
	switch r {
	case Sent:
		return "sent"
	case TransientFailure:
		return "transient_failure"
	case PermanentFailure:
		return "permanent_failure"
	default:
		return "no_recipient"
	}
}

// DeliveryOutcome is the result of delivering one job to one token.
type DeliveryOutcome struct {
	Job               ScheduledJob
	Token             string // empty for NoRecipient
	Result            DeliveryResult
	ProviderMessageID string
	Attempts          int
	Err               string
	At                time.Time
}

// Notification is the rendered message sent through a delivery client.
type Notification struct {
	Title string
	Body  string
	Data  map[string]string
}

// Note is the part of a note the reminder body is built from.
type Note struct {
	ID      NoteID
	Owner   UserID
	Title   string
	Summary string
}

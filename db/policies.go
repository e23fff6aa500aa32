package db

import (
	"context"
	"time"

	"notepush/model"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pkg/errors"
)

const policyColumns = `policy_id, note_id, owner, cadence, remind_at, time_zone, anchor, end_at, active, updated_at`

// PutPolicy replaces the policy of the note in a single statement, readers see
// either the old or the new record.
func (d *Database) PutPolicy(ctx context.Context, p model.ReminderPolicy) error {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	_, err := d.Conn.Exec(ctx, `INSERT INTO reminder_policies(`+policyColumns+`)
VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (note_id) DO UPDATE SET
	policy_id=EXCLUDED.policy_id, owner=EXCLUDED.owner, cadence=EXCLUDED.cadence,
	remind_at=EXCLUDED.remind_at, time_zone=EXCLUDED.time_zone, anchor=EXCLUDED.anchor,
	end_at=EXCLUDED.end_at, active=EXCLUDED.active, updated_at=EXCLUDED.updated_at`,
		p.ID, string(p.NoteID), string(p.Owner), int16(p.Cadence), int32(p.At), p.TimeZone,
		p.Anchor, nullTime(p.EndAt), p.Active, p.UpdatedAt)
	if err != nil {
		return model.NewStorageError("put policy", errors.Wrap(err, "failed upserting policy"))
	}
	return nil
}

// DeactivatePolicy turns reminders of the note off. It's a no-op for unknown or
// inactive policies.
func (d *Database) DeactivatePolicy(ctx context.Context, note model.NoteID, at time.Time) error {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	_, err := d.Conn.Exec(ctx, `UPDATE reminder_policies SET active=FALSE, updated_at=$2
WHERE note_id=$1 AND active`, string(note), at)
	if err != nil {
		return model.NewStorageError("deactivate policy", errors.Wrap(err, "failed deactivating policy"))
	}
	return nil
}

func (d *Database) GetPolicy(ctx context.Context, note model.NoteID) (model.ReminderPolicy, bool, error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	p, err := scanPolicy(d.Conn.QueryRow(ctx, `SELECT `+policyColumns+`
FROM reminder_policies
WHERE note_id=$1`, string(note)))
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return model.ReminderPolicy{}, false, nil
	case err != nil:
		return model.ReminderPolicy{}, false, model.NewStorageError("get policy", errors.Wrap(err, "failed fetching policy"))
	}
	return p, true, nil
}

// ForEachActivePolicy streams active schedulable policies to fn. Iteration
// stops at the first error returned by fn.
func (d *Database) ForEachActivePolicy(ctx context.Context, fn func(model.ReminderPolicy) error) error {
	rows, err := d.Conn.Query(ctx, `SELECT `+policyColumns+`
FROM reminder_policies
WHERE active AND cadence<>$1
ORDER BY note_id ASC`, int16(model.CadenceNone))
	if err != nil {
		return model.NewStorageError("list policies", errors.Wrap(err, "failed querying policies"))
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return model.NewStorageError("list policies", errors.Wrap(err, "failed scanning policy"))
		}
		if err := fn(p); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return model.NewStorageError("list policies", err)
	}
	return nil
}

func scanPolicy(row pgx.Row) (model.ReminderPolicy, error) {
	var (
		p        model.ReminderPolicy
		id       uuid.UUID
		note     string
		owner    string
		cadence  int16
		remindAt int32
		endAt    pgtype.Timestamptz
	)
	if err := row.Scan(&id, &note, &owner, &cadence, &remindAt, &p.TimeZone, &p.Anchor, &endAt, &p.Active, &p.UpdatedAt); err != nil {
		return p, err
	}

	p.ID = id
	p.NoteID = model.NoteID(note)
	p.Owner = model.UserID(owner)
	p.Cadence = model.Cadence(cadence)
	p.At = model.TimeOfDay(remindAt)
	if endAt.Valid {
		p.EndAt = endAt.Time
	}
	return p, nil
}

func nullTime(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t, Valid: !t.IsZero()}
}

package db

import (
	"context"
	"time"

	"notepush/model"

	"github.com/pkg/errors"
)

// ClaimSlot records that the reminder of note due at fireAt is being sent. It
// returns false if the slot was claimed before.
func (d *Database) ClaimSlot(ctx context.Context, note model.NoteID, fireAt time.Time) (bool, error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	tag, err := d.Conn.Exec(ctx, `INSERT INTO reminder_slots(note_id, fire_at, claimed_at)
VALUES($1, $2, $3)
ON CONFLICT (note_id, fire_at) DO NOTHING`, string(note), fireAt.UTC(), d.clk.Now().UTC())
	if err != nil {
		return false, model.NewStorageError("claim slot", errors.Wrap(err, "failed claiming slot"))
	}
	return tag.RowsAffected() == 1, nil
}

// PruneSlots forgets slots due before the given time.
func (d *Database) PruneSlots(ctx context.Context, before time.Time) error {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	if _, err := d.Conn.Exec(ctx, `DELETE FROM reminder_slots WHERE fire_at<$1`, before.UTC()); err != nil {
		return model.NewStorageError("prune slots", errors.Wrap(err, "failed pruning slots"))
	}
	return nil
}

package db

import (
	"context"

	"notepush/model"

	"github.com/pkg/errors"
)

// RecordOutcomes appends delivery outcomes to the audit table.
func (d *Database) RecordOutcomes(ctx context.Context, outcomes []model.DeliveryOutcome) error {
	if len(outcomes) == 0 {
		return nil
	}

	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	tx, err := d.Conn.BeginTx(ctx, repeatableReadIsoLevel)
	if err != nil {
		return model.NewStorageError("record outcomes", errors.Wrap(err, "failed to begin transaction"))
	}
	defer tx.Rollback(ctx)

	for _, o := range outcomes {
		if _, err := tx.Exec(ctx, `INSERT INTO delivery_outcomes(note_id, owner, fire_at, token, result, provider_message_id, attempts, error, recorded_at)
VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			string(o.Job.NoteID), string(o.Job.Owner), o.Job.FireAt, o.Token, int16(o.Result),
			o.ProviderMessageID, int32(o.Attempts), o.Err, o.At); err != nil {
			return model.NewStorageError("record outcomes", errors.Wrap(err, "failed inserting outcome"))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return model.NewStorageError("record outcomes", errors.Wrap(err, "failed to commit"))
	}
	return nil
}

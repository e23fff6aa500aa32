package db

import (
	"context"

	"notepush/model"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

var ErrNoteNotFound = errors.New("note not found")

// Note reads title and summary of a note from the note store's table.
func (d *Database) Note(ctx context.Context, id model.NoteID) (model.Note, error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	n := model.Note{ID: id}
	var owner string
	err := d.Conn.QueryRow(ctx, `SELECT user_id::text, COALESCE(title, ''), COALESCE(summary, '')
FROM notes
WHERE id::text=$1`, string(id)).Scan(&owner, &n.Title, &n.Summary)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return n, ErrNoteNotFound
	case err != nil:
		return n, model.NewStorageError("get note", errors.Wrap(err, "failed fetching note"))
	}
	n.Owner = model.UserID(owner)
	return n, nil
}

package db

import (
	"context"
	"time"

	"notepush/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pkg/errors"
)

// UpsertToken inserts the token or reassigns it to t.Owner. Invalid tokens are
// reactivated. Other active tokens of the same owner and device are invalidated.
func (d *Database) UpsertToken(ctx context.Context, t model.DeliveryToken) (model.RegisterResult, error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	tx, err := d.Conn.BeginTx(ctx, repeatableReadIsoLevel)
	if err != nil {
		return model.Registered, model.NewStorageError("register token", errors.Wrap(err, "failed to begin transaction"))
	}
	defer tx.Rollback(ctx)

	var prevOwner string
	err = tx.QueryRow(ctx, `SELECT owner FROM delivery_tokens WHERE token=$1 FOR UPDATE`, t.Token).Scan(&prevOwner)

	result := model.Registered
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		if _, err := tx.Exec(ctx, `INSERT INTO delivery_tokens(token, owner, device, status, last_seen, created_at)
VALUES($1, $2, $3, $4, $5, $5)`, t.Token, string(t.Owner), t.Device, int16(model.TokenActive), t.LastSeen); err != nil {
			return result, model.NewStorageError("register token", errors.Wrap(err, "failed inserting token"))
		}

	case err != nil:
		return result, model.NewStorageError("register token", errors.Wrap(err, "failed fetching token owner"))

	default:
		if prevOwner != string(t.Owner) {
			result = model.Replaced
		}
		if _, err := tx.Exec(ctx, `UPDATE delivery_tokens
SET owner=$2, device=$3, status=$4, last_seen=$5, invalidated_at=NULL
WHERE token=$1`, t.Token, string(t.Owner), t.Device, int16(model.TokenActive), t.LastSeen); err != nil {
			return result, model.NewStorageError("register token", errors.Wrap(err, "failed updating token"))
		}
	}

	if t.Device != "" {
		if _, err := tx.Exec(ctx, `UPDATE delivery_tokens SET status=$4, invalidated_at=$5
WHERE owner=$1 AND device=$2 AND token<>$3 AND status=$6`,
			string(t.Owner), t.Device, t.Token, int16(model.TokenInvalid), t.LastSeen, int16(model.TokenActive)); err != nil {
			return result, model.NewStorageError("register token", errors.Wrap(err, "failed retiring stale device tokens"))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return result, model.NewStorageError("register token", errors.Wrap(err, "failed to commit"))
	}
	return result, nil
}

// InvalidateToken soft-deletes the token. Unknown tokens are ignored.
func (d *Database) InvalidateToken(ctx context.Context, token string, at time.Time) error {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	_, err := d.Conn.Exec(ctx, `UPDATE delivery_tokens SET status=$2, invalidated_at=$3
WHERE token=$1 AND status=$4`, token, int16(model.TokenInvalid), at, int16(model.TokenActive))
	return model.NewStorageError("invalidate token", err)
}

// ActiveTokens returns active tokens of the owner, oldest first.
func (d *Database) ActiveTokens(ctx context.Context, owner model.UserID) ([]model.DeliveryToken, error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	rows, err := d.Conn.Query(ctx, `SELECT token, device, last_seen, created_at
FROM delivery_tokens
WHERE owner=$1 AND status=$2
ORDER BY created_at ASC`, string(owner), int16(model.TokenActive))
	if err != nil {
		return nil, model.NewStorageError("list tokens", errors.Wrap(err, "failed querying tokens"))
	}
	defer rows.Close()

	tokens := []model.DeliveryToken{}
	for rows.Next() {
		t := model.DeliveryToken{Owner: owner, Status: model.TokenActive}
		if err := rows.Scan(&t.Token, &t.Device, &t.LastSeen, &t.CreatedAt); err != nil {
			return nil, model.NewStorageError("list tokens", errors.Wrap(err, "failed scanning token"))
		}
		tokens = append(tokens, t)
	}
	if err := rows.Err(); err != nil {
		return nil, model.NewStorageError("list tokens", err)
	}
	return tokens, nil
}

// LookupToken returns the token record regardless of its status.
func (d *Database) LookupToken(ctx context.Context, token string) (model.DeliveryToken, bool, error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	t := model.DeliveryToken{Token: token}
	var (
		owner         string
		status        int16
		invalidatedAt pgtype.Timestamptz
	)
	err := d.Conn.QueryRow(ctx, `SELECT owner, device, status, last_seen, created_at, invalidated_at
FROM delivery_tokens
WHERE token=$1`, token).Scan(&owner, &t.Device, &status, &t.LastSeen, &t.CreatedAt, &invalidatedAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return model.DeliveryToken{}, false, nil
	case err != nil:
		return model.DeliveryToken{}, false, model.NewStorageError("lookup token", errors.Wrap(err, "failed fetching token"))
	}

	t.Owner = model.UserID(owner)
	t.Status = model.TokenStatus(status)
	if invalidatedAt.Valid {
		t.InvalidatedAt = invalidatedAt.Time
	}
	return t, true, nil
}

package registry

import (
	"context"
	"strings"
	"time"

	"notepush/logger"
	"notepush/model"

	"github.com/jmhodges/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Store keeps delivery tokens. *db.Database and *MemoryStore implement it.
type Store interface {
	UpsertToken(ctx context.Context, t model.DeliveryToken) (model.RegisterResult, error)
	InvalidateToken(ctx context.Context, token string, at time.Time) error
	ActiveTokens(ctx context.Context, owner model.UserID) ([]model.DeliveryToken, error)
	LookupToken(ctx context.Context, token string) (model.DeliveryToken, bool, error)
}

// Registry owns the lifecycle of delivery tokens. A token belongs to the last
// user who registered it.
type Registry struct {
	store  Store
	clk    clock.Clock
	logger *zap.SugaredLogger
}

func New(store Store, clk clock.Clock, l *zap.SugaredLogger) *Registry {
	if clk == nil {
		clk = clock.New()
	}
	return &Registry{store: store, clk: clk, logger: logger.Named(l, "registry")}
}

// Register attaches the token to owner. Registering the same token again only
// refreshes its last-seen time.
func (r *Registry) Register(ctx context.Context, owner model.UserID, token, device string) (model.RegisterResult, error) {
	token = strings.TrimSpace(token)
	if owner == "" || token == "" {
		return model.Registered, errors.Wrap(model.ErrInvalidToken, "owner and token are required")
	}

	var prevOwner model.UserID
	if prev, ok, err := r.store.LookupToken(ctx, token); err == nil && ok {
		prevOwner = prev.Owner
	}

	now := r.clk.Now().UTC()
	res, err := r.store.UpsertToken(ctx, model.DeliveryToken{
		Token:     token,
		Owner:     owner,
		Device:    strings.TrimSpace(device),
		Status:    model.TokenActive,
		LastSeen:  now,
		CreatedAt: now,
	})
	if err != nil {
		return res, errors.Wrap(err, "failed registering token")
	}

	l := logger.ForUser(r.logger, owner)
	if res == model.Replaced {
		l.Infow("delivery token moved to a new owner", "prev", string(prevOwner), "device", device)
	} else {
		l.Debugw("delivery token registered", "device", device)
	}
	return res, nil
}

// Invalidate marks the token invalid. It never fails; unknown tokens are
// already invalid.
func (r *Registry) Invalidate(ctx context.Context, token string) {
	if err := r.store.InvalidateToken(ctx, token, r.clk.Now().UTC()); err != nil {
		r.logger.Warnw("failed invalidating delivery token", "err", err)
	}
}

// Unsubscribe invalidates the token if owner owns it and does nothing otherwise.
func (r *Registry) Unsubscribe(ctx context.Context, owner model.UserID, token string) error {
	token = strings.TrimSpace(token)
	if owner == "" || token == "" {
		return errors.Wrap(model.ErrInvalidToken, "owner and token are required")
	}

	t, ok, err := r.store.LookupToken(ctx, token)
	if err != nil {
		return errors.Wrap(err, "failed unsubscribing")
	}
	if !ok || t.Owner != owner || t.Status == model.TokenInvalid {
		return nil
	}

	if err := r.store.InvalidateToken(ctx, token, r.clk.Now().UTC()); err != nil {
		return errors.Wrap(err, "failed unsubscribing")
	}
	logger.ForUser(r.logger, owner).Debugw("delivery token unsubscribed", "device", t.Device)
	return nil
}

// TokensFor returns active tokens of the owner. It returns an empty slice when
// the user has none.
func (r *Registry) TokensFor(ctx context.Context, owner model.UserID) ([]model.DeliveryToken, error) {
	tokens, err := r.store.ActiveTokens(ctx, owner)
	if err != nil {
		return nil, errors.Wrap(err, "failed fetching tokens")
	}
	if tokens == nil {
		tokens = []model.DeliveryToken{}
	}
	return tokens, nil
}

package reminder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"notepush/model"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// SlotLedger records dispatched slots so a slot is delivered at most once, also
// across restarts. *db.Database implements it too.
type SlotLedger interface {
	// ClaimSlot returns true only for the first claim of (note, fireAt).
	ClaimSlot(ctx context.Context, note model.NoteID, fireAt time.Time) (bool, error)
	// PruneSlots forgets slots fired before the given time.
	PruneSlots(ctx context.Context, before time.Time) error
}

type slotKey struct {
	note   model.NoteID
	fireAt int64
}

// MemoryLedger is a process-local ledger.
type MemoryLedger struct {
	mu    sync.Mutex
	slots map[slotKey]time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{slots: make(map[slotKey]time.Time)}
}

func (l *MemoryLedger) ClaimSlot(_ context.Context, note model.NoteID, fireAt time.Time) (bool, error) {
	k := slotKey{note: note, fireAt: fireAt.UnixNano()}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.slots[k]; ok {
		return false, nil
	}
	l.slots[k] = fireAt
	return true, nil
}

func (l *MemoryLedger) PruneSlots(_ context.Context, before time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, at := range l.slots {
		if at.Before(before) {
			delete(l.slots, k)
		}
	}
	return nil
}

// Len is the number of remembered slots.
func (l *MemoryLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}

type slotSetter interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// RedisLedger keeps slots as keys that expire after the retention period, so
// pruning is left to redis.
type RedisLedger struct {
	client    slotSetter
	prefix    string
	retention time.Duration
}

func NewRedisLedger(client *redis.Client, prefix string, retention time.Duration) *RedisLedger {
	return newRedisLedger(client, prefix, retention)
}

func newRedisLedger(client slotSetter, prefix string, retention time.Duration) *RedisLedger {
	if prefix == "" {
		prefix = "notepush"
	}
	return &RedisLedger{client: client, prefix: prefix, retention: retention}
}

func (l *RedisLedger) key(note model.NoteID, fireAt time.Time) string {
	return fmt.Sprintf("%s:slot:%s:%d", l.prefix, note, fireAt.Unix())
}

func (l *RedisLedger) ClaimSlot(ctx context.Context, note model.NoteID, fireAt time.Time) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key(note, fireAt), fireAt.UTC().Format(time.RFC3339), l.retention).Result()
	if err != nil {
		return false, model.NewStorageError("claim slot", errors.Wrap(err, "redis setnx failed"))
	}
	return ok, nil
}

func (l *RedisLedger) PruneSlots(context.Context, time.Time) error {
	return nil
}

package policy

import (
	"context"
	"sort"
	"sync"
	"time"

	"notepush/model"
)

// MemoryBackend keeps policies in process memory. Policies are stored by value
// so readers never see a partial update.
type MemoryBackend struct {
	mu       sync.RWMutex
	policies map[model.NoteID]model.ReminderPolicy
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{policies: make(map[model.NoteID]model.ReminderPolicy)}
}

func (b *MemoryBackend) PutPolicy(_ context.Context, p model.ReminderPolicy) error {
	b.mu.Lock()
	b.policies[p.NoteID] = p
	b.mu.Unlock()
	return nil
}

func (b *MemoryBackend) DeactivatePolicy(_ context.Context, note model.NoteID, at time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if p, ok := b.policies[note]; ok && p.Active {
		p.Active = false
		p.UpdatedAt = at
		b.policies[note] = p
	}
	return nil
}

func (b *MemoryBackend) GetPolicy(_ context.Context, note model.NoteID) (model.ReminderPolicy, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	p, ok := b.policies[note]
	return p, ok, nil
}

// ForEachActivePolicy iterates over a snapshot taken at the call, so fn may
// modify the backend.
func (b *MemoryBackend) ForEachActivePolicy(ctx context.Context, fn func(model.ReminderPolicy) error) error {
	b.mu.RLock()
	active := make([]model.ReminderPolicy, 0, len(b.policies))
	for _, p := range b.policies {
		if p.Schedulable() {
			active = append(active, p)
		}
	}
	b.mu.RUnlock()

	sort.Slice(active, func(i, j int) bool { return active[i].NoteID < active[j].NoteID })
	for _, p := range active {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(p); err != nil {
			return err
		}
	}
	return nil
}

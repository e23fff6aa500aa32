package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"notepush/model"
)

// MemoryStore keeps tokens in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	tokens map[string]*model.DeliveryToken
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tokens: make(map[string]*model.DeliveryToken)}
}

func (s *MemoryStore) UpsertToken(_ context.Context, t model.DeliveryToken) (model.RegisterResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.retireDevice(t)

	cur, ok := s.tokens[t.Token]
	if !ok {
		t.Status = model.TokenActive
		t.InvalidatedAt = time.Time{}
		s.tokens[t.Token] = &t
		return model.Registered, nil
	}

	res := model.Registered
	if cur.Owner != t.Owner {
		res = model.Replaced
	}
	cur.Owner = t.Owner
	cur.Device = t.Device
	cur.LastSeen = t.LastSeen
	cur.Status = model.TokenActive
	cur.InvalidatedAt = time.Time{}
	return res, nil
}

// retireDevice invalidates the owner's other active tokens of the same device.
// Callers hold s.mu.
func (s *MemoryStore) retireDevice(t model.DeliveryToken) {
	if t.Device == "" {
		return
	}
	for tok, cur := range s.tokens {
		if tok != t.Token && cur.Owner == t.Owner && cur.Device == t.Device && cur.Status == model.TokenActive {
			cur.Status = model.TokenInvalid
			cur.InvalidatedAt = t.LastSeen
		}
	}
}

func (s *MemoryStore) InvalidateToken(_ context.Context, token string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.tokens[token]; ok && t.Status == model.TokenActive {
		t.Status = model.TokenInvalid
		t.InvalidatedAt = at
	}
	return nil
}

func (s *MemoryStore) ActiveTokens(_ context.Context, owner model.UserID) ([]model.DeliveryToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tokens := []model.DeliveryToken{}
	for _, t := range s.tokens {
		if t.Owner == owner && t.Status == model.TokenActive {
			tokens = append(tokens, *t)
		}
	}
	sort.Slice(tokens, func(i, j int) bool {
		if tokens[i].CreatedAt.Equal(tokens[j].CreatedAt) {
			return tokens[i].Token < tokens[j].Token
		}
		return tokens[i].CreatedAt.Before(tokens[j].CreatedAt)
	})
	return tokens, nil
}

func (s *MemoryStore) LookupToken(_ context.Context, token string) (model.DeliveryToken, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tokens[token]
	if !ok {
		return model.DeliveryToken{}, false, nil
	}
	return *t, true, nil
}

package dispatch

import (
	"context"
	"sync"

	"notepush/model"
)

// Audit records delivery outcomes. *db.Database implements it.
type Audit interface {
	RecordOutcomes(ctx context.Context, outcomes []model.DeliveryOutcome) error
}

// MemoryAudit keeps outcomes in memory.
type MemoryAudit struct {
	mu       sync.Mutex
	outcomes []model.DeliveryOutcome
}

func NewMemoryAudit() *MemoryAudit {
	return &MemoryAudit{}
}

func (a *MemoryAudit) RecordOutcomes(_ context.Context, outcomes []model.DeliveryOutcome) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.outcomes = append(a.outcomes, outcomes...)
	return nil
}

func (a *MemoryAudit) Outcomes() []model.DeliveryOutcome {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]model.DeliveryOutcome(nil), a.outcomes...)
}

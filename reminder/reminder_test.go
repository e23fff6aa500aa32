package reminder

import (
	"context"
	"sync"
	"testing"
	"time"

	"notepush/model"
	"notepush/timezone"

	"github.com/jmhodges/clock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePolicies struct {
	mu          sync.Mutex
	policies    map[model.NoteID]model.ReminderPolicy
	deactivated []model.NoteID
}

func newFakePolicies(ps ...model.ReminderPolicy) *fakePolicies {
	f := &fakePolicies{policies: make(map[model.NoteID]model.ReminderPolicy)}
	for _, p := range ps {
		f.policies[p.NoteID] = p
	}
	return f
}

func (f *fakePolicies) ForEachActive(_ context.Context, fn func(model.ReminderPolicy) error) error {
	f.mu.Lock()
	var active []model.ReminderPolicy
	for _, p := range f.policies {
		if p.Schedulable() {
			active = append(active, p)
		}
	}
	f.mu.Unlock()
	for _, p := range active {
		if err := fn(p); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakePolicies) Deactivate(_ context.Context, note model.NoteID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deactivated = append(f.deactivated, note)
	if p, ok := f.policies[note]; ok {
		p.Active = false
		f.policies[note] = p
	}
	return nil
}

func (f *fakePolicies) put(p model.ReminderPolicy) {
	f.mu.Lock()
	f.policies[p.NoteID] = p
	f.mu.Unlock()
}

func (f *fakePolicies) remove(note model.NoteID) {
	f.mu.Lock()
	delete(f.policies, note)
	f.mu.Unlock()
}

func (f *fakePolicies) deactivatedNotes() []model.NoteID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.NoteID(nil), f.deactivated...)
}

type fakeDispatcher struct {
	mu    sync.Mutex
	jobs  []model.ScheduledJob
	block chan struct{}
}

func (d *fakeDispatcher) Deliver(ctx context.Context, job model.ScheduledJob) ([]model.DeliveryOutcome, error) {
	if d.block != nil {
		select {
		case <-d.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	d.mu.Lock()
	d.jobs = append(d.jobs, job)
	d.mu.Unlock()
	return []model.DeliveryOutcome{{Job: job, Token: "tok", Result: model.Sent, Attempts: 1}}, nil
}

func (d *fakeDispatcher) delivered() []model.ScheduledJob {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]model.ScheduledJob(nil), d.jobs...)
}

type failingLedger struct{}

func (failingLedger) ClaimSlot(context.Context, model.NoteID, time.Time) (bool, error) {
	return false, errors.New("ledger is down")
}

func (failingLedger) PruneSlots(context.Context, time.Time) error { return nil }

func newManager(t *testing.T, src PolicySource, d Dispatcher, ledger SlotLedger) (*Manager, clock.FakeClock) {
	t.Helper()
	clk := clock.NewFake()
	clk.Set(midnight)
	zones, err := timezone.NewCache("UTC")
	require.NoError(t, err)
	return NewManager(src, d, ledger, zones, clk, zap.NewNop().Sugar(), Options{}), clk
}

func TestHourlyPolicyFiresUntilExpired(t *testing.T) {
	ctx := context.Background()
	p := hourlyPolicy(midnight.Add(2*time.Hour + 30*time.Minute))
	src := newFakePolicies(p)
	d := &fakeDispatcher{}
	m, clk := newManager(t, src, d, NewMemoryLedger())

	clk.Set(midnight.Add(5 * time.Minute))
	require.Equal(t, Armed, m.Arm(ctx, p))
	st, at := m.State(p.NoteID)
	assert.Equal(t, Armed, st)
	assert.Equal(t, midnight.Add(time.Hour), at)

	clk.Set(midnight.Add(time.Hour))
	m.FireDue(ctx)
	m.Wait()
	st, at = m.State(p.NoteID)
	assert.Equal(t, Armed, st)
	assert.Equal(t, midnight.Add(2*time.Hour), at)

	clk.Set(midnight.Add(2 * time.Hour))
	m.FireDue(ctx)
	m.Wait()
	st, _ = m.State(p.NoteID)
	assert.Equal(t, Expired, st)
	assert.Equal(t, []model.NoteID{p.NoteID}, src.deactivatedNotes())

	clk.Set(midnight.Add(5 * time.Hour))
	m.FireDue(ctx)
	m.Wait()

	jobs := d.delivered()
	require.Len(t, jobs, 2)
	assert.Equal(t, midnight.Add(time.Hour), jobs[0].FireAt)
	assert.Equal(t, midnight.Add(2*time.Hour), jobs[1].FireAt)
	assert.Equal(t, model.UserID("u1"), jobs[0].Owner)

	// the deactivated policy is no longer listed, so it's dropped
	require.NoError(t, m.Reconcile(ctx))
	st, _ = m.State(p.NoteID)
	assert.Equal(t, Idle, st)
}

func TestMissedFiresAreNotCaughtUp(t *testing.T) {
	ctx := context.Background()
	p := hourlyPolicy(midnight.Add(24 * time.Hour))
	d := &fakeDispatcher{}
	m, clk := newManager(t, newFakePolicies(p), d, NewMemoryLedger())

	m.Arm(ctx, p)
	clk.Set(midnight.Add(5*time.Hour + 10*time.Minute))
	m.FireDue(ctx)
	m.Wait()

	// the 01:00 slot is hours old; only the next upcoming slot is sent
	assert.Empty(t, d.delivered())
	_, at := m.State(p.NoteID)
	assert.Equal(t, midnight.Add(6*time.Hour), at)

	clk.Set(midnight.Add(6 * time.Hour))
	m.FireDue(ctx)
	m.Wait()

	jobs := d.delivered()
	require.Len(t, jobs, 1)
	assert.Equal(t, midnight.Add(6*time.Hour), jobs[0].FireAt)
}

func TestSlotWithinGraceIsSent(t *testing.T) {
	ctx := context.Background()
	p := hourlyPolicy(midnight.Add(24 * time.Hour))
	d := &fakeDispatcher{}
	m, clk := newManager(t, newFakePolicies(p), d, NewMemoryLedger())

	m.Arm(ctx, p)
	clk.Set(midnight.Add(time.Hour + DefaultLateFireGrace))
	m.FireDue(ctx)
	m.Wait()

	jobs := d.delivered()
	require.Len(t, jobs, 1)
	assert.Equal(t, midnight.Add(time.Hour), jobs[0].FireAt)

	_, at := m.State(p.NoteID)
	assert.Equal(t, midnight.Add(2*time.Hour), at)
}

func TestLateFireGraceCoversTwoTicks(t *testing.T) {
	assert.Equal(t, DefaultLateFireGrace, Options{}.withDefaults().LateFireGrace)
	assert.Equal(t, 2*time.Minute, Options{Tick: time.Minute, LateFireGrace: time.Second}.withDefaults().LateFireGrace)
}

func TestPolicyPastEndNeverArms(t *testing.T) {
	ctx := context.Background()
	p := hourlyPolicy(midnight.Add(30 * time.Minute))
	src := newFakePolicies(p)
	d := &fakeDispatcher{}
	m, clk := newManager(t, src, d, NewMemoryLedger())

	assert.Equal(t, Expired, m.Arm(ctx, p))
	assert.Equal(t, []model.NoteID{p.NoteID}, src.deactivatedNotes())

	clk.Add(2 * time.Hour)
	m.FireDue(ctx)
	m.Wait()
	assert.Empty(t, d.delivered())
}

func TestOverlappingManagersDeliverOnce(t *testing.T) {
	ctx := context.Background()
	p := hourlyPolicy(midnight.Add(24 * time.Hour))
	ledger := NewMemoryLedger()
	d := &fakeDispatcher{}

	old, clk := newManager(t, newFakePolicies(p), d, ledger)
	restarted, clk2 := newManager(t, newFakePolicies(p), d, ledger)
	old.Arm(ctx, p)
	restarted.Arm(ctx, p)

	clk.Set(midnight.Add(time.Hour))
	clk2.Set(midnight.Add(time.Hour))
	old.FireDue(ctx)
	restarted.FireDue(ctx)
	old.Wait()
	restarted.Wait()

	assert.Len(t, d.delivered(), 1)
	assert.Equal(t, 1, ledger.Len())
}

func TestSlotSkippedWhilePreviousDispatchRuns(t *testing.T) {
	ctx := context.Background()
	p := hourlyPolicy(midnight.Add(24 * time.Hour))
	d := &fakeDispatcher{block: make(chan struct{})}
	m, clk := newManager(t, newFakePolicies(p), d, NewMemoryLedger())
	m.Arm(ctx, p)

	clk.Set(midnight.Add(time.Hour))
	m.FireDue(ctx)

	clk.Set(midnight.Add(2 * time.Hour))
	m.FireDue(ctx)

	close(d.block)
	m.Wait()

	jobs := d.delivered()
	require.Len(t, jobs, 1)
	assert.Equal(t, midnight.Add(time.Hour), jobs[0].FireAt)

	st, at := m.State(p.NoteID)
	assert.Equal(t, Armed, st)
	assert.Equal(t, midnight.Add(3*time.Hour), at)
}

func TestLedgerFailureSkipsSlot(t *testing.T) {
	ctx := context.Background()
	p := hourlyPolicy(midnight.Add(24 * time.Hour))
	d := &fakeDispatcher{}
	m, clk := newManager(t, newFakePolicies(p), d, failingLedger{})
	m.Arm(ctx, p)

	clk.Set(midnight.Add(time.Hour))
	m.FireDue(ctx)
	m.Wait()
	assert.Empty(t, d.delivered())

	st, at := m.State(p.NoteID)
	assert.Equal(t, Armed, st)
	assert.Equal(t, midnight.Add(2*time.Hour), at)
}

func TestReconcile(t *testing.T) {
	ctx := context.Background()
	p := hourlyPolicy(midnight.Add(24 * time.Hour))
	src := newFakePolicies(p)
	d := &fakeDispatcher{}
	m, clk := newManager(t, src, d, NewMemoryLedger())

	clk.Set(midnight.Add(5 * time.Minute))
	require.NoError(t, m.Reconcile(ctx))
	st, at := m.State(p.NoteID)
	assert.Equal(t, Armed, st)
	assert.Equal(t, midnight.Add(time.Hour), at)

	// an unchanged policy keeps its pending fire even when it's already due
	clk.Set(midnight.Add(time.Hour + 30*time.Second))
	require.NoError(t, m.Reconcile(ctx))
	_, at = m.State(p.NoteID)
	assert.Equal(t, midnight.Add(time.Hour), at)

	m.FireDue(ctx)
	m.Wait()
	require.Len(t, d.delivered(), 1)

	// a changed policy is re-armed from now
	changed := p
	changed.Anchor = midnight.Add(90 * time.Minute)
	src.put(changed)
	require.NoError(t, m.Reconcile(ctx))
	_, at = m.State(p.NoteID)
	assert.Equal(t, midnight.Add(150*time.Minute), at)

	// a policy that's gone is dropped
	src.remove(p.NoteID)
	require.NoError(t, m.Reconcile(ctx))
	st, _ = m.State(p.NoteID)
	assert.Equal(t, Idle, st)
}

func TestDisarm(t *testing.T) {
	ctx := context.Background()
	p := hourlyPolicy(midnight.Add(24 * time.Hour))
	d := &fakeDispatcher{}
	m, clk := newManager(t, newFakePolicies(p), d, NewMemoryLedger())

	m.Arm(ctx, p)
	m.Disarm(p.NoteID)
	st, _ := m.State(p.NoteID)
	assert.Equal(t, Idle, st)

	clk.Set(midnight.Add(3 * time.Hour))
	m.FireDue(ctx)
	m.Wait()
	assert.Empty(t, d.delivered())

	inactive := p
	inactive.Active = false
	assert.Equal(t, Idle, m.Arm(ctx, inactive))
}

func TestRunStopsWithContext(t *testing.T) {
	p := hourlyPolicy(midnight.Add(24 * time.Hour))
	m, _ := newManager(t, newFakePolicies(p), &fakeDispatcher{}, NewMemoryLedger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool {
		st, _ := m.State(p.NoteID)
		return st == Armed
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run didn't return after cancel")
	}
}

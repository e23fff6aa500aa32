package reminder

import (
	"context"
	"sync"
	"time"

	"notepush/logger"
	"notepush/metrics"
	"notepush/model"
	"notepush/timezone"

	"github.com/jmhodges/clock"
	"go.uber.org/zap"
)

const (
	DefaultTick              = time.Second
	DefaultReconcileInterval = time.Minute
	DefaultDispatchTimeout   = 5 * time.Minute
	DefaultSlotRetention     = 48 * time.Hour
	DefaultLateFireGrace     = time.Minute
)

// State is the scheduling state of a single note.
type State uint8

const (
	Idle State = iota
	Armed
	Fired
	Expired
)

func (s State) String() string {
	switch s {
	case Armed:
		return "armed"
	case Fired:
		return "fired"
	case Expired:
		return "expired"
	default:
		return "idle"
	}
}

// PolicySource is the view of the policy store the scheduler needs.
type PolicySource interface {
	ForEachActive(ctx context.Context, fn func(model.ReminderPolicy) error) error
	Deactivate(ctx context.Context, note model.NoteID) error
}

// Dispatcher delivers a fired slot to all tokens of the job's owner.
type Dispatcher interface {
	Deliver(ctx context.Context, job model.ScheduledJob) ([]model.DeliveryOutcome, error)
}

type Options struct {
	Tick              time.Duration
	ReconcileInterval time.Duration
	DispatchTimeout   time.Duration
	SlotRetention     time.Duration

	// LateFireGrace is how late a slot may still be dispatched. Older slots,
	// left behind by a stalled process, are skipped. It is at least two ticks.
	LateFireGrace time.Duration
}

func (o Options) withDefaults() Options {
	if o.Tick <= 0 {
		o.Tick = DefaultTick
	}
	if o.ReconcileInterval <= 0 || o.ReconcileInterval > DefaultReconcileInterval {
		o.ReconcileInterval = DefaultReconcileInterval
	}
	if o.DispatchTimeout <= 0 {
		o.DispatchTimeout = DefaultDispatchTimeout
	}
	if o.SlotRetention <= 0 {
		o.SlotRetention = DefaultSlotRetention
	}
	if o.LateFireGrace <= 0 {
		o.LateFireGrace = DefaultLateFireGrace
	}
	if o.LateFireGrace < 2*o.Tick {
		o.LateFireGrace = 2 * o.Tick
	}
	return o
}

type reminder struct {
	policy model.ReminderPolicy
	state  State
	fireAt time.Time
	index  int // position in the queue, -1 when not queued
}

// Manager keeps the next fire time of every active policy and hands due slots
// to the dispatcher. A note has at most one dispatch in flight.
type Manager struct {
	policies   PolicySource
	dispatcher Dispatcher
	ledger     SlotLedger
	zones      *timezone.Cache
	clk        clock.Clock
	logger     *zap.SugaredLogger
	opts       Options

	mu            sync.Mutex
	reminderQueue *reminderQueue
	reminders     map[model.NoteID]*reminder
	inFlight      map[model.NoteID]struct{}
	wg            sync.WaitGroup
}

func NewManager(policies PolicySource, d Dispatcher, ledger SlotLedger, zones *timezone.Cache, clk clock.Clock, l *zap.SugaredLogger, opts Options) *Manager {
	if clk == nil {
		clk = clock.New()
	}
	if ledger == nil {
		ledger = NewMemoryLedger()
	}
	return &Manager{
		policies:      policies,
		dispatcher:    d,
		ledger:        ledger,
		zones:         zones,
		clk:           clk,
		logger:        logger.Named(l, "reminder"),
		opts:          opts.withDefaults(),
		reminderQueue: newReminderQueue(),
		reminders:     make(map[model.NoteID]*reminder),
		inFlight:      make(map[model.NoteID]struct{}),
	}
}

// Run reconciles with the policy store and fires due reminders until ctx is
// done. It waits for in-flight dispatches before returning.
func (m *Manager) Run(ctx context.Context) error {
	if err := m.Reconcile(ctx); err != nil {
		m.logger.Errorw("initial reconciliation failed; retrying on the next interval", "err", err)
	}

	tick := time.NewTicker(m.opts.Tick)
	defer tick.Stop()
	reconcile := time.NewTicker(m.opts.ReconcileInterval)
	defer reconcile.Stop()

	m.remind(ctx, tick.C, reconcile.C)
	m.Wait()
	return nil
}

func (m *Manager) remind(ctx context.Context, tick, reconcile <-chan time.Time) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			m.FireDue(ctx)
		case <-reconcile:
			if err := m.Reconcile(ctx); err != nil {
				m.logger.Errorw("reconciliation failed", "err", err)
			}
		}
	}
}

// Wait blocks until all started dispatches are finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Reconcile re-reads the active policies. Unchanged policies keep their
// pending fire time, changed ones are re-armed from now and policies that are
// gone are dropped.
func (m *Manager) Reconcile(ctx context.Context) error {
	now := m.clk.Now().UTC()
	seen := make(map[model.NoteID]struct{})
	var expired []model.NoteID

	err := m.policies.ForEachActive(ctx, func(p model.ReminderPolicy) error {
		seen[p.NoteID] = struct{}{}
		m.mu.Lock()
		st := m.armLocked(p, now)
		m.mu.Unlock()
		if st == Expired {
			expired = append(expired, p.NoteID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	m.mu.Lock()
	for note := range m.reminders {
		if _, ok := seen[note]; !ok {
			m.disarmLocked(note)
		}
	}
	metrics.RemindersArmed.Set(float64(m.reminderQueue.Len()))
	m.mu.Unlock()

	m.retire(ctx, expired)

	if err := m.ledger.PruneSlots(ctx, now.Add(-m.opts.SlotRetention)); err != nil {
		m.logger.Warnw("failed pruning slot ledger", "err", err)
	}
	return nil
}

// Arm computes the next fire of p and queues it. Arming an unchanged policy
// keeps its pending fire time.
func (m *Manager) Arm(ctx context.Context, p model.ReminderPolicy) State {
	m.mu.Lock()
	st := m.armLocked(p, m.clk.Now().UTC())
	metrics.RemindersArmed.Set(float64(m.reminderQueue.Len()))
	m.mu.Unlock()

	if st == Expired {
		m.retire(ctx, []model.NoteID{p.NoteID})
	}
	return st
}

// Disarm forgets the note. A dispatch already in flight is not cancelled.
func (m *Manager) Disarm(note model.NoteID) {
	m.mu.Lock()
	m.disarmLocked(note)
	metrics.RemindersArmed.Set(float64(m.reminderQueue.Len()))
	m.mu.Unlock()
}

// State returns the note's scheduling state and its pending fire time, if any.
func (m *Manager) State(note model.NoteID) (State, time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reminders[note]
	if !ok {
		return Idle, time.Time{}
	}
	return r.state, r.fireAt
}

func (m *Manager) armLocked(p model.ReminderPolicy, now time.Time) State {
	r, ok := m.reminders[p.NoteID]
	if ok && r.policy.SameSchedule(p) && (r.state == Armed || r.state == Expired) {
		r.policy = p
		return r.state
	}
	if !p.Schedulable() {
		m.disarmLocked(p.NoteID)
		return Idle
	}
	if !ok {
		r = &reminder{index: -1}
		m.reminders[p.NoteID] = r
	}
	r.policy = p
	return m.rearmLocked(r, now)
}

func (m *Manager) rearmLocked(r *reminder, now time.Time) State {
	fireAt, ok := NextFire(r.policy, now, m.zones.Resolve(r.policy.TimeZone))
	if !ok {
		m.reminderQueue.Delete(r.policy.NoteID)
		r.state = Expired
		r.fireAt = time.Time{}
		return Expired
	}
	r.state = Armed
	r.fireAt = fireAt
	m.reminderQueue.schedule(r)
	return Armed
}

func (m *Manager) disarmLocked(note model.NoteID) {
	m.reminderQueue.Delete(note)
	delete(m.reminders, note)
}

// FireDue dispatches every slot due at the current time. Each fired reminder
// is re-armed from now, so slots missed while the process was down are never
// caught up. A slot overdue by more than the grace period is skipped and the
// reminder waits for its next slot.
func (m *Manager) FireDue(ctx context.Context) {
	now := m.clk.Now().UTC()

	m.mu.Lock()
	due := m.reminderQueue.popDue(now)
	var (
		jobs    []model.ScheduledJob
		busy    []model.ScheduledJob
		stale   []model.ScheduledJob
		expired []model.NoteID
	)
	for _, r := range due {
		job := model.ScheduledJob{NoteID: r.policy.NoteID, Owner: r.policy.Owner, FireAt: r.fireAt, Attempt: 1}
		r.state = Fired
		if m.rearmLocked(r, now) == Expired {
			expired = append(expired, r.policy.NoteID)
		}
		if now.Sub(job.FireAt) > m.opts.LateFireGrace {
			stale = append(stale, job)
			continue
		}
		if _, ok := m.inFlight[job.NoteID]; ok {
			busy = append(busy, job)
			continue
		}
		m.inFlight[job.NoteID] = struct{}{}
		jobs = append(jobs, job)
	}
	metrics.RemindersArmed.Set(float64(m.reminderQueue.Len()))
	m.mu.Unlock()

	for _, job := range stale {
		metrics.RemindersSkippedTotal.WithLabelValues("late").Inc()
		logger.ForNote(m.logger, job.NoteID).Warnw("slot is overdue; skipping it", "fire_at", job.FireAt, "late", now.Sub(job.FireAt))
	}

	for _, job := range busy {
		metrics.RemindersSkippedTotal.WithLabelValues("in_flight").Inc()
		logger.ForNote(m.logger, job.NoteID).Warnw("previous dispatch is still running; skipping slot", "fire_at", job.FireAt)
	}

	for _, job := range jobs {
		claimed, err := m.ledger.ClaimSlot(ctx, job.NoteID, job.FireAt)
		if err != nil || !claimed {
			m.release(job.NoteID)
			reason := "duplicate"
			if err != nil {
				reason = "ledger_error"
				logger.ForNote(m.logger, job.NoteID).Errorw("failed claiming slot; skipping it", "fire_at", job.FireAt, "err", err)
			} else {
				logger.ForNote(m.logger, job.NoteID).Infow("slot already dispatched", "fire_at", job.FireAt)
			}
			metrics.RemindersSkippedTotal.WithLabelValues(reason).Inc()
			continue
		}

		metrics.RemindersFiredTotal.Inc()
		m.wg.Add(1)
		go m.dispatch(ctx, job)
	}

	m.retire(ctx, expired)
}

func (m *Manager) dispatch(ctx context.Context, job model.ScheduledJob) {
	defer m.wg.Done()
	defer m.release(job.NoteID)

	ctx, cancel := context.WithTimeout(ctx, m.opts.DispatchTimeout)
	defer cancel()

	l := logger.ForNote(logger.ForUser(m.logger, job.Owner), job.NoteID)
	l.Infow("reminder is being sent", "fire_at", job.FireAt)

	outcomes, err := m.dispatcher.Deliver(ctx, job)
	if err != nil {
		l.Errorw("failed delivering reminder", "fire_at", job.FireAt, "err", err)
		return
	}
	sent := 0
	for _, o := range outcomes {
		if o.Result == model.Sent {
			sent++
		}
	}
	l.Debugw("reminder delivered", "fire_at", job.FireAt, "tokens", len(outcomes), "sent", sent)
}

func (m *Manager) release(note model.NoteID) {
	m.mu.Lock()
	delete(m.inFlight, note)
	m.mu.Unlock()
}

// retire deactivates expired policies. Once the store no longer lists them
// the next reconciliation drops them.
func (m *Manager) retire(ctx context.Context, notes []model.NoteID) {
	for _, note := range notes {
		if err := m.policies.Deactivate(ctx, note); err != nil {
			logger.ForNote(m.logger, note).Errorw("failed deactivating expired policy", "err", err)
			continue
		}
		metrics.RemindersExpiredTotal.Inc()
		logger.ForNote(m.logger, note).Infow("reminder policy expired")
	}
}

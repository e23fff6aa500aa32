package reminder

import (
	"container/heap"
	"time"

	"notepush/model"
)

// reminderQueue is a min-heap of armed reminders ordered by fire time. Every
// queued reminder is also indexed by note so it can be fixed or removed.
type reminderQueue struct {
	backingArray []*reminder
	reminders    map[model.NoteID]*reminder
}

func newReminderQueue() *reminderQueue {
	rq := &reminderQueue{
		backingArray: []*reminder{},
		reminders:    make(map[model.NoteID]*reminder),
	}
	heap.Init(rq)
	return rq
}

func (rq reminderQueue) Len() int {
	return len(rq.backingArray)
}

func (rq reminderQueue) Less(i, j int) bool {
	a, b := rq.backingArray[i], rq.backingArray[j]
	if a.fireAt.Equal(b.fireAt) {
		return a.policy.NoteID < b.policy.NoteID
	}
	return a.fireAt.Before(b.fireAt)
}

func (rq reminderQueue) Swap(i, j int) {
	rq.backingArray[j], rq.backingArray[i] = rq.backingArray[i], rq.backingArray[j]
	rq.backingArray[i].index = i
	rq.backingArray[j].index = j
}

// Push is called by container/heap, use schedule instead.
func (rq *reminderQueue) Push(r any) {
	rem, ok := r.(*reminder)
	if !ok {
		return
	}
	rem.index = len(rq.backingArray)
	rq.reminders[rem.policy.NoteID] = rem
	rq.backingArray = append(rq.backingArray, rem)
}

// Pop is called by container/heap.
func (rq *reminderQueue) Pop() any {
	n := len(rq.backingArray)
	if n == 0 {
		return nil
	}
	popped := rq.backingArray[n-1]
	rq.backingArray[n-1] = nil
	rq.backingArray = rq.backingArray[:n-1]
	popped.index = -1
	delete(rq.reminders, popped.policy.NoteID)
	return popped
}

// schedule queues r or moves it if it's already queued.
func (rq *reminderQueue) schedule(r *reminder) {
	if cur, ok := rq.reminders[r.policy.NoteID]; ok && cur != r {
		heap.Remove(rq, cur.index)
	}
	if r.index >= 0 && r.index < len(rq.backingArray) && rq.backingArray[r.index] == r {
		heap.Fix(rq, r.index)
		return
	}
	heap.Push(rq, r)
}

// Delete removes the note's reminder if it's queued.
func (rq *reminderQueue) Delete(note model.NoteID) {
	r, ok := rq.reminders[note]
	if !ok {
		return
	}
	heap.Remove(rq, r.index)
}

func (rq *reminderQueue) Peek() *reminder {
	if len(rq.backingArray) == 0 {
		return nil
	}
	return rq.backingArray[0]
}

// popDue removes and returns the reminders due at now in fire order.
func (rq *reminderQueue) popDue(now time.Time) []*reminder {
	var due []*reminder
	for {
		r := rq.Peek()
		if r == nil || now.Before(r.fireAt) {
			return due
		}
		heap.Pop(rq)
		due = append(due, r)
	}
}

package process

import (
	"sync"
)

// WaitQueue is a list of processes sleeping until an event. Each waiter is
// held by reference until it is woken.
type WaitQueue struct {
	mu      sync.Mutex
	waiters []*ProcessControlBlock
}

// Len returns the number of waiters.
func (q *WaitQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiters)
}

func (q *WaitQueue) add(pcb *ProcessControlBlock) {
	q.mu.Lock()
	q.waiters = append(q.waiters, pcb.Get())
	q.mu.Unlock()
}

// take removes up to limit waiters whose state matches filter. A nil filter
// matches every blocked waiter; limit < 0 means no limit.
func (q *WaitQueue) take(filter *ProcessState, limit int) []*ProcessControlBlock {
	q.mu.Lock()
	defer q.mu.Unlock()

	var taken []*ProcessControlBlock
	kept := q.waiters[:0]
	for _, w := range q.waiters {
		if limit >= 0 && len(taken) >= limit {
			kept = append(kept, w)
			continue
		}
		st := w.State()
		if (filter == nil && st.IsBlocked()) || (filter != nil && st == *filter) {
			taken = append(taken, w)
			continue
		}
		kept = append(kept, w)
	}
	for i := len(kept); i < len(q.waiters); i++ {
		q.waiters[i] = nil
	}
	q.waiters = kept
	return taken
}

// WakeupOne wakes the first waiter matching filter and reports whether one
// was found.
func (q *WaitQueue) WakeupOne(m *ProcessManager, filter *ProcessState) bool {
	return q.wake(m, filter, 1) > 0
}

// WakeupAll wakes every waiter matching filter and returns how many were
// woken.
func (q *WaitQueue) WakeupAll(m *ProcessManager, filter *ProcessState) int {
	return q.wake(m, filter, -1)
}

func (q *WaitQueue) wake(m *ProcessManager, filter *ProcessState, limit int) int {
	woken := 0
	for _, w := range q.take(filter, limit) {
		if err := m.Wakeup(w); err != nil {
			m.logger.Debug("waiter not woken", "pid", w.pid, "error", err)
		} else {
			woken++
		}
		w.Put()
	}
	return woken
}

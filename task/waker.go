package task

import "sync/atomic"

// Waker is the notification token handed to a poll call. Signaling it
// schedules the owning task for another poll (spec §4.3).
//
// The scheduled flag guarantees a task id appears at most once in the
// ready queue at any instant: Signal only pushes when it transitions the
// flag from clear to set, and the executor clears the flag immediately
// before polling, so a signal racing with poll completion still schedules
// exactly one more poll (invariant 3).
type Waker struct {
	id        uint64
	scheduled uint32
	queue     *readyQueue
}

// Signal schedules the owning task for another poll, unless it is already
// scheduled.
func (w *Waker) Signal() {
	if atomic.CompareAndSwapUint32(&w.scheduled, 0, 1) {
		w.queue.push(w.id)
	}
}

// clear drops the scheduled flag; called by the executor right before it
// polls the task, so a Signal arriving during the poll reschedules it.
func (w *Waker) clear() {
	atomic.StoreUint32(&w.scheduled, 0)
}

// Package task implements the kernel's cooperative poll-based executor: a
// lock-free MPSC ready queue, per-task waker tokens, and a single-threaded
// run loop whose idle path parks the CPU between interrupts (spec §4.3).
package task

import "github.com/rs/xid"

// Status is the result of polling a task.
type Status int

const (
	// Pending means the task suspended and must wait for its waker.
	Pending Status = iota
	// Complete means the task finished and should be dropped.
	Complete
)

// PollFunc advances a task's state machine by one step. It must not block:
// a task that cannot make progress returns Pending and relies on its Waker
// being signaled later.
type PollFunc func(w *Waker) Status

// Task is a unit of cooperative work: an id for diagnostics, a poll
// function, and the waker that reschedules it.
type Task struct {
	ID   xid.ID
	slot uint64
	poll PollFunc
	w    Waker
}

package task

import (
	"sync"

	"github.com/rs/xid"
)

// CPU abstracts the interrupt-mask/halt primitives the idle path needs, so
// the executor is testable without real hardware (mirrors the
// paging.Memory/serial.Ports pattern used elsewhere).
type CPU interface {
	DisableInterrupts()
	EnableInterrupts()
	// HaltUntilInterrupt atomically re-enables interrupts and halts, so a
	// wakeup cannot land in the gap between the empty-queue check and the
	// halt itself.
	HaltUntilInterrupt()
}

// Drainer services any interrupt-delivered work (e.g. an x86.Dispatcher)
// before the idle path commits to halting.
type Drainer interface {
	Drain()
	Pending() bool
}

const defaultCapacity = 256

// Executor is the process-wide single-threaded cooperative scheduler. It is
// a process singleton (spec §9): built once at boot, never copied.
type Executor struct {
	mu    sync.Mutex
	tasks map[uint64]*Task

	ready   *readyQueue
	nextSeq uint64

	cpu     CPU
	drainer Drainer
}

// New builds an executor with the given idle-path CPU control and an
// optional interrupt drainer (may be nil if the caller drains elsewhere
// before calling Run).
func New(cpu CPU, drainer Drainer) *Executor {
	return &Executor{
		tasks:   make(map[uint64]*Task),
		ready:   newReadyQueue(defaultCapacity),
		cpu:     cpu,
		drainer: drainer,
	}
}

// Spawn registers poll as a new task, scheduled for its first poll
// immediately, and returns it.
func (e *Executor) Spawn(poll PollFunc) *Task {
	e.mu.Lock()
	slot := e.nextSeq
	e.nextSeq++

	t := &Task{ID: xid.New(), slot: slot, poll: poll}
	t.w = Waker{id: slot, queue: e.ready}
	e.tasks[slot] = t
	e.mu.Unlock()

	t.w.Signal()
	return t
}

// Waker returns t's notification token, for handlers outside the executor
// (e.g. an IRQ handler) to signal it.
func (t *Task) Waker() *Waker { return &t.w }

// runOne pops and polls a single ready task, dropping it on completion.
// Returns false if the ready queue was empty.
func (e *Executor) runOne() bool {
	slot, ok := e.ready.pop()
	if !ok {
		return false
	}

	e.mu.Lock()
	t, ok := e.tasks[slot]
	e.mu.Unlock()
	if !ok {
		// task was already removed (e.g. duplicate wakeup racing
		// completion); nothing to do.
		return true
	}

	t.w.clear()

	if t.poll(&t.w) == Complete {
		e.mu.Lock()
		delete(e.tasks, slot)
		e.mu.Unlock()
	}

	return true
}

// Run drives tasks to completion forever (or until stop reports true, if
// non-nil, which is how tests bound an otherwise-infinite loop). The idle
// path disables interrupts, rechecks the ready queue, and halts only if
// still empty, so a wakeup delivered between the empty check and the halt
// can never be lost (spec §4.3).
func (e *Executor) Run(stop func() bool) {
	for stop == nil || !stop() {
		if e.drainer != nil {
			e.drainer.Drain()
		}

		ran := false
		for e.runOne() {
			ran = true
		}
		if ran {
			continue
		}

		e.cpu.DisableInterrupts()

		idle := e.ready.empty() && (e.drainer == nil || !e.drainer.Pending())
		if idle {
			e.cpu.HaltUntilInterrupt()
		} else {
			e.cpu.EnableInterrupts()
		}
	}
}

// TaskCount returns the number of live tasks, for diagnostics and tests.
func (e *Executor) TaskCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.tasks)
}

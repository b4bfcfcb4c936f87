package task

import "sync/atomic"

// slotEmpty/slotReady mark a ring slot's publication state: a producer
// reserves a slot by winning the CAS on tail, writes the id, then flips the
// slot to slotReady; the single consumer only advances past a slot once it
// observes slotReady, so a reader never sees a half-written id.
const (
	slotEmpty uint32 = iota
	slotReady
)

// readyQueue is the executor's lock-free multi-producer single-consumer
// ready list: any number of wakers push task ids concurrently, and the
// executor's own loop is the sole consumer. Capacity is fixed at
// construction and rounded up to a power of two.
type readyQueue struct {
	ids   []uint64
	state []uint32
	mask  uint64

	tail uint64 // atomically reserved by producers
	head uint64 // advanced only by the single consumer
}

func newReadyQueue(capacity int) *readyQueue {
	n := 1
	for n < capacity {
		n <<= 1
	}

	return &readyQueue{
		ids:   make([]uint64, n),
		state: make([]uint32, n),
		mask:  uint64(n - 1),
	}
}

// push enqueues id, returning false if the queue is full. Safe for
// concurrent callers.
func (q *readyQueue) push(id uint64) bool {
	for {
		tail := atomic.LoadUint64(&q.tail)
		head := atomic.LoadUint64(&q.head)

		if tail-head >= uint64(len(q.ids)) {
			return false
		}

		if atomic.CompareAndSwapUint64(&q.tail, tail, tail+1) {
			idx := tail & q.mask
			q.ids[idx] = id
			atomic.StoreUint32(&q.state[idx], slotReady)
			return true
		}
	}
}

// pop dequeues the next id in FIFO order. Must only be called by a single
// consumer (the executor's own goroutine/loop).
func (q *readyQueue) pop() (uint64, bool) {
	head := q.head
	if head == atomic.LoadUint64(&q.tail) {
		return 0, false
	}

	idx := head & q.mask
	if atomic.LoadUint32(&q.state[idx]) != slotReady {
		// a producer has reserved this slot but not yet published it.
		return 0, false
	}

	id := q.ids[idx]
	atomic.StoreUint32(&q.state[idx], slotEmpty)
	q.head = head + 1

	return id, true
}

// empty reports whether the queue currently has nothing ready to pop. Only
// meaningful as a snapshot; used by the idle path under interrupts-disabled.
func (q *readyQueue) empty() bool {
	return q.head == atomic.LoadUint64(&q.tail)
}

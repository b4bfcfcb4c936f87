package kernel

import "sync"

// Cell is a process-wide one-shot initialization slot (spec §9): the first
// Get call runs its init function and caches the result (or error) for
// every later call, no matter which subsystem asks for it first or how
// many times. This is how the dependency order in New below is enforced
// without a rigid, linear boot function: a Cell further down the chain
// simply calls Get on the Cells it depends on, and sync.Once guarantees
// each singleton is still built exactly once.
type Cell[T any] struct {
	once sync.Once
	val  T
	err  error
	init func() (T, error)
}

// NewCell builds a Cell that runs init on its first Get.
func NewCell[T any](init func() (T, error)) *Cell[T] {
	return &Cell[T]{init: init}
}

// Get returns the cell's singleton value, initializing it on first call.
func (c *Cell[T]) Get() (T, error) {
	c.once.Do(func() {
		c.val, c.err = c.init()
	})
	return c.val, c.err
}

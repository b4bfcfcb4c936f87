package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCPU counts idle-path calls instead of touching real hardware.
type fakeCPU struct {
	disables int
	halts    int
}

func (f *fakeCPU) DisableInterrupts()  { f.disables++ }
func (f *fakeCPU) EnableInterrupts()   {}
func (f *fakeCPU) HaltUntilInterrupt() { f.halts++ }

func TestExecutorRunsSpawnedTaskToCompletion(t *testing.T) {
	cpu := &fakeCPU{}
	e := New(cpu, nil)

	polls := 0
	e.Spawn(func(w *Waker) Status {
		polls++
		if polls < 3 {
			w.Signal()
			return Pending
		}
		return Complete
	})

	iterations := 0
	e.Run(func() bool {
		iterations++
		return e.TaskCount() == 0 || iterations > 100
	})

	assert.Equal(t, 3, polls)
	assert.Equal(t, 0, e.TaskCount())
}

func TestExecutorIdlesWhenReadyQueueEmpty(t *testing.T) {
	cpu := &fakeCPU{}
	e := New(cpu, nil)

	iterations := 0
	e.Run(func() bool {
		iterations++
		return iterations > 3
	})

	assert.Greater(t, cpu.halts, 0, "idle path must halt when nothing is ready")
}

func TestWakerIdempotentBetweenPolls(t *testing.T) {
	// invariant 3: signaling a task's waker N times between two polls
	// causes exactly one subsequent poll.
	cpu := &fakeCPU{}
	e := New(cpu, nil)

	polls := 0
	var tk *Task
	tk = e.Spawn(func(w *Waker) Status {
		polls++
		return Pending
	})

	// drain the initial scheduled poll.
	require.True(t, e.runOne())
	assert.Equal(t, 1, polls)

	for i := 0; i < 5; i++ {
		tk.Waker().Signal()
	}

	ran := 0
	for e.runOne() {
		ran++
	}

	assert.Equal(t, 1, ran, "five signals between polls must yield exactly one more poll")
	assert.Equal(t, 2, polls)
}

func TestReadyQueueFIFOOrder(t *testing.T) {
	q := newReadyQueue(4)

	require.True(t, q.push(1))
	require.True(t, q.push(2))
	require.True(t, q.push(3))

	var out []uint64
	for {
		id, ok := q.pop()
		if !ok {
			break
		}
		out = append(out, id)
	}

	assert.Equal(t, []uint64{1, 2, 3}, out)
}

func TestReadyQueueRejectsOverflow(t *testing.T) {
	q := newReadyQueue(2)

	assert.True(t, q.push(1))
	assert.True(t, q.push(2))
	assert.False(t, q.push(3), "capacity-2 queue must reject a third push")
}

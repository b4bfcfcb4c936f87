package input

import (
	"sync"

	"github.com/nucleuskernel/nucleus/klog"
	"github.com/nucleuskernel/nucleus/task"
)

// PS2Ports is the single byte-wide register the keyboard/mouse IRQ
// handlers read from; a thin seam over the real 0x60 data port so these
// handlers are constructible in tests without touching hardware.
type PS2Ports interface {
	ReadData() byte
}

// NewKeyboardIRQHandler returns the vector-33 handler: read one byte,
// push it into the pipeline's byte ring, and signal the decoding task's
// waker. Logs a one-time warning on the first dropped byte (spec §4.2).
func NewKeyboardIRQHandler(ports PS2Ports, p *KeyboardPipeline, w *task.Waker) func() {
	var warnOnce sync.Once

	return func() {
		before := p.Bytes.Dropped()
		p.Bytes.Push(ports.ReadData())

		if p.Bytes.Dropped() != before {
			warnOnce.Do(func() { klog.Warn("keyboard byte queue full, dropping input") })
		}

		w.Signal()
	}
}

// NewMouseIRQHandler returns the vector-44 handler, mirroring
// NewKeyboardIRQHandler for the mouse byte pipeline.
func NewMouseIRQHandler(ports PS2Ports, p *MousePipeline, w *task.Waker) func() {
	var warnOnce sync.Once

	return func() {
		before := p.Bytes.Dropped()
		p.Bytes.Push(ports.ReadData())

		if p.Bytes.Dropped() != before {
			warnOnce.Do(func() { klog.Warn("mouse byte queue full, dropping input") })
		}

		w.Signal()
	}
}

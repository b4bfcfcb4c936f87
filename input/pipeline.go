package input

import "github.com/nucleuskernel/nucleus/task"

// KeyboardPipeline owns the raw-byte ring an IRQ handler feeds, the
// decoder, and the event ring a consumer (shell, menu, desktop) drains.
type KeyboardPipeline struct {
	Bytes   *Ring[byte]
	Events  *Ring[KeyEvent]
	decoder KeyboardDecoder
}

// NewKeyboardPipeline allocates a pipeline with the given queue depths.
func NewKeyboardPipeline(byteCapacity, eventCapacity int) *KeyboardPipeline {
	return &KeyboardPipeline{
		Bytes:  NewRing[byte](byteCapacity),
		Events: NewRing[KeyEvent](eventCapacity),
	}
}

// Poll drains every currently-queued raw byte, decoding and forwarding
// completed events, then reports Pending (there is always more input to
// come; this pipeline never completes).
func (p *KeyboardPipeline) Poll(w *task.Waker) task.Status {
	for {
		b, ok := p.Bytes.Pop()
		if !ok {
			return task.Pending
		}

		if ev, ok := p.decoder.Feed(b); ok {
			p.Events.Push(ev)
		}
	}
}

// MousePipeline mirrors KeyboardPipeline for the 3-byte PS/2 mouse
// protocol.
type MousePipeline struct {
	Bytes   *Ring[byte]
	Events  *Ring[MouseEvent]
	decoder MouseDecoder
}

// NewMousePipeline allocates a pipeline with the given queue depths.
func NewMousePipeline(byteCapacity, eventCapacity int) *MousePipeline {
	return &MousePipeline{
		Bytes:  NewRing[byte](byteCapacity),
		Events: NewRing[MouseEvent](eventCapacity),
	}
}

// Poll drains every currently-queued raw byte into the packet assembler,
// forwarding completed packets, then reports Pending.
func (p *MousePipeline) Poll(w *task.Waker) task.Status {
	for {
		b, ok := p.Bytes.Pop()
		if !ok {
			return task.Pending
		}

		if ev, ok := p.decoder.Feed(b); ok {
			p.Events.Push(ev)
		}
	}
}

//go:build amd64

// Package kernel wires every process-wide singleton named in spec §9
// (frame allocator, page mapper, heap, GDT/IDT, PIC, IRQ dispatcher,
// executor, input pipelines, metrics registry, network stack) behind
// lazily-initialized Cells, built in the dependency order spec §2
// requires: frame allocator -> paging -> heap -> descriptor tables -> IRQ
// dispatch -> executor -> input pipelines -> NIC -> network stack. This
// mirrors the teacher's single CPU/ENET struct instances owned by board
// init code, generalized from one hand-written startup function per board
// to a declarative dependency graph that any accessor can trigger.
package kernel

import (
	"errors"

	"github.com/nucleuskernel/nucleus/boot"
	"github.com/nucleuskernel/nucleus/console"
	"github.com/nucleuskernel/nucleus/input"
	"github.com/nucleuskernel/nucleus/klog"
	"github.com/nucleuskernel/nucleus/metrics"
	"github.com/nucleuskernel/nucleus/mm/frame"
	"github.com/nucleuskernel/nucleus/mm/heap"
	"github.com/nucleuskernel/nucleus/mm/paging"
	"github.com/nucleuskernel/nucleus/net/ipv4"
	"github.com/nucleuskernel/nucleus/net/nic"
	"github.com/nucleuskernel/nucleus/net/stack"
	"github.com/nucleuskernel/nucleus/serial"
	"github.com/nucleuskernel/nucleus/task"
	"github.com/nucleuskernel/nucleus/x86"
	"github.com/nucleuskernel/nucleus/x86/reg"
)

// ErrNoNIC is returned by Net when Config did not supply a NIC driver.
var ErrNoNIC = errors.New("kernel: no NIC configured")

// Config carries the board-specific inputs kernel.New cannot derive on its
// own: the physical memory map, the paging backend, and the hardware hooks
// the idle path and NIC need.
type Config struct {
	MemoryMap        []boot.MemoryMapEntry
	PagingMemory     paging.Memory
	PML4Phys         uint64
	HeapStart        uint64
	HeapSize         uint64
	HeapPolicy       heap.Policy
	DoubleFaultStack uint64
	CPU              task.CPU
	NIC              nic.Driver
	LocalIP          ipv4.Addr

	// NICIRQLine is the IRQ number (0-15) the NIC raises, or 0 if the
	// device has no discrete hardware IRQ line (e.g. the loopback driver).
	// When set, Boot registers a handler that signals the stack's poll
	// task and unmasks the line; otherwise the stack relies solely on its
	// own busy-poll fallback (net/stack.Stack.poll).
	NICIRQLine int

	// SerialBase is the I/O port base of a 16550-compatible UART to mirror
	// klog output to (spec §6), e.g. 0x3f8 for COM1. Zero disables serial
	// logging; klog then only reaches whatever console.Sink a caller wires
	// in separately.
	SerialBase uint16
}

// Kernel holds every process-wide singleton as a lazily-initialized Cell.
// Nothing is built until something calls the corresponding accessor (or a
// dependent accessor pulls it in transitively).
type Kernel struct {
	cfg Config

	frames     *Cell[*frame.Allocator]
	mapper     *Cell[*paging.Mapper]
	heap       *Cell[*heap.Heap]
	gdt        *Cell[*x86.GDT]
	idt        *Cell[*x86.IDT]
	pic        *Cell[*x86.PIC]
	dispatcher *Cell[*x86.Dispatcher]
	executor   *Cell[*task.Executor]
	keyboard   *Cell[*input.KeyboardPipeline]
	mouse      *Cell[*input.MousePipeline]
	metrics    *Cell[*metrics.Registry]
	net        *Cell[*stack.Stack]

	// keyboardTask/mouseTask are set once, inside the keyboard/mouse
	// Cells' init functions, when their decoding Poll is spawned onto the
	// executor. Boot reads them afterward to hand their Wakers to the IRQ
	// handlers; safe without further synchronization since Cell.Get's
	// sync.Once establishes happens-before ordering between the write here
	// and any later read.
	keyboardTask *task.Task
	mouseTask    *task.Task
}

// New builds a Kernel's dependency graph against cfg. No subsystem runs
// until its accessor (or a dependent's) is first called.
func New(cfg Config) *Kernel {
	k := &Kernel{cfg: cfg}

	k.frames = NewCell(func() (*frame.Allocator, error) {
		return frame.New(cfg.MemoryMap), nil
	})

	k.mapper = NewCell(func() (*paging.Mapper, error) {
		frames, err := k.frames.Get()
		if err != nil {
			return nil, err
		}
		return paging.New(cfg.PagingMemory, frames, cfg.PML4Phys), nil
	})

	k.heap = NewCell(func() (*heap.Heap, error) {
		mapper, err := k.mapper.Get()
		if err != nil {
			return nil, err
		}
		return heap.Init(mapper, cfg.HeapStart, cfg.HeapSize, cfg.HeapPolicy)
	})

	k.gdt = NewCell(func() (*x86.GDT, error) {
		g := &x86.GDT{}
		g.Build(cfg.DoubleFaultStack)
		g.Load()
		return g, nil
	})

	k.idt = NewCell(func() (*x86.IDT, error) {
		t := &x86.IDT{}
		t.Build()
		return t, nil
	})

	k.pic = NewCell(func() (*x86.PIC, error) {
		p := &x86.PIC{MasterOffset: x86.IRQBase, SlaveOffset: x86.IRQBase + 8}
		p.Remap()
		return p, nil
	})

	k.dispatcher = NewCell(func() (*x86.Dispatcher, error) {
		gdt, err := k.gdt.Get()
		if err != nil {
			return nil, err
		}
		idt, err := k.idt.Get()
		if err != nil {
			return nil, err
		}

		d := &x86.Dispatcher{}
		x86.InstallExceptionHandlers(idt, gdt, d)
		idt.Load()
		return d, nil
	})

	k.executor = NewCell(func() (*task.Executor, error) {
		d, err := k.dispatcher.Get()
		if err != nil {
			return nil, err
		}
		return task.New(cfg.CPU, d), nil
	})

	k.keyboard = NewCell(func() (*input.KeyboardPipeline, error) {
		ex, err := k.executor.Get()
		if err != nil {
			return nil, err
		}
		p := input.NewKeyboardPipeline(64, 32)
		k.keyboardTask = ex.Spawn(p.Poll)
		return p, nil
	})

	k.mouse = NewCell(func() (*input.MousePipeline, error) {
		ex, err := k.executor.Get()
		if err != nil {
			return nil, err
		}
		p := input.NewMousePipeline(64, 32)
		k.mouseTask = ex.Spawn(p.Poll)
		return p, nil
	})

	k.metrics = NewCell(func() (*metrics.Registry, error) {
		return metrics.New(), nil
	})

	k.net = NewCell(func() (*stack.Stack, error) {
		if cfg.NIC == nil {
			return nil, ErrNoNIC
		}

		ex, err := k.executor.Get()
		if err != nil {
			return nil, err
		}
		reg, err := k.metrics.Get()
		if err != nil {
			return nil, err
		}

		return stack.New(cfg.NIC, cfg.LocalIP, reg, ex), nil
	})

	return k
}

func (k *Kernel) Frames() (*frame.Allocator, error) { return k.frames.Get() }
func (k *Kernel) Mapper() (*paging.Mapper, error) { return k.mapper.Get() }
func (k *Kernel) Heap() (*heap.Heap, error) { return k.heap.Get() }
func (k *Kernel) GDT() (*x86.GDT, error) { return k.gdt.Get() }
func (k *Kernel) IDT() (*x86.IDT, error) { return k.idt.Get() }
func (k *Kernel) PIC() (*x86.PIC, error) { return k.pic.Get() }
func (k *Kernel) Dispatcher() (*x86.Dispatcher, error) { return k.dispatcher.Get() }
func (k *Kernel) Executor() (*task.Executor, error) { return k.executor.Get() }
func (k *Kernel) Keyboard() (*input.KeyboardPipeline, error) { return k.keyboard.Get() }
func (k *Kernel) Mouse() (*input.MousePipeline, error) { return k.mouse.Get() }
func (k *Kernel) Metrics() (*metrics.Registry, error) { return k.metrics.Get() }
func (k *Kernel) Net() (*stack.Stack, error) { return k.net.Get() }

// Boot resolves every singleton in dependency order, so a boot-time caller
// gets one error back covering the whole chain instead of discovering
// failures lazily one accessor at a time. It then wires the keyboard,
// mouse, timer, and (if configured) NIC IRQ contracts onto the dispatcher
// and unmasks exactly those PIC lines (spec §4.2): every other line stays
// masked forever, and every line unmasked here has a handler that issues
// EOI before returning, since a line left un-EOI'd freezes further
// delivery and, for the timer's highest-priority line, every lower-
// priority line behind it.
func (k *Kernel) Boot() error {
	if k.cfg.SerialBase != 0 {
		uart := serial.New(k.cfg.SerialBase, reg.PortIO{})
		uart.Init()
		klog.SetDefault(klog.New(console.NullSink{}, uart, klog.LevelInfo))
	}

	pic, err := k.PIC()
	if err != nil {
		return err
	}
	if _, err := k.Heap(); err != nil {
		return err
	}
	if _, err := k.Executor(); err != nil {
		return err
	}

	kb, err := k.Keyboard()
	if err != nil {
		return err
	}
	ms, err := k.Mouse()
	if err != nil {
		return err
	}

	idt, err := k.IDT()
	if err != nil {
		return err
	}
	disp, err := k.Dispatcher()
	if err != nil {
		return err
	}
	metricsReg, err := k.Metrics()
	if err != nil {
		return err
	}

	ps2 := x86.PS2DataPort{}
	kbHandler := input.NewKeyboardIRQHandler(ps2, kb, k.keyboardTask.Waker())
	msHandler := input.NewMouseIRQHandler(ps2, ms, k.mouseTask.Waker())

	x86.InstallIRQHandler(idt, disp, x86.VecTimer, func() {
		metricsReg.TimerTicks.Inc()
		pic.EOI(x86.VecTimer - x86.IRQBase)
	})
	x86.InstallIRQHandler(idt, disp, x86.VecKeyboard, func() {
		kbHandler()
		pic.EOI(x86.VecKeyboard - x86.IRQBase)
	})
	x86.InstallIRQHandler(idt, disp, x86.VecMouse, func() {
		msHandler()
		pic.EOI(x86.VecMouse - x86.IRQBase)
	})
	idt.Load()

	pic.SetMasked(x86.VecTimer-x86.IRQBase, false)
	pic.SetMasked(x86.VecKeyboard-x86.IRQBase, false)
	pic.SetMasked(x86.VecMouse-x86.IRQBase, false)

	st, err := k.Net()
	if err != nil {
		return err
	}

	if line := k.cfg.NICIRQLine; line > 0 {
		x86.InstallIRQHandler(idt, disp, x86.IRQBase+line, func() {
			st.Waker().Signal()
			pic.EOI(line)
		})
		idt.Load()
		pic.SetMasked(line, false)
	}

	return nil
}

//go:build amd64

// Package x86 provides the processor-control primitives a freestanding
// amd64 kernel needs: segmentation (GDT/TSS), the interrupt descriptor
// table, the legacy 8259 PIC, and the handful of privileged instructions
// everything else is built on.
//
// This package is only meaningful when linked into a freestanding kernel
// image running in ring 0; several functions below are backed by
// assembly in cpu_amd64.s and must never be called from a hosted process.
package x86

// defined in cpu_amd64.s
func cli()
func sti()
func hlt()
func lgdt(addr uintptr)
func lidt(addr uintptr)
func ltr(selector uint16)
func readCR2() uint64
func readCR3() uint64
func loadCR3(val uint64)
func invlpg(addr uint64)
func reloadSegments()
func stihlt()

// DisableInterrupts masks maskable interrupts (CLI).
func DisableInterrupts() {
	cli()
}

// EnableInterrupts unmasks maskable interrupts (STI).
func EnableInterrupts() {
	sti()
}

// Halt stops the processor until the next interrupt (HLT). Interrupts must
// already be enabled by the caller, or the processor never wakes.
func Halt() {
	hlt()
}

// HaltUntilInterrupt atomically re-enables interrupts and halts (STI;HLT
// with nothing in between), the idiom the executor's idle path needs to
// avoid a lost wakeup between checking the ready queue and parking the CPU.
func HaltUntilInterrupt() {
	stihlt()
}

// ReadFaultAddress returns CR2, the linear address that caused the most
// recent page fault.
func ReadFaultAddress() uint64 {
	return readCR2()
}

// ReadPageTableBase returns CR3, the physical address of the active PML4.
func ReadPageTableBase() uint64 {
	return readCR3()
}

// LoadPageTableBase installs a new PML4 physical address into CR3, flushing
// the TLB.
func LoadPageTableBase(addr uint64) {
	loadCR3(addr)
}

// InvalidatePage flushes a single TLB entry for the page containing addr.
func InvalidatePage(addr uint64) {
	invlpg(addr)
}

// WithInterruptsDisabled runs fn with interrupts masked, restoring the prior
// state on return. This is the only locking primitive safe to use from code
// that may itself run with interrupts disabled (the executor's idle path,
// spinlock-protected globals touched by IRQ-acknowledging code).
func WithInterruptsDisabled(fn func()) {
	cli()
	defer sti()
	fn()
}

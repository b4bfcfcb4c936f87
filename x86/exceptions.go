//go:build amd64

package x86

import "github.com/nucleuskernel/nucleus/klog"

// haltFn is swapped out in tests so the exception handlers' logging logic
// can be exercised without ever executing a real HLT instruction.
var haltFn = Halt

// InstallExceptionHandlers registers the architectural exception contracts
// from spec §4.2 into d, and configures the double-fault vector to run on
// the GDT's IST[0] stack. Call after gdt.Build and before idt.Load.
func InstallExceptionHandlers(idt *IDT, gdt *GDT, d *Dispatcher) {
	reg := func(vector int, ist uint8, h Handler) {
		d.Register(vector, h)
		idt.Install(vector, ist, InterruptGate, trampolineAddr(vector))
	}

	reg(VecBreakpoint, 0, func() {
		klog.Info("exception: breakpoint")
	})

	reg(VecInvalidOpcode, 0, func() {
		klog.Error("exception: invalid opcode", "rip", LastRegisters().RIP)
		haltFn()
	})

	reg(VecGPFault, 0, func() {
		r := LastRegisters()
		klog.Error("exception: general protection fault", "error_code", r.ErrorCode, "rip", r.RIP)
		haltFn()
	})

	reg(VecPageFault, 0, func() {
		r := LastRegisters()
		klog.Error("exception: page fault", "fault_addr", ReadFaultAddress(), "error_code", r.ErrorCode)
		haltFn()
	})

	// Double fault runs on its own IST stack (IST index 1, since IST slots
	// are 1-based in the descriptor format though the GDT struct's IST
	// array is 0-indexed; slot 0 of GDT.IST corresponds to IST index 1).
	reg(VecDoubleFault, 1, func() {
		klog.Error("exception: double fault")
		haltFn()
	})

	_ = gdt
}

// trampolineAddr returns the entry point address for a vector's trampoline
// stub: its slot, vector*trampolineStride bytes into the stub block whose
// base BuildTrampolines recorded (see trampoline.go).
func trampolineAddr(vector int) uintptr {
	return sharedTrampolineBase + uintptr(vector)*trampolineStride
}

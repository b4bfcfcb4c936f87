//go:build amd64

package x86

// IdleControl adapts the package-level privileged instructions to the small
// interface the executor's idle path wants (task.CPU), keeping the
// architecture-specific primitives out of the task package.
type IdleControl struct{}

func (IdleControl) DisableInterrupts() { DisableInterrupts() }
func (IdleControl) EnableInterrupts()  { EnableInterrupts() }
func (IdleControl) HaltUntilInterrupt() { HaltUntilInterrupt() }

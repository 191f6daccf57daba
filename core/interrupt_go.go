//go:build !tinygo

package core

// irqState stands in for the saved interrupt mask on regular Go
type irqState uintptr

// disableInterrupts is a no-op on regular Go; simulated ISRs run on
// ordinary goroutines and are serialized by the spinlock mutex alone.
func disableInterrupts() irqState {
	return 0
}

// restoreInterrupts is a no-op on regular Go
func restoreInterrupts(state irqState) {}

// inInterrupt always reports task context on regular Go. Simulated ISRs
// call the explicit FromISR variants instead.
func inInterrupt() bool {
	return false
}

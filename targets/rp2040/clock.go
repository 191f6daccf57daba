//go:build rp2040

package main

import (
	"runtime/volatile"
	"unsafe"

	"gotick/core"
)

// RP2040 Timer peripheral memory map
const (
	timerBase     = 0x40054000
	timerTIMERAWL = timerBase + 0x28 // Raw timer low word
)

var timerRAWL = (*volatile.Register32)(unsafe.Pointer(uintptr(timerTIMERAWL)))

// hardwareTicks reads the 1MHz TIMER counter. The low word wraps every
// 71.6 minutes, exactly like core.Tick.
type hardwareTicks struct{}

func (hardwareTicks) Now() core.Tick { return core.Tick(timerRAWL.Get()) }
func (hardwareTicks) TickHz() uint32 { return core.TimerFreq }
func (hardwareTicks) SleepTicks(n core.Tick) {
	start := timerRAWL.Get()
	for core.Tick(timerRAWL.Get()-start) < n {
	}
}

// UpdateSystemTime publishes the hardware time to core.SystemTicks.
// Called from the main loop of each core.
func UpdateSystemTime() {
	core.SetTime(timerRAWL.Get())
}

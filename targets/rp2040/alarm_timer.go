//go:build rp2040

package main

import (
	"device/rp"
	"runtime/interrupt"
	"runtime/volatile"
	"unsafe"

	"gotick/core"
)

// TIMER alarm registers
const (
	timerALARM0 = timerBase + 0x10 // ALARM0..3 at +4 each
	timerARMED  = timerBase + 0x20
	timerINTR   = timerBase + 0x34
	timerINTE   = timerBase + 0x38
	timerINTF   = timerBase + 0x3C
)

var (
	timerArmed = (*volatile.Register32)(unsafe.Pointer(uintptr(timerARMED)))
	timerIntR  = (*volatile.Register32)(unsafe.Pointer(uintptr(timerINTR)))
	timerIntE  = (*volatile.Register32)(unsafe.Pointer(uintptr(timerINTE)))
	timerIntF  = (*volatile.Register32)(unsafe.Pointer(uintptr(timerINTF)))
)

// timerAlarm implements core.AlarmPeripheral on one of the four TIMER
// compare registers. The TIMER itself never stops; the alarm keeps a
// virtual counter as an offset from the raw time.
type timerAlarm struct {
	n       uint8
	compare *volatile.Register32
	claimed bool

	divider    uint32
	dir        core.CountDirection
	counter    core.Tick
	target     core.Tick // compare value in counter units
	autoReload bool
	base       uint32 // raw time of counter zero
	running    bool
	isr        core.ISRHandler
}

var timerAlarms [4]timerAlarm

func initTimerAlarms() []core.AlarmPeripheral {
	hw := make([]core.AlarmPeripheral, len(timerAlarms))
	for i := range timerAlarms {
		a := &timerAlarms[i]
		a.n = uint8(i)
		a.divider = 1
		a.compare = (*volatile.Register32)(unsafe.Pointer(uintptr(timerALARM0 + 4*i)))
		hw[i] = a
	}
	interrupt.New(rp.IRQ_TIMER_IRQ_0, func(interrupt.Interrupt) { timerAlarms[0].fire() }).Enable()
	interrupt.New(rp.IRQ_TIMER_IRQ_1, func(interrupt.Interrupt) { timerAlarms[1].fire() }).Enable()
	interrupt.New(rp.IRQ_TIMER_IRQ_2, func(interrupt.Interrupt) { timerAlarms[2].fire() }).Enable()
	interrupt.New(rp.IRQ_TIMER_IRQ_3, func(interrupt.Interrupt) { timerAlarms[3].fire() }).Enable()
	return hw
}

func (a *timerAlarm) ID() uint8 { return a.n }

func (a *timerAlarm) TryClaim() bool {
	state := interrupt.Disable()
	defer interrupt.Restore(state)
	if a.claimed {
		return false
	}
	a.claimed = true
	return true
}

func (a *timerAlarm) Unclaim() {
	state := interrupt.Disable()
	a.claimed = false
	interrupt.Restore(state)
}

func (a *timerAlarm) Configure(cfg core.AlarmConfig) {
	a.divider = cfg.Divider
	a.dir = cfg.Direction
	a.autoReload = cfg.AutoReload
}

func (a *timerAlarm) SetCounter(v core.Tick) { a.counter = v }
func (a *timerAlarm) SetCompare(v core.Tick) { a.target = v }
func (a *timerAlarm) SetAutoReload(enabled bool) { a.autoReload = enabled }

// span is the distance from counter to compare in raw microseconds
func (a *timerAlarm) span() uint32 {
	d := a.target - a.counter
	if a.dir == core.CountDown {
		d = a.counter - a.target
	}
	return uint32(d) * a.divider
}

func (a *timerAlarm) Start() {
	a.base = timerRAWL.Get()
	a.running = true
	a.program(a.base + a.span())
}

// program arms the compare register. The hardware only matches on
// equality, so a deadline already behind the counter is forced.
func (a *timerAlarm) program(at uint32) {
	a.compare.Set(at)
	if int32(timerRAWL.Get()-at) >= 0 {
		timerIntF.SetBits(1 << a.n)
	}
}

func (a *timerAlarm) Pause() {
	a.running = false
	timerArmed.Set(1 << a.n)
	timerIntF.ClearBits(1 << a.n)
}

func (a *timerAlarm) EnableInterrupt(enabled bool) {
	if enabled {
		timerIntE.SetBits(1 << a.n)
	} else {
		timerIntE.ClearBits(1 << a.n)
	}
}

func (a *timerAlarm) ClearInterrupt() {
	timerIntF.ClearBits(1 << a.n)
	timerIntR.Set(1 << a.n)
}

func (a *timerAlarm) RegisterISR(h core.ISRHandler) {
	state := interrupt.Disable()
	a.isr = h
	interrupt.Restore(state)
}

// fire reloads a periodic alarm one period after the previous match, then
// runs the handler
func (a *timerAlarm) fire() {
	if a.running && a.autoReload {
		a.base += a.span()
		a.program(a.base + a.span())
	}
	if a.isr != nil {
		a.isr()
	} else {
		a.ClearInterrupt()
	}
}

//go:build rp2040

package main

import (
	"device/arm"
	"device/rp"
	"runtime/interrupt"
	"runtime/volatile"
	"unsafe"

	"github.com/juju/errors"

	"gotick/core"
)

// NVIC set/clear pending, per core
const (
	nvicISPR = 0xE000E200
	nvicICPR = 0xE000E280
)

var (
	nvicSetPending   = (*volatile.Register32)(unsafe.Pointer(uintptr(nvicISPR)))
	nvicClearPending = (*volatile.Register32)(unsafe.Pointer(uintptr(nvicICPR)))
)

// sioMailbox signals the other core through the SIO FIFO and the calling
// core by pending its own FIFO interrupt in the NVIC. It implements
// core.Mailbox, core.InterruptController and core.Yielder.
type sioMailbox struct {
	handlers [2]core.ISRHandler
	yield    [2]volatile.Register32
}

var mailbox sioMailbox

func currentCore() uint8 {
	return uint8(rp.SIO.CPUID.Get())
}

func sioIRQ(core uint8) uint32 {
	if core == 0 {
		return rp.IRQ_SIO_IRQ_PROC0
	}
	return rp.IRQ_SIO_IRQ_PROC1
}

func (m *sioMailbox) Trigger(target uint8) {
	if target == currentCore() {
		nvicSetPending.Set(1 << sioIRQ(target))
		return
	}
	// a full FIFO already has the target's interrupt raised
	if rp.SIO.FIFO_ST.Get()&rp.SIO_FIFO_ST_RDY != 0 {
		rp.SIO.FIFO_WR.Set(uint32(target))
	}
	arm.Asm("sev")
}

// ClearPending drains this core's FIFO, which drops the level interrupt,
// and clears a self-pended one
func (m *sioMailbox) ClearPending(target uint8) {
	for rp.SIO.FIFO_ST.Get()&rp.SIO_FIFO_ST_VLD != 0 {
		rp.SIO.FIFO_RD.Get()
	}
	rp.SIO.FIFO_ST.Set(0xff)
	nvicClearPending.Set(1 << sioIRQ(target))
}

// RegisterISR installs h on the calling core, which must be target
func (m *sioMailbox) RegisterISR(target uint8, h core.ISRHandler) error {
	if target > 1 || target != currentCore() {
		return errors.Annotatef(core.ErrInvalidArgument, "sio mailbox: core %d from core %d", target, currentCore())
	}
	state := interrupt.Disable()
	m.handlers[target] = h
	interrupt.Restore(state)

	if target == 0 {
		interrupt.New(rp.IRQ_SIO_IRQ_PROC0, func(interrupt.Interrupt) { mailbox.run(0) }).Enable()
	} else {
		interrupt.New(rp.IRQ_SIO_IRQ_PROC1, func(interrupt.Interrupt) { mailbox.run(1) }).Enable()
	}
	return nil
}

func (m *sioMailbox) run(target uint8) {
	if h := m.handlers[target]; h != nil {
		h()
	} else {
		m.ClearPending(target)
	}
}

// RequestYieldFromISR marks the core; its loop yields on the next pass
func (m *sioMailbox) RequestYieldFromISR(target uint8) {
	m.yield[target&1].Set(1)
}

// takeYield reports and clears a pending yield request for target
func (m *sioMailbox) takeYield(target uint8) bool {
	if m.yield[target&1].Get() == 0 {
		return false
	}
	m.yield[target&1].Set(0)
	return true
}

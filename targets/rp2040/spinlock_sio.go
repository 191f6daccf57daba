//go:build rp2040

package main

import (
	"runtime/interrupt"
	"runtime/volatile"
	"unsafe"

	"gotick/core"
)

// SIO hardware spinlocks: reading claims (non-zero on success), any write
// releases
const sioSpinlockBase = 0xd0000100

// Spinlocks 24..31 are outside the ranges reserved by the SDK and the
// runtime. The alarm pool hands out the tail of the range.
const (
	signalSpinlock    = 24
	timingSpinlock    = 25
	firstPoolSpinlock = 26
	lastPoolSpinlock  = 31
)

var nextPoolSpinlock uint32 = firstPoolSpinlock

// allocSIOSpinlock hands out one pool spinlock per call. Bindings are only
// created from core 0, so the counter needs no lock. Once the range is used
// up it falls back to a core.Spinlock.
func allocSIOSpinlock() core.CriticalSection {
	if nextPoolSpinlock > lastPoolSpinlock {
		return &core.Spinlock{}
	}
	n := nextPoolSpinlock
	nextPoolSpinlock++
	return newSIOSpinlock(n)
}

// sioSpinlock is a core.CriticalSection over one SIO hardware spinlock
type sioSpinlock struct {
	reg   *volatile.Register32
	saved interrupt.State
}

func newSIOSpinlock(n uint32) *sioSpinlock {
	return &sioSpinlock{
		reg: (*volatile.Register32)(unsafe.Pointer(uintptr(sioSpinlockBase + 4*n))),
	}
}

func (l *sioSpinlock) Enter() {
	state := interrupt.Disable()
	for l.reg.Get() == 0 {
	}
	l.saved = state
}

func (l *sioSpinlock) Exit() {
	state := l.saved
	l.reg.Set(1)
	interrupt.Restore(state)
}

func (l *sioSpinlock) EnterISR() {
	for l.reg.Get() == 0 {
	}
}

func (l *sioSpinlock) ExitISR() {
	l.reg.Set(1)
}

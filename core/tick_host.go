//go:build !tinygo

package core

import (
	"math/bits"
	"time"

	"github.com/aristanetworks/goarista/monotime"
)

// HostTicks is a free-running counter derived from the host monotonic
// clock. It truncates to 32 bits, so it wraps exactly like the silicon
// counter it stands in for.
type HostTicks struct {
	hz     uint32
	origin uint64
}

// NewHostTicks creates a counter at hz whose zero is the current instant
func NewHostTicks(hz uint32) *HostTicks {
	if hz == 0 {
		hz = TimerFreq
	}
	return &HostTicks{hz: hz, origin: monotime.Now()}
}

// NewHostTicksAt creates a counter whose current value is start. Tests use
// it to sit just below the wrap point.
func NewHostTicksAt(hz uint32, start Tick) *HostTicks {
	h := NewHostTicks(hz)
	h.origin -= uint64(start) * 1e9 / uint64(h.hz)
	return h
}

func (h *HostTicks) Now() Tick {
	ns := monotime.Now() - h.origin
	hi, lo := bits.Mul64(ns, uint64(h.hz))
	q, _ := bits.Div64(hi, lo, 1e9)
	return Tick(q)
}

func (h *HostTicks) TickHz() uint32 { return h.hz }

// Period returns the wall duration of one tick
func (h *HostTicks) Period() time.Duration {
	return time.Second / time.Duration(h.hz)
}

// SleepTicks blocks the calling goroutine for n ticks
func (h *HostTicks) SleepTicks(n Tick) {
	time.Sleep(time.Duration(n) * h.Period())
}

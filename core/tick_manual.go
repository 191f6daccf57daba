package core

import "sync/atomic"

// ManualTicks is a counter advanced explicitly. It backs the simulator and
// the tests, and doubles as a Sleeper that advances itself instead of
// blocking.
type ManualTicks struct {
	now    atomic.Uint32
	hz     uint32
	sleeps atomic.Uint32
}

// NewManualTicks creates a counter starting at start and reporting hz
func NewManualTicks(start Tick, hz uint32) *ManualTicks {
	m := &ManualTicks{hz: hz}
	m.now.Store(uint32(start))
	return m
}

func (m *ManualTicks) Now() Tick { return Tick(m.now.Load()) }

func (m *ManualTicks) TickHz() uint32 { return m.hz }

// Set jumps the counter to t
func (m *ManualTicks) Set(t Tick) { m.now.Store(uint32(t)) }

// Advance moves the counter forward by n and returns the new value
func (m *ManualTicks) Advance(n Tick) Tick {
	return Tick(m.now.Add(uint32(n)))
}

// SleepTicks advances the counter by n and counts the call
func (m *ManualTicks) SleepTicks(n Tick) {
	m.sleeps.Add(1)
	m.Advance(n)
}

// Sleeps returns how many times SleepTicks was called
func (m *ManualTicks) Sleeps() uint32 { return m.sleeps.Load() }

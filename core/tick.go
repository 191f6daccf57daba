package core

import "sync/atomic"

// Tick is a reading of the free-running hardware counter. It wraps at 2^32,
// so two Ticks must only be compared through TickElapsed or TickIsBefore.
type Tick uint32

// Timer frequencies for common MCUs
const (
	TimerFreq = 1000000 // 1MHz default timer frequency (RP2040 TIMER)
)

// TickSource returns the current counter value. Implementations must be
// callable from both task and interrupt context.
type TickSource interface {
	Now() Tick
}

// TickRate is implemented by sources that know their own frequency.
type TickRate interface {
	TickHz() uint32
}

// Sleeper suspends the calling task for n ticks.
type Sleeper interface {
	SleepTicks(n Tick)
}

// TickElapsed returns the ticks between start and now across a wrap.
func TickElapsed(start, now Tick) Tick {
	return now - start
}

// TickIsBefore reports whether a is earlier than b, assuming the two are
// less than half the counter range apart.
func TickIsBefore(a, b Tick) bool {
	return int32(a-b) < 0
}

var (
	systemTicks atomic.Uint32
	bootTime    uint32 // Tick at TimerInit for uptime calculation
)

// GetTime returns the current system time in timer ticks
func GetTime() uint32 {
	return systemTicks.Load()
}

// SetTime sets the current system time (for testing/hardware integration)
func SetTime(ticks uint32) {
	systemTicks.Store(ticks)
}

// TimerInit records the boot tick
func TimerInit() {
	bootTime = GetTime()
}

// GetUptime returns the ticks since TimerInit, valid across one wrap
func GetUptime() uint32 {
	return uint32(TickElapsed(Tick(bootTime), Tick(GetTime())))
}

type systemTickSource struct{}

func (systemTickSource) Now() Tick      { return Tick(GetTime()) }
func (systemTickSource) TickHz() uint32 { return TimerFreq }

// SystemTicks reads the process-wide counter maintained with SetTime.
var SystemTicks TickSource = systemTickSource{}

// tickHz returns the rate of src, falling back to TimerFreq.
func tickHz(src interface{}) uint32 {
	if r, ok := src.(TickRate); ok && r.TickHz() != 0 {
		return r.TickHz()
	}
	return TimerFreq
}

// TimerFromUS converts microseconds to TimerFreq ticks
func TimerFromUS(us uint32) uint32 {
	return uint32(uint64(us) * TimerFreq / 1000000)
}

// TimerToUS converts TimerFreq ticks to microseconds
func TimerToUS(ticks uint32) uint32 {
	return uint32(uint64(ticks) * 1000000 / TimerFreq)
}

// TicksFromUS converts microseconds to ticks at hz, rounding up so a
// non-zero duration never becomes zero ticks.
func TicksFromUS(us uint32, hz uint32) Tick {
	return Tick((uint64(us)*uint64(hz) + 999999) / 1000000)
}

// TicksFromMS converts milliseconds to ticks at hz, rounding up.
func TicksFromMS(ms uint32, hz uint32) Tick {
	return Tick((uint64(ms)*uint64(hz) + 999) / 1000)
}

// TicksToMS converts ticks at hz to whole milliseconds.
func TicksToMS(t Tick, hz uint32) uint32 {
	return uint32(uint64(t) * 1000 / uint64(hz))
}

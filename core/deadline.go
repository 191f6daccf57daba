package core

// DeadlineTimer is a countdown measured against a TickSource. It is a
// plain value owned by one task: embed it, copy it, re-arm it at will.
// Only the most recent Arm is tracked.
type DeadlineTimer struct {
	src     TickSource
	sleeper Sleeper

	start      Tick
	timeout    Tick
	lastPolled Tick
}

// NewDeadlineTimer returns a zeroed timer reading src. sleeper may be nil,
// which disables the polling courtesy in HasExpired.
func NewDeadlineTimer(src TickSource, sleeper Sleeper) DeadlineTimer {
	return DeadlineTimer{src: src, sleeper: sleeper}
}

// Init resets the timer to the never-armed state
func (d *DeadlineTimer) Init() {
	d.start = 0
	d.timeout = 0
	d.lastPolled = 0
}

// Arm starts a countdown of timeout ticks from now, replacing any previous
// deadline. A zero timeout is already expired.
func (d *DeadlineTimer) Arm(timeout Tick) {
	d.start = d.src.Now()
	d.timeout = timeout
	// the first poll never counts as a repeat
	d.lastPolled = d.start - 1
}

// ArmMS arms the timer for ms milliseconds at the source rate
func (d *DeadlineTimer) ArmMS(ms uint32) {
	d.Arm(TicksFromMS(ms, tickHz(d.src)))
}

// ArmSeconds arms the timer for s seconds at the source rate
func (d *DeadlineTimer) ArmSeconds(s uint32) {
	d.Arm(Tick(uint64(s) * uint64(tickHz(d.src))))
}

// HasExpired reports whether the deadline has passed.
//
// Callers of this API historically spin on it, so a poll that lands on the
// same tick as the previous one for an unexpired deadline sleeps for one
// tick before returning false. This is the only place in the package that
// may block.
func (d *DeadlineTimer) HasExpired() bool {
	now := d.src.Now()
	expired := TickElapsed(d.start, now) >= d.timeout
	if !expired && now == d.lastPolled && d.sleeper != nil {
		d.sleeper.SleepTicks(1)
	}
	d.lastPolled = now
	return expired
}

// Remaining returns the ticks left before expiry, or 0 once expired
func (d *DeadlineTimer) Remaining() Tick {
	elapsed := TickElapsed(d.start, d.src.Now())
	if elapsed >= d.timeout {
		return 0
	}
	return d.timeout - elapsed
}

// RemainingMS is Remaining converted to milliseconds
func (d *DeadlineTimer) RemainingMS() uint32 {
	return TicksToMS(d.Remaining(), tickHz(d.src))
}

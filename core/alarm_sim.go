package core

import "sync"

// SimAlarm models a counter/compare alarm peripheral. The counter advances
// once per Divider input clocks fed through Step; a match raises the
// interrupt (when enabled) and calls the registered ISR synchronously.
type SimAlarm struct {
	id uint8

	mu         sync.Mutex
	claimed    bool
	cfg        AlarmConfig
	counter    Tick
	compare    Tick
	load       Tick
	prescale   uint32
	running    bool
	autoReload bool
	intEnabled bool
	pending    bool
	isr        ISRHandler
	matches    uint32
}

// NewSimAlarm creates an unclaimed peripheral with the given id
func NewSimAlarm(id uint8) *SimAlarm {
	return &SimAlarm{id: id, cfg: AlarmConfig{Divider: 1}}
}

func (a *SimAlarm) ID() uint8 { return a.id }

func (a *SimAlarm) TryClaim() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.claimed {
		return false
	}
	a.claimed = true
	return true
}

func (a *SimAlarm) Unclaim() {
	a.mu.Lock()
	a.claimed = false
	a.mu.Unlock()
}

func (a *SimAlarm) Configure(cfg AlarmConfig) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if cfg.Divider == 0 {
		cfg.Divider = 1
	}
	a.cfg = cfg
	a.autoReload = cfg.AutoReload
	a.prescale = 0
}

func (a *SimAlarm) SetCounter(v Tick) {
	a.mu.Lock()
	a.counter = v
	a.load = v
	a.prescale = 0
	a.mu.Unlock()
}

func (a *SimAlarm) SetCompare(v Tick) {
	a.mu.Lock()
	a.compare = v
	a.mu.Unlock()
}

func (a *SimAlarm) SetAutoReload(enabled bool) {
	a.mu.Lock()
	a.autoReload = enabled
	a.mu.Unlock()
}

func (a *SimAlarm) Start() {
	a.mu.Lock()
	a.running = true
	a.mu.Unlock()
}

func (a *SimAlarm) Pause() {
	a.mu.Lock()
	a.running = false
	a.mu.Unlock()
}

func (a *SimAlarm) EnableInterrupt(enabled bool) {
	a.mu.Lock()
	a.intEnabled = enabled
	a.mu.Unlock()
}

func (a *SimAlarm) ClearInterrupt() {
	a.mu.Lock()
	a.pending = false
	a.mu.Unlock()
}

func (a *SimAlarm) RegisterISR(h ISRHandler) {
	a.mu.Lock()
	a.isr = h
	a.mu.Unlock()
}

// Running reports whether the counter is started
func (a *SimAlarm) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// Pending reports whether the interrupt flag is set
func (a *SimAlarm) Pending() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pending
}

// Claimed reports whether a binding owns the peripheral
func (a *SimAlarm) Claimed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.claimed
}

// Matches returns how many compare matches raised the interrupt
func (a *SimAlarm) Matches() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.matches
}

// Step feeds n input clocks to the peripheral
func (a *SimAlarm) Step(n Tick) {
	for i := Tick(0); i < n; i++ {
		if a.step() {
			a.Service()
		}
	}
}

// step advances one input clock and reports whether the interrupt rose
func (a *SimAlarm) step() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.running {
		return false
	}
	a.prescale++
	if a.prescale < a.cfg.Divider {
		return false
	}
	a.prescale = 0

	if a.cfg.Direction == CountUp {
		a.counter++
	} else {
		a.counter--
	}
	if a.counter != a.compare {
		return false
	}
	if a.autoReload {
		if a.cfg.Direction == CountUp {
			a.counter = 0
		} else {
			a.counter = a.load
		}
	}
	if !a.intEnabled {
		return false
	}
	a.pending = true
	a.matches++
	return true
}

// Raise sets the interrupt flag without running the ISR, modelling an
// interrupt that is pending but not yet taken.
func (a *SimAlarm) Raise() {
	a.mu.Lock()
	a.pending = true
	a.mu.Unlock()
}

// Service runs the ISR if the interrupt is pending and enabled
func (a *SimAlarm) Service() bool {
	a.mu.Lock()
	h := a.isr
	take := a.pending && a.intEnabled && h != nil
	a.mu.Unlock()
	if take {
		h()
	}
	return take
}

// SimClock drives a ManualTicks source and a set of SimAlarms from the
// same input clock, one tick at a time.
type SimClock struct {
	*ManualTicks

	mu     sync.Mutex
	alarms []*SimAlarm
}

// NewSimClock creates a clock starting at start
func NewSimClock(start Tick, hz uint32) *SimClock {
	return &SimClock{ManualTicks: NewManualTicks(start, hz)}
}

// Attach connects an alarm to the clock
func (c *SimClock) Attach(a *SimAlarm) {
	c.mu.Lock()
	c.alarms = append(c.alarms, a)
	c.mu.Unlock()
}

// Advance moves time forward n ticks, stepping every attached alarm
func (c *SimClock) Advance(n Tick) Tick {
	c.mu.Lock()
	alarms := append([]*SimAlarm(nil), c.alarms...)
	c.mu.Unlock()

	for i := Tick(0); i < n; i++ {
		c.ManualTicks.Advance(1)
		for _, a := range alarms {
			a.Step(1)
		}
	}
	return c.Now()
}

// SleepTicks advances the clock, alarms included, by n ticks
func (c *SimClock) SleepTicks(n Tick) {
	c.ManualTicks.sleeps.Add(1)
	c.Advance(n)
}

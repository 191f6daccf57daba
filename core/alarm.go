package core

import "github.com/juju/errors"

// CountDirection selects whether the alarm counter counts up to the compare
// value or down to it.
type CountDirection uint8

const (
	CountUp CountDirection = iota
	CountDown
)

// AlarmConfig is the one-time hardware setup of an alarm peripheral
type AlarmConfig struct {
	Divider    uint32 // input clocks per counter tick, >= 1
	Direction  CountDirection
	AutoReload bool
}

// AlarmPeripheral is a physical counter/compare unit with an interrupt.
// Register-level implementations live in the targets; SimAlarm models one
// for the host.
type AlarmPeripheral interface {
	ID() uint8

	// TryClaim takes exclusive ownership, returning false if already owned
	TryClaim() bool
	Unclaim()

	Configure(cfg AlarmConfig)
	SetCounter(v Tick)
	SetCompare(v Tick)
	SetAutoReload(enabled bool)
	Start()
	Pause()

	EnableInterrupt(enabled bool)
	ClearInterrupt()
	RegisterISR(h ISRHandler)
}

// AlarmState is the lifecycle of an AlarmBinding
type AlarmState uint8

const (
	AlarmUnconfigured AlarmState = iota
	AlarmIdle
	AlarmArmed
	AlarmFiring
)

func (s AlarmState) String() string {
	switch s {
	case AlarmUnconfigured:
		return "unconfigured"
	case AlarmIdle:
		return "idle"
	case AlarmArmed:
		return "armed"
	case AlarmFiring:
		return "firing"
	default:
		return "state(" + utoa(uint32(s)) + ")"
	}
}

// DispatchMethod selects where the bound callback runs
type DispatchMethod uint8

const (
	// DispatchTask posts an AlarmEvent; a Dispatcher runs the callback
	DispatchTask DispatchMethod = iota
	// DispatchISR runs the callback inside the alarm interrupt
	DispatchISR
)

// AlarmEvent is the fixed-size message an alarm ISR posts
type AlarmEvent struct {
	Binding *AlarmBinding
	Gen     uint32 // arm generation at fire time
	Clock   Tick   // tick source reading at fire time
}

// EventSink accepts events from interrupt context without blocking
type EventSink interface {
	Post(ev AlarmEvent) bool
}

// AlarmStats counts binding activity
type AlarmStats struct {
	Armed     uint32 // successful Arm calls
	Fired     uint32 // fires accepted by the ISR
	Spurious  uint32 // fires dropped as stale (ISR or dispatcher)
	Dropped   uint32 // events lost to a full queue
	Delivered uint32 // callbacks run
}

// BindingOptions parameterizes NewAlarmBinding
type BindingOptions struct {
	Source   TickSource      // stamps events; optional
	Sink     EventSink       // required for DispatchTask
	Lock     CriticalSection // defaults to a Spinlock
	Method   DispatchMethod
	Callback func()
}

// AlarmBinding bridges one logical deadline to one alarm peripheral.
//
// Every Arm and Cancel bumps a generation number. The ISR only acts while
// the binding is Armed, and the dispatcher drops events from an older
// generation, so no callback ever runs for a cancelled or superseded
// deadline, even when the interrupt was already in flight.
type AlarmBinding struct {
	cs       CriticalSection
	hw       AlarmPeripheral
	src      TickSource
	sink     EventSink
	method   DispatchMethod
	callback func()

	state    AlarmState
	dir      CountDirection
	divider  uint32
	periodic bool
	deadline Tick
	gen      uint32
	stats    AlarmStats
}

// NewAlarmBinding wraps hw. The binding starts Unconfigured and does not
// own hw until Configure succeeds. Without a sink, the binding dispatches
// in the ISR.
func NewAlarmBinding(hw AlarmPeripheral, opts BindingOptions) *AlarmBinding {
	b := &AlarmBinding{
		cs:       opts.Lock,
		hw:       hw,
		src:      opts.Source,
		sink:     opts.Sink,
		method:   opts.Method,
		callback: opts.Callback,
	}
	if b.cs == nil {
		b.cs = &Spinlock{}
	}
	if b.sink == nil {
		b.method = DispatchISR
	}
	return b
}

// ID returns the underlying peripheral id
func (b *AlarmBinding) ID() uint8 {
	return b.hw.ID()
}

// Configure claims the peripheral and applies the hardware setup. It fails
// with ErrResourceBusy when another binding owns the peripheral. A
// configured, idle binding may be reconfigured.
func (b *AlarmBinding) Configure(divider uint32, dir CountDirection, autoReload bool) error {
	if divider == 0 {
		return errors.Annotatef(ErrInvalidArgument, "alarm %d: divider 0", b.hw.ID())
	}

	b.cs.Enter()
	defer b.cs.Exit()

	switch b.state {
	case AlarmUnconfigured:
		if !b.hw.TryClaim() {
			return errors.Annotatef(ErrResourceBusy, "alarm %d", b.hw.ID())
		}
	case AlarmIdle:
	default:
		return errors.Annotatef(ErrInvalidState, "alarm %d: configure while %s", b.hw.ID(), b.state)
	}

	b.hw.Pause()
	b.hw.EnableInterrupt(false)
	b.hw.Configure(AlarmConfig{Divider: divider, Direction: dir, AutoReload: autoReload})
	b.hw.RegisterISR(b.isr)
	b.dir = dir
	b.divider = divider
	b.periodic = autoReload
	b.state = AlarmIdle
	return nil
}

// Arm programs the peripheral to fire after deadline ticks of the source
// clock, once or every deadline ticks. The deadline is converted to counter
// ticks at the configured divider, rounding up, so the alarm never fires
// early. A zero deadline fires on the next counter tick. Arming an armed
// binding replaces its deadline.
func (b *AlarmBinding) Arm(deadline Tick, periodic bool) error {
	b.cs.Enter()
	defer b.cs.Exit()

	if b.state == AlarmUnconfigured {
		return errors.Annotatef(ErrInvalidState, "alarm %d: arm while unconfigured", b.hw.ID())
	}
	if b.method == DispatchISR && b.callback == nil {
		return errors.Annotatef(ErrInvalidArgument, "alarm %d: no callback", b.hw.ID())
	}
	if deadline == 0 {
		deadline = 1
	}
	count := counterTicks(deadline, b.divider)

	b.hw.EnableInterrupt(false)
	b.hw.Pause()
	b.hw.ClearInterrupt()
	if b.dir == CountUp {
		b.hw.SetCounter(0)
		b.hw.SetCompare(count)
	} else {
		b.hw.SetCounter(count)
		b.hw.SetCompare(0)
	}
	b.hw.SetAutoReload(periodic)

	b.gen++
	b.periodic = periodic
	b.deadline = deadline
	b.state = AlarmArmed
	b.stats.Armed++

	b.hw.EnableInterrupt(true)
	b.hw.Start()

	RecordTiming(EvtAlarmArm, b.hw.ID(), uint32(b.now()), uint32(deadline), boolToU32(periodic))
	return nil
}

// Cancel stops the counter and disables the interrupt. It is a no-op on an
// unconfigured or idle binding, and any event already queued for the
// cancelled deadline is discarded by the dispatcher.
func (b *AlarmBinding) Cancel() {
	b.cs.Enter()
	defer b.cs.Exit()
	b.cancelLocked()
}

func (b *AlarmBinding) cancelLocked() {
	if b.state == AlarmUnconfigured {
		return
	}
	prev := b.state
	b.hw.EnableInterrupt(false)
	b.hw.Pause()
	b.hw.ClearInterrupt()
	b.gen++
	b.state = AlarmIdle
	if prev != AlarmIdle {
		RecordTiming(EvtAlarmCancel, b.hw.ID(), uint32(b.now()), uint32(prev), 0)
	}
}

// Release cancels the binding and gives the peripheral back
func (b *AlarmBinding) Release() {
	b.cs.Enter()
	defer b.cs.Exit()

	if b.state == AlarmUnconfigured {
		return
	}
	b.cancelLocked()
	b.hw.RegisterISR(nil)
	b.hw.Unclaim()
	b.state = AlarmUnconfigured
}

// State returns the current lifecycle state
func (b *AlarmBinding) State() AlarmState {
	b.cs.Enter()
	defer b.cs.Exit()
	return b.state
}

// Deadline returns the last armed deadline and whether it repeats
func (b *AlarmBinding) Deadline() (Tick, bool) {
	b.cs.Enter()
	defer b.cs.Exit()
	return b.deadline, b.periodic
}

// Stats returns a copy of the binding counters
func (b *AlarmBinding) Stats() AlarmStats {
	b.cs.Enter()
	defer b.cs.Exit()
	return b.stats
}

// isr is registered with the peripheral. The pending flag is cleared
// before anything else so a match during the handler raises a fresh
// interrupt instead of being folded into this one.
func (b *AlarmBinding) isr() {
	b.hw.ClearInterrupt()

	b.cs.EnterISR()
	if b.state != AlarmArmed {
		b.stats.Spurious++
		b.cs.ExitISR()
		RecordTiming(EvtAlarmSpurious, b.hw.ID(), uint32(b.now()), 0, 0)
		return
	}

	b.state = AlarmFiring
	b.stats.Fired++
	gen := b.gen
	ev := AlarmEvent{Binding: b, Gen: gen, Clock: b.now()}

	if b.method == DispatchTask && !b.sink.Post(ev) {
		b.stats.Dropped++
	}
	if !b.periodic {
		b.hw.Pause()
		b.hw.EnableInterrupt(false)
	}

	if b.method == DispatchTask {
		b.finishFireLocked(gen)
		b.cs.ExitISR()
		RecordTiming(EvtAlarmFire, b.hw.ID(), uint32(ev.Clock), gen, 0)
		return
	}

	cb := b.callback
	b.stats.Delivered++
	b.cs.ExitISR()
	RecordTiming(EvtAlarmFire, b.hw.ID(), uint32(ev.Clock), gen, 1)

	cb()

	b.cs.EnterISR()
	b.finishFireLocked(gen)
	b.cs.ExitISR()
}

// finishFireLocked leaves Firing unless the callback re-armed or
// cancelled the binding in the meantime.
func (b *AlarmBinding) finishFireLocked(gen uint32) {
	if b.state != AlarmFiring || b.gen != gen {
		return
	}
	if b.periodic {
		b.state = AlarmArmed
	} else {
		b.state = AlarmIdle
	}
}

// deliver runs the callback for ev in task context
func (b *AlarmBinding) deliver(ev AlarmEvent) bool {
	b.cs.Enter()
	if ev.Gen != b.gen || b.state == AlarmUnconfigured {
		b.stats.Spurious++
		b.cs.Exit()
		RecordTiming(EvtAlarmSpurious, b.hw.ID(), uint32(b.now()), ev.Gen, b.gen)
		return false
	}
	cb := b.callback
	b.stats.Delivered++
	b.cs.Exit()

	if cb != nil {
		cb()
	}
	return true
}

func (b *AlarmBinding) now() Tick {
	if b.src == nil {
		return 0
	}
	return b.src.Now()
}

// counterTicks converts a non-zero source tick count to divided counter
// ticks, rounding up
func counterTicks(t Tick, divider uint32) Tick {
	if divider <= 1 {
		return t
	}
	return Tick((uint64(t) + uint64(divider) - 1) / uint64(divider))
}

func boolToU32(v bool) uint32 {
	if v {
		return 1
	}
	return 0
}

// BindingFactory creates configured bindings on demand
type BindingFactory interface {
	NewBinding(callback func()) (*AlarmBinding, error)
}

// AlarmPool hands out bindings over a fixed set of peripherals
type AlarmPool struct {
	hw      []AlarmPeripheral
	src     TickSource
	sink    EventSink
	method  DispatchMethod
	divider uint32
	locks   func() CriticalSection
}

// NewAlarmPool creates a pool over hw. Bindings count up with the given
// divider and dispatch through sink, or in the ISR when sink is nil.
func NewAlarmPool(hw []AlarmPeripheral, src TickSource, sink EventSink, divider uint32) *AlarmPool {
	if divider == 0 {
		divider = 1
	}
	return &AlarmPool{hw: hw, src: src, sink: sink, divider: divider}
}

// SetDispatchMethod selects the method for bindings created afterwards
func (p *AlarmPool) SetDispatchMethod(m DispatchMethod) {
	p.method = m
}

// SetLockAllocator supplies the critical sections for bindings created
// afterwards and for the services built on the pool. alloc must return a
// distinct lock on every call.
func (p *AlarmPool) SetLockAllocator(alloc func() CriticalSection) {
	p.locks = alloc
}

// NewLock returns a lock from the allocator, or a Spinlock without one
func (p *AlarmPool) NewLock() CriticalSection {
	if p.locks == nil {
		return &Spinlock{}
	}
	return p.locks()
}

// NewBinding claims the first free peripheral. It returns ErrNoMem when
// every peripheral is in use.
func (p *AlarmPool) NewBinding(callback func()) (*AlarmBinding, error) {
	if callback == nil {
		return nil, errors.Annotate(ErrInvalidArgument, "nil alarm callback")
	}
	lock := p.NewLock()
	for _, hw := range p.hw {
		b := NewAlarmBinding(hw, BindingOptions{
			Source:   p.src,
			Sink:     p.sink,
			Lock:     lock,
			Method:   p.method,
			Callback: callback,
		})
		err := b.Configure(p.divider, CountUp, false)
		if errors.Is(err, ErrResourceBusy) {
			continue
		}
		if err != nil {
			return nil, errors.Trace(err)
		}
		return b, nil
	}
	return nil, errors.Annotatef(ErrNoMem, "all %d alarms in use", len(p.hw))
}

package core

import "github.com/juju/errors"

// LegacyCallback is the callback shape of the historical timer API
type LegacyCallback func(arg any)

// LegacyTimer is a caller-allocated handle of the historical timer API. The
// zero value is an uninitialized handle. The underlying binding is created
// on the first SetFn and reused for the handle's lifetime.
type LegacyTimer struct {
	initialized bool
	binding     *AlarmBinding
	fn          LegacyCallback
	arg         any
}

// Initialized reports whether SetFn has been called since the last Done
func (t *LegacyTimer) Initialized() bool {
	return t.initialized
}

// Binding returns the underlying binding, nil before the first SetFn
func (t *LegacyTimer) Binding() *AlarmBinding {
	return t.binding
}

// LegacyShim implements the historical "one lazily created timer per
// handle" API on top of a BindingFactory.
//
// Legacy call sites never check results, so every failure here is fatal:
// the shim writes a diagnostic naming the operation and the error stack to
// the debug writer, then calls the abort hook.
type LegacyShim struct {
	cs      CriticalSection
	factory BindingFactory
	hz      uint32
	abort   func(msg string)
	stats   LegacyStats
}

// LegacyStats counts shim activity
type LegacyStats struct {
	Handles uint32 // handles currently holding a binding
	Armed   uint32
	Fired   uint32
	Fatal   uint32
}

// NewLegacyShim creates a shim whose millisecond and microsecond arguments
// are converted at hz ticks per second. Its lock comes from factory when it
// is a LockProvider.
func NewLegacyShim(factory BindingFactory, hz uint32) *LegacyShim {
	if hz == 0 {
		hz = TimerFreq
	}
	return &LegacyShim{
		cs:      lockFrom(factory),
		factory: factory,
		hz:      hz,
		abort:   func(msg string) { panic(msg) },
	}
}

// SetAbortHook replaces the default panic. The hook must not return
// normally on firmware; tests use it to observe the diagnostic.
func (s *LegacyShim) SetAbortHook(fn func(msg string)) {
	if fn == nil {
		fn = func(msg string) { panic(msg) }
	}
	s.abort = fn
}

// SetFn sets the callback and argument, initializing the handle and
// creating its binding on first use
func (s *LegacyShim) SetFn(t *LegacyTimer, fn LegacyCallback, arg any) {
	s.cs.Enter()
	if !t.initialized {
		*t = LegacyTimer{initialized: true}
	}
	t.fn = fn
	t.arg = arg
	bound := t.binding != nil
	s.cs.Exit()

	if bound {
		return
	}

	b, err := s.factory.NewBinding(func() { s.fire(t) })
	if err != nil {
		s.fatal("setfn", err)
		return
	}
	s.cs.Enter()
	t.binding = b
	s.stats.Handles++
	s.cs.Exit()
}

// Arm starts the handle's timer for ms milliseconds, repeating if repeat
func (s *LegacyShim) Arm(t *LegacyTimer, ms uint32, repeat bool) {
	s.arm(t, TicksFromMS(ms, s.hz), repeat)
}

// ArmUS is Arm with a microsecond argument
func (s *LegacyShim) ArmUS(t *LegacyTimer, us uint32, repeat bool) {
	s.arm(t, TicksFromUS(us, s.hz), repeat)
}

func (s *LegacyShim) arm(t *LegacyTimer, ticks Tick, repeat bool) {
	b, ok := s.boundBinding(t)
	if !ok {
		s.fatal("arm", errors.Annotate(ErrInvalidState, "handle not initialized"))
		return
	}
	if repeat && ticks == 0 {
		s.fatal("arm", errors.Annotate(ErrInvalidArgument, "zero period"))
		return
	}

	b.Cancel()
	if err := b.Arm(ticks, repeat); err != nil {
		s.fatal("arm", err)
		return
	}
	s.cs.Enter()
	s.stats.Armed++
	s.cs.Exit()
}

// Disarm stops the handle's timer. Uninitialized handles are ignored.
func (s *LegacyShim) Disarm(t *LegacyTimer) {
	if b, ok := s.boundBinding(t); ok {
		b.Cancel()
	}
}

// Done releases the binding and returns the handle to the uninitialized
// state. It may be called any number of times.
func (s *LegacyShim) Done(t *LegacyTimer) {
	s.cs.Enter()
	if !t.initialized {
		s.cs.Exit()
		return
	}
	b := t.binding
	t.binding = nil
	t.fn = nil
	t.arg = nil
	t.initialized = false
	if b != nil {
		s.stats.Handles--
	}
	s.cs.Exit()

	if b != nil {
		b.Release()
	}
}

// Stats returns a copy of the shim counters
func (s *LegacyShim) Stats() LegacyStats {
	s.cs.Enter()
	defer s.cs.Exit()
	return s.stats
}

func (s *LegacyShim) boundBinding(t *LegacyTimer) (*AlarmBinding, bool) {
	s.cs.Enter()
	defer s.cs.Exit()
	if !t.initialized || t.binding == nil {
		return nil, false
	}
	return t.binding, true
}

// fire runs on alarm expiry, in whichever context the binding dispatches
func (s *LegacyShim) fire(t *LegacyTimer) {
	exit := enterAuto(s.cs)
	fn, arg := t.fn, t.arg
	s.stats.Fired++
	exit()
	if fn != nil {
		fn(arg)
	}
}

func (s *LegacyShim) fatal(op string, err error) {
	err = errors.Annotatef(err, "legacy timer %s", op)
	msg := "FATAL: " + errors.ErrorStack(err)
	debugPrintln(msg)
	s.cs.Enter()
	s.stats.Fatal++
	s.cs.Exit()
	RecordTiming(EvtLegacyFatal, 0, GetTime(), 0, 0)
	s.abort(msg)
}

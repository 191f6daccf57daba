package core

import (
	"math/bits"

	"github.com/juju/errors"
)

// Reason is a bitmask of cross-core request reasons
type Reason uint32

const (
	ReasonYield Reason = 1 << iota
	ReasonFreqSwitch
	ReasonPrintBacktrace

	builtinReasons = ReasonYield | ReasonFreqSwitch | ReasonPrintBacktrace
)

func (r Reason) String() string {
	switch r {
	case 0:
		return "none"
	case ReasonYield:
		return "yield"
	case ReasonFreqSwitch:
		return "freq-switch"
	case ReasonPrintBacktrace:
		return "print-backtrace"
	}
	if bits.OnesCount32(uint32(r)) == 1 {
		return "reason" + utoa(uint32(bits.TrailingZeros32(uint32(r))))
	}
	return "reasons(" + hex32(uint32(r)) + ")"
}

// Mailbox raises and clears the cross-core interrupt of a core
type Mailbox interface {
	Trigger(core uint8)
	ClearPending(core uint8)
}

// InterruptController installs the cross-core handler of a core
type InterruptController interface {
	RegisterISR(core uint8, h ISRHandler) error
}

// Yielder asks the scheduler of a core to switch tasks on ISR exit
type Yielder interface {
	RequestYieldFromISR(core uint8)
}

// CoreStats counts cross-core traffic for one core
type CoreStats struct {
	Sent         uint32 // Send calls targeting the core
	Interrupts   uint32 // handler runs
	Empty        uint32 // handler runs that found no reason set
	Yields       uint32
	FreqSwitches uint32
	Backtraces   uint32
	Extension    uint32 // bits handled by OnReason hooks
}

type coreSlot struct {
	core        uint8
	reason      Reason
	initialized bool
	stats       CoreStats
}

// CrossCoreOptions parameterizes NewCrossCoreSignal
type CrossCoreOptions struct {
	Cores      int
	Lock       CriticalSection // defaults to a Spinlock
	Mailbox    Mailbox
	Interrupts InterruptController
	Yielder    Yielder // optional
}

// CrossCoreSignal delivers reason bits from any core to any core through a
// per-core mailbox interrupt. One critical section guards every core's
// reason word; senders OR bits in under it and the target handler reads
// and zeroes its word under it.
type CrossCoreSignal struct {
	cs    CriticalSection
	mbox  Mailbox
	irq   InterruptController
	yield Yielder

	cores     []coreSlot
	hooks     [32]func(core uint8)
	backtrace func(core uint8)
}

// NewCrossCoreSignal creates the shared signal state for opts.Cores cores
func NewCrossCoreSignal(opts CrossCoreOptions) (*CrossCoreSignal, error) {
	if opts.Cores < 1 || opts.Cores > 255 {
		return nil, errors.Annotatef(ErrInvalidArgument, "core count %d", opts.Cores)
	}
	if opts.Mailbox == nil || opts.Interrupts == nil {
		return nil, errors.Annotate(ErrInvalidArgument, "mailbox and interrupt controller required")
	}
	if opts.Lock == nil {
		opts.Lock = &Spinlock{}
	}
	s := &CrossCoreSignal{
		cs:    opts.Lock,
		mbox:  opts.Mailbox,
		irq:   opts.Interrupts,
		yield: opts.Yielder,
		cores: make([]coreSlot, opts.Cores),
	}
	for i := range s.cores {
		s.cores[i].core = uint8(i)
	}
	return s, nil
}

// Cores returns the number of cores served
func (s *CrossCoreSignal) Cores() int {
	return len(s.cores)
}

// InitLocalCore clears the core's reason word and installs its handler.
// Each core calls it once at startup.
func (s *CrossCoreSignal) InitLocalCore(core uint8) error {
	slot, err := s.slot(core)
	if err != nil {
		return err
	}

	s.cs.Enter()
	slot.reason = 0
	slot.initialized = true
	s.cs.Exit()

	if err := s.irq.RegisterISR(core, BindISR(s.handleISR, slot)); err != nil {
		return errors.Annotatef(err, "core %d cross-core interrupt", core)
	}
	return nil
}

// Send ORs reason into core's word and raises its interrupt. It may be
// called from task or interrupt context on any core, including core itself.
func (s *CrossCoreSignal) Send(core uint8, reason Reason) error {
	slot, err := s.slot(core)
	if err != nil {
		return err
	}
	if reason == 0 {
		return errors.Annotatef(ErrInvalidArgument, "core %d: empty reason", core)
	}

	exit := enterAuto(s.cs)
	slot.reason |= reason
	slot.stats.Sent++
	exit()

	RecordTiming(EvtCrossSend, core, GetTime(), uint32(reason), 0)
	s.mbox.Trigger(core)
	return nil
}

// SendFromISR is Send for callers known to run in interrupt context
func (s *CrossCoreSignal) SendFromISR(core uint8, reason Reason) error {
	slot, err := s.slot(core)
	if err != nil {
		return err
	}
	if reason == 0 {
		return errors.Annotatef(ErrInvalidArgument, "core %d: empty reason", core)
	}

	s.cs.EnterISR()
	slot.reason |= reason
	slot.stats.Sent++
	s.cs.ExitISR()

	RecordTiming(EvtCrossSend, core, GetTime(), uint32(reason), 1)
	s.mbox.Trigger(core)
	return nil
}

// SendYield asks core to reschedule
func (s *CrossCoreSignal) SendYield(core uint8) error {
	return s.Send(core, ReasonYield)
}

// SendFreqSwitch notifies core of a clock change
func (s *CrossCoreSignal) SendFreqSwitch(core uint8) error {
	return s.Send(core, ReasonFreqSwitch)
}

// SendPrintBacktrace asks core to dump its call stack
func (s *CrossCoreSignal) SendPrintBacktrace(core uint8) error {
	return s.Send(core, ReasonPrintBacktrace)
}

// OnReason installs fn for a single reason bit outside the built-in ones
func (s *CrossCoreSignal) OnReason(reason Reason, fn func(core uint8)) error {
	if bits.OnesCount32(uint32(reason)) != 1 || reason&builtinReasons != 0 {
		return errors.Annotatef(ErrInvalidArgument, "hook for %s", reason)
	}
	s.cs.Enter()
	s.hooks[bits.TrailingZeros32(uint32(reason))] = fn
	s.cs.Exit()
	return nil
}

// SetBacktracePrinter installs the PrintBacktrace action
func (s *CrossCoreSignal) SetBacktracePrinter(fn func(core uint8)) {
	s.cs.Enter()
	s.backtrace = fn
	s.cs.Exit()
}

// Pending returns the reasons set for core and not yet handled
func (s *CrossCoreSignal) Pending(core uint8) Reason {
	slot, err := s.slot(core)
	if err != nil {
		return 0
	}
	s.cs.Enter()
	defer s.cs.Exit()
	return slot.reason
}

// Stats returns a copy of core's counters
func (s *CrossCoreSignal) Stats(core uint8) CoreStats {
	slot, err := s.slot(core)
	if err != nil {
		return CoreStats{}
	}
	s.cs.Enter()
	defer s.cs.Exit()
	return slot.stats
}

func (s *CrossCoreSignal) slot(core uint8) (*coreSlot, error) {
	if int(core) >= len(s.cores) {
		return nil, errors.Annotatef(ErrInvalidArgument, "core %d of %d", core, len(s.cores))
	}
	return &s.cores[core], nil
}

// handleISR runs on the target core. The mailbox flag is cleared before the
// word is read: a Send landing after the clear raises a new interrupt, one
// landing before it is in the word.
func (s *CrossCoreSignal) handleISR(slot *coreSlot) {
	s.mbox.ClearPending(slot.core)

	s.cs.EnterISR()
	reason := slot.reason
	slot.reason = 0
	slot.stats.Interrupts++
	if reason == 0 {
		slot.stats.Empty++
	}
	hooks := s.hooks
	backtrace := s.backtrace
	s.cs.ExitISR()

	RecordTiming(EvtCrossISR, slot.core, GetTime(), uint32(reason), 0)

	var stats CoreStats
	for r := uint32(reason); r != 0; r &= r - 1 {
		bit := bits.TrailingZeros32(r)
		switch Reason(1) << bit {
		case ReasonYield:
			stats.Yields++
			if s.yield != nil {
				s.yield.RequestYieldFromISR(slot.core)
			}
		case ReasonFreqSwitch:
			// the clock switch itself runs from a separate hook
			stats.FreqSwitches++
		case ReasonPrintBacktrace:
			stats.Backtraces++
			if backtrace != nil {
				backtrace(slot.core)
			}
		default:
			stats.Extension++
			if fn := hooks[bit]; fn != nil {
				fn(slot.core)
			}
		}
	}

	s.cs.EnterISR()
	slot.stats.Yields += stats.Yields
	slot.stats.FreqSwitches += stats.FreqSwitches
	slot.stats.Backtraces += stats.Backtraces
	slot.stats.Extension += stats.Extension
	s.cs.ExitISR()
}

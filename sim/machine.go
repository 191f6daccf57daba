// Package sim assembles the timing core into a host model of a multi-core
// microcontroller driven by a simulated counter.
package sim

import (
	"context"
	"io"
	"strconv"
	"time"

	"github.com/juju/errors"

	"gotick/config"
	"gotick/core"
)

// maxCatchUp bounds the ticks simulated per Run iteration
const maxCatchUp = 1 << 20

// Machine is a simulated board built from a MachineConfig
type Machine struct {
	cfg *config.MachineConfig
	hz  uint32

	clock      *core.SimClock
	queue      *core.EventQueue
	dispatcher *core.Dispatcher
	pool       *core.AlarmPool

	timers   *core.TimerService
	workload []*core.Timer

	legacy  *core.LegacyShim
	handles []*legacyHandle

	cpu    *core.SimCPU
	signal *core.CrossCoreSignal

	reporter  *core.Reporter
	reportDue core.DeadlineTimer
	signalErr uint32
}

type legacyHandle struct {
	cfg   config.LegacyConfig
	timer core.LegacyTimer
	fired uint32
}

// New builds a machine. Reports are written to report when it is not nil.
func New(cfg *config.MachineConfig, report io.Writer) (*Machine, error) {
	if cfg == nil {
		return nil, errors.NotValidf("nil machine config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}

	m := &Machine{
		cfg:   cfg,
		hz:    cfg.TickHz,
		clock: core.NewSimClock(core.Tick(cfg.StartTick), cfg.TickHz),
		cpu:   core.NewSimCPU(cfg.Cores),
	}
	core.SetTime(cfg.StartTick)
	core.TimerInit()

	hw := make([]core.AlarmPeripheral, cfg.Alarms)
	for i := range hw {
		a := core.NewSimAlarm(uint8(i))
		m.clock.Attach(a)
		hw[i] = a
	}

	var sink core.EventSink
	if cfg.Dispatch == config.DispatchTask {
		m.queue = core.NewEventQueue(cfg.QueueDepth)
		m.dispatcher = core.NewDispatcher(m.queue)
		sink = m.queue
	}
	m.pool = core.NewAlarmPool(hw, m.clock, sink, cfg.Divider)
	if sink == nil {
		m.pool.SetDispatchMethod(core.DispatchISR)
	}

	var err error
	if m.signal, err = core.NewCrossCoreSignal(core.CrossCoreOptions{
		Cores:      cfg.Cores,
		Mailbox:    m.cpu,
		Interrupts: m.cpu,
		Yielder:    m.cpu,
	}); err != nil {
		return nil, errors.Annotate(err, "cross-core signal")
	}
	for c := 0; c < cfg.Cores; c++ {
		if err := m.signal.InitLocalCore(uint8(c)); err != nil {
			return nil, errors.Annotatef(err, "init core %d", c)
		}
	}
	m.signal.SetBacktracePrinter(func(c uint8) {
		core.DebugPrintln("[SIM] core " + strconv.Itoa(int(c)) + " backtrace requested")
	})

	if m.timers, err = core.NewTimerService(m.clock, m.pool); err != nil {
		return nil, errors.Annotate(err, "timer service")
	}
	if err := m.startTimers(); err != nil {
		return nil, err
	}
	if err := m.startSignals(); err != nil {
		return nil, err
	}

	m.legacy = core.NewLegacyShim(m.pool, cfg.TickHz)
	m.startLegacy()

	if report != nil {
		m.reporter = core.NewReporter(report, m.clock)
		m.reporter.SetTimerService(m.timers)
		m.reporter.AddAlarm(m.timers.Alarm())
		for _, h := range m.handles {
			m.reporter.AddAlarm(h.timer.Binding())
		}
		m.reporter.SetCrossCore(m.signal)
		m.reporter.SetLegacy(m.legacy)
		m.reporter.SetEvents(cfg.Report.Events)
	}
	m.reportDue = core.NewDeadlineTimer(m.clock, nil)
	m.reportDue.ArmMS(cfg.Report.IntervalMS)

	core.DebugPrintln("[SIM] " + cfg.Name + ": " + strconv.Itoa(cfg.Cores) + " cores, " +
		strconv.Itoa(cfg.Alarms) + " alarms, dispatch=" + cfg.Dispatch)
	return m, nil
}

func (m *Machine) startTimers() error {
	for _, tc := range m.cfg.Timers {
		t := core.NewTimer(tc.Name, func() {})
		ticks := core.TicksFromUS(tc.PeriodUS, m.hz)
		var err error
		if tc.OneShot {
			err = m.timers.StartOnce(t, ticks)
		} else {
			err = m.timers.StartPeriodic(t, ticks)
		}
		if err != nil {
			return errors.Annotatef(err, "start timer %q", tc.Name)
		}
		m.workload = append(m.workload, t)
	}
	return nil
}

func (m *Machine) startSignals() error {
	for i, sc := range m.cfg.Signals {
		reason := reasonFor(sc.Reason)
		to := sc.To
		name := "signal" + strconv.Itoa(i) + ":" + strconv.Itoa(int(sc.From)) + "->" + strconv.Itoa(int(to))
		t := core.NewTimer(name, func() {
			if err := m.signal.Send(to, reason); err != nil {
				m.signalErr++
				core.DebugPrintln("[SIM] " + errors.ErrorStack(err))
			}
		})
		if err := m.timers.StartPeriodic(t, core.TicksFromMS(sc.EveryMS, m.hz)); err != nil {
			return errors.Annotatef(err, "start %s", name)
		}
		m.workload = append(m.workload, t)
	}
	return nil
}

func (m *Machine) startLegacy() {
	for _, lc := range m.cfg.Legacy {
		h := &legacyHandle{cfg: lc}
		m.legacy.SetFn(&h.timer, func(arg any) {
			arg.(*legacyHandle).fired++
		}, h)
		m.legacy.Arm(&h.timer, lc.MS, lc.Repeat)
		m.handles = append(m.handles, h)
	}
}

func reasonFor(name string) core.Reason {
	switch name {
	case config.ReasonFreqSwitch:
		return core.ReasonFreqSwitch
	case config.ReasonPrintBacktrace:
		return core.ReasonPrintBacktrace
	default:
		return core.ReasonYield
	}
}

// Step advances the machine n ticks. After every tick it publishes the
// clock to core.SystemTicks, drains the alarm event queue, services pending
// cross-core interrupts and writes a report batch when the report interval
// has elapsed.
func (m *Machine) Step(n core.Tick) error {
	for i := core.Tick(0); i < n; i++ {
		core.SetTime(uint32(m.clock.Now() + 1))
		m.clock.Advance(1)
		if m.dispatcher != nil && m.queue.Len() > 0 {
			m.dispatcher.RunPending()
		}
		for c := 0; c < m.cfg.Cores; c++ {
			if m.cpu.IsPending(uint8(c)) {
				m.cpu.Service(uint8(c))
			}
		}
		if m.reportDue.HasExpired() {
			m.reportDue.ArmMS(m.cfg.Report.IntervalMS)
			if err := m.Report(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Report writes one report batch immediately
func (m *Machine) Report() error {
	if m.reporter == nil {
		return nil
	}
	if err := m.reporter.Report(); err != nil {
		return errors.Annotate(err, "report")
	}
	return nil
}

// Run steps the machine in real time until ctx is done. Every period the
// simulated clock catches up with a host counter running at the configured
// rate.
func (m *Machine) Run(ctx context.Context, period time.Duration) error {
	host := core.NewHostTicksAt(m.hz, m.clock.Now())
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n := core.TickElapsed(m.clock.Now(), host.Now())
			if n > maxCatchUp {
				core.DebugPrintln("[SIM] falling behind by " + strconv.Itoa(int(n)) + " ticks")
				n = maxCatchUp
			}
			if err := m.Step(n); err != nil {
				return err
			}
		}
	}
}

// Close stops the workload and releases every alarm
func (m *Machine) Close() {
	for _, t := range m.workload {
		m.timers.Delete(t)
	}
	for _, h := range m.handles {
		m.legacy.Done(&h.timer)
	}
	m.timers.Close()
}

func (m *Machine) Now() core.Tick { return m.clock.Now() }
func (m *Machine) Timers() *core.TimerService { return m.timers }
func (m *Machine) Signal() *core.CrossCoreSignal { return m.signal }
func (m *Machine) Legacy() *core.LegacyShim { return m.legacy }
func (m *Machine) CPU() *core.SimCPU { return m.cpu }
func (m *Machine) Config() *config.MachineConfig { return m.cfg }
func (m *Machine) SignalErrors() uint32 { return m.signalErr }

// LegacyFired returns how many times the named legacy handle fired
func (m *Machine) LegacyFired(name string) uint32 {
	for _, h := range m.handles {
		if h.cfg.Name == name {
			return h.fired
		}
	}
	return 0
}

// Uptime returns the ticks simulated since New
func (m *Machine) Uptime() core.Tick { return core.Tick(core.GetUptime()) }

// Dropped returns the alarm events lost to a full queue
func (m *Machine) Dropped() uint32 {
	if m.queue == nil {
		return 0
	}
	return m.queue.Dropped()
}

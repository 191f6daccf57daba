//go:build rp2040

package main

import (
	"machine"
	"runtime"
	"time"

	"gotick/core"
	"gotick/targets/pio"
)

const (
	reportIntervalMS = 1000
	yieldEveryMS     = 100
	heartbeatUS      = 500000
)

var (
	ticks      hardwareTicks
	queue      *core.EventQueue
	dispatcher *core.Dispatcher
	timers     *core.TimerService
	legacy     *core.LegacyShim
	signal     *core.CrossCoreSignal
	reporter   *core.Reporter

	yieldTimer core.LegacyTimer
	led        = machine.LED

	core1Ready = make(chan struct{})
)

func main() {
	// Disable watchdog on boot to clear any previous state
	if err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 0}); err != nil {
		return
	}
	led.Configure(machine.PinConfig{Mode: machine.PinOutput})

	core.SetDebugWriter(func(s string) { println(s) })
	core.InitAsyncDebug()
	core.SetTimingLock(newSIOSpinlock(timingSpinlock))
	core.SetTime(uint32(ticks.Now()))
	core.TimerInit()

	hw := initTimerAlarms()
	if a, err := pio.NewAlarm(uint8(len(hw)), 0, 0); err == nil {
		hw = append(hw, a)
	} else {
		println("pio alarm unavailable:", err.Error())
	}

	queue = core.NewEventQueue(16)
	dispatcher = core.NewDispatcher(queue)
	pool := core.NewAlarmPool(hw, ticks, queue, 1)
	pool.SetLockAllocator(allocSIOSpinlock)

	var err error
	timers, err = core.NewTimerService(ticks, pool)
	if err != nil {
		panic(err.Error())
	}
	heartbeat := core.NewTimer("heartbeat", func() { led.Set(!led.Get()) })
	if err := timers.StartPeriodic(heartbeat, core.Tick(core.TimerFromUS(heartbeatUS))); err != nil {
		panic(err.Error())
	}

	signal, err = core.NewCrossCoreSignal(core.CrossCoreOptions{
		Cores:      2,
		Lock:       newSIOSpinlock(signalSpinlock),
		Mailbox:    &mailbox,
		Interrupts: &mailbox,
		Yielder:    &mailbox,
	})
	if err != nil {
		panic(err.Error())
	}
	signal.SetBacktracePrinter(func(c uint8) {
		println("backtrace requested on core", c, "uptime us", core.TimerToUS(core.GetUptime()))
	})

	// core start-up uses the FIFO, so the handlers go in afterwards
	machine.Core1.Start(core1Main)
	<-core1Ready
	if err := signal.InitLocalCore(0); err != nil {
		panic(err.Error())
	}

	// the legacy API drives the periodic yield to core 1
	legacy = core.NewLegacyShim(pool, core.TimerFreq)
	legacy.SetFn(&yieldTimer, func(any) { signal.SendYield(1) }, nil)
	legacy.Arm(&yieldTimer, yieldEveryMS, true)

	reporter = core.NewReporter(machine.Serial, ticks)
	reporter.SetTimerService(timers)
	reporter.AddAlarm(timers.Alarm())
	reporter.AddAlarm(yieldTimer.Binding())
	reporter.SetCrossCore(signal)
	reporter.SetLegacy(legacy)
	reporter.SetEvents(true)

	reportDue := core.NewDeadlineTimer(ticks, ticks)
	reportDue.ArmMS(reportIntervalMS)

	for {
		UpdateSystemTime()
		dispatcher.RunPending()

		if mailbox.takeYield(0) {
			runtime.Gosched()
		}
		if reportDue.HasExpired() {
			reportDue.ArmMS(reportIntervalMS)
			if err := reporter.Report(); err != nil {
				core.DebugPrintln("report: " + err.Error())
			}
		}

		time.Sleep(10 * time.Microsecond)
	}
}

// core1Main owns the core 1 half of the cross-core signal and answers
// with a yield to core 0 for every yield it receives
func core1Main() {
	if err := signal.InitLocalCore(1); err != nil {
		panic(err.Error())
	}
	close(core1Ready)

	for {
		UpdateSystemTime()
		if mailbox.takeYield(1) {
			signal.SendYield(0)
			runtime.Gosched()
		}
		time.Sleep(10 * time.Microsecond)
	}
}

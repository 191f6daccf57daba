//go:build rp2040

package pio

// PIO alarm using tinygo-org/pio.
//
// One state machine clocked at one cycle per tick counts X down to zero,
// raises its relative IRQ flag and reloads X from Y. The flag is routed to
// the block's IRQ_0 line, which dispatches to the registered handler.

import (
	"device/rp"
	"machine"
	"runtime/interrupt"

	rp2pio "github.com/tinygo-org/pio/rp2-pio"

	"gotick/core"
)

// Hand-encoded instructions without an AssemblerV0 helper
const (
	instrMovYOSR = 0xa047 // mov y, osr
	instrMovXY   = 0xa022 // mov x, y
	instrIRQRel0 = 0xc010 // irq nowait 0 rel
	instrJmp2    = 0x0002 // jmp 2
)

// alarmLoopCycles is the program overhead per period on top of X
const alarmLoopCycles = 4

// buildAlarmProgram creates the alarm PIO program using AssemblerV0
func buildAlarmProgram() []uint16 {
	asm := rp2pio.AssemblerV0{SidesetBits: 0}
	return []uint16{
		// 0: pull block        ; osr = ticks - overhead
		asm.Pull(false, true).Encode(),
		// 1: mov y, osr
		instrMovYOSR,
		// 2: mov x, y          ; reload
		instrMovXY,
		// 3: jmp x--, 3
		asm.Jmp(3, rp2pio.JmpXNZeroDec).Encode(),
		// 4: irq nowait 0 rel
		instrIRQRel0,
		// 5: jmp 2
		instrJmp2,
	}
}

const alarmPIOOrigin = 0 // absolute jump targets

// Alarm implements core.AlarmPeripheral on a PIO state machine
type Alarm struct {
	id      uint8
	pio     *rp2pio.PIO
	sm      rp2pio.StateMachine
	offset  uint8
	smNum   uint8
	claimed bool

	cfg        core.AlarmConfig
	counter    core.Tick
	compare    core.Tick
	autoReload bool
	isr        core.ISRHandler
}

var pioAlarms [2][4]*Alarm

// NewAlarm loads the alarm program and claims state machine smNum of
// block pioNum (0 or 1). The alarm reports itself as id.
func NewAlarm(id, pioNum, smNum uint8) (*Alarm, error) {
	pioHW := rp2pio.PIO0
	if pioNum != 0 {
		pioHW = rp2pio.PIO1
	}
	a := &Alarm{
		id:    id,
		pio:   pioHW,
		sm:    pioHW.StateMachine(smNum),
		smNum: smNum,
	}

	a.sm.TryClaim()
	offset, err := a.pio.AddProgram(buildAlarmProgram(), alarmPIOOrigin)
	if err != nil {
		return nil, err
	}
	a.offset = offset

	pioAlarms[pioNum&1][smNum&3] = a
	if pioNum == 0 {
		interrupt.New(rp.IRQ_PIO0_IRQ_0, pio0IRQ).Enable()
	} else {
		interrupt.New(rp.IRQ_PIO1_IRQ_0, pio1IRQ).Enable()
	}
	return a, nil
}

func pio0IRQ(interrupt.Interrupt) { dispatchIRQ(0) }
func pio1IRQ(interrupt.Interrupt) { dispatchIRQ(1) }

func dispatchIRQ(block uint8) {
	for _, a := range pioAlarms[block] {
		if a != nil && a.pio.GetIRQ()&(1<<a.smNum) != 0 && a.isr != nil {
			a.isr()
		}
	}
}

func (a *Alarm) ID() uint8 { return a.id }

func (a *Alarm) TryClaim() bool {
	state := interrupt.Disable()
	defer interrupt.Restore(state)
	if a.claimed {
		return false
	}
	a.claimed = true
	return true
}

func (a *Alarm) Unclaim() {
	state := interrupt.Disable()
	a.claimed = false
	interrupt.Restore(state)
}

func (a *Alarm) Configure(cfg core.AlarmConfig) {
	a.cfg = cfg
	a.autoReload = cfg.AutoReload
}

func (a *Alarm) SetCounter(v core.Tick) { a.counter = v }
func (a *Alarm) SetCompare(v core.Tick) { a.compare = v }
func (a *Alarm) SetAutoReload(enabled bool) { a.autoReload = enabled }

// Start restarts the state machine at the program origin and loads the
// distance between counter and compare
func (a *Alarm) Start() {
	ticks := a.compare - a.counter
	if a.cfg.Direction == core.CountDown {
		ticks = a.counter - a.compare
	}
	if ticks <= alarmLoopCycles {
		ticks = alarmLoopCycles + 1
	}

	cfg := rp2pio.DefaultStateMachineConfig()
	cfg.SetWrap(a.offset+uint8(len(buildAlarmProgram()))-1, a.offset)
	div := machine.CPUFrequency() / core.TimerFreq * a.cfg.Divider
	cfg.SetClkDivIntFrac(uint16(div), 0)

	a.sm.Init(a.offset, cfg)
	a.sm.TxPut(uint32(ticks - alarmLoopCycles))
	a.sm.SetEnabled(true)
}

func (a *Alarm) Pause() {
	a.sm.SetEnabled(false)
}

func (a *Alarm) EnableInterrupt(enabled bool) {
	bit := uint32(1) << (8 + a.smNum)
	if enabled {
		a.pio.HW().IRQ_INT[0].E.SetBits(bit)
	} else {
		a.pio.HW().IRQ_INT[0].E.ClearBits(bit)
	}
}

func (a *Alarm) ClearInterrupt() {
	a.pio.ClearIRQ(1 << a.smNum)
}

func (a *Alarm) RegisterISR(h core.ISRHandler) {
	state := interrupt.Disable()
	a.isr = h
	interrupt.Restore(state)
}

package core

import (
	"bytes"
	"strings"
	"testing"

	"gotick/protocol"
)

func TestTimingRingCursor(t *testing.T) {
	ClearTimingRing()
	_, cursor := TimingEventsSince(0)

	RecordTiming(EvtAlarmArm, 1, 10, 5, 0)
	RecordTiming(EvtAlarmFire, 1, 15, 1, 0)

	events, next := TimingEventsSince(cursor)
	if len(events) != 2 || events[0].EventType != EvtAlarmArm || events[1].Clock != 15 {
		t.Fatalf("Expected the two new events oldest first, got %+v", events)
	}
	if again, _ := TimingEventsSince(next); len(again) != 0 {
		t.Errorf("Expected nothing new, got %+v", again)
	}

	for i := 0; i < TimingRingSize+5; i++ {
		RecordTiming(EvtTimerDispatch, 0, uint32(i), 0, 0)
	}
	events, _ = TimingEventsSince(next)
	if len(events) != TimingRingSize {
		t.Fatalf("Expected a full ring, got %d", len(events))
	}
	if events[0].Clock != 5 {
		t.Errorf("Expected the oldest surviving event at clock 5, got %d", events[0].Clock)
	}

	ClearTimingRing()
	if n := len(TimingEvents()); n != 0 {
		t.Errorf("Expected an empty ring after clear, got %d", n)
	}
}

func TestDumpTimingRing(t *testing.T) {
	ClearTimingRing()
	var lines []string
	SetDebugWriter(func(s string) { lines = append(lines, s) })
	defer SetDebugWriter(nil)

	RecordTiming(EvtCrossSend, 1, 99, uint32(ReasonYield), 0)
	DumpTimingRing()

	joined := strings.Join(lines, "\n")
	if !strings.Contains(joined, "XCORE_SEND oid=1 clock=99 v1=1") {
		t.Errorf("Unexpected dump:\n%s", joined)
	}
}

func TestDebugPrintlnGated(t *testing.T) {
	var lines []string
	SetDebugWriter(func(s string) { lines = append(lines, s) })
	defer SetDebugWriter(nil)
	defer SetDebugEnabled(false)

	SetDebugEnabled(false)
	DebugPrintln("hidden")
	SetDebugEnabled(true)
	DebugPrintln("shown")

	if len(lines) != 1 || lines[0] != "shown" {
		t.Errorf("Expected only the enabled message, got %v", lines)
	}
}

func TestReporterBatch(t *testing.T) {
	ClearTimingRing()
	clock := NewSimClock(1000, 1000)
	hw := NewSimAlarm(0)
	legacyHW := NewSimAlarm(1)
	clock.Attach(hw)
	clock.Attach(legacyHW)

	svc, err := NewTimerService(clock, NewAlarmPool([]AlarmPeripheral{hw}, clock, nil, 1))
	if err != nil {
		t.Fatal(err)
	}
	svc.StartPeriodic(NewTimer("heartbeat", func() {}), 10)

	shim := NewLegacyShim(NewAlarmPool([]AlarmPeripheral{legacyHW}, clock, nil, 1), 1000)
	var h LegacyTimer
	shim.SetFn(&h, func(any) {}, nil)
	shim.Arm(&h, 3, true)

	signal, cpu := newSignal(t, 2)
	signal.SendYield(1)
	cpu.Service(1)

	clock.Advance(25)

	var wire bytes.Buffer
	r := NewReporter(&wire, clock)
	r.SetTimerService(svc)
	r.AddAlarm(svc.Alarm())
	r.AddAlarm(h.Binding())
	r.SetCrossCore(signal)
	r.SetLegacy(shim)
	r.SetEvents(true)
	if err := r.Report(); err != nil {
		t.Fatalf("Report: %v", err)
	}

	var msgs []protocol.Message
	var dec protocol.FrameDecoder
	err = dec.Receive(protocol.NewSliceInputBuffer(wire.Bytes()), func(f protocol.Frame) error {
		m, err := protocol.DecodeFrame(f.Payload)
		msgs = append(msgs, m...)
		return err
	})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	var clocks, timers, alarms, cores, legacy, events int
	for _, m := range msgs {
		switch v := m.(type) {
		case protocol.ClockReport:
			clocks++
			if v.Clock != 1025 || v.Hz != 1000 {
				t.Errorf("Unexpected clock report %+v", v)
			}
		case protocol.TimerReport:
			timers++
			if v.Name != "heartbeat" || v.Fired != 2 || !v.Active {
				t.Errorf("Unexpected timer report %+v", v)
			}
		case protocol.AlarmReport:
			alarms++
		case protocol.CoreReport:
			cores++
			if v.Core == 1 && v.Yields != 1 {
				t.Errorf("Expected one yield on core 1, got %+v", v)
			}
		case protocol.LegacyReport:
			legacy++
			if v.Handles != 1 || v.Fired != 8 {
				t.Errorf("Unexpected legacy report %+v", v)
			}
		case protocol.EventReport:
			events++
		}
	}
	if clocks != 1 || timers != 1 || alarms != 2 || cores != 2 || legacy != 1 || events == 0 {
		t.Errorf("Unexpected batch: clocks=%d timers=%d alarms=%d cores=%d legacy=%d events=%d",
			clocks, timers, alarms, cores, legacy, events)
	}

	// a second batch carries no repeated events
	wire.Reset()
	r.Report()
	msgs = nil
	dec.Receive(protocol.NewSliceInputBuffer(wire.Bytes()), func(f protocol.Frame) error {
		m, err := protocol.DecodeFrame(f.Payload)
		msgs = append(msgs, m...)
		return err
	})
	for _, m := range msgs {
		if _, ok := m.(protocol.EventReport); ok {
			t.Error("Events repeated in the second batch")
			break
		}
	}
}

func TestSetTimingLock(t *testing.T) {
	var lock recordingLock
	SetTimingLock(&lock)
	defer SetTimingLock(nil)

	RecordTiming(EvtAlarmArm, 0, 1, 0, 0)
	if len(lock.calls) != 2 || lock.calls[0] != "enter" {
		t.Errorf("Expected RecordTiming under the supplied lock, got %v", lock.calls)
	}
}

package protocol

import (
	"bytes"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/juju/errors"
)

func TestDecodeFrameMixed(t *testing.T) {
	msgs := []Message{
		ClockReport{Version: Version, Clock: 0xFFFFFFF0, Hz: 1000000, Uptime: 2},
		TimerReport{Slot: 0, Name: "blink", WakeTime: 0x10, Period: 500, Active: true, Fired: 3},
		AlarmReport{ID: 1, State: 2, Deadline: 5, Periodic: false, Armed: 4, Fired: 3, Spurious: 1, Delivered: 2},
		CoreReport{Core: 1, Pending: 0x4, Sent: 9, Interrupts: 8, Yields: 6, FreqSwitches: 1, Backtraces: 1},
		EventReport{Type: 2, OID: 1, Clock: 12345, Value1: 7},
		LegacyReport{Handles: 2, Armed: 5, Fired: 4},
	}

	out := NewScratchOutput()
	for _, m := range msgs {
		m.Encode(out)
	}

	got, err := DecodeFrame(out.Result())
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if len(got) != len(msgs) {
		t.Fatalf("Expected %d messages, got %d", len(msgs), len(got))
	}
	for i := range msgs {
		if got[i] != msgs[i] {
			t.Errorf("Message %d: expected %+v, got %+v", i, msgs[i], got[i])
		}
	}
}

func TestDecodeUnknownMessage(t *testing.T) {
	data := EncodeVLQ(99)
	_, err := DecodeMessage(&data)
	if !errors.Is(err, ErrUnknownMessage) {
		t.Errorf("Expected ErrUnknownMessage, got %v", err)
	}
}

func TestDecodeTruncatedMessage(t *testing.T) {
	out := NewScratchOutput()
	AlarmReport{ID: 1, Armed: 1000}.Encode(out)
	data := out.Result()
	data = data[:len(data)-3]

	_, err := DecodeMessage(&data)
	if !errors.Is(err, ErrBufferTooSmall) {
		t.Errorf("Expected ErrBufferTooSmall, got %v", err)
	}
}

func TestTimerReportLongName(t *testing.T) {
	long := strings.Repeat("x", 130)

	var wire bytes.Buffer
	enc := NewFrameEncoder(&wire)
	if err := enc.WriteMessages(ClockReport{Version: Version}, TimerReport{Slot: 1, Name: long, Fired: 7}); err != nil {
		t.Fatalf("WriteMessages with a long name: %v", err)
	}

	out := NewScratchOutput()
	TimerReport{Slot: 1, Name: long, Fired: 7}.Encode(out)
	got, err := DecodeFrame(out.Result())
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	tr := got[0].(TimerReport)
	if tr.Name != long[:MaxNameLen] {
		t.Errorf("Expected the name cut to %d bytes, got %q", MaxNameLen, tr.Name)
	}
	if tr.Fired != 7 {
		t.Errorf("Fields after the name were corrupted: %+v", tr)
	}
}

func TestTimerReportNameKeepsRunes(t *testing.T) {
	name := strings.Repeat("\u00e9", 20) // 40 bytes
	out := NewScratchOutput()
	TimerReport{Name: name}.Encode(out)
	got, err := DecodeFrame(out.Result())
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	cut := got[0].(TimerReport).Name
	if len(cut) != MaxNameLen || !utf8.ValidString(cut) {
		t.Errorf("Expected %d bytes of valid UTF-8, got %d bytes %q", MaxNameLen, len(cut), cut)
	}
}

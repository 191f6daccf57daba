package sim

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/juju/errors"

	"gotick/config"
	"gotick/core"
	"gotick/protocol"
)

const testYAML = `
name: bench
cores: 2
tick_hz: 1000
dispatch: %s
timers:
  - name: heartbeat
    period_us: 10000
  - name: boot
    period_us: 30000
    one_shot: true
legacy:
  - name: blink
    ms: 5
    repeat: true
signals:
  - from: 0
    to: 1
    reason: yield
    every_ms: 20
report:
  interval_ms: 50
  events: true
`

func loadTestConfig(t *testing.T, dispatch string) *config.MachineConfig {
	t.Helper()
	cfg, err := config.LoadYAML([]byte(fmt.Sprintf(testYAML, dispatch)))
	if err != nil {
		t.Fatalf("LoadYAML: %v", err)
	}
	return cfg
}

func fired(m *Machine, name string) uint32 {
	for _, info := range m.Timers().Snapshot() {
		if info.Name == name {
			return info.Fired
		}
	}
	return 0
}

func decodeBatches(t *testing.T, wire []byte) []protocol.Message {
	t.Helper()
	var msgs []protocol.Message
	var dec protocol.FrameDecoder
	err := dec.Receive(protocol.NewSliceInputBuffer(wire), func(f protocol.Frame) error {
		m, err := protocol.DecodeFrame(f.Payload)
		msgs = append(msgs, m...)
		return err
	})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st := dec.Stats(); st.BadFrames != 0 {
		t.Errorf("Expected clean frames, got %+v", st)
	}
	return msgs
}

func TestMachineWorkload(t *testing.T) {
	for _, dispatch := range []string{config.DispatchTask, config.DispatchISR} {
		t.Run(dispatch, func(t *testing.T) {
			var wire bytes.Buffer
			m, err := New(loadTestConfig(t, dispatch), &wire)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			defer m.Close()

			if err := m.Step(100); err != nil {
				t.Fatalf("Step: %v", err)
			}

			if got := fired(m, "heartbeat"); got != 10 {
				t.Errorf("Expected 10 heartbeats, got %d", got)
			}
			if got := fired(m, "boot"); got != 1 {
				t.Errorf("Expected the one-shot once, got %d", got)
			}
			if got := m.LegacyFired("blink"); got != 20 {
				t.Errorf("Expected 20 legacy fires, got %d", got)
			}
			if got := m.CPU().Yields(1); got != 5 {
				t.Errorf("Expected 5 yields on core 1, got %d", got)
			}
			if st := m.Signal().Stats(1); st.Sent != 5 || st.Interrupts != 5 {
				t.Errorf("Unexpected core 1 stats %+v", st)
			}
			if m.SignalErrors() != 0 || m.Dropped() != 0 {
				t.Errorf("Unexpected errors: signal=%d dropped=%d", m.SignalErrors(), m.Dropped())
			}

			clocks := 0
			for _, msg := range decodeBatches(t, wire.Bytes()) {
				if c, ok := msg.(protocol.ClockReport); ok {
					clocks++
					if c.Hz != 1000 {
						t.Errorf("Expected 1000 Hz, got %d", c.Hz)
					}
				}
			}
			if clocks != 2 {
				t.Errorf("Expected a batch every 50 ticks, got %d", clocks)
			}
		})
	}
}

func TestMachineWrapsCleanly(t *testing.T) {
	cfg := loadTestConfig(t, config.DispatchTask)
	cfg.StartTick = 0xFFFFFFC0
	m, err := New(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	m.Step(100)

	if m.Now() != 100-0x40 {
		t.Errorf("Expected the clock past the wrap, got %#x", uint32(m.Now()))
	}
	if got := fired(m, "heartbeat"); got != 10 {
		t.Errorf("Expected 10 heartbeats across the wrap, got %d", got)
	}
	if got := m.LegacyFired("blink"); got != 20 {
		t.Errorf("Expected 20 legacy fires across the wrap, got %d", got)
	}
}

func TestMachineClose(t *testing.T) {
	m, err := New(loadTestConfig(t, config.DispatchTask), nil)
	if err != nil {
		t.Fatal(err)
	}
	m.Step(10)
	m.Close()
	blink := m.LegacyFired("blink")
	m.Step(100)

	if len(m.Timers().Snapshot()) != 0 {
		t.Errorf("Expected no timers after Close")
	}
	if m.LegacyFired("blink") != blink {
		t.Error("Legacy handle fired after Close")
	}
	if m.Timers().Alarm().State() != core.AlarmUnconfigured {
		t.Errorf("Expected the service alarm released, got %s", m.Timers().Alarm().State())
	}
}

func TestMachineInvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Dispatch = "dma"
	if _, err := New(cfg, nil); !errors.Is(err, errors.NotValid) {
		t.Errorf("Expected a NotValid error, got %v", err)
	}
	if _, err := New(nil, nil); !errors.Is(err, errors.NotValid) {
		t.Errorf("Expected a NotValid error for nil, got %v", err)
	}
}

func TestMachineRun(t *testing.T) {
	cfg := loadTestConfig(t, config.DispatchTask)
	m, err := New(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	err = m.Run(ctx, 5*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected the deadline error, got %v", err)
	}
	if m.Now() == 0 {
		t.Error("Run never advanced the clock")
	}
}

const dividerYAML = `
tick_hz: 1000
divider: %d
timers:
  - name: sample
    period_us: 8000
legacy:
  - name: poll
    ms: 8
    repeat: true
`

func TestMachineDivider(t *testing.T) {
	for _, divider := range []int{1, 4, 8} {
		t.Run(fmt.Sprintf("divider%d", divider), func(t *testing.T) {
			cfg, err := config.LoadYAML([]byte(fmt.Sprintf(dividerYAML, divider)))
			if err != nil {
				t.Fatalf("LoadYAML: %v", err)
			}
			m, err := New(cfg, nil)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			defer m.Close()

			if err := m.Step(1000); err != nil {
				t.Fatalf("Step: %v", err)
			}
			if got := fired(m, "sample"); got != 125 {
				t.Errorf("Expected 125 timer fires, got %d", got)
			}
			if late := m.Timers().Late(); late != 0 {
				t.Errorf("Expected every timer dispatch on time, %d late", late)
			}
			if got := m.LegacyFired("poll"); got != 125 {
				t.Errorf("Expected 125 legacy fires, got %d", got)
			}
		})
	}
}

func TestMachinePublishesSystemTicks(t *testing.T) {
	cfg := loadTestConfig(t, config.DispatchTask)
	cfg.StartTick = 0xFFFFFFF0
	m, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer m.Close()

	if err := m.Step(0x40); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if got := core.GetTime(); got != uint32(m.Now()) || got != 0x30 {
		t.Errorf("Expected system time 0x30, got %#x (machine %#x)", got, uint32(m.Now()))
	}
	if m.Uptime() != 0x40 {
		t.Errorf("Expected 0x40 ticks of uptime across the wrap, got %#x", m.Uptime())
	}
}

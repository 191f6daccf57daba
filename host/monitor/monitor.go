// Package monitor decodes the report stream of a gotick device and keeps
// the most recent view of its timers, alarms and cores.
package monitor

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"text/tabwriter"

	"github.com/juju/errors"

	"gotick/core"
	"gotick/protocol"
)

// EventHistory is the number of timing events kept
const EventHistory = 64

// Monitor represents a connection to a device streaming reports
type Monitor struct {
	reader *protocol.StreamReader

	mu      sync.Mutex
	clock   protocol.ClockReport
	batches uint32
	timers  []protocol.TimerReport
	pending []protocol.TimerReport
	alarms  map[uint32]protocol.AlarmReport
	cores   map[uint32]protocol.CoreReport
	legacy  protocol.LegacyReport
	events  []protocol.EventReport
	unknown uint32

	// Color highlights anomalies with ANSI escapes
	Color bool
}

// New creates a monitor reading frames from r. Set follow for devices and
// files still being written.
func New(r io.Reader, follow bool) *Monitor {
	reader := protocol.NewStreamReader(r)
	reader.Follow = follow
	return &Monitor{
		reader: reader,
		alarms: make(map[uint32]protocol.AlarmReport),
		cores:  make(map[uint32]protocol.CoreReport),
	}
}

// Run decodes frames until ctx is done or the stream ends
func (m *Monitor) Run(ctx context.Context) error {
	err := m.reader.Run(ctx, m.handleFrame)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return errors.Trace(err)
}

func (m *Monitor) handleFrame(f protocol.Frame) error {
	msgs, err := protocol.DecodeFrame(f.Payload)
	for _, msg := range msgs {
		m.Apply(msg)
	}
	if errors.Is(err, protocol.ErrUnknownMessage) {
		// newer firmware; keep what decoded
		m.mu.Lock()
		m.unknown++
		m.mu.Unlock()
		return nil
	}
	return errors.Trace(err)
}

// Apply folds one report into the current view
func (m *Monitor) Apply(msg protocol.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch r := msg.(type) {
	case protocol.ClockReport:
		m.timers, m.pending = m.pending, nil
		m.clock = r
		m.batches++
	case protocol.TimerReport:
		m.pending = append(m.pending, r)
	case protocol.AlarmReport:
		m.alarms[r.ID] = r
	case protocol.CoreReport:
		m.cores[r.Core] = r
	case protocol.LegacyReport:
		m.legacy = r
	case protocol.EventReport:
		m.events = append(m.events, r)
		if len(m.events) > EventHistory {
			m.events = m.events[len(m.events)-EventHistory:]
		}
	}
}

// Clock returns the latest clock report and the number of batches seen
func (m *Monitor) Clock() (protocol.ClockReport, uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clock, m.batches
}

// Timers returns the timers of the batch being received, or of the
// previous one while the current batch has none yet
func (m *Monitor) Timers() []protocol.TimerReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	timers := m.pending
	if len(timers) == 0 {
		timers = m.timers
	}
	return append([]protocol.TimerReport(nil), timers...)
}

// Alarms returns the latest report of every alarm, by id
func (m *Monitor) Alarms() []protocol.AlarmReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]protocol.AlarmReport, 0, len(m.alarms))
	for _, a := range m.alarms {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Cores returns the latest report of every core, by number
func (m *Monitor) Cores() []protocol.CoreReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]protocol.CoreReport, 0, len(m.cores))
	for _, c := range m.cores {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Core < out[j].Core })
	return out
}

// Legacy returns the latest legacy shim counters
func (m *Monitor) Legacy() protocol.LegacyReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.legacy
}

// Events returns the retained timing events, oldest first
func (m *Monitor) Events() []protocol.EventReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]protocol.EventReport(nil), m.events...)
}

// Stats returns the frame decoder counters
func (m *Monitor) Stats() protocol.DecoderStats {
	return m.reader.Stats()
}

func (m *Monitor) highlight(s string, bad bool) string {
	if !m.Color || !bad {
		return s
	}
	return "\x1b[31m" + s + "\x1b[0m"
}

// PrintSummary prints the clock and stream health
func (m *Monitor) PrintSummary(w io.Writer) {
	clock, batches := m.Clock()
	st := m.Stats()
	leg := m.Legacy()
	ms := uint64(0)
	if clock.Hz != 0 {
		ms = (uint64(clock.Uptime)<<32 | uint64(clock.Clock)) * 1000 / uint64(clock.Hz)
	}
	fmt.Fprintf(w, "protocol v%d  clock=%d  hz=%d  uptime=%dms  batches=%d\n",
		clock.Version, clock.Clock, clock.Hz, ms, batches)
	fmt.Fprintf(w, "frames=%d %s resyncs=%d seq-gaps=%d\n",
		st.Frames, m.highlight(fmt.Sprintf("bad=%d", st.BadFrames), st.BadFrames > 0), st.Resyncs, st.SeqGaps)
	fmt.Fprintf(w, "legacy: handles=%d armed=%d fired=%d\n", leg.Handles, leg.Armed, leg.Fired)
}

// PrintTimers prints the software timer table
func (m *Monitor) PrintTimers(w io.Writer) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SLOT\tNAME\tWAKE\tPERIOD\tACTIVE\tFIRED")
	for _, t := range m.Timers() {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%v\t%d\n", t.Slot, t.Name, t.WakeTime, t.Period, t.Active, t.Fired)
	}
	tw.Flush()
}

// PrintAlarms prints the alarm binding table
func (m *Monitor) PrintAlarms(w io.Writer) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATE\tDEADLINE\tPERIODIC\tARMED\tFIRED\tDELIVERED\tSPURIOUS\tDROPPED")
	for _, a := range m.Alarms() {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%v\t%d\t%d\t%d\t%s\t%s\n",
			a.ID, core.AlarmState(a.State), a.Deadline, a.Periodic, a.Armed, a.Fired, a.Delivered,
			m.highlight(fmt.Sprint(a.Spurious), a.Spurious > 0),
			m.highlight(fmt.Sprint(a.Dropped), a.Dropped > 0))
	}
	tw.Flush()
}

// PrintCores prints the cross-core signal table
func (m *Monitor) PrintCores(w io.Writer) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CORE\tPENDING\tSENT\tIRQS\tEMPTY\tYIELDS\tFREQ\tBACKTRACE\tEXT")
	for _, c := range m.Cores() {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\n",
			c.Core, core.Reason(c.Pending), c.Sent, c.Interrupts, c.Empty,
			c.Yields, c.FreqSwitches, c.Backtraces, c.Extension)
	}
	tw.Flush()
}

// PrintEvents prints the retained timing events
func (m *Monitor) PrintEvents(w io.Writer) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CLOCK\tEVENT\tOID\tV1\tV2")
	for _, ev := range m.Events() {
		name := core.TimingEventName(uint8(ev.Type))
		bad := ev.Type == core.EvtAlarmSpurious || ev.Type == core.EvtTimerPast ||
			ev.Type == core.EvtLegacyFatal || ev.Type == core.EvtEventDropped
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%d\n", ev.Clock, m.highlight(name, bad), ev.OID, ev.Value1, ev.Value2)
	}
	tw.Flush()
}

package core

import (
	"io"

	"github.com/juju/errors"

	"gotick/protocol"
)

// Reporter streams the state of the timing core as protocol reports. Each
// Report call writes one batch opened by a ClockReport.
type Reporter struct {
	enc    *protocol.FrameEncoder
	src    TickSource
	hz     uint32
	timers *TimerService
	alarms []*AlarmBinding
	signal *CrossCoreSignal
	legacy *LegacyShim

	events      bool
	eventCursor uint32
	lastClock   Tick
	epoch       uint32

	msgs []protocol.Message
}

// NewReporter creates a reporter writing frames to w
func NewReporter(w io.Writer, src TickSource) *Reporter {
	return &Reporter{
		enc: protocol.NewFrameEncoder(w),
		src: src,
		hz:  tickHz(src),
	}
}

func (r *Reporter) SetTimerService(s *TimerService) { r.timers = s }
func (r *Reporter) AddAlarm(b *AlarmBinding) { r.alarms = append(r.alarms, b) }
func (r *Reporter) SetCrossCore(s *CrossCoreSignal) { r.signal = s }
func (r *Reporter) SetLegacy(s *LegacyShim) { r.legacy = s }

// SetEvents includes new timing ring entries in every batch
func (r *Reporter) SetEvents(enabled bool) { r.events = enabled }

// Report writes one batch
func (r *Reporter) Report() error {
	now := r.src.Now()
	if now < r.lastClock {
		r.epoch++
	}
	r.lastClock = now

	r.msgs = append(r.msgs[:0], protocol.ClockReport{
		Version: protocol.Version,
		Clock:   uint32(now),
		Hz:      r.hz,
		Uptime:  r.epoch,
	})

	if r.timers != nil {
		for i, t := range r.timers.Snapshot() {
			r.msgs = append(r.msgs, protocol.TimerReport{
				Slot:     uint32(i),
				Name:     t.Name,
				WakeTime: uint32(t.WakeTime),
				Period:   uint32(t.Period),
				Active:   t.Active,
				Fired:    t.Fired,
			})
		}
	}

	for _, b := range r.alarms {
		st := b.Stats()
		deadline, periodic := b.Deadline()
		r.msgs = append(r.msgs, protocol.AlarmReport{
			ID:        uint32(b.ID()),
			State:     uint32(b.State()),
			Deadline:  uint32(deadline),
			Periodic:  periodic,
			Armed:     st.Armed,
			Fired:     st.Fired,
			Spurious:  st.Spurious,
			Dropped:   st.Dropped,
			Delivered: st.Delivered,
		})
	}

	if r.signal != nil {
		for core := 0; core < r.signal.Cores(); core++ {
			st := r.signal.Stats(uint8(core))
			r.msgs = append(r.msgs, protocol.CoreReport{
				Core:         uint32(core),
				Pending:      uint32(r.signal.Pending(uint8(core))),
				Sent:         st.Sent,
				Interrupts:   st.Interrupts,
				Empty:        st.Empty,
				Yields:       st.Yields,
				FreqSwitches: st.FreqSwitches,
				Backtraces:   st.Backtraces,
				Extension:    st.Extension,
			})
		}
	}

	if r.legacy != nil {
		st := r.legacy.Stats()
		r.msgs = append(r.msgs, protocol.LegacyReport{
			Handles: st.Handles,
			Armed:   st.Armed,
			Fired:   st.Fired,
		})
	}

	if r.events {
		var events []TimingEvent
		events, r.eventCursor = TimingEventsSince(r.eventCursor)
		for _, ev := range events {
			r.msgs = append(r.msgs, protocol.EventReport{
				Type:   uint32(ev.EventType),
				OID:    uint32(ev.OID),
				Clock:  ev.Clock,
				Value1: ev.Value1,
				Value2: ev.Value2,
			})
		}
	}

	return errors.Trace(r.enc.WriteMessages(r.msgs...))
}

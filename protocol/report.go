package protocol

import (
	"unicode/utf8"

	"github.com/juju/errors"
)

const ErrUnknownMessage = errors.ConstError("unknown message id")

// MaxNameLen bounds the name carried in a TimerReport so that any report
// fits one frame. Longer names are cut when encoding.
const MaxNameLen = 32

// Message ids
const (
	MsgClock  = 1
	MsgTimer  = 2
	MsgAlarm  = 3
	MsgCore   = 4
	MsgEvent  = 5
	MsgLegacy = 6
)

// ClockReport opens every report batch
type ClockReport struct {
	Version uint32
	Clock   uint32
	Hz      uint32
	Uptime  uint32 // high word of the 64-bit tick count
}

func (r ClockReport) Encode(output OutputBuffer) {
	EncodeVLQUint(output, MsgClock)
	EncodeVLQUint(output, r.Version)
	EncodeVLQUint(output, r.Clock)
	EncodeVLQUint(output, r.Hz)
	EncodeVLQUint(output, r.Uptime)
}

// TimerReport describes one software timer
type TimerReport struct {
	Slot     uint32
	Name     string
	WakeTime uint32
	Period   uint32
	Active   bool
	Fired    uint32
}

func (r TimerReport) Encode(output OutputBuffer) {
	EncodeVLQUint(output, MsgTimer)
	EncodeVLQUint(output, r.Slot)
	EncodeVLQString(output, truncateName(r.Name))
	EncodeVLQUint(output, r.WakeTime)
	EncodeVLQUint(output, r.Period)
	EncodeVLQBool(output, r.Active)
	EncodeVLQUint(output, r.Fired)
}

// AlarmReport describes one hardware alarm binding
type AlarmReport struct {
	ID        uint32
	State     uint32
	Deadline  uint32
	Periodic  bool
	Armed     uint32
	Fired     uint32
	Spurious  uint32
	Dropped   uint32
	Delivered uint32
}

func (r AlarmReport) Encode(output OutputBuffer) {
	EncodeVLQUint(output, MsgAlarm)
	EncodeVLQUint(output, r.ID)
	EncodeVLQUint(output, r.State)
	EncodeVLQUint(output, r.Deadline)
	EncodeVLQBool(output, r.Periodic)
	EncodeVLQUint(output, r.Armed)
	EncodeVLQUint(output, r.Fired)
	EncodeVLQUint(output, r.Spurious)
	EncodeVLQUint(output, r.Dropped)
	EncodeVLQUint(output, r.Delivered)
}

// CoreReport describes the cross-core signal state of one core
type CoreReport struct {
	Core         uint32
	Pending      uint32
	Sent         uint32
	Interrupts   uint32
	Empty        uint32
	Yields       uint32
	FreqSwitches uint32
	Backtraces   uint32
	Extension    uint32
}

func (r CoreReport) Encode(output OutputBuffer) {
	EncodeVLQUint(output, MsgCore)
	for _, v := range r.fields() {
		EncodeVLQUint(output, *v)
	}
}

func (r *CoreReport) fields() []*uint32 {
	return []*uint32{
		&r.Core, &r.Pending, &r.Sent, &r.Interrupts, &r.Empty,
		&r.Yields, &r.FreqSwitches, &r.Backtraces, &r.Extension,
	}
}

// EventReport carries one timing ring entry
type EventReport struct {
	Type   uint32
	OID    uint32
	Clock  uint32
	Value1 uint32
	Value2 uint32
}

func (r EventReport) Encode(output OutputBuffer) {
	EncodeVLQUint(output, MsgEvent)
	EncodeVLQUint(output, r.Type)
	EncodeVLQUint(output, r.OID)
	EncodeVLQUint(output, r.Clock)
	EncodeVLQUint(output, r.Value1)
	EncodeVLQUint(output, r.Value2)
}

// LegacyReport carries the legacy handle counters
type LegacyReport struct {
	Handles uint32
	Armed   uint32
	Fired   uint32
}

func (r LegacyReport) Encode(output OutputBuffer) {
	EncodeVLQUint(output, MsgLegacy)
	EncodeVLQUint(output, r.Handles)
	EncodeVLQUint(output, r.Armed)
	EncodeVLQUint(output, r.Fired)
}

// truncateName cuts s to MaxNameLen bytes without splitting a UTF-8
// sequence
func truncateName(s string) string {
	if len(s) <= MaxNameLen {
		return s
	}
	n := MaxNameLen
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// DecodeMessage decodes the next message of a frame payload and advances
// data past it
func DecodeMessage(data *[]byte) (Message, error) {
	id, err := DecodeVLQUint(data)
	if err != nil {
		return nil, errors.Annotate(err, "message id")
	}

	var m Message
	switch id {
	case MsgClock:
		var r ClockReport
		err = decodeUints(data, &r.Version, &r.Clock, &r.Hz, &r.Uptime)
		m = r
	case MsgTimer:
		m, err = decodeTimer(data)
	case MsgAlarm:
		m, err = decodeAlarm(data)
	case MsgCore:
		var r CoreReport
		err = decodeUints(data, r.fields()...)
		m = r
	case MsgEvent:
		var r EventReport
		err = decodeUints(data, &r.Type, &r.OID, &r.Clock, &r.Value1, &r.Value2)
		m = r
	case MsgLegacy:
		var r LegacyReport
		err = decodeUints(data, &r.Handles, &r.Armed, &r.Fired)
		m = r
	default:
		return nil, errors.Annotatef(ErrUnknownMessage, "id %d", id)
	}
	if err != nil {
		return nil, errors.Annotatef(err, "message %d", id)
	}
	return m, nil
}

// DecodeFrame decodes every message of a frame payload
func DecodeFrame(payload []byte) ([]Message, error) {
	var msgs []Message
	for len(payload) > 0 {
		m, err := DecodeMessage(&payload)
		if err != nil {
			return msgs, err
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

func decodeUints(data *[]byte, dst ...*uint32) error {
	for _, p := range dst {
		v, err := DecodeVLQUint(data)
		if err != nil {
			return err
		}
		*p = v
	}
	return nil
}

func decodeTimer(data *[]byte) (TimerReport, error) {
	var r TimerReport
	var err error
	if r.Slot, err = DecodeVLQUint(data); err != nil {
		return r, err
	}
	if r.Name, err = DecodeVLQString(data); err != nil {
		return r, err
	}
	if err = decodeUints(data, &r.WakeTime, &r.Period); err != nil {
		return r, err
	}
	if r.Active, err = DecodeVLQBool(data); err != nil {
		return r, err
	}
	r.Fired, err = DecodeVLQUint(data)
	return r, err
}

func decodeAlarm(data *[]byte) (AlarmReport, error) {
	var r AlarmReport
	var err error
	if err = decodeUints(data, &r.ID, &r.State, &r.Deadline); err != nil {
		return r, err
	}
	if r.Periodic, err = DecodeVLQBool(data); err != nil {
		return r, err
	}
	err = decodeUints(data, &r.Armed, &r.Fired, &r.Spurious, &r.Dropped, &r.Delivered)
	return r, err
}

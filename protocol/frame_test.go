package protocol

import (
	"bytes"
	"context"
	"testing"

	"github.com/juju/errors"
)

func TestAppendFrameLayout(t *testing.T) {
	frame := AppendFrame(nil, 3, []byte{0xAA, 0xBB})

	if len(frame) != 7 {
		t.Fatalf("Expected 7-byte frame, got %d: % X", len(frame), frame)
	}
	if frame[0] != 7 {
		t.Errorf("Expected length byte 7, got %d", frame[0])
	}
	if frame[1] != MessageDest|3 {
		t.Errorf("Expected seq byte 0x13, got 0x%02X", frame[1])
	}
	crc := CRC16(frame[:4])
	if frame[4] != byte(crc>>8) || frame[5] != byte(crc) {
		t.Errorf("CRC mismatch: expected %04X, got %02X%02X", crc, frame[4], frame[5])
	}
	if frame[6] != MessageValueSync {
		t.Errorf("Expected trailing sync, got 0x%02X", frame[6])
	}
}

func collectFrames(t *testing.T, dec *FrameDecoder, input InputBuffer) []Frame {
	t.Helper()
	var frames []Frame
	err := dec.Receive(input, func(f Frame) error {
		frames = append(frames, Frame{Seq: f.Seq, Payload: append([]byte(nil), f.Payload...)})
		return nil
	})
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	return frames
}

func TestDecoderRoundTrip(t *testing.T) {
	var wire bytes.Buffer
	enc := NewFrameEncoder(&wire)
	for i := 0; i < 3; i++ {
		if err := enc.WriteFrame(func(out OutputBuffer) { EncodeVLQUint(out, uint32(i*1000)) }); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
	}

	var dec FrameDecoder
	input := NewSliceInputBuffer(wire.Bytes())
	frames := collectFrames(t, &dec, input)

	if len(frames) != 3 {
		t.Fatalf("Expected 3 frames, got %d", len(frames))
	}
	for i, f := range frames {
		if f.Seq != uint8(i) {
			t.Errorf("Frame %d: expected seq %d, got %d", i, i, f.Seq)
		}
		data := f.Payload
		v, err := DecodeVLQUint(&data)
		if err != nil || v != uint32(i*1000) {
			t.Errorf("Frame %d: expected %d, got %d (%v)", i, i*1000, v, err)
		}
	}
	if input.Available() != 0 {
		t.Errorf("Expected all input consumed, %d left", input.Available())
	}
	if s := dec.Stats(); s.Frames != 3 || s.BadFrames != 0 || s.SeqGaps != 0 {
		t.Errorf("Unexpected stats %+v", s)
	}
}

func TestDecoderResyncAfterGarbage(t *testing.T) {
	good := AppendFrame(nil, 0, []byte{0x01, 0x02})
	stream := append([]byte{0x09, 0x10, 0xFF, 0x33}, good...)
	stream = AppendFrame(stream, 1, []byte{0x05})

	var dec FrameDecoder
	frames := collectFrames(t, &dec, NewSliceInputBuffer(stream))

	if len(frames) != 1 || frames[0].Seq != 1 {
		t.Fatalf("Expected only the frame after the resync point, got %+v", frames)
	}
	s := dec.Stats()
	if s.BadFrames == 0 || s.Resyncs == 0 {
		t.Errorf("Expected a bad frame and a resync, got %+v", s)
	}
}

func TestDecoderCorruptCRC(t *testing.T) {
	frame := AppendFrame(nil, 0, []byte{0x01, 0x02})
	frame[2] ^= 0xFF
	frame = AppendFrame(frame, 1, []byte{0x03})

	var dec FrameDecoder
	frames := collectFrames(t, &dec, NewSliceInputBuffer(frame))

	if len(frames) != 1 || frames[0].Payload[0] != 0x03 {
		t.Fatalf("Expected the corrupt frame dropped and the next kept, got %+v", frames)
	}
}

func TestDecoderPartialFrame(t *testing.T) {
	frame := AppendFrame(nil, 0, []byte{1, 2, 3, 4})
	fifo := NewFifoBuffer(64)
	fifo.Write(frame[:5])

	var dec FrameDecoder
	if frames := collectFrames(t, &dec, fifo); len(frames) != 0 {
		t.Fatalf("Expected no frame from partial input, got %d", len(frames))
	}
	if fifo.Available() != 5 {
		t.Errorf("Partial frame should stay buffered, %d bytes left", fifo.Available())
	}

	fifo.Write(frame[5:])
	if frames := collectFrames(t, &dec, fifo); len(frames) != 1 {
		t.Fatalf("Expected the completed frame, got %d", len(frames))
	}
}

func TestDecoderSeqGap(t *testing.T) {
	stream := AppendFrame(nil, 0, []byte{1})
	stream = AppendFrame(stream, 3, []byte{2})

	var dec FrameDecoder
	collectFrames(t, &dec, NewSliceInputBuffer(stream))

	if gaps := dec.Stats().SeqGaps; gaps != 2 {
		t.Errorf("Expected 2 missing frames, got %d", gaps)
	}
}

func TestWriteMessagesSplitsFrames(t *testing.T) {
	var wire bytes.Buffer
	enc := NewFrameEncoder(&wire)

	msgs := make([]Message, 0, 20)
	for i := 0; i < 20; i++ {
		msgs = append(msgs, TimerReport{Slot: uint32(i), Name: "periodic-timer", WakeTime: 0xFFFFFF00, Fired: uint32(i)})
	}
	if err := enc.WriteMessages(msgs...); err != nil {
		t.Fatalf("WriteMessages: %v", err)
	}

	var got []Message
	var dec FrameDecoder
	frames := collectFrames(t, &dec, NewSliceInputBuffer(wire.Bytes()))
	if len(frames) < 2 {
		t.Errorf("Expected the batch to span several frames, got %d", len(frames))
	}
	for _, f := range frames {
		if len(f.Payload) > MessagePayloadMax {
			t.Errorf("Frame payload %d exceeds max %d", len(f.Payload), MessagePayloadMax)
		}
		m, err := DecodeFrame(f.Payload)
		if err != nil {
			t.Fatalf("DecodeFrame: %v", err)
		}
		got = append(got, m...)
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

func TestWriteFrameTooLong(t *testing.T) {
	enc := NewFrameEncoder(&bytes.Buffer{})
	err := enc.WriteFrame(func(out OutputBuffer) { out.Output(make([]byte, MessagePayloadMax+1)) })
	if !errors.Is(err, ErrFrameTooLong) {
		t.Errorf("Expected ErrFrameTooLong, got %v", err)
	}
}

func TestStreamReader(t *testing.T) {
	var wire bytes.Buffer
	enc := NewFrameEncoder(&wire)
	enc.WriteMessages(ClockReport{Version: Version, Clock: 42, Hz: 1000000})
	enc.WriteMessages(CoreReport{Core: 1, Yields: 7})

	var got []Message
	r := NewStreamReader(&wire)
	err := r.Run(context.Background(), func(f Frame) error {
		m, err := DecodeFrame(f.Payload)
		got = append(got, m...)
		return err
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(got))
	}
	if c, ok := got[1].(CoreReport); !ok || c.Core != 1 || c.Yields != 7 {
		t.Errorf("Unexpected core report %+v", got[1])
	}
}

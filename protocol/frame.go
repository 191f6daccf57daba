package protocol

import (
	"context"
	"io"
	"time"

	"github.com/juju/errors"
)

const ErrFrameTooLong = errors.ConstError("frame payload too long")

// Message is anything that encodes itself, id first, into a frame payload
type Message interface {
	Encode(output OutputBuffer)
}

// AppendFrame appends a complete frame carrying payload to dst
func AppendFrame(dst []byte, seq uint8, payload []byte) []byte {
	start := len(dst)
	dst = append(dst, byte(len(payload)+MessageLengthMin), MessageDest|seq&MessageSeqMask)
	dst = append(dst, payload...)
	dst = appendCRC(dst, CRC16(dst[start:]))
	return append(dst, MessageValueSync)
}

// FrameEncoder writes frames with a rolling sequence number
type FrameEncoder struct {
	w       io.Writer
	seq     uint8
	payload ScratchOutput
	msg     ScratchOutput
	frame   []byte
}

func NewFrameEncoder(w io.Writer) *FrameEncoder {
	return &FrameEncoder{w: w, frame: make([]byte, 0, MessageLengthMax)}
}

// WriteFrame sends one frame whose payload is produced by body
func (e *FrameEncoder) WriteFrame(body func(output OutputBuffer)) error {
	e.payload.Reset()
	body(&e.payload)
	return e.flush()
}

// WriteMessages packs msgs into as few frames as fit MessagePayloadMax
func (e *FrameEncoder) WriteMessages(msgs ...Message) error {
	e.payload.Reset()
	for _, m := range msgs {
		e.msg.Reset()
		m.Encode(&e.msg)
		encoded := e.msg.Result()
		if len(encoded) > MessagePayloadMax {
			return errors.Annotatef(ErrFrameTooLong, "message of %d bytes", len(encoded))
		}
		if e.payload.CurPosition()+len(encoded) > MessagePayloadMax {
			if err := e.flush(); err != nil {
				return err
			}
		}
		e.payload.Output(encoded)
	}
	if e.payload.CurPosition() == 0 {
		return nil
	}
	return e.flush()
}

func (e *FrameEncoder) flush() error {
	payload := e.payload.Result()
	if len(payload) > MessagePayloadMax {
		return errors.Annotatef(ErrFrameTooLong, "%d bytes", len(payload))
	}
	e.frame = AppendFrame(e.frame[:0], e.seq, payload)
	e.seq = (e.seq + 1) & MessageSeqMask
	e.payload.Reset()

	n, err := e.w.Write(e.frame)
	if err != nil {
		return errors.Annotate(err, "write frame")
	}
	if n != len(e.frame) {
		return errors.Errorf("incomplete frame write: %d/%d bytes", n, len(e.frame))
	}
	return nil
}

// Frame is one validated frame. Payload aliases the decoder input and is
// only valid during the callback.
type Frame struct {
	Seq     uint8
	Payload []byte
}

// DecoderStats counts stream health
type DecoderStats struct {
	Frames    uint32
	BadFrames uint32 // length, trailer or CRC errors
	Resyncs   uint32
	SeqGaps   uint32 // frames missing between two good ones
	Discarded uint32 // bytes skipped while unsynchronized
}

// FrameDecoder extracts frames from a byte stream. On any framing error it
// drops to unsynchronized mode and skips ahead to the next sync byte.
type FrameDecoder struct {
	unsynced bool
	haveSeq  bool
	nextSeq  uint8
	stats    DecoderStats
}

// Stats returns the decoder counters
func (d *FrameDecoder) Stats() DecoderStats {
	return d.stats
}

// Receive decodes every complete frame in input, calling fn for each, and
// pops the bytes consumed. An incomplete trailing frame stays in input.
func (d *FrameDecoder) Receive(input InputBuffer, fn func(Frame) error) error {
	data := input.Data()
	var ferr error

	for len(data) > 0 && ferr == nil {
		if d.unsynced {
			i := 0
			for i < len(data) && data[i] != MessageValueSync {
				i++
			}
			d.stats.Discarded += uint32(i)
			if i == len(data) {
				data = nil
				break
			}
			data = data[i+1:]
			d.unsynced = false
			d.haveSeq = false
			d.stats.Resyncs++
			continue
		}

		if data[0] == MessageValueSync {
			data = data[1:]
			continue
		}
		if len(data) < MessageLengthMin {
			break
		}

		msgLen := int(data[MessagePositionLen])
		seq := data[MessagePositionSeq]
		if msgLen < MessageLengthMin || msgLen > MessageLengthMax || seq&^MessageSeqMask != MessageDest {
			d.desync()
			continue
		}
		if len(data) < msgLen {
			break
		}
		if data[msgLen-MessageTrailerSync] != MessageValueSync {
			d.desync()
			continue
		}
		frameCRC := uint16(data[msgLen-MessageTrailerCRC])<<8 | uint16(data[msgLen-MessageTrailerCRC+1])
		if frameCRC != CRC16(data[:msgLen-MessageTrailerSize]) {
			d.desync()
			continue
		}

		seq &= MessageSeqMask
		if d.haveSeq && seq != d.nextSeq {
			d.stats.SeqGaps += uint32((seq - d.nextSeq) & MessageSeqMask)
		}
		d.haveSeq = true
		d.nextSeq = (seq + 1) & MessageSeqMask
		d.stats.Frames++

		frame := Frame{Seq: seq, Payload: data[MessageHeaderSize : msgLen-MessageTrailerSize]}
		data = data[msgLen:]
		if fn != nil {
			ferr = fn(frame)
		}
	}

	if consumed := input.Available() - len(data); consumed > 0 {
		input.Pop(consumed)
	}
	return ferr
}

func (d *FrameDecoder) desync() {
	d.unsynced = true
	d.stats.BadFrames++
}

// StreamReader feeds a FrameDecoder from an io.Reader
type StreamReader struct {
	r    io.Reader
	fifo *FifoBuffer
	dec  FrameDecoder
	buf  []byte

	// Follow keeps reading after io.EOF, polling every PollInterval. Serial
	// ports with a read timeout report idle lines this way.
	Follow       bool
	PollInterval time.Duration
}

func NewStreamReader(r io.Reader) *StreamReader {
	return &StreamReader{
		r:            r,
		fifo:         NewFifoBuffer(MessageMax),
		buf:          make([]byte, MessageMax),
		PollInterval: 10 * time.Millisecond,
	}
}

// Stats returns the underlying decoder counters
func (s *StreamReader) Stats() DecoderStats {
	return s.dec.Stats()
}

// Run reads and decodes until ctx is done, the reader fails, or fn returns
// an error. A clean end of stream returns nil unless Follow is set.
func (s *StreamReader) Run(ctx context.Context, fn func(Frame) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := s.r.Read(s.buf[:s.fifo.Free()])
		if n > 0 {
			s.fifo.Write(s.buf[:n])
			if ferr := s.dec.Receive(s.fifo, fn); ferr != nil {
				return ferr
			}
		}

		switch {
		case err == io.EOF && s.Follow:
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.PollInterval):
			}
		case err == io.EOF:
			return nil
		case err != nil:
			return errors.Annotate(err, "read stream")
		}
	}
}

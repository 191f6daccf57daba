package protocol

import "github.com/juju/errors"

const (
	ErrInvalidVLQ     = errors.ConstError("invalid VLQ encoding")
	ErrBufferTooSmall = errors.ConstError("buffer too small for VLQ")
)

// vlqMaxBytes is the longest encoding of a 32-bit value
const vlqMaxBytes = 5

// EncodeVLQInt encodes a signed integer, most significant group first.
// Values in [-32, 96) take one byte; each extra byte widens the range by
// seven bits.
func EncodeVLQInt(output OutputBuffer, v int32) {
	var buf [vlqMaxBytes]byte
	n := 0
	for shift := 28; shift > 0; shift -= 7 {
		lo := -(int32(1) << (shift - 2))
		hi := int32(3) << (shift - 2)
		if v < lo || v >= hi {
			buf[n] = byte(v>>shift)&0x7F | 0x80
			n++
		}
	}
	buf[n] = byte(v) & 0x7F
	output.Output(buf[:n+1])
}

// EncodeVLQUint encodes an unsigned integer
func EncodeVLQUint(output OutputBuffer, v uint32) {
	EncodeVLQInt(output, int32(v))
}

// DecodeVLQInt decodes a signed integer and advances data past it
func DecodeVLQInt(data *[]byte) (int32, error) {
	if len(*data) == 0 {
		return 0, ErrBufferTooSmall
	}

	c := uint32((*data)[0])
	*data = (*data)[1:]

	v := c & 0x7F
	if c&0x60 == 0x60 {
		v |= ^uint32(0x1F)
	}

	for n := 1; c&0x80 != 0; n++ {
		if n == vlqMaxBytes {
			return 0, ErrInvalidVLQ
		}
		if len(*data) == 0 {
			return 0, ErrBufferTooSmall
		}
		c = uint32((*data)[0])
		*data = (*data)[1:]
		v = v<<7 | c&0x7F
	}

	return int32(v), nil
}

// DecodeVLQUint decodes an unsigned integer and advances data past it
func DecodeVLQUint(data *[]byte) (uint32, error) {
	v, err := DecodeVLQInt(data)
	return uint32(v), err
}

// EncodeVLQ returns the encoding of v
func EncodeVLQ(v int32) []byte {
	output := NewScratchOutput()
	EncodeVLQInt(output, v)
	return append([]byte(nil), output.Result()...)
}

// EncodeVLQBool encodes a flag as 0 or 1
func EncodeVLQBool(output OutputBuffer, v bool) {
	if v {
		EncodeVLQUint(output, 1)
	} else {
		EncodeVLQUint(output, 0)
	}
}

// DecodeVLQBool decodes a flag; any non-zero value is true
func DecodeVLQBool(data *[]byte) (bool, error) {
	v, err := DecodeVLQUint(data)
	return v != 0, err
}

// EncodeVLQString encodes a string with a length prefix
func EncodeVLQString(output OutputBuffer, s string) {
	EncodeVLQUint(output, uint32(len(s)))
	output.Output([]byte(s))
}

// DecodeVLQString decodes a length-prefixed string
func DecodeVLQString(data *[]byte) (string, error) {
	length, err := DecodeVLQUint(data)
	if err != nil {
		return "", err
	}
	if uint32(len(*data)) < length {
		return "", ErrBufferTooSmall
	}
	s := string((*data)[:length])
	*data = (*data)[length:]
	return s, nil
}

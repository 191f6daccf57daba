package protocol

import (
	"bytes"
	"testing"

	"github.com/juju/errors"
)

func TestVLQEncodeDecodeInt(t *testing.T) {
	testCases := []int32{
		0, 1, -1, 95, 96, -32, -33,
		127, -127, 128, -128,
		1000, -1000, 65535, -65535,
		1000000, -1000000,
		1 << 30, -(1 << 30),
		2147483647, -2147483648,
	}

	for _, expected := range testCases {
		output := NewScratchOutput()
		EncodeVLQInt(output, expected)
		encoded := output.Result()

		data := encoded
		decoded, err := DecodeVLQInt(&data)
		if err != nil {
			t.Errorf("Failed to decode VLQ for value %d: %v", expected, err)
			continue
		}
		if decoded != expected {
			t.Errorf("VLQ mismatch: expected %d, got %d (encoded as %v)", expected, decoded, encoded)
		}
		if len(data) != 0 {
			t.Errorf("VLQ decode didn't consume all bytes for value %d: %d bytes remaining", expected, len(data))
		}
	}
}

func TestVLQEncodingLength(t *testing.T) {
	testCases := []struct {
		value int32
		bytes []byte
	}{
		{0, []byte{0x00}},
		{95, []byte{0x5F}},
		{-32, []byte{0x60}},
		{96, []byte{0x80, 0x60}},
		{1000, []byte{0x87, 0x68}},
		{-1, []byte{0x7F}},
	}

	for _, tc := range testCases {
		if got := EncodeVLQ(tc.value); !bytes.Equal(got, tc.bytes) {
			t.Errorf("EncodeVLQ(%d): expected % X, got % X", tc.value, tc.bytes, got)
		}
	}
}

func TestVLQEncodeDecodeUint(t *testing.T) {
	testCases := []uint32{0, 1, 127, 128, 255, 1000, 65535, 1000000, 0xFFFFFFF0, 0xFFFFFFFF}

	for _, expected := range testCases {
		output := NewScratchOutput()
		EncodeVLQUint(output, expected)

		data := output.Result()
		decoded, err := DecodeVLQUint(&data)
		if err != nil {
			t.Errorf("Failed to decode VLQ for value %d: %v", expected, err)
			continue
		}
		if decoded != expected {
			t.Errorf("VLQ mismatch: expected %d, got %d", expected, decoded)
		}
	}
}

func TestVLQString(t *testing.T) {
	testCases := []string{"", "hello", "legacy-blink", "Special chars: !@#$%^&*()"}

	for _, expected := range testCases {
		output := NewScratchOutput()
		EncodeVLQString(output, expected)

		data := output.Result()
		decoded, err := DecodeVLQString(&data)
		if err != nil {
			t.Errorf("Failed to decode string '%s': %v", expected, err)
			continue
		}
		if decoded != expected {
			t.Errorf("String mismatch: expected '%s', got '%s'", expected, decoded)
		}
	}
}

func TestVLQBool(t *testing.T) {
	output := NewScratchOutput()
	EncodeVLQBool(output, true)
	EncodeVLQBool(output, false)

	data := output.Result()
	a, err := DecodeVLQBool(&data)
	if err != nil || !a {
		t.Errorf("Expected true, got %v (%v)", a, err)
	}
	b, err := DecodeVLQBool(&data)
	if err != nil || b {
		t.Errorf("Expected false, got %v (%v)", b, err)
	}
}

func TestVLQBufferTooSmall(t *testing.T) {
	data := []byte{0x80}
	_, err := DecodeVLQInt(&data)
	if !errors.Is(err, ErrBufferTooSmall) {
		t.Errorf("Expected ErrBufferTooSmall, got %v", err)
	}

	data = []byte{0x05, 'a', 'b'}
	if _, err := DecodeVLQString(&data); !errors.Is(err, ErrBufferTooSmall) {
		t.Errorf("Expected ErrBufferTooSmall for short string, got %v", err)
	}
}

func TestVLQTooLong(t *testing.T) {
	data := []byte{0x81, 0x81, 0x81, 0x81, 0x81, 0x01}
	_, err := DecodeVLQInt(&data)
	if !errors.Is(err, ErrInvalidVLQ) {
		t.Errorf("Expected ErrInvalidVLQ, got %v", err)
	}
}

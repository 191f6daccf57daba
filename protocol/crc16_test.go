package protocol

import "testing"

func TestCRC16Vectors(t *testing.T) {
	testCases := []struct {
		data     []byte
		expected uint16
	}{
		{[]byte{}, 0xFFFF},
		{[]byte{0x00}, 0x0F87},
		{[]byte{5, MessageDest}, 0x9E81},
		{[]byte("123456789"), 0x6F91},
	}

	for i, tc := range testCases {
		if got := CRC16(tc.data); got != tc.expected {
			t.Errorf("Test case %d: CRC16(%v) expected 0x%04X, got 0x%04X", i, tc.data, tc.expected, got)
		}
	}
}

func TestCRC16Different(t *testing.T) {
	crc1 := CRC16([]byte{0x01, 0x02, 0x03})
	crc2 := CRC16([]byte{0x01, 0x02, 0x04})

	if crc1 == crc2 {
		t.Errorf("CRC16 collision: both inputs produced %04X", crc1)
	}
}

func TestAppendCRC(t *testing.T) {
	out := appendCRC(nil, 0x9E81)
	if len(out) != 2 || out[0] != 0x9E || out[1] != 0x81 {
		t.Errorf("Expected [9E 81], got % X", out)
	}
}

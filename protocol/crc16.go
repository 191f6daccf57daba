package protocol

// CRC16 is the CRC-16/MCRF4XX checksum used in frame trailers
// (poly 0x1021 reflected, init 0xFFFF, no final xor).
func CRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		b ^= uint8(crc)
		b ^= b << 4
		w := uint16(b)
		crc = (w<<8 | crc>>8) ^ (w >> 4) ^ (w << 3)
	}
	return crc
}

// appendCRC writes the two checksum bytes, high first
func appendCRC(dst []byte, crc uint16) []byte {
	return append(dst, byte(crc>>8), byte(crc))
}

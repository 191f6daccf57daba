// Package protocol implements the framed report stream between a gotick
// device and the host monitor. Frames follow the Klipper layout:
//
//	[len][seq][payload ...][crc hi][crc lo][0x7E]
//
// and payloads are sequences of VLQ-encoded messages, each led by its
// message id.
package protocol

// Version is the report stream revision carried in ClockReport
const Version = 1

// Frame layout
const (
	MessageMax         = 512 // scratch buffer size
	MessageHeaderSize  = 2
	MessageTrailerSize = 3
	MessageLengthMin   = MessageHeaderSize + MessageTrailerSize
	MessageLengthMax   = 128
	MessagePayloadMax  = MessageLengthMax - MessageLengthMin
	MessagePositionLen = 0
	MessagePositionSeq = 1
	MessageTrailerCRC  = 3
	MessageTrailerSync = 1
	MessageValueSync   = 0x7E

	// Sequence byte: high nibble fixed, low nibble rolling
	MessageDest     = 0x10
	MessageSeqMask  = 0x0F
	MessageSeqShift = 4
)

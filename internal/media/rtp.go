package media

import (
	"crypto/rand"
	"encoding/binary"
)

func random32() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0x12345678
	}
	return binary.BigEndian.Uint32(b[:])
}

// GenerateSSRC returns a random synchronization source identifier.
func GenerateSSRC() uint32 {
	return random32()
}

// GenerateSequenceStart returns a random initial sequence number.
func GenerateSequenceStart() uint16 {
	return uint16(random32())
}

// GenerateTimestampStart returns a random initial timestamp.
func GenerateTimestampStart() uint32 {
	return random32()
}

package media

import (
	"encoding/binary"
	"fmt"
)

// DTMFEvent represents an RFC 4733 telephone-event payload.
//
//	 0                   1                   2                   3
//	 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|     event     |E|R| volume    |          duration             |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
type DTMFEvent struct {
	Event      uint8  // 0-15: 0-9, *, #, A-D
	EndOfEvent bool   // E bit
	Volume     uint8  // 0-63 dBm0
	Duration   uint16 // timestamp units
}

const (
	// MinDTMFDuration filters presses shorter than 50ms at 8kHz.
	MinDTMFDuration uint16 = 400
	// DTMFPayloadType is the telephone-event payload type we offer.
	DTMFPayloadType uint8 = 101
)

// dtmfAlphabet maps event codes to characters.
const dtmfAlphabet = "0123456789*#ABCD"

// RuneToEvent converts a DTMF character to its event code.
func RuneToEvent(r rune) (uint8, bool) {
	if r >= 'a' && r <= 'd' {
		r -= 'a' - 'A'
	}
	for i, c := range dtmfAlphabet {
		if c == r {
			return uint8(i), true
		}
	}
	return 0, false
}

// EventToRune converts a DTMF event code to its character.
func EventToRune(event uint8) (rune, bool) {
	if int(event) >= len(dtmfAlphabet) {
		return 0, false
	}
	return rune(dtmfAlphabet[event]), true
}

// Encode serializes the event to the 4-byte wire format.
func (e DTMFEvent) Encode() []byte {
	b := make([]byte, 4)
	b[0] = e.Event
	b[1] = e.Volume & 0x3F
	if e.EndOfEvent {
		b[1] |= 0x80
	}
	binary.BigEndian.PutUint16(b[2:], e.Duration)
	return b
}

// DecodeDTMFEvent decodes a 4-byte telephone-event payload.
func DecodeDTMFEvent(payload []byte) (DTMFEvent, error) {
	if len(payload) < 4 {
		return DTMFEvent{}, fmt.Errorf("DTMF payload too short: %d bytes", len(payload))
	}
	return DTMFEvent{
		Event:      payload[0],
		EndOfEvent: payload[1]&0x80 != 0,
		Volume:     payload[1] & 0x3F,
		Duration:   binary.BigEndian.Uint16(payload[2:]),
	}, nil
}

func (e DTMFEvent) String() string {
	char, ok := EventToRune(e.Event)
	if !ok {
		char = '?'
	}
	end := ""
	if e.EndOfEvent {
		end = " END"
	}
	return fmt.Sprintf("DTMF '%c' vol=%d dur=%d%s", char, e.Volume, e.Duration, end)
}

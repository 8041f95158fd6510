package media

import (
	"fmt"
	"time"

	"github.com/zaf/g711"
)

// Codec describes an audio codec and its RTP parameters.
type Codec struct {
	Name        string        // Codec name (e.g., "PCMU", "PCMA")
	PayloadType uint8         // RTP payload type (0 for PCMU, 8 for PCMA)
	SampleRate  uint32        // Sample rate in Hz
	SampleDur   time.Duration // Duration per frame (20ms)
	Channels    int
}

// Pre-defined codecs. The realtime AI speaks µ-law, so PCMU is preferred.
var (
	// CodecPCMU is G.711 µ-law
	CodecPCMU = Codec{"PCMU", 0, 8000, 20 * time.Millisecond, 1}

	// CodecPCMA is G.711 A-law
	CodecPCMA = Codec{"PCMA", 8, 8000, 20 * time.Millisecond, 1}

	// CodecTelephoneEvent is RFC 4733 DTMF events
	CodecTelephoneEvent = Codec{"telephone-event", 101, 8000, 20 * time.Millisecond, 1}
)

// SamplesPerFrame returns the number of samples in one frame (160 for 8kHz/20ms).
func (c Codec) SamplesPerFrame() int {
	return int(c.SampleRate) * int(c.SampleDur) / int(time.Second)
}

// BytesPerFrame returns the payload bytes per frame. G.711 is one byte per sample.
func (c Codec) BytesPerFrame() int {
	return c.SamplesPerFrame() * c.Channels
}

// TimestampIncrement returns the RTP timestamp increment per frame.
func (c Codec) TimestampIncrement() uint32 {
	return uint32(c.SamplesPerFrame())
}

// Silence returns the encoded silence byte for the codec.
func (c Codec) Silence() byte {
	if c.PayloadType == CodecPCMA.PayloadType {
		return 0xD5
	}
	return 0xFF
}

// CodecByPayloadType resolves a static audio payload type.
func CodecByPayloadType(pt uint8) (Codec, error) {
	switch pt {
	case CodecPCMU.PayloadType:
		return CodecPCMU, nil
	case CodecPCMA.PayloadType:
		return CodecPCMA, nil
	}
	return Codec{}, fmt.Errorf("unsupported payload type %d", pt)
}

// ToUlaw converts a payload in codec c to µ-law.
func (c Codec) ToUlaw(payload []byte) []byte {
	if c.PayloadType == CodecPCMA.PayloadType {
		return g711.Alaw2Ulaw(payload)
	}
	return payload
}

// FromUlaw converts µ-law audio to codec c.
func (c Codec) FromUlaw(ulaw []byte) []byte {
	if c.PayloadType == CodecPCMA.PayloadType {
		return g711.Ulaw2Alaw(ulaw)
	}
	return ulaw
}

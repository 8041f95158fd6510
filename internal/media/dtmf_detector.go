package media

import "github.com/pion/rtp"

// DTMFDetector turns a stream of telephone-event packets into digits.
// Senders repeat the end packet up to three times; only the first one
// produces a digit.
type DTMFDetector struct {
	payloadType uint8
	minDuration uint16

	pending   bool
	lastEvent uint8
	lastTS    uint32
	doneTS    uint32
	done      bool
}

// NewDTMFDetector creates a detector for the given telephone-event payload type.
func NewDTMFDetector(payloadType uint8) *DTMFDetector {
	return &DTMFDetector{payloadType: payloadType, minDuration: MinDTMFDuration}
}

// SetMinDuration sets the minimum event duration in timestamp units.
func (d *DTMFDetector) SetMinDuration(samples uint16) {
	d.minDuration = samples
}

// IsDTMF reports whether pkt carries a telephone-event payload.
func (d *DTMFDetector) IsDTMF(pkt *rtp.Packet) bool {
	return pkt.PayloadType == d.payloadType
}

// Process feeds one packet and returns a digit once its event ends.
func (d *DTMFDetector) Process(pkt *rtp.Packet) (rune, bool) {
	if !d.IsDTMF(pkt) {
		return 0, false
	}
	evt, err := DecodeDTMFEvent(pkt.Payload)
	if err != nil {
		return 0, false
	}

	// All packets of one event share the RTP timestamp of its start.
	if d.done && pkt.Timestamp == d.doneTS {
		return 0, false
	}

	if !evt.EndOfEvent {
		if !d.pending || evt.Event != d.lastEvent || pkt.Timestamp != d.lastTS {
			d.pending = true
			d.lastEvent = evt.Event
			d.lastTS = pkt.Timestamp
		}
		return 0, false
	}

	// An end packet without a start still counts; the start may have been lost.
	matches := !d.pending || (evt.Event == d.lastEvent && pkt.Timestamp == d.lastTS)
	d.pending = false
	d.done = true
	d.doneTS = pkt.Timestamp

	if !matches || evt.Duration < d.minDuration {
		return 0, false
	}
	return EventToRune(evt.Event)
}

// Reset clears the state machine.
func (d *DTMFDetector) Reset() {
	*d = DTMFDetector{payloadType: d.payloadType, minDuration: d.minDuration}
}
